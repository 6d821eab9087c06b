// Package cache implements the tier store for chunk payloads.
//
// Every resident chunk is held in exactly one tier: raw (uncompressed) or
// compressed. The Store moves payloads between tiers:
//   - CompressChunk replaces an idle raw payload with a codec frame
//   - GetData transparently promotes a compressed payload back to raw
//   - UnloadChunk drops the payload and all access bookkeeping
//
// Records are spread over 64 shards selected by maphash. Each record carries its
// own mutex and generation counter; codec work runs outside every lock and is
// published only if the generation did not move.
//
// Resident bytes are charged to the resource.Controller.
package cache
