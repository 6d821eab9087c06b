// Package chunkcache is an in-memory cache for world chunk payloads that keeps
// memory bounded on long-running game servers.
//
// Every chunk lives in one of three tiers: raw, compressed, or absent.
// Background passes move idle chunks down the tiers:
//
//   - the compression pass compresses chunks that have not been accessed for
//     ChunkCompressionDelayMs, oldest first, up to CompressionBatchSize per run;
//   - the unload pass drops chunks idle for ChunkUnloadDelayMs;
//   - the emergency pass runs when memory usage is critical. It compresses
//     everything it can and unloads the oldest chunks down to
//     EmergencyRetainFloor.
//
// A read of a compressed chunk decompresses it and promotes it back to raw.
// Unloaded chunks are gone; the caller regenerates or reloads them and calls
// RegisterData again.
//
// # Safety
//
// Spawn-protected chunks and chunks with active holders (for example a player
// standing in them) are never unloaded by a background pass. Register them with
// Protect, ProtectRadius and AcquireHolder, or plug in an external
// SafetyPredicate with WithSafetyPredicate.
//
// # Quick Start
//
//	c, err := chunkcache.New(chunkcache.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
//
//	key := chunkcache.Key("overworld", 12, -4)
//	c.RegisterData(key, payload)
//	data, ok := c.GetData(key)
//
// # Configuration
//
// Config can be loaded from YAML with LoadConfig and changed at runtime with
// UpdateConfig. Invalid values never fail: they are replaced by defaults and
// reported as *ConfigError.
package chunkcache
