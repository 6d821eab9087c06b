// Package model defines the chunk identity types shared by all packages.
//
// A ChunkKey is a world name plus chunk coordinates. Its canonical string form
// is "world:x:z", see ParseChunkKey.
package model
