// Package testutil provides testing utilities for chunkcache.
//
// This package is intended for use in tests and benchmarks only.
//
// # Payloads
//
//	rng := testutil.NewRNG(seed)
//	data := rng.ChunkPayload(20000) // palette-heavy, compresses well
//	noise := rng.Bytes(4096)        // incompressible
//
// # Time
//
//	clk := testutil.NewClock(time.Unix(0, 0))
//	c, _ := chunkcache.New(chunkcache.DefaultConfig(), chunkcache.WithClock(clk.Now))
//	clk.Advance(31 * time.Second)
package testutil
