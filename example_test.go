package chunkcache_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/hupe1980/chunkcache"
	"github.com/hupe1980/chunkcache/testutil"
)

// Example demonstrates registering, compressing and reading back a chunk.
func Example() {
	clk := testutil.NewClock(time.Unix(0, 0))
	c, err := chunkcache.New(chunkcache.DefaultConfig(),
		chunkcache.WithClock(clk.Now),
		chunkcache.WithoutBackgroundTasks(),
	)
	if err != nil {
		log.Fatal(err)
	}
	defer c.Close()

	key := chunkcache.Key("overworld", 4, -2)
	payload := make([]byte, 16384)
	c.RegisterData(key, payload)

	clk.Advance(time.Minute)
	res, err := c.CompressIdle(context.Background())
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println("compressed:", res.Compressed)

	data, ok := c.GetData(key)
	fmt.Println("hit:", ok, "size:", len(data))
	// Output:
	// compressed: 1
	// hit: true size: 16384
}

// Example_protection demonstrates that spawn chunks are never unloaded.
func Example_protection() {
	clk := testutil.NewClock(time.Unix(0, 0))
	c, err := chunkcache.New(chunkcache.DefaultConfig(),
		chunkcache.WithClock(clk.Now),
		chunkcache.WithoutBackgroundTasks(),
	)
	if err != nil {
		log.Fatal(err)
	}
	defer c.Close()

	if err := c.ProtectRadius("overworld", 0, 0, 8); err != nil {
		log.Fatal(err)
	}
	c.RegisterData(chunkcache.Key("overworld", 0, 0), []byte("spawn"))
	c.RegisterData(chunkcache.Key("overworld", 100, 100), []byte("far away"))

	clk.Advance(time.Hour)
	res, err := c.UnloadIdle(context.Background())
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println("unloaded:", res.Unloaded)

	_, ok := c.GetData(chunkcache.Key("overworld", 0, 0))
	fmt.Println("spawn resident:", ok)
	// Output:
	// unloaded: 1
	// spawn resident: true
}
