package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/chunkcache"
	"github.com/hupe1980/chunkcache/testutil"
)

type soakOptions struct {
	duration    time.Duration
	workers     int
	radius      int
	payloadSize int
	protect     int
	seed        int64
}

var soakOpts soakOptions

var soakCmd = &cobra.Command{
	Use:   "soak",
	Short: "Run a synthetic player workload against a cache and print its stats",
	Long: "soak simulates players walking around a world: every worker registers and reads chunks " +
		"near a drifting position. Background passes run with the configured timings, so lower " +
		"the delays in --config for short runs.",
	RunE: runSoak,
}

func init() {
	f := soakCmd.Flags()
	f.DurationVar(&soakOpts.duration, "duration", 30*time.Second, "how long to run")
	f.IntVar(&soakOpts.workers, "workers", 8, "concurrent simulated players")
	f.IntVar(&soakOpts.radius, "radius", 6, "view distance in chunks")
	f.IntVar(&soakOpts.payloadSize, "payload-size", 16384, "bytes per chunk payload")
	f.IntVar(&soakOpts.protect, "spawn-radius", 4, "spawn protection radius around 0,0")
	f.Int64Var(&soakOpts.seed, "seed", 1, "payload RNG seed")
}

func runSoak(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	metrics := &chunkcache.BasicMetricsCollector{}
	c, err := chunkcache.New(cfg, chunkcache.WithLogger(logger), chunkcache.WithMetricsCollector(metrics))
	if err != nil {
		return err
	}
	defer c.Close()

	const world = "soak"
	if soakOpts.protect > chunkcache.MaxProtectRadius {
		return fmt.Errorf("--spawn-radius %d exceeds %d", soakOpts.protect, chunkcache.MaxProtectRadius)
	}
	if err := c.ProtectRadius(world, 0, 0, int32(soakOpts.protect)); err != nil { //nolint:gosec // bounded above
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), soakOpts.duration)
	defer cancel()

	payloads := testutil.NewRNG(soakOpts.seed)
	var wg sync.WaitGroup
	for w := range soakOpts.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runPlayer(ctx, c, payloads, world, uint64(w))
		}()
	}
	wg.Wait()

	logger.Info("soak finished", "duration", soakOpts.duration, "workers", soakOpts.workers)

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"stats":   c.Stats(),
		"metrics": metrics.GetStats(),
	})
}

// runPlayer random-walks a player and touches every chunk in view.
func runPlayer(ctx context.Context, c *chunkcache.Cache, payloads *testutil.RNG, world string, id uint64) {
	rnd := rand.New(rand.NewPCG(id, uint64(soakOpts.seed)))
	r := int32(soakOpts.radius)
	var px, pz int32
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		px += int32(rnd.IntN(3)) - 1
		pz += int32(rnd.IntN(3)) - 1
		for x := px - r; x <= px+r; x++ {
			for z := pz - r; z <= pz+r; z++ {
				key := chunkcache.Key(world, x, z)
				if _, ok := c.GetData(key); !ok {
					c.RegisterData(key, payloads.ChunkPayload(soakOpts.payloadSize))
				}
			}
		}
	}
}
