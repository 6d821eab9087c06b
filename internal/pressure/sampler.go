package pressure

import (
	"context"
	"errors"
	"math"
	"runtime/debug"
	"runtime/metrics"

	"github.com/hupe1980/chunkcache/internal/resource"
)

var errNoSystemMemory = errors.New("system memory size unavailable")

// Sampler reports memory in use against the limit it is measured against.
type Sampler interface {
	Sample(ctx context.Context) (used, limit uint64, err error)
}

// FuncSampler adapts a function to a Sampler.
type FuncSampler func(ctx context.Context) (used, limit uint64, err error)

// Sample implements Sampler.
func (f FuncSampler) Sample(ctx context.Context) (uint64, uint64, error) { return f(ctx) }

const (
	metricTotal    = "/memory/classes/total:bytes"
	metricReleased = "/memory/classes/heap/released:bytes"
)

// RuntimeSampler samples the Go runtime's retained memory (all memory classes
// minus heap returned to the OS).
//
// The limit is the runtime soft memory limit (GOMEMLIMIT) when one is set,
// otherwise Limit, otherwise total system memory.
type RuntimeSampler struct {
	Limit uint64
}

// Sample implements Sampler.
func (s RuntimeSampler) Sample(context.Context) (uint64, uint64, error) {
	samples := []metrics.Sample{{Name: metricTotal}, {Name: metricReleased}}
	metrics.Read(samples)

	var vals [2]uint64
	for i, sm := range samples {
		if sm.Value.Kind() != metrics.KindUint64 {
			return 0, 0, errors.New("runtime metric unavailable: " + sm.Name)
		}
		vals[i] = sm.Value.Uint64()
	}
	used := vals[0] - min(vals[1], vals[0])

	limit, err := s.limit()
	if err != nil {
		return used, 0, err
	}
	return used, limit, nil
}

func (s RuntimeSampler) limit() (uint64, error) {
	if l := debug.SetMemoryLimit(-1); l > 0 && l != math.MaxInt64 {
		return uint64(l), nil
	}
	if s.Limit > 0 {
		return s.Limit, nil
	}
	return totalSystemMemory()
}

// ManagedSampler samples the resident chunk bytes accounted by a resource
// controller against its memory budget. Without a budget it reports a zero
// limit, which classifies as normal.
type ManagedSampler struct {
	Controller *resource.Controller
}

// Sample implements Sampler.
func (s ManagedSampler) Sample(context.Context) (uint64, uint64, error) {
	used := max(s.Controller.Resident(), 0)
	limit := max(s.Controller.MemoryLimit(), 0)
	return uint64(used), uint64(limit), nil
}
