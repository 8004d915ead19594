//go:build linux && amd64

package main

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// maxLivePerWorker bounds the number of blocks each stress worker holds.
const maxLivePerWorker = 4

type stressReport struct {
	Workers     int             `yaml:"workers"`
	Operations  int             `yaml:"operations_per_worker"`
	Allocations int64           `yaml:"allocations"`
	Failures    int64           `yaml:"failed_allocations"`
	Final       heapStatsReport `yaml:"final"`
}

// runStress lets workers goroutines allocate, fill, verify and free heap
// blocks concurrently. Every worker tags its blocks with its own value so an
// allocation handed to two workers at once shows up as corrupted content.
func runStress(ctx context.Context, sim *Simulator, workers, ops, maxAlloc int, seed int64) (stressReport, error) {
	var (
		h           = &sim.Core.Heap
		allocations atomic.Int64
		failures    atomic.Int64
		report      = stressReport{Workers: workers, Operations: ops}
	)

	g, ctx := errgroup.WithContext(ctx)
	for worker := 0; worker < workers; worker++ {
		worker := worker
		rng :=rand.New(rand.NewSource(seed + int64(worker)))
		tag := byte(worker + 1)

		g.Go(func() error {
			var live []block
			defer func() {
				for _, b := range live {
					h.Free(b.addr, b.size, b.align)
				}
			}()

			for op := 0; op < ops; op++ {
				if err := ctx.Err(); err != nil {
					return err
				}

				if len(live) < maxLivePerWorker && (len(live) == 0 || rng.Intn(2) == 0) {
					b := block{
						size:  uintptr(1 + rng.Intn(maxAlloc)),
						align: allocAlignments[rng.Intn(len(allocAlignments))],
						tag:   tag,
					}
					if b.addr = h.Alloc(b.size, b.align); b.addr == 0 {
						failures.Add(1)
						continue
					}
					if err := sim.checkBlock(b); err != nil {
						return fmt.Errorf("worker %d: %w", worker, err)
					}

					b.fill()
					live = append(live, b)
					allocations.Add(1)
					continue
				}

				i := rng.Intn(len(live))
				b := live[i]
				live[i] = live[len(live)-1]
				live = live[:len(live)-1]

				if err := b.verify(); err != nil {
					return fmt.Errorf("worker %d: %w", worker, err)
				}
				h.Free(b.addr, b.size, b.align)
			}

			for _, b := range live {
				if err := b.verify(); err != nil {
					return fmt.Errorf("worker %d: %w", worker, err)
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return report, err
	}

	report.Allocations = allocations.Load()
	report.Failures = failures.Load()

	if err := checkHeapDrained(sim); err != nil {
		return report, err
	}

	report.Final = sim.heapStats()
	return report, nil
}
