//go:build linux && amd64

package main

import (
	"context"
	"flag"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"
)

// workload runs against a booted simulator and returns the report to emit.
type workload func(ctx context.Context, sim *Simulator) (interface{}, error)

// runWorkload boots a simulator for the machine passed through args, runs fn
// and emits its report. args must hold the *Config and *logrus.Logger passed
// to subcommands.Execute.
func runWorkload(ctx context.Context, name, out string, args []interface{}, fn workload) subcommands.ExitStatus {
	cfg := args[0].(*Config)
	log := args[1].(*logrus.Logger).WithField("command", name)

	sim, err := NewSimulator(cfg, args[1].(*logrus.Logger))
	if err != nil {
		log.WithError(err).Error("cannot create simulator")
		return subcommands.ExitFailure
	}
	defer func() {
		if err := sim.Close(); err != nil {
			log.WithError(err).Warn("cannot release simulator resources")
		}
	}()

	if err := sim.Boot(); err != nil {
		log.WithError(err).Error("boot failed")
		return subcommands.ExitFailure
	}

	report, err := fn(ctx, sim)
	if err != nil {
		log.WithError(err).Error("workload failed")
		return subcommands.ExitFailure
	}

	if err := emitReport(out, report); err != nil {
		log.WithError(err).Error("cannot write report")
		return subcommands.ExitFailure
	}

	log.Info("workload completed")
	return subcommands.ExitSuccess
}

// bootCmd implements subcommands.Command for the "boot" command.
type bootCmd struct {
	out     string
	showLog bool
}

// Name implements subcommands.Command.
func (*bootCmd) Name() string { return "boot" }

// Synopsis implements subcommands.Command.
func (*bootCmd) Synopsis() string { return "boot the memory core and report its state" }

// Usage implements subcommands.Command.
func (*bootCmd) Usage() string {
	return "boot [-o report.yaml] [-log]\n"
}

// SetFlags implements subcommands.Command.
func (c *bootCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.out, "o", "", "write the report to this file instead of stdout.")
	f.BoolVar(&c.showLog, "log", true, "include the kernel log in the report.")
}

// Execute implements subcommands.Command.
func (c *bootCmd) Execute(ctx context.Context, _ *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	return runWorkload(ctx, c.Name(), c.out, args, func(_ context.Context, sim *Simulator) (interface{}, error) {
		report := sim.bootReport()
		if !c.showLog {
			report.Log = nil
		}
		return report, nil
	})
}

// framesCmd implements subcommands.Command for the "frames" command.
type framesCmd struct {
	out   string
	count int
	image string
}

// Name implements subcommands.Command.
func (*framesCmd) Name() string { return "frames" }

// Synopsis implements subcommands.Command.
func (*framesCmd) Synopsis() string { return "allocate physical frames and verify their exclusivity" }

// Usage implements subcommands.Command.
func (*framesCmd) Usage() string {
	return "frames [-count n] [-png bitmap.png] [-o report.yaml]\n"
}

// SetFlags implements subcommands.Command.
func (c *framesCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.out, "o", "", "write the report to this file instead of stdout.")
	f.IntVar(&c.count, "count", 0, "number of frames to allocate; 0 uses the configured count and -1 exhausts memory.")
	f.StringVar(&c.image, "png", "", "draw the frame bitmap after the allocations to this PNG file.")
}

// Execute implements subcommands.Command.
func (c *framesCmd) Execute(ctx context.Context, _ *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	return runWorkload(ctx, c.Name(), c.out, args, func(_ context.Context, sim *Simulator) (interface{}, error) {
		count := c.count
		if count == 0 {
			count = sim.cfg.Workload.Frames
		}
		return runFrames(sim, count, c.image)
	})
}

// heapCmd implements subcommands.Command for the "heap" command.
type heapCmd struct {
	out  string
	ops  int
	seed int64
}

// Name implements subcommands.Command.
func (*heapCmd) Name() string { return "heap" }

// Synopsis implements subcommands.Command.
func (*heapCmd) Synopsis() string { return "run a random alloc/free workload against the kernel heap" }

// Usage implements subcommands.Command.
func (*heapCmd) Usage() string {
	return "heap [-ops n] [-seed s] [-o report.yaml]\n"
}

// SetFlags implements subcommands.Command.
func (c *heapCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.out, "o", "", "write the report to this file instead of stdout.")
	f.IntVar(&c.ops, "ops", 0, "number of heap operations; 0 uses the configured count.")
	f.Int64Var(&c.seed, "seed", 0, "random seed; 0 uses the configured seed.")
}

// Execute implements subcommands.Command.
func (c *heapCmd) Execute(ctx context.Context, _ *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	return runWorkload(ctx, c.Name(), c.out, args, func(_ context.Context, sim *Simulator) (interface{}, error) {
		ops, seed := c.ops, c.seed
		if ops == 0 {
			ops = sim.cfg.Workload.Allocations
		}
		if seed == 0 {
			seed = sim.cfg.Workload.Seed
		}
		return runHeap(sim, ops, sim.cfg.Workload.MaxAlloc, seed)
	})
}

// stressCmd implements subcommands.Command for the "stress" command.
type stressCmd struct {
	out     string
	workers int
	ops     int
}

// Name implements subcommands.Command.
func (*stressCmd) Name() string { return "stress" }

// Synopsis implements subcommands.Command.
func (*stressCmd) Synopsis() string { return "hammer the kernel heap from concurrent workers" }

// Usage implements subcommands.Command.
func (*stressCmd) Usage() string {
	return "stress [-workers n] [-ops n] [-o report.yaml]\n"
}

// SetFlags implements subcommands.Command.
func (c *stressCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.out, "o", "", "write the report to this file instead of stdout.")
	f.IntVar(&c.workers, "workers", 0, "number of concurrent workers; 0 uses the configured count.")
	f.IntVar(&c.ops, "ops", 0, "operations per worker; 0 uses the configured allocation count.")
}

// Execute implements subcommands.Command.
func (c *stressCmd) Execute(ctx context.Context, _ *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	return runWorkload(ctx, c.Name(), c.out, args, func(ctx context.Context, sim *Simulator) (interface{}, error) {
		workers, ops := c.workers, c.ops
		if workers == 0 {
			workers = sim.cfg.Workload.Workers
		}
		if ops == 0 {
			ops = sim.cfg.Workload.Allocations
		}
		return runStress(ctx, sim, workers, ops, sim.cfg.Workload.MaxAlloc, sim.cfg.Workload.Seed)
	})
}

// faultCmd implements subcommands.Command for the "fault" command.
type faultCmd struct {
	out   string
	pages int
}

// Name implements subcommands.Command.
func (*faultCmd) Name() string { return "fault" }

// Synopsis implements subcommands.Command.
func (*faultCmd) Synopsis() string { return "demand-page a region through the page fault handler" }

// Usage implements subcommands.Command.
func (*faultCmd) Usage() string {
	return "fault [-pages n] [-o report.yaml]\n"
}

// SetFlags implements subcommands.Command.
func (c *faultCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.out, "o", "", "write the report to this file instead of stdout.")
	f.IntVar(&c.pages, "pages", 0, "number of pages to touch; 0 uses the configured count.")
}

// Execute implements subcommands.Command.
func (c *faultCmd) Execute(ctx context.Context, _ *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	return runWorkload(ctx, c.Name(), c.out, args, func(_ context.Context, sim *Simulator) (interface{}, error) {
		pages := c.pages
		if pages == 0 {
			pages = sim.cfg.Workload.FaultPages
		}
		return runFaults(sim, uintptr(sim.cfg.Workload.FaultBase), pages)
	})
}
