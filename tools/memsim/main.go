//go:build linux && amd64

// Command memsim boots the kernel memory core inside a Linux process. A memfd
// plays the role of physical memory and a simulated MMU mirrors the kernel's
// page tables into the host address space, so the frame map, the page table
// mapper, the page fault handler and the kernel heap run unmodified.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to a TOML machine description; the built-in machine is used if empty.")
		debug      = flag.Bool("debug", false, "enable debug logging.")
		logFormat  = flag.String("log-format", "text", "log format: text or json.")
	)

	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")

	subcommands.Register(new(bootCmd), "")
	subcommands.Register(new(framesCmd), "workloads")
	subcommands.Register(new(heapCmd), "workloads")
	subcommands.Register(new(stressCmd), "workloads")
	subcommands.Register(new(faultCmd), "workloads")

	flag.Parse()

	logger := newLogger(*debug, *logFormat)
	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.WithError(err).Fatal("cannot load machine description")
	}

	os.Exit(int(subcommands.Execute(context.Background(), cfg, logger)))
}
