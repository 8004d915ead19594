// Command redirects maintains the table of runtime function redirects in a
// kernel image. Kernel functions annotated with
//
//	//go:redirect-from runtime.fn
//
// replace runtime.fn at boot; the rt0 code patches each runtime function with
// a jump to its replacement using the table written by populate-table.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// kernelDir is the directory, relative to the module root, whose packages are
// linked into the kernel image.
const kernelDir = "kernel"

var log = logrus.WithField("tool", "redirects")

// scan locates the module root in the current directory and collects the
// redirects of the kernel packages.
func scan() ([]*redirect, error) {
	if matches, _ := filepath.Glob(kernelDir + "/"); len(matches) != 1 {
		return nil, fmt.Errorf("this tool must be run from the module root folder")
	}

	module, err := modulePath(".")
	if err != nil {
		return nil, err
	}

	return findRedirects(".", module, kernelDir)
}

type countCmd struct{}

func (*countCmd) Name() string             { return "count" }
func (*countCmd) Synopsis() string         { return "print the number of redirects (sizes the rt0 table)" }
func (*countCmd) Usage() string            { return "count\n" }
func (*countCmd) SetFlags(_ *flag.FlagSet) {}

func (*countCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	redirects, err := scan()
	if err != nil {
		log.WithError(err).Error("cannot collect redirects")
		return subcommands.ExitFailure
	}

	fmt.Printf("%d", len(redirects))
	return subcommands.ExitSuccess
}

type listCmd struct {
	image string
}

func (*listCmd) Name() string     { return "list" }
func (*listCmd) Synopsis() string { return "list the redirects as YAML" }
func (*listCmd) Usage() string    { return "list [-image kernel.bin]\n" }

func (c *listCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.image, "image", "", "resolve the symbol addresses in this kernel image.")
}

func (c *listCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	redirects, err := scan()
	if err != nil {
		log.WithError(err).Error("cannot collect redirects")
		return subcommands.ExitFailure
	}

	if c.image != "" {
		if err := elfResolveRedirectSymbols(redirects, c.image); err != nil {
			log.WithError(err).Error("cannot resolve redirect symbols")
			return subcommands.ExitFailure
		}
	}

	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	if err := enc.Encode(redirects); err != nil {
		log.WithError(err).Error("cannot encode redirects")
		return subcommands.ExitFailure
	}

	return subcommands.ExitSuccess
}

type populateTableCmd struct{}

func (*populateTableCmd) Name() string { return "populate-table" }
func (*populateTableCmd) Synopsis() string {
	return "write the redirect table into the " + redirectsSection + " section of a kernel image"
}
func (*populateTableCmd) Usage() string            { return "populate-table <kernel image>\n" }
func (*populateTableCmd) SetFlags(_ *flag.FlagSet) {}

func (*populateTableCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	imgFile := f.Arg(0)

	redirects, err := scan()
	if err != nil {
		log.WithError(err).Error("cannot collect redirects")
		return subcommands.ExitFailure
	}

	if err = elfResolveRedirectSymbols(redirects, imgFile); err != nil {
		log.WithError(err).Error("cannot resolve redirect symbols")
		return subcommands.ExitFailure
	}

	if err = elfWriteRedirectTable(redirects, imgFile); err != nil {
		log.WithError(err).Error("cannot write redirect table")
		return subcommands.ExitFailure
	}

	log.WithField("count", len(redirects)).Info("redirect table populated")
	return subcommands.ExitSuccess
}

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(new(countCmd), "")
	subcommands.Register(new(listCmd), "")
	subcommands.Register(new(populateTableCmd), "")

	flag.Parse()
	os.Exit(int(subcommands.Execute(context.Background())))
}
