//go:build linux && amd64

package main

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// hexAddr is an address that is rendered in hex in reports.
type hexAddr uint64

// MarshalYAML implements yaml.Marshaler.
func (a hexAddr) MarshalYAML() (interface{}, error) {
	return fmt.Sprintf("0x%x", uint64(a)), nil
}

type regionReport struct {
	Base   hexAddr `yaml:"base"`
	Length uint64  `yaml:"length"`
	Kind   string  `yaml:"kind"`
}

type memoryReport struct {
	Size    uint64         `yaml:"size"`
	Regions []regionReport `yaml:"regions"`
}

type frameStatsReport struct {
	Total      uint64  `yaml:"total"`
	Free       uint64  `yaml:"free"`
	Bitmap     hexAddr `yaml:"bitmap"`
	BitmapSize uint64  `yaml:"bitmap_size"`
}

type heapStatsReport struct {
	Start       hexAddr `yaml:"start"`
	Size        uint64  `yaml:"size"`
	FreeBytes   uint64  `yaml:"free_bytes"`
	FreeNodes   int     `yaml:"free_nodes"`
	LargestFree uint64  `yaml:"largest_free"`
}

type mmuReport struct {
	Flushes int `yaml:"tlb_flushes"`
	Loaded  int `yaml:"loaded_translations"`
}

type bootReport struct {
	Memory memoryReport     `yaml:"memory"`
	Frames frameStatsReport `yaml:"frames"`
	Heap   heapStatsReport  `yaml:"heap"`
	MMU    mmuReport        `yaml:"mmu"`
	Log    []string         `yaml:"kernel_log,omitempty"`
}

func (s *Simulator) frameStats() frameStatsReport {
	stats := s.Core.Frames.Stats()
	bitmap, bitmapSize := s.Core.Frames.BitmapAddress()

	return frameStatsReport{
		Total:      stats.Total,
		Free:       stats.Free,
		Bitmap:     hexAddr(bitmap),
		BitmapSize: uint64(bitmapSize),
	}
}

func (s *Simulator) heapStats() heapStatsReport {
	stats := s.Core.Heap.Stats()

	return heapStatsReport{
		Start:       hexAddr(s.cfg.Heap.Start),
		Size:        uint64(stats.Size),
		FreeBytes:   uint64(stats.FreeBytes),
		FreeNodes:   stats.FreeNodes,
		LargestFree: uint64(stats.LargestFree),
	}
}

func (s *Simulator) bootReport() bootReport {
	report := bootReport{
		Memory: memoryReport{Size: s.phys.size()},
		Frames: s.frameStats(),
		Heap:   s.heapStats(),
		Log:    s.KernelLog(),
	}

	for _, entry := range s.cfg.memoryMap() {
		report.Memory.Regions = append(report.Memory.Regions, regionReport{
			Base:   hexAddr(entry.PhysAddress),
			Length: entry.Length,
			Kind:   entry.Type.String(),
		})
	}
	report.MMU.Flushes, report.MMU.Loaded = s.mmu.stats()

	return report
}

// writeReport encodes report as YAML to w.
func writeReport(w io.Writer, report interface{}) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}

	return enc.Close()
}

// emitReport writes report to the file at path or to stdout if path is empty.
func emitReport(path string, report interface{}) error {
	if path == "" {
		return writeReport(os.Stdout, report)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating report file: %w", err)
	}

	if err := writeReport(f, report); err != nil {
		f.Close()
		return err
	}

	return f.Close()
}
