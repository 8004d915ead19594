//go:build linux && amd64

package main

import (
	"fmt"

	"github.com/fogleman/gg"
	"github.com/pascalmouret/journey-os/kernel/hal/multiboot"
	"github.com/pascalmouret/journey-os/kernel/mem"
	"github.com/pascalmouret/journey-os/kernel/mem/pmm"
)

const (
	bitmapImageColumns = 128
	bitmapImageCell    = 4
)

type framesReport struct {
	Requested        int     `yaml:"requested"`
	Allocated        int     `yaml:"allocated"`
	Exhausted        bool    `yaml:"exhausted"`
	Lowest           hexAddr `yaml:"lowest"`
	Highest          hexAddr `yaml:"highest"`
	FreeBefore       uint64  `yaml:"free_before"`
	FreeAfterAlloc   uint64  `yaml:"free_after_alloc"`
	FreeAfterRelease uint64  `yaml:"free_after_release"`
	Image            string  `yaml:"image,omitempty"`
}

// runFrames allocates count frames (or all of them if count is negative),
// checks that every frame is handed out once and lies in available memory
// outside the kernel image and the frame bitmap, and then releases them.
func runFrames(sim *Simulator, count int, imagePath string) (framesReport, error) {
	frames := &sim.Core.Frames
	report := framesReport{
		Requested:  count,
		FreeBefore: frames.Stats().Free,
	}

	var (
		allocated = make(map[mem.PhysAddr]struct{})
		order     []pmm.Frame
	)
	for count < 0 || len(order) < count {
		frame, err := frames.AllocFrame()
		if err == pmm.ErrOutOfMemory {
			report.Exhausted = true
			break
		} else if err != nil {
			return report, err
		}

		if _, dup := allocated[frame.Address]; dup {
			return report, fmt.Errorf("frame 0x%x was handed out twice", uintptr(frame.Address))
		}
		if err := sim.checkAllocatedFrame(frame); err != nil {
			return report, err
		}

		allocated[frame.Address] = struct{}{}
		order = append(order, frame)

		if len(order) == 1 || frame.Address < mem.PhysAddr(report.Lowest) {
			report.Lowest = hexAddr(frame.Address)
		}
		if frame.Address > mem.PhysAddr(report.Highest) {
			report.Highest = hexAddr(frame.Address)
		}
	}
	report.Allocated = len(order)
	report.FreeAfterAlloc = frames.Stats().Free

	if exp := report.FreeBefore - uint64(report.Allocated); report.FreeAfterAlloc != exp {
		return report, fmt.Errorf("expected %d free frames after allocating; got %d", exp, report.FreeAfterAlloc)
	}

	if imagePath != "" {
		if err := drawFrameBitmap(frames, allocated, imagePath); err != nil {
			return report, err
		}
		report.Image = imagePath
	}

	for _, frame := range order {
		if err := frames.FreeFrame(frame); err != nil {
			return report, fmt.Errorf("releasing frame 0x%x: %w", uintptr(frame.Address), err)
		}
	}

	report.FreeAfterRelease = frames.Stats().Free
	if report.FreeAfterRelease != report.FreeBefore {
		return report, fmt.Errorf("expected %d free frames after releasing; got %d", report.FreeBefore, report.FreeAfterRelease)
	}

	return report, nil
}

// checkAllocatedFrame verifies that frame may legitimately be handed out.
func (s *Simulator) checkAllocatedFrame(frame pmm.Frame) error {
	start, end := uint64(frame.Address), uint64(frame.End())

	if !mem.IsAligned(uintptr(start), uintptr(mem.PageSize)) {
		return fmt.Errorf("frame 0x%x is not page aligned", start)
	}

	if _, free := s.Core.Frames.ForAddress(frame.Address); free {
		return fmt.Errorf("allocated frame 0x%x is still marked free", start)
	}

	if start < s.cfg.Kernel.End && s.cfg.Kernel.Start < end {
		return fmt.Errorf("frame 0x%x overlaps the kernel image", start)
	}

	bitmap, bitmapSize := s.Core.Frames.BitmapAddress()
	if start < uint64(bitmap)+uint64(bitmapSize) && uint64(bitmap) < end {
		return fmt.Errorf("frame 0x%x overlaps the frame bitmap", start)
	}

	for _, entry := range s.cfg.memoryMap() {
		if entry.Type == multiboot.MemAvailable && entry.PhysAddress <= start && end <= entry.PhysAddress+entry.Length {
			return nil
		}
	}

	return fmt.Errorf("frame 0x%x is not inside an available memory region", start)
}

// drawFrameBitmap renders one cell per frame: green for free frames, red for
// frames allocated by the workload and grey for frames used by the kernel.
func drawFrameBitmap(frames *pmm.FrameMap, workload map[mem.PhysAddr]struct{}, path string) error {
	total := int(frames.Stats().Total)
	rows := (total + bitmapImageColumns - 1) / bitmapImageColumns

	dc := gg.NewContext(bitmapImageColumns*bitmapImageCell, rows*bitmapImageCell)
	dc.SetRGB(0, 0, 0)
	dc.Clear()

	frames.VisitBitmap(func(index uintptr, used bool) bool {
		_, ours := workload[mem.PhysAddr(index<<mem.PageShift)]
		switch {
		case !used:
			dc.SetRGB(0.2, 0.7, 0.3)
		case ours:
			dc.SetRGB(0.9, 0.3, 0.2)
		default:
			dc.SetRGB(0.5, 0.5, 0.5)
		}

		x := float64(int(index) % bitmapImageColumns * bitmapImageCell)
		y := float64(int(index) / bitmapImageColumns * bitmapImageCell)
		dc.DrawRectangle(x, y, bitmapImageCell, bitmapImageCell)
		dc.Fill()
		return true
	})

	if err := dc.SavePNG(path); err != nil {
		return fmt.Errorf("writing frame bitmap image: %w", err)
	}

	return nil
}
