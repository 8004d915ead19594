package main

import (
	"debug/elf"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestModulePath(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "go.mod"), "// comment\nmodule example.com/os\n\ngo 1.24\n")

	got, err := modulePath(root)
	if err != nil {
		t.Fatal(err)
	}

	if exp := "example.com/os"; got != exp {
		t.Fatalf("expected module path %q; got %q", exp, got)
	}

	writeFile(t, filepath.Join(root, "go.mod"), "go 1.24\n")
	if _, err := modulePath(root); err == nil {
		t.Fatal("expected an error for a go.mod without a module directive")
	}
}

func TestFindRedirects(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "kernel/rt/rt.go"), `package rt

// alloc replaces the runtime allocator.
//
//go:redirect-from runtime.sysAlloc
//go:nosplit
func alloc() {}

//go:redirect-from runtime.gopanic
func panicHook() {}

func plain() {}
`)
	// redirects in tests are ignored
	writeFile(t, filepath.Join(root, "kernel/rt/rt_test.go"), `package rt

//go:redirect-from runtime.throw
func fake() {}
`)

	redirects, err := findRedirects(root, "example.com/os", "kernel")
	if err != nil {
		t.Fatal(err)
	}

	exp := []*redirect{
		{Src: "runtime.gopanic", Dst: "example.com/os/kernel/rt.panicHook"},
		{Src: "runtime.sysAlloc", Dst: "example.com/os/kernel/rt.alloc"},
	}
	if diff := cmp.Diff(exp, redirects); diff != "" {
		t.Fatalf("redirects mismatch (-want +got):\n%s", diff)
	}

	t.Run("malformed", func(t *testing.T) {
		writeFile(t, filepath.Join(root, "kernel/bad/bad.go"), `package bad

//go:redirect-from runtime.a runtime.b
func bad() {}
`)
		if _, err := findRedirects(root, "example.com/os", "kernel"); err == nil {
			t.Fatal("expected an error for a malformed directive")
		}
	})
}

func TestKernelRedirects(t *testing.T) {
	redirects, err := findRedirects("../..", "github.com/pascalmouret/journey-os", "kernel")
	if err != nil {
		t.Fatal(err)
	}

	got := make(map[string]string)
	for _, r := range redirects {
		got[r.Src] = r.Dst
	}

	for src, dst := range map[string]string{
		"runtime.gopanic":    "github.com/pascalmouret/journey-os/kernel/kfmt.Panic",
		"runtime.throw":      "github.com/pascalmouret/journey-os/kernel/kfmt.panicString",
		"runtime.sysAlloc":   "github.com/pascalmouret/journey-os/kernel/goruntime.sysAlloc",
		"runtime.sysFree":    "github.com/pascalmouret/journey-os/kernel/goruntime.sysFree",
		"runtime.sysReserve": "github.com/pascalmouret/journey-os/kernel/goruntime.sysReserve",
		"runtime.sysMap":     "github.com/pascalmouret/journey-os/kernel/goruntime.sysMap",
	} {
		if got[src] != dst {
			t.Errorf("expected %s to be redirected to %s; got %q", src, dst, got[src])
		}
	}
}

func TestResolveRedirectSymbols(t *testing.T) {
	symbols := []elf.Symbol{
		{Name: "runtime.sysAlloc", Value: 0x1000},
		{Name: "example.com/os/kernel/rt.alloc", Value: 0x2000},
	}

	redirects := []*redirect{{Src: "runtime.sysAlloc", Dst: "example.com/os/kernel/rt.alloc"}}
	if err := resolveRedirectSymbols(redirects, symbols, "kernel.bin"); err != nil {
		t.Fatal(err)
	}

	if redirects[0].SrcVMA != 0x1000 || redirects[0].DstVMA != 0x2000 {
		t.Fatalf("unexpected symbol addresses: %+v", redirects[0])
	}

	missing := []*redirect{{Src: "runtime.sysMap", Dst: "example.com/os/kernel/rt.alloc"}}
	if err := resolveRedirectSymbols(missing, symbols, "kernel.bin"); err == nil {
		t.Fatal("expected an error for an unresolved symbol")
	}
}
