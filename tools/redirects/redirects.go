package main

import (
	"bufio"
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// redirectsSection is the ELF section that the rt0 code reads the redirect
// table from.
const redirectsSection = ".goredirectstbl"

// redirect patches calls to the runtime function src so they reach dst.
type redirect struct {
	Src string `yaml:"from"`
	Dst string `yaml:"to"`

	SrcVMA uint64 `yaml:"from_vma,omitempty"`
	DstVMA uint64 `yaml:"to_vma,omitempty"`
}

// modulePath returns the module path declared by the go.mod file in root.
func modulePath(root string) (string, error) {
	f, err := os.Open(filepath.Join(root, "go.mod"))
	if err != nil {
		return "", err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 2 && fields[0] == "module" {
			return strings.Trim(fields[1], `"`), nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}

	return "", errors.New("go.mod does not declare a module path")
}

func collectGoFiles(root string) ([]string, error) {
	var goFiles []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}

		if filepath.Ext(path) == ".go" && !strings.HasSuffix(path, "_test.go") {
			goFiles = append(goFiles, path)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return goFiles, nil
}

// findRedirects parses the Go files below kernelDir and returns the
// redirects requested via go:redirect-from directives. Redirect targets are
// qualified with the import path of their package which is derived from
// module and the file location relative to root.
func findRedirects(root, module, kernelDir string) ([]*redirect, error) {
	goFiles, err := collectGoFiles(filepath.Join(root, kernelDir))
	if err != nil {
		return nil, err
	}

	var redirects []*redirect
	for _, goFile := range goFiles {
		fset := token.NewFileSet()

		f, err := parser.ParseFile(fset, goFile, nil, parser.ParseComments)
		if err != nil {
			return nil, fmt.Errorf("%s: %s", goFile, err)
		}

		relDir, err := filepath.Rel(root, filepath.Dir(goFile))
		if err != nil {
			return nil, err
		}
		pkgPath := module + "/" + filepath.ToSlash(relDir)

		for _, decl := range f.Decls {
			fnDecl, ok := decl.(*ast.FuncDecl)
			if !ok || fnDecl.Doc == nil {
				continue
			}

			for _, comment := range fnDecl.Doc.List {
				if !strings.Contains(comment.Text, "go:redirect-from") {
					continue
				}

				// build qualified name to fn
				fqName := fmt.Sprintf("%s.%s", pkgPath, fnDecl.Name)

				fields := strings.Fields(comment.Text)
				if len(fields) != 2 || fields[0] != "//go:redirect-from" {
					return nil, fmt.Errorf("malformed go:redirect-from syntax for %q", fqName)
				}

				redirects = append(redirects, &redirect{
					Src: fields[1],
					Dst: fqName,
				})
			}
		}
	}

	sort.Slice(redirects, func(i, j int) bool { return redirects[i].Src < redirects[j].Src })
	return redirects, nil
}

func elfRedirectTableOffset(imgFile string) (uint64, error) {
	f, err := elf.Open(imgFile)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	section := f.Section(redirectsSection)
	if section == nil {
		return 0, fmt.Errorf("%s: missing %s section", imgFile, redirectsSection)
	}

	return section.Offset, nil
}

func elfWriteRedirectTable(redirects []*redirect, imgFile string) error {
	redirectTableOffset, err := elfRedirectTableOffset(imgFile)
	if err != nil {
		return err
	}

	// Open kernel image file and seek to table offset
	f, err := os.OpenFile(imgFile, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err = f.Seek(int64(redirectTableOffset), io.SeekStart); err != nil {
		return err
	}

	for _, redirect := range redirects {
		if err := binary.Write(f, binary.LittleEndian, [2]uint64{redirect.SrcVMA, redirect.DstVMA}); err != nil {
			return err
		}
	}

	return nil
}

func elfResolveRedirectSymbols(redirects []*redirect, imgFile string) error {
	f, err := elf.Open(imgFile)
	if err != nil {
		return err
	}
	defer f.Close()

	symbols, err := f.Symbols()
	if err != nil {
		return err
	}

	return resolveRedirectSymbols(redirects, symbols, imgFile)
}

func resolveRedirectSymbols(redirects []*redirect, symbols []elf.Symbol, imgFile string) error {
	for _, redirect := range redirects {
		for _, symbol := range symbols {
			if symbol.Name == redirect.Src {
				redirect.SrcVMA = symbol.Value
			}
			if symbol.Name == redirect.Dst {
				redirect.DstVMA = symbol.Value
			}
		}

		switch {
		case redirect.SrcVMA == 0:
			return fmt.Errorf("%s: could not locate address of %q", imgFile, redirect.Src)
		case redirect.DstVMA == 0:
			return fmt.Errorf("%s: could not locate address of %q", imgFile, redirect.Dst)
		}
	}

	return nil
}
