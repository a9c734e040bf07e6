// Package compactor provides content transforms that shrink files before
// they are stored in an archive.
package compactor

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"
)

// Compactor transforms the contents of the files it supports.
type Compactor interface {
	// Supports reports whether the compactor applies to path. It must not
	// touch the filesystem.
	Supports(path string) bool
	// Compact returns the transformed contents.
	Compact(contents []byte) ([]byte, error)
}

// Fingerprinter is implemented by compactors whose output depends on
// settings beyond the input bytes. The fingerprint takes part in cache keys.
type Fingerprinter interface {
	Fingerprint() string
}

// Chain applies compactors in registration order. Every compactor that
// supports a path is applied, not only the first.
type Chain []Compactor

// Add appends c to the chain. Duplicates are allowed.
func (c *Chain) Add(compactors ...Compactor) {
	*c = append(*c, compactors...)
}

// Supporting returns the compactors of the chain that apply to path.
func (c Chain) Supporting(path string) []Compactor {
	var out []Compactor
	for _, cc := range c {
		if cc.Supports(path) {
			out = append(out, cc)
		}
	}

	return out
}

// Compact runs contents through every compactor supporting path. Contents
// are returned unchanged when none does.
func (c Chain) Compact(path string, contents []byte) ([]byte, error) {
	for _, cc := range c {
		if !cc.Supports(path) {
			continue
		}
		var err error
		if contents, err = cc.Compact(contents); err != nil {
			return nil, err
		}
	}

	return contents, nil
}

// Fingerprint identifies the compactors applied to path, for use in cache
// keys.
func (c Chain) Fingerprint(path string) string {
	parts := make([]string, 0, len(c))
	for _, cc := range c.Supporting(path) {
		parts = append(parts, fingerprint(cc))
	}

	return strings.Join(parts, "|")
}

func fingerprint(c Compactor) string {
	if f, ok := c.(Fingerprinter); ok {
		return f.Fingerprint()
	}

	return fmt.Sprintf("%T", c)
}

// Extensions matches files by extension. Extensions are given without the
// leading dot and compared exactly.
type Extensions []string

// Supports implements part of Compactor.
func (e Extensions) Supports(path string) bool {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if ext == "" {
		return false
	}

	return slices.Contains(e, ext)
}

// Func adapts plain functions to a Compactor.
type Func struct {
	SupportsFunc func(path string) bool
	CompactFunc  func(contents []byte) ([]byte, error)
	Name         string
}

// Supports implements Compactor.
func (f Func) Supports(path string) bool {
	return f.SupportsFunc != nil && f.SupportsFunc(path)
}

// Compact implements Compactor.
func (f Func) Compact(contents []byte) ([]byte, error) {
	if f.CompactFunc == nil {
		return contents, nil
	}

	return f.CompactFunc(contents)
}

// Fingerprint implements Fingerprinter.
func (f Func) Fingerprint() string {
	if f.Name != "" {
		return f.Name
	}

	return "func"
}

// New returns the named built-in compactor: "php" or "json".
func New(name string) (Compactor, bool) {
	switch strings.ToLower(name) {
	case "php":
		return NewPHP(), true
	case "json":
		return NewJSON(), true
	default:
		return nil, false
	}
}

// Names lists the built-in compactors.
func Names() []string {
	return []string{"json", "php"}
}
