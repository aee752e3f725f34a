// Package provider defines the capability interface a concrete
// filesystem implements to plug into the OnceFS engine, plus a
// built-in provider driven by a YAML manifest.
//
// Providers decide WHAT exists: which names appear in a directory,
// which shell command produces which file, and which metadata facts
// describe a file. The engine decides HOW: scheduling, caching, and
// serving files that are still being generated.
package provider

import "errors"

// ErrNotDescribed is returned by metadata methods for paths the
// provider does not describe. The engine surfaces it as "no such
// file" instead of an empty metadata file.
var ErrNotDescribed = errors.New("path not described by provider")

// Entry is one generated directory entry.
type Entry struct {
	Name string
	Dir  bool
}

// Provider supplies the generated half of the merged tree.
//
// All paths are virtual: relative to the mount root, without a leading
// slash, "" meaning the root itself.
type Provider interface {
	// EntryNames returns the entries the provider contributes to the
	// directory at path. Real files with the same name hide them.
	EntryNames(path string) ([]Entry, error)

	// FileCommand returns the shell command whose standard output is
	// the exact content of the file at path. ok is false for paths
	// the provider does not generate.
	FileCommand(path string) (cmd string, ok bool)

	// Tags, Origins and Derived return the metadata facts of the
	// given category for a described file. An empty map is a valid
	// answer (it yields an empty metadata file); ErrNotDescribed
	// means the file has no metadata entry at all.
	Tags(path string) (map[string]string, error)
	Origins(path string) (map[string]string, error)
	Derived(path string) (map[string]string, error)

	// Summaries lists the flat aggregate files the provider exposes
	// under the metadata summaries directory.
	Summaries() []string

	// SummaryCommand returns the shell command producing the named
	// summary file.
	SummaryCommand(name string) (cmd string, ok bool)
}

// None is a Provider that generates nothing. Mounting with it yields a
// read-only view of the real files root alone.
type None struct{}

var _ Provider = None{}

func (None) EntryNames(string) ([]Entry, error)     { return nil, nil }
func (None) FileCommand(string) (string, bool)      { return "", false }
func (None) Tags(string) (map[string]string, error) { return nil, ErrNotDescribed }
func (None) Origins(string) (map[string]string, error) {
	return nil, ErrNotDescribed
}
func (None) Derived(string) (map[string]string, error) {
	return nil, ErrNotDescribed
}
func (None) Summaries() []string                { return nil }
func (None) SummaryCommand(string) (string, bool) { return "", false }
