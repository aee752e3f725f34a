// Package metadata synthesizes the virtual metadata subtree: one
// NAME=VALUE text file per category per described file, plus a flat
// set of generated summary files.
package metadata

import (
	"bytes"
	"fmt"
	"path"
	"sort"
	"strings"
)

// Names of the synthesized directories. DirName is hidden (dot
// prefixed) and sits at the mount root unless metadata is disabled.
const (
	DirName          = ".metadata"
	FilesDirName     = "files"
	SummariesDirName = "summaries"
	FilesDirPath     = DirName + "/" + FilesDirName
	SummariesDirPath = DirName + "/" + SummariesDirName
	filenameSuffix   = ".txt"
)

// Category identifies one group of key/value facts about a described
// file. The set is closed: each category carries its own file
// extension and its content source.
type Category int

const (
	CategoryTags Category = iota
	CategoryOrigins
	CategoryDerived
	CategoryPathname
)

// Categories lists all categories in presentation order.
func Categories() []Category {
	return []Category{CategoryTags, CategoryOrigins, CategoryDerived, CategoryPathname}
}

// Ext returns the category-specific extension, without the common
// filename suffix.
func (c Category) Ext() string {
	switch c {
	case CategoryTags:
		return ".tags"
	case CategoryOrigins:
		return ".origins"
	case CategoryDerived:
		return ".derived"
	case CategoryPathname:
		return ".pathname"
	}
	return ".unknown"
}

func (c Category) String() string {
	return strings.TrimPrefix(c.Ext(), ".")
}

// FileName returns the metadata file name for a described file: the
// described name plus the category extension plus the common suffix.
func (c Category) FileName(described string) string {
	return described + c.Ext() + filenameSuffix
}

// SplitFileName decomposes a metadata file name into the described
// file's name and the category. ok is false if name does not follow
// the metadata naming scheme.
func SplitFileName(name string) (described string, c Category, ok bool) {
	base, found := strings.CutSuffix(name, filenameSuffix)
	if !found {
		return "", 0, false
	}
	for _, cat := range Categories() {
		if d, found := strings.CutSuffix(base, cat.Ext()); found && d != "" {
			return d, cat, true
		}
	}
	return "", 0, false
}

// Serialize renders facts as newline-terminated NAME=VALUE lines,
// sorted by name for determinism. An empty map yields empty (but
// valid, zero-length) content.
func Serialize(facts map[string]string) []byte {
	names := make([]string, 0, len(facts))
	for name := range facts {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	for _, name := range names {
		fmt.Fprintf(&buf, "%s=%s\n", name, facts[name])
	}
	return buf.Bytes()
}

// Parse reads NAME=VALUE lines back into a map. Keys and values are
// case-preserving; duplicate names resolve last-write-wins. Lines
// without a separator are ignored.
func Parse(data []byte) map[string]string {
	facts := make(map[string]string)
	for _, line := range strings.Split(string(data), "\n") {
		if line == "" {
			continue
		}
		name, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		facts[name] = value
	}
	return facts
}

// PathnameFacts is the built-in pathname category: facts derived from
// the described file's virtual path alone.
func PathnameFacts(virtPath string) map[string]string {
	dir := path.Dir(virtPath)
	if dir == "." {
		dir = ""
	}
	return map[string]string{
		"PATHNAME":  "/" + virtPath,
		"FILENAME":  path.Base(virtPath),
		"DIRECTORY": "/" + dir,
	}
}
