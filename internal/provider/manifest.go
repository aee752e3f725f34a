package provider

import (
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// manifestFile is the YAML shape of one generated file.
type manifestFile struct {
	Command string            `yaml:"command"`
	Tags    map[string]string `yaml:"tags"`
	Origins map[string]string `yaml:"origins"`
	Derived map[string]string `yaml:"derived"`
}

// manifestDoc is the YAML shape of a whole manifest.
type manifestDoc struct {
	Files     map[string]manifestFile `yaml:"files"`
	Summaries map[string]string       `yaml:"summaries"`
}

// Manifest is a Provider described by a YAML file: a map of virtual
// paths to producer commands and metadata, plus named summary files.
// Directories are implied by the file paths.
type Manifest struct {
	files     map[string]manifestFile
	summaries map[string]string

	// dirs maps every implied directory to its immediate children.
	dirs map[string][]Entry
}

var _ Provider = (*Manifest)(nil)

// LoadManifest reads and parses a manifest from disk.
func LoadManifest(file string) (*Manifest, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	return ParseManifest(data)
}

// ParseManifest parses manifest YAML.
func ParseManifest(data []byte) (*Manifest, error) {
	var doc manifestDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}

	m := &Manifest{
		files:     make(map[string]manifestFile),
		summaries: doc.Summaries,
		dirs:      make(map[string][]Entry),
	}

	for p, f := range doc.Files {
		p = strings.Trim(path.Clean(p), "/")
		if p == "" || p == "." || strings.HasPrefix(p, "..") {
			return nil, fmt.Errorf("manifest: invalid file path %q", p)
		}
		if f.Command == "" {
			return nil, fmt.Errorf("manifest: file %q has no command", p)
		}
		m.files[p] = f
		m.addToTree(p)
	}

	for _, entries := range m.dirs {
		sort.Slice(entries, func(i, j int) bool {
			return entries[i].Name < entries[j].Name
		})
	}
	return m, nil
}

// addToTree registers p and all of its ancestors in the directory tree.
func (m *Manifest) addToTree(p string) {
	child := p
	isDir := false
	for {
		parent := path.Dir(child)
		if parent == "." {
			parent = ""
		}
		name := path.Base(child)
		if !m.hasChild(parent, name) {
			m.dirs[parent] = append(m.dirs[parent], Entry{Name: name, Dir: isDir})
		}
		if parent == "" {
			return
		}
		child = parent
		isDir = true
	}
}

func (m *Manifest) hasChild(dir, name string) bool {
	for _, e := range m.dirs[dir] {
		if e.Name == name {
			return true
		}
	}
	return false
}

func (m *Manifest) EntryNames(p string) ([]Entry, error) {
	return m.dirs[p], nil
}

func (m *Manifest) FileCommand(p string) (string, bool) {
	f, ok := m.files[p]
	if !ok {
		return "", false
	}
	return f.Command, true
}

func (m *Manifest) Tags(p string) (map[string]string, error) {
	f, ok := m.files[p]
	if !ok {
		return nil, ErrNotDescribed
	}
	return f.Tags, nil
}

func (m *Manifest) Origins(p string) (map[string]string, error) {
	f, ok := m.files[p]
	if !ok {
		return nil, ErrNotDescribed
	}
	return f.Origins, nil
}

func (m *Manifest) Derived(p string) (map[string]string, error) {
	f, ok := m.files[p]
	if !ok {
		return nil, ErrNotDescribed
	}
	return f.Derived, nil
}

func (m *Manifest) Summaries() []string {
	names := make([]string, 0, len(m.summaries))
	for name := range m.summaries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *Manifest) SummaryCommand(name string) (string, bool) {
	cmd, ok := m.summaries[name]
	return cmd, ok
}
