package metadata

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pkarhu/oncefs/internal/provider"
)

// countingProvider describes a single file and counts metadata queries.
type countingProvider struct {
	provider.None
	path string
	tags map[string]string

	tagCalls int
}

func (p *countingProvider) Tags(path string) (map[string]string, error) {
	p.tagCalls++
	if path != p.path {
		return nil, provider.ErrNotDescribed
	}
	return p.tags, nil
}

func (p *countingProvider) Origins(path string) (map[string]string, error) {
	if path != p.path {
		return nil, provider.ErrNotDescribed
	}
	return nil, nil
}

func newCountingProvider() *countingProvider {
	return &countingProvider{
		path: "docs/report.pdf",
		tags: map[string]string{"AUTHOR": "jrh", "STATUS": "final"},
	}
}

func TestTreeContent(t *testing.T) {
	p := newCountingProvider()
	tree := NewTree(p, 8, 16, nil)

	data, err := tree.Content("docs/report.pdf", CategoryTags)
	require.NoError(t, err)
	assert.Equal(t, "AUTHOR=jrh\nSTATUS=final\n", string(data))
}

func TestTreeContentEmptyCategory(t *testing.T) {
	tree := NewTree(newCountingProvider(), 8, 16, nil)

	// Described but with no origins: a valid, zero-length file.
	data, err := tree.Content("docs/report.pdf", CategoryOrigins)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestTreeContentNotDescribed(t *testing.T) {
	tree := NewTree(newCountingProvider(), 8, 16, nil)

	_, err := tree.Content("other.txt", CategoryTags)
	assert.True(t, errors.Is(err, provider.ErrNotDescribed))

	_, err = tree.Content("other.txt", CategoryPathname)
	assert.True(t, errors.Is(err, provider.ErrNotDescribed),
		"pathname facts only exist for described files")
}

func TestTreeContentMemoizes(t *testing.T) {
	p := newCountingProvider()
	tree := NewTree(p, 8, 16, nil)

	_, err := tree.Content("docs/report.pdf", CategoryTags)
	require.NoError(t, err)
	_, err = tree.Content("docs/report.pdf", CategoryTags)
	require.NoError(t, err)
	assert.Equal(t, 1, p.tagCalls)

	tree.Forget("docs/report.pdf")
	_, err = tree.Content("docs/report.pdf", CategoryTags)
	require.NoError(t, err)
	assert.Equal(t, 2, p.tagCalls)
}

func TestTreePathnameContent(t *testing.T) {
	tree := NewTree(newCountingProvider(), 8, 16, nil)

	data, err := tree.Content("docs/report.pdf", CategoryPathname)
	require.NoError(t, err)
	assert.Equal(t,
		"DIRECTORY=/docs\nFILENAME=report.pdf\nPATHNAME=/docs/report.pdf\n",
		string(data))
}

func TestTreeDescribed(t *testing.T) {
	tree := NewTree(newCountingProvider(), 8, 16, nil)
	assert.True(t, tree.Described("docs/report.pdf"))
	assert.False(t, tree.Described("other.txt"))
}
