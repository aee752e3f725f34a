package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerializeSortsByName(t *testing.T) {
	data := Serialize(map[string]string{
		"ZONE":   "z",
		"AUTHOR": "jrh",
		"FORMAT": "tex",
	})
	assert.Equal(t, "AUTHOR=jrh\nFORMAT=tex\nZONE=z\n", string(data))
}

func TestSerializeEmpty(t *testing.T) {
	assert.Empty(t, Serialize(nil))
	assert.Empty(t, Serialize(map[string]string{}))
}

func TestParseRoundTrip(t *testing.T) {
	facts := map[string]string{
		"AUTHOR": "jrh",
		"TITLE":  "a=b=c",
		"EMPTY":  "",
	}
	parsed := Parse(Serialize(facts))
	assert.Equal(t, facts, parsed)
}

func TestParseLastWriteWins(t *testing.T) {
	parsed := Parse([]byte("K=first\nK=second\nnoseparator\n"))
	assert.Equal(t, map[string]string{"K": "second"}, parsed)
}

func TestCategoryFileName(t *testing.T) {
	assert.Equal(t, "report.pdf.tags.txt", CategoryTags.FileName("report.pdf"))
	assert.Equal(t, "report.pdf.origins.txt", CategoryOrigins.FileName("report.pdf"))
	assert.Equal(t, "report.pdf.derived.txt", CategoryDerived.FileName("report.pdf"))
	assert.Equal(t, "report.pdf.pathname.txt", CategoryPathname.FileName("report.pdf"))
}

func TestSplitFileName(t *testing.T) {
	for _, cat := range Categories() {
		name := cat.FileName("report.pdf")
		described, got, ok := SplitFileName(name)
		require.True(t, ok, name)
		assert.Equal(t, "report.pdf", described)
		assert.Equal(t, cat, got)
	}
}

func TestSplitFileNameRejectsOthers(t *testing.T) {
	for _, name := range []string{
		"plain.txt",
		"report.pdf",
		"report.tags",
		".tags.txt",
		"",
	} {
		_, _, ok := SplitFileName(name)
		assert.False(t, ok, name)
	}
}

func TestPathnameFacts(t *testing.T) {
	facts := PathnameFacts("papers/2024/draft.tex")
	assert.Equal(t, map[string]string{
		"PATHNAME":  "/papers/2024/draft.tex",
		"FILENAME":  "draft.tex",
		"DIRECTORY": "/papers/2024",
	}, facts)

	facts = PathnameFacts("top.txt")
	assert.Equal(t, "/", facts["DIRECTORY"])
	assert.Equal(t, "/top.txt", facts["PATHNAME"])
}
