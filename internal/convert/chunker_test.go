package convert

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestChunker(t *testing.T) *Chunker {
	t.Helper()
	c, err := NewChunker()
	if err != nil {
		t.Skipf("token encoding unavailable: %v", err)
	}
	return c
}

func TestChunker_EmptyMarkdownYieldsNoChunks(t *testing.T) {
	c := newTestChunker(t)
	assert.Nil(t, c.Chunk("", 512, true))
	assert.Nil(t, c.Chunk("   \n\n  ", 512, true))
}

func TestChunker_TracksHeadingStack(t *testing.T) {
	c := newTestChunker(t)
	md := strings.Join([]string{
		"# Report",
		"",
		"Intro paragraph.",
		"",
		"## Findings",
		"",
		"Finding text.",
		"",
		"# Appendix",
		"",
		"Appendix text.",
	}, "\n")

	chunks := c.Chunk(md, 512, false)

	require.Len(t, chunks, 3)
	assert.Equal(t, []string{"Report"}, chunks[0].Meta.Headings)
	assert.Equal(t, []string{"Report", "Findings"}, chunks[1].Meta.Headings)
	assert.Equal(t, []string{"Appendix"}, chunks[2].Meta.Headings)
	assert.Equal(t, 1, chunks[0].ID)
	assert.Equal(t, 3, chunks[2].ID)
}

func TestChunker_RespectsTokenBudget(t *testing.T) {
	c := newTestChunker(t)
	var b strings.Builder
	b.WriteString("# Long\n\n")
	for i := 0; i < 40; i++ {
		b.WriteString("This is a reasonably sized paragraph used to inflate the section body well past the budget.\n\n")
	}

	chunks := c.Chunk(b.String(), 64, false)

	require.Greater(t, len(chunks), 1)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, c.CountTokens(chunk.Text), 64)
	}
}

func TestChunker_MergePeersJoinsSmallNeighbors(t *testing.T) {
	c := newTestChunker(t)
	md := "# Section\n\nshort one\n\nshort two\n\nshort three"

	unmerged := c.Chunk(md, 8, false)
	merged := c.Chunk(md, 512, true)

	require.Greater(t, len(unmerged), 1)
	require.Len(t, merged, 1)
	assert.Contains(t, merged[0].Text, "short one")
	assert.Contains(t, merged[0].Text, "short three")
}

func TestChunker_MergeStopsAtHeadingBoundary(t *testing.T) {
	c := newTestChunker(t)
	md := "# A\n\nalpha\n\n# B\n\nbeta"

	chunks := c.Chunk(md, 512, true)

	require.Len(t, chunks, 2)
	assert.Equal(t, []string{"A"}, chunks[0].Meta.Headings)
	assert.Equal(t, []string{"B"}, chunks[1].Meta.Headings)
}

func TestHeadingLine(t *testing.T) {
	level, title := headingLine("## Results")
	assert.Equal(t, 2, level)
	assert.Equal(t, "Results", title)

	level, _ = headingLine("plain text")
	assert.Equal(t, 0, level)

	level, _ = headingLine("####### too deep")
	assert.Equal(t, 0, level)

	level, _ = headingLine("#nospace")
	assert.Equal(t, 0, level)
}
