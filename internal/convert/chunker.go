package convert

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

const chunkEncoding = "cl100k_base"

// Chunker splits converted markdown into token-bounded retrieval chunks.
// Chunks follow the document's heading structure; oversized sections are
// split on paragraph boundaries and undersized neighbors under the same
// headings can be merged back together.
type Chunker struct {
	enc *tiktoken.Tiktoken
}

// NewChunker loads the token encoder.
func NewChunker() (*Chunker, error) {
	enc, err := tiktoken.GetEncoding(chunkEncoding)
	if err != nil {
		return nil, fmt.Errorf("load %s encoding: %w", chunkEncoding, err)
	}
	return &Chunker{enc: enc}, nil
}

// CountTokens returns the token count of text.
func (c *Chunker) CountTokens(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

type section struct {
	headings []string
	body     string
}

// Chunk splits markdown into chunks of at most maxTokens tokens each.
func (c *Chunker) Chunk(markdown string, maxTokens int, mergePeers bool) []Chunk {
	if strings.TrimSpace(markdown) == "" {
		return nil
	}
	if maxTokens <= 0 {
		maxTokens = 512
	}

	sections := splitSections(markdown)

	var chunks []Chunk
	for _, sec := range sections {
		for _, piece := range c.splitBody(sec.body, maxTokens) {
			chunks = append(chunks, Chunk{
				Text: piece,
				Meta: ChunkMeta{Headings: sec.headings},
			})
		}
	}

	if mergePeers {
		chunks = c.mergeSmallPeers(chunks, maxTokens)
	}

	for i := range chunks {
		chunks[i].ID = i + 1
	}
	return chunks
}

// splitSections walks the markdown line by line, tracking the heading stack
// and cutting a section at every heading.
func splitSections(markdown string) []section {
	var sections []section
	var stack []string
	var body []string

	flush := func() {
		text := strings.TrimSpace(strings.Join(body, "\n"))
		if text != "" {
			headings := make([]string, len(stack))
			copy(headings, stack)
			sections = append(sections, section{headings: headings, body: text})
		}
		body = body[:0]
	}

	for _, line := range strings.Split(markdown, "\n") {
		level, title := headingLine(line)
		if level == 0 {
			body = append(body, line)
			continue
		}
		flush()
		if level <= len(stack) {
			stack = stack[:level-1]
		}
		stack = append(stack, title)
	}
	flush()
	return sections
}

func headingLine(line string) (int, string) {
	trimmed := strings.TrimLeft(line, " ")
	level := 0
	for level < len(trimmed) && trimmed[level] == '#' {
		level++
	}
	if level == 0 || level > 6 || level >= len(trimmed) || trimmed[level] != ' ' {
		return 0, ""
	}
	return level, strings.TrimSpace(trimmed[level:])
}

// splitBody cuts a section body into token-bounded pieces on paragraph
// boundaries, falling back to line boundaries for oversized paragraphs.
func (c *Chunker) splitBody(body string, maxTokens int) []string {
	if c.CountTokens(body) <= maxTokens {
		return []string{body}
	}

	var pieces []string
	var current []string
	currentTokens := 0

	emit := func() {
		if len(current) > 0 {
			pieces = append(pieces, strings.Join(current, "\n\n"))
			current = current[:0]
			currentTokens = 0
		}
	}

	for _, para := range strings.Split(body, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		tokens := c.CountTokens(para)
		if tokens > maxTokens {
			emit()
			pieces = append(pieces, c.splitLines(para, maxTokens)...)
			continue
		}
		if currentTokens+tokens > maxTokens {
			emit()
		}
		current = append(current, para)
		currentTokens += tokens
	}
	emit()
	return pieces
}

func (c *Chunker) splitLines(text string, maxTokens int) []string {
	var pieces []string
	var current []string
	currentTokens := 0

	for _, line := range strings.Split(text, "\n") {
		tokens := c.CountTokens(line)
		if currentTokens+tokens > maxTokens && len(current) > 0 {
			pieces = append(pieces, strings.Join(current, "\n"))
			current = current[:0]
			currentTokens = 0
		}
		current = append(current, line)
		currentTokens += tokens
	}
	if len(current) > 0 {
		pieces = append(pieces, strings.Join(current, "\n"))
	}
	return pieces
}

// mergeSmallPeers joins adjacent chunks that share the same heading path
// while the combined text stays within the token budget.
func (c *Chunker) mergeSmallPeers(chunks []Chunk, maxTokens int) []Chunk {
	if len(chunks) < 2 {
		return chunks
	}

	merged := []Chunk{chunks[0]}
	for _, next := range chunks[1:] {
		last := &merged[len(merged)-1]
		if sameHeadings(last.Meta.Headings, next.Meta.Headings) {
			combined := last.Text + "\n\n" + next.Text
			if c.CountTokens(combined) <= maxTokens {
				last.Text = combined
				continue
			}
		}
		merged = append(merged, next)
	}
	return merged
}

func sameHeadings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
