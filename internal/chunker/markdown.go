package chunker

import (
	"fmt"
	"strings"

	"github.com/seanblong/rlmcode/pkg/models"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// ChunkMarkdown parses source as prose, splits it into sections delimited
// by leading header lines (found via a goldmark AST walk, not a hand
// line-scanner), and emits one chunk per section, further split by
// paragraph, then by size, when a section exceeds MaxChunkSize.
func (c *Chunker) ChunkMarkdown(source []byte, path, fileHash string, opts Options) ([]models.Chunk, error) {
	md := goldmark.New()
	reader := text.NewReader(source)
	doc := md.Parser().Parse(reader)

	lineStarts := lineStartOffsets(source)

	type section struct {
		header     string
		startByte  int
		endByte    int
	}
	var sections []section

	child := doc.FirstChild()
	var cur *section
	for child != nil {
		if child.Kind() == ast.KindHeading {
			if cur != nil {
				cur.endByte = nodeStartOffset(child, source)
				sections = append(sections, *cur)
			}
			start := nodeStartOffset(child, source)
			cur = &section{header: headingText(child, source), startByte: start}
		} else if cur == nil {
			// Content before any heading forms its own unheaded section.
			start := nodeStartOffset(child, source)
			cur = &section{header: "", startByte: start}
		}
		child = child.NextSibling()
	}
	if cur != nil {
		cur.endByte = len(source)
		sections = append(sections, *cur)
	}
	if len(sections) == 0 {
		if len(strings.TrimSpace(string(source))) == 0 {
			return nil, nil
		}
		sections = append(sections, section{startByte: 0, endByte: len(source)})
	}

	var chunks []models.Chunk
	for _, s := range sections {
		body := string(source[s.startByte:s.endByte])
		startLine := lineForOffset(lineStarts, s.startByte)
		endLine := lineForOffset(lineStarts, max(s.endByte-1, s.startByte))
		name := s.header
		if name == "" {
			name = "<module>"
		}
		base := models.Chunk{
			Metadata: models.ChunkMetadata{
				Path:       path,
				Language:   "markdown",
				SymbolType: models.SymbolMarkdown,
				SymbolName: name,
				StartLine:  startLine,
				EndLine:    endLine,
				FileHash:   fileHash,
			},
			Text: body,
		}
		if len(body) <= opts.MaxChunkSize {
			chunks = append(chunks, base)
			continue
		}
		chunks = append(chunks, splitMarkdownSection(base, opts)...)
	}

	assignIDs(chunks)
	return chunks, nil
}

// splitMarkdownSection splits an oversized section first along paragraph
// (blank-line) boundaries, keeping the header as a prefix on every piece,
// then falls back to splitIfNeeded's fixed-size/overlap splitter for any
// paragraph-sized piece that is itself still too large.
func splitMarkdownSection(base models.Chunk, opts Options) []models.Chunk {
	header := base.Metadata.SymbolName
	headerLine := ""
	if header != "" && header != "<module>" {
		headerLine = header
	}

	paras := splitParagraphs(base.Text)
	var grouped []string
	var cur strings.Builder
	for _, p := range paras {
		candidate := cur.String()
		if candidate != "" {
			candidate += "\n\n"
		}
		candidate += p
		if len(candidate) > opts.MaxChunkSize && cur.Len() > 0 {
			grouped = append(grouped, cur.String())
			cur.Reset()
			cur.WriteString(p)
		} else {
			cur.Reset()
			cur.WriteString(candidate)
		}
	}
	if cur.Len() > 0 {
		grouped = append(grouped, cur.String())
	}
	if len(grouped) == 0 {
		grouped = []string{base.Text}
	}

	var out []models.Chunk
	part := 0
	for _, g := range grouped {
		text := g
		if headerLine != "" && !strings.HasPrefix(strings.TrimSpace(text), headerLine) {
			text = headerLine + "\n\n" + text
		}
		piece := models.Chunk{Metadata: base.Metadata, Text: text}
		sub := splitIfNeeded(piece, opts)
		for _, s := range sub {
			part++
			s.Metadata.SymbolName = fmt.Sprintf("%s (part %d)", header, part)
			out = append(out, s)
		}
	}
	return out
}

func splitParagraphs(s string) []string {
	raw := strings.Split(s, "\n\n")
	var out []string
	for _, p := range raw {
		if strings.TrimSpace(p) == "" {
			continue
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return []string{s}
	}
	return out
}

func headingText(n ast.Node, source []byte) string {
	var sb strings.Builder
	child := n.FirstChild()
	for child != nil {
		if t, ok := child.(*ast.Text); ok {
			seg := t.Segment
			sb.Write(seg.Value(source))
		}
		child = child.NextSibling()
	}
	return strings.TrimSpace(sb.String())
}

func nodeStartOffset(n ast.Node, source []byte) int {
	if lines := n.Lines(); lines != nil && lines.Len() > 0 {
		return lines.At(0).Start
	}
	// Block nodes without their own Lines (e.g. a heading with an inline
	// child) fall back to the first text-bearing descendant.
	child := n.FirstChild()
	for child != nil {
		if lines := child.Lines(); lines != nil && lines.Len() > 0 {
			return lines.At(0).Start
		}
		child = child.NextSibling()
	}
	return 0
}

func lineStartOffsets(source []byte) []int {
	starts := []int{0}
	for i, b := range source {
		if b == '\n' {
			starts = append(starts, i+1)
		}
	}
	return starts
}

// lineForOffset returns the 1-indexed line containing byte offset off.
func lineForOffset(lineStarts []int, off int) int {
	lo, hi := 0, len(lineStarts)-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if lineStarts[mid] <= off {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo + 1
}
