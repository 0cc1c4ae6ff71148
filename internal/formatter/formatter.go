// Package formatter implements the two serializers used to hand a
// scored-chunk result set to a model or a human: a compact, round-
// trippable tabular encoding for low-token consumption, and a
// human-readable markdown rendering.
package formatter

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/seanblong/rlmcode/pkg/models"
)

// maxCodeLines is the per-chunk truncation limit in the compact encoding.
const maxCodeLines = 50

// compactHeader is the fixed field order declared in the header row.
const compactHeader = "[file, lines, relevance, code]"

// EncodeCompact serializes results into the compact tabular format: a
// header row declaring field order, then one two-space-indented,
// comma-delimited row per chunk. file and code are always double-quoted
// with '"' escaped as '\"' and newlines escaped as the two characters
// '\' 'n', so each row occupies exactly one line regardless of the
// chunk's own content.
func EncodeCompact(results []models.ScoredChunk) string {
	var b strings.Builder
	b.WriteString(compactHeader)
	b.WriteByte('\n')
	for _, r := range results {
		lines := fmt.Sprintf("%d-%d", r.Chunk.Metadata.StartLine, r.Chunk.Metadata.EndLine)
		relevance := int(round(r.Score * 100))
		code := truncateCode(r.Chunk.Text, maxCodeLines)
		fmt.Fprintf(&b, "  %s, %s, %d, %s\n", quote(r.Chunk.Metadata.Path), lines, relevance, quote(code))
	}
	return b.String()
}

// DecodeCompact parses the format EncodeCompact produces. It does not
// validate the header's exact field names beyond presence; any leading
// line starting with "[" is treated as the header and skipped.
func DecodeCompact(s string) ([]models.ScoredChunk, error) {
	lines := strings.Split(s, "\n")
	var out []models.ScoredChunk
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "[") {
			continue
		}
		fields, err := splitRow(strings.TrimPrefix(line, "  "))
		if err != nil {
			return nil, fmt.Errorf("formatter: decode row %q: %w", line, err)
		}
		if len(fields) != 4 {
			return nil, fmt.Errorf("formatter: expected 4 fields, got %d in row %q", len(fields), line)
		}
		path := unquote(fields[0])
		start, end, err := splitLines(fields[1])
		if err != nil {
			return nil, fmt.Errorf("formatter: decode lines %q: %w", fields[1], err)
		}
		relevance, err := strconv.Atoi(strings.TrimSpace(fields[2]))
		if err != nil {
			return nil, fmt.Errorf("formatter: decode relevance %q: %w", fields[2], err)
		}
		code := unquote(fields[3])
		out = append(out, models.ScoredChunk{
			Chunk: models.Chunk{
				Text: code,
				Metadata: models.ChunkMetadata{
					Path:      path,
					StartLine: start,
					EndLine:   end,
				},
			},
			Score: float64(relevance) / 100.0,
		})
	}
	return out, nil
}

func splitLines(s string) (int, int, error) {
	s = strings.TrimSpace(s)
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected start-end")
	}
	start, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, err
	}
	end, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

// splitRow splits one row on top-level commas, treating a double-quoted
// span (with '\"' escapes) as atomic so a comma inside quoted code never
// splits a field.
func splitRow(row string) ([]string, error) {
	var fields []string
	var cur strings.Builder
	inQuotes := false
	escaped := false
	for i := 0; i < len(row); i++ {
		c := row[i]
		switch {
		case escaped:
			cur.WriteByte(c)
			escaped = false
		case c == '\\' && inQuotes:
			cur.WriteByte(c)
			escaped = true
		case c == '"':
			cur.WriteByte(c)
			inQuotes = !inQuotes
		case c == ',' && !inQuotes:
			fields = append(fields, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	if inQuotes {
		return nil, fmt.Errorf("unterminated quoted field")
	}
	fields = append(fields, cur.String())
	return fields, nil
}

// quote wraps s in double quotes, escaping '"' as '\"' and a literal
// newline as the two characters '\' 'n'.
func quote(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

// unquote reverses quote; a field that is not double-quoted is returned
// trimmed of surrounding whitespace.
func unquote(field string) string {
	field = strings.TrimSpace(field)
	if len(field) < 2 || field[0] != '"' || field[len(field)-1] != '"' {
		return field
	}
	inner := field[1 : len(field)-1]
	var b strings.Builder
	escaped := false
	for i := 0; i < len(inner); i++ {
		c := inner[i]
		if escaped {
			switch c {
			case 'n':
				b.WriteByte('\n')
			case '"':
				b.WriteByte('"')
			case '\\':
				b.WriteByte('\\')
			default:
				b.WriteByte(c)
			}
			escaped = false
			continue
		}
		if c == '\\' {
			escaped = true
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// truncateCode caps text at maxLines lines, appending a sentinel noting
// how many lines were dropped.
func truncateCode(text string, maxLines int) string {
	lines := strings.Split(text, "\n")
	if len(lines) <= maxLines {
		return text
	}
	kept := lines[:maxLines]
	remaining := len(lines) - maxLines
	kept = append(kept, fmt.Sprintf("... (%d more lines)", remaining))
	return strings.Join(kept, "\n")
}

func round(f float64) float64 {
	if f >= 0 {
		return float64(int(f + 0.5))
	}
	return float64(int(f - 0.5))
}

// EncodeMarkdown renders results as human-readable markdown: a
// "### path:start-end" heading per chunk, a fenced code block tagged with
// the chunk's language, and an optional "*Relevance: P%*" line when Score
// is non-zero.
func EncodeMarkdown(results []models.ScoredChunk) string {
	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "### %s:%d-%d\n\n", r.Chunk.Metadata.Path, r.Chunk.Metadata.StartLine, r.Chunk.Metadata.EndLine)
		lang := r.Chunk.Metadata.Language
		fmt.Fprintf(&b, "```%s\n%s\n```\n", lang, r.Chunk.Text)
		if r.Score != 0 {
			fmt.Fprintf(&b, "\n*Relevance: %d%%*\n", int(round(r.Score*100)))
		}
	}
	return b.String()
}
