// Package chunker splits source files into semantically coherent,
// metadata-annotated chunks. Code is parsed with
// tree-sitter and chunked per top-level declaration; prose is chunked by
// header/paragraph structure. Both paths are fully deterministic: the same
// input bytes and options always produce the same chunk ids, text, and
// metadata.
package chunker

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/seanblong/rlmcode/internal/rlmerrors"
	"github.com/seanblong/rlmcode/pkg/models"
	sitter "github.com/smacker/go-tree-sitter"
)

// Options controls splitting behavior shared by code and prose chunking.
type Options struct {
	// MaxChunkSize is the soft ceiling, in bytes, before a chunk is split.
	MaxChunkSize int
	// OverlapFraction is the fraction of MaxChunkSize repeated between two
	// adjacent split sub-chunks.
	OverlapFraction float64
	// IncludePreamble controls whether collected import statements are
	// prepended to each emitted code chunk.
	IncludePreamble bool
}

// DefaultOptions returns the default chunk size (~2000 chars) and overlap (15%).
func DefaultOptions() Options {
	return Options{
		MaxChunkSize:    2000,
		OverlapFraction: 0.15,
		IncludePreamble: true,
	}
}

// Chunker holds the tree-sitter parser used for code chunking. A *sitter.
// Parser is not safe for concurrent use, so callers share a Chunker the
// same way the indexer shares one parser per worker: construct one per
// goroutine, or guard it with a mutex.
type Chunker struct {
	parser *sitter.Parser
}

// New creates a Chunker. Grammar bindings are resolved from the
// extensionLanguages table; GRAMMARS_DIR-style external loading is out of
// core scope and is not modeled here.
func New() *Chunker {
	return &Chunker{parser: sitter.NewParser()}
}

// DetectLanguage classifies path by extension. ok is false when the
// extension maps to neither a code grammar nor the prose extension.
func DetectLanguage(path string) (name string, isProse bool, ok bool) {
	ext := strings.ToLower(filepath.Ext(path))
	if proseExtensions[ext] {
		return "markdown", true, true
	}
	if spec, found := extensionLanguages[ext]; found {
		return spec.name, false, true
	}
	return "", false, false
}

// ChunkCode parses source as the language implied by path's extension and
// emits one chunk per top-level function/method/class/declaration, plus
// exported declarations and module-scope arrow-function assignments.
func (c *Chunker) ChunkCode(source []byte, path, fileHash string, opts Options) ([]models.Chunk, error) {
	ext := strings.ToLower(filepath.Ext(path))
	spec, ok := extensionLanguages[ext]
	if !ok {
		return nil, fmt.Errorf("%w: %s", rlmerrors.ErrUnsupportedLanguage, ext)
	}

	c.parser.SetLanguage(spec.language)
	tree, err := c.parser.ParseCtx(context.Background(), nil, source)
	if err != nil || tree == nil {
		return nil, fmt.Errorf("%w: %s: %v", rlmerrors.ErrParse, path, err)
	}
	defer tree.Close()
	// A partially-broken parse (root.HasError()) still yields usable
	// declarations; only reject outright when tree-sitter could not
	// produce a root at all.
	root := tree.RootNode()

	preamble := ""
	if opts.IncludePreamble {
		preamble = collectPreamble(root, source, spec.importKinds)
	}

	var candidates []*sitter.Node
	walkDecls(root, spec, &candidates)

	chunks := make([]models.Chunk, 0, len(candidates))
	for _, node := range candidates {
		symbolType := declSymbolType(node, spec)
		name := symbolName(node, source)
		startLine := int(node.StartPoint().Row) + 1
		endLine := int(node.EndPoint().Row) + 1
		text := node.Content(source)
		if preamble != "" {
			text = preamble + "\n\n" + text
		}
		chunks = append(chunks, splitIfNeeded(models.Chunk{
			Metadata: models.ChunkMetadata{
				Path:       path,
				Language:   spec.name,
				SymbolType: symbolType,
				SymbolName: name,
				StartLine:  startLine,
				EndLine:    endLine,
				FileHash:   fileHash,
			},
			Text: text,
		}, opts)...)
	}

	if len(chunks) == 0 {
		// No declarations found (e.g. a script with only top-level
		// statements): fall back to one module-level chunk so the file is
		// still searchable.
		lines := strings.Count(string(source), "\n") + 1
		if len(strings.TrimSpace(string(source))) == 0 {
			return nil, nil
		}
		chunks = splitIfNeeded(models.Chunk{
			Metadata: models.ChunkMetadata{
				Path:       path,
				Language:   spec.name,
				SymbolType: models.SymbolModule,
				SymbolName: "<module>",
				StartLine:  1,
				EndLine:    lines,
				FileHash:   fileHash,
			},
			Text: string(source),
		}, opts)
	}

	assignIDs(chunks)
	return chunks, nil
}

// walkDecls collects the top-level (and, for arrow functions, module-scope)
// declaration nodes from the language table. Only nodes at the root's
// immediate children are considered "top-level"; chunking only walks
// top-level function/method/class declarations, not nested helpers. An
// export statement is looked through to the declaration it exports.
func walkDecls(root *sitter.Node, spec langSpec, out *[]*sitter.Node) {
	n := int(root.NamedChildCount())
	for i := 0; i < n; i++ {
		child := root.NamedChild(i)
		kind := child.Type()
		if kind == "export_statement" {
			if decl := child.ChildByFieldName("declaration"); decl != nil {
				child, kind = decl, decl.Type()
			}
		}
		for _, d := range spec.decls {
			if d.kind == kind {
				*out = append(*out, child)
				break
			}
		}
		if spec.arrowVarKind != "" && kind == spec.arrowVarKind {
			if arrowDecl := arrowFunctionDeclarator(child); arrowDecl != nil {
				*out = append(*out, child)
			}
		}
	}
}

// arrowFunctionDeclarator returns the variable_declarator child of a
// lexical_declaration whose initializer is an arrow function, or nil.
func arrowFunctionDeclarator(node *sitter.Node) *sitter.Node {
	n := int(node.NamedChildCount())
	for i := 0; i < n; i++ {
		child := node.NamedChild(i)
		if child.Type() != "variable_declarator" {
			continue
		}
		value := child.ChildByFieldName("value")
		if value != nil && value.Type() == "arrow_function" {
			return child
		}
	}
	return nil
}

func declSymbolType(node *sitter.Node, spec langSpec) models.SymbolType {
	if node.Type() == spec.arrowVarKind {
		return models.SymbolFunction
	}
	for _, d := range spec.decls {
		if d.kind == node.Type() {
			return d.symbolType
		}
	}
	return models.SymbolOther
}

// symbolName extracts a declaration's name via the "name" field, falling
// back to the first identifier child, falling back to "<anonymous>".
func symbolName(node *sitter.Node, source []byte) string {
	if nameNode := node.ChildByFieldName("name"); nameNode != nil {
		return nameNode.Content(source)
	}
	if node.Type() == "lexical_declaration" {
		if decl := firstNamedChildOfType(node, "variable_declarator"); decl != nil {
			if nameNode := decl.ChildByFieldName("name"); nameNode != nil {
				return nameNode.Content(source)
			}
		}
	}
	if node.Type() == "type_declaration" {
		if spec := firstNamedChildOfType(node, "type_spec"); spec != nil {
			if nameNode := spec.ChildByFieldName("name"); nameNode != nil {
				return nameNode.Content(source)
			}
		}
	}
	n := int(node.NamedChildCount())
	for i := 0; i < n; i++ {
		child := node.NamedChild(i)
		if strings.Contains(child.Type(), "identifier") {
			return child.Content(source)
		}
	}
	return "<anonymous>"
}

func firstNamedChildOfType(node *sitter.Node, kind string) *sitter.Node {
	n := int(node.NamedChildCount())
	for i := 0; i < n; i++ {
		child := node.NamedChild(i)
		if child.Type() == kind {
			return child
		}
	}
	return nil
}

// collectPreamble concatenates all top-level import statements, in source
// order, to use as a context prefix for every chunk in the file.
func collectPreamble(root *sitter.Node, source []byte, importKinds []string) string {
	var lines []string
	n := int(root.NamedChildCount())
	for i := 0; i < n; i++ {
		child := root.NamedChild(i)
		for _, kind := range importKinds {
			if child.Type() == kind {
				lines = append(lines, child.Content(source))
				break
			}
		}
	}
	return strings.Join(lines, "\n")
}

// splitIfNeeded breaks an oversized chunk into overlapping sub-chunks,
// suffixing each with "(part N)" and sharing the parent's metadata. A
// trailing fragment smaller than 30% of MaxChunkSize is merged into the
// previous fragment instead of being emitted on its own.
func splitIfNeeded(chunk models.Chunk, opts Options) []models.Chunk {
	if opts.MaxChunkSize <= 0 || len(chunk.Text) <= opts.MaxChunkSize {
		return []models.Chunk{chunk}
	}

	overlap := int(float64(opts.MaxChunkSize) * opts.OverlapFraction)
	if overlap >= opts.MaxChunkSize {
		overlap = opts.MaxChunkSize / 2
	}
	stride := opts.MaxChunkSize - overlap
	if stride <= 0 {
		stride = opts.MaxChunkSize
	}

	minTrailing := int(float64(opts.MaxChunkSize) * 0.30)

	var spans [][2]int
	text := chunk.Text
	for start := 0; start < len(text); start += stride {
		end := start + opts.MaxChunkSize
		if end > len(text) {
			end = len(text)
		}
		spans = append(spans, [2]int{start, end})
		if end == len(text) {
			break
		}
	}
	// Merge an undersized trailing fragment into its predecessor.
	if len(spans) > 1 {
		last := spans[len(spans)-1]
		if last[1]-last[0] < minTrailing {
			spans = spans[:len(spans)-1]
			spans[len(spans)-1][1] = last[1]
		}
	}

	totalLines := chunk.Metadata.EndLine - chunk.Metadata.StartLine + 1
	out := make([]models.Chunk, 0, len(spans))
	for i, span := range spans {
		meta := chunk.Metadata
		meta.SymbolName = fmt.Sprintf("%s (part %d)", chunk.Metadata.SymbolName, i+1)
		if totalLines > 0 {
			frac := func(pos int) int {
				if len(text) == 0 {
					return chunk.Metadata.StartLine
				}
				offsetLines := pos * totalLines / len(text)
				return chunk.Metadata.StartLine + offsetLines
			}
			meta.StartLine = frac(span[0])
			meta.EndLine = frac(span[1])
			if meta.EndLine < meta.StartLine {
				meta.EndLine = meta.StartLine
			}
		}
		out = append(out, models.Chunk{
			Metadata: meta,
			Text:     text[span[0]:span[1]],
		})
	}
	return out
}

// assignIDs stamps deterministic ids onto chunks in place: sha1 of
// (file_hash, start_line, symbol_name), with a "-N" ordinal suffix added
// when an earlier chunk in the same slice already produced the same id, so
// ids stay distinct within one file. Split sub-chunks normally differ
// already through their "(part N)" symbol names.
func assignIDs(chunks []models.Chunk) {
	seen := map[string]int{}
	for i := range chunks {
		m := chunks[i].Metadata
		base := fmt.Sprintf("%s#%d#%s", m.FileHash, m.StartLine, m.SymbolName)
		sum := sha1.Sum([]byte(base))
		id := hex.EncodeToString(sum[:])[:16]
		seen[id]++
		if seen[id] > 1 {
			id = fmt.Sprintf("%s-%d", id, seen[id]-1)
		}
		chunks[i].ID = id
	}
}
