package chunker

import (
	"github.com/seanblong/rlmcode/pkg/models"
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/ruby"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// declKind names a tree-sitter node kind that should be emitted as its own
// chunk, together with the symbol_type it maps to.
type declKind struct {
	kind       string
	symbolType models.SymbolType
}

// langSpec is everything the chunker needs to know about one language:
// which grammar parses it, which node kinds are chunk-worthy declarations,
// which kinds hold import/preamble statements, and the human name recorded
// in ChunkMetadata.Language.
type langSpec struct {
	name        string
	language    *sitter.Language
	decls       []declKind
	importKinds []string
	// arrowVarKind is the statement kind (e.g. "lexical_declaration") that
	// may contain "const f = () => {}"; emitted only when its initializer
	// is an arrow function.
	arrowVarKind string
}

// extensionLanguages maps a recognized code file extension to its langSpec.
// Grammar loading itself is an external collaborator (
// GRAMMARS_DIR); the *sitter.Language values here are the compiled-in
// bindings the pack depends on, standing in for that collaborator.
var extensionLanguages = map[string]langSpec{
	".go": {
		name:     "go",
		language: golang.GetLanguage(),
		decls: []declKind{
			{"function_declaration", models.SymbolFunction},
			{"method_declaration", models.SymbolMethod},
			{"type_declaration", models.SymbolClass},
		},
		importKinds: []string{"import_declaration"},
	},
	".py": {
		name:     "python",
		language: python.GetLanguage(),
		decls: []declKind{
			{"function_definition", models.SymbolFunction},
			{"class_definition", models.SymbolClass},
		},
		importKinds: []string{"import_statement", "import_from_statement"},
	},
	".java": {
		name:     "java",
		language: java.GetLanguage(),
		decls: []declKind{
			{"class_declaration", models.SymbolClass},
			{"interface_declaration", models.SymbolClass},
			{"enum_declaration", models.SymbolClass},
			{"method_declaration", models.SymbolMethod},
		},
		importKinds: []string{"import_declaration"},
	},
	".rb": {
		name:     "ruby",
		language: ruby.GetLanguage(),
		decls: []declKind{
			{"method", models.SymbolMethod},
			{"class", models.SymbolClass},
			{"module", models.SymbolModule},
		},
		// Ruby requires are plain method calls in the grammar, not a
		// distinct import node kind, so no preamble is collected.
		importKinds: nil,
	},
	".js": {
		name:     "javascript",
		language: javascript.GetLanguage(),
		decls: []declKind{
			{"function_declaration", models.SymbolFunction},
			{"class_declaration", models.SymbolClass},
			{"method_definition", models.SymbolMethod},
		},
		importKinds:  []string{"import_statement"},
		arrowVarKind: "lexical_declaration",
	},
	".jsx": {
		name:     "javascript",
		language: javascript.GetLanguage(),
		decls: []declKind{
			{"function_declaration", models.SymbolFunction},
			{"class_declaration", models.SymbolClass},
			{"method_definition", models.SymbolMethod},
		},
		importKinds:  []string{"import_statement"},
		arrowVarKind: "lexical_declaration",
	},
	".ts": {
		name:     "typescript",
		language: typescript.GetLanguage(),
		decls: []declKind{
			{"function_declaration", models.SymbolFunction},
			{"class_declaration", models.SymbolClass},
			{"method_definition", models.SymbolMethod},
			{"interface_declaration", models.SymbolClass},
		},
		importKinds:  []string{"import_statement"},
		arrowVarKind: "lexical_declaration",
	},
	".tsx": {
		name:     "typescript",
		language: tsx.GetLanguage(),
		decls: []declKind{
			{"function_declaration", models.SymbolFunction},
			{"class_declaration", models.SymbolClass},
			{"method_definition", models.SymbolMethod},
			{"interface_declaration", models.SymbolClass},
		},
		importKinds:  []string{"import_statement"},
		arrowVarKind: "lexical_declaration",
	},
}

// proseExtensions recognizes the prose file extension mapped to markdown.
var proseExtensions = map[string]bool{
	".md":       true,
	".markdown": true,
}
