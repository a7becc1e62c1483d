package specfile

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/remold/remold/pkg/engine"
)

func TestLoader_LoadInline(t *testing.T) {
	loader := NewLoader()

	tests := []struct {
		name      string
		content   string
		wantErr   bool
		checkFunc func(*testing.T, *Document)
	}{
		{
			name: "valid document with meta",
			content: `
meta: {
	name: "post-titles"
	version: "1.0"
}

spec: {
	titles: "posts"
}
`,
			wantErr: false,
			checkFunc: func(t *testing.T, doc *Document) {
				if doc.Meta == nil || doc.Meta.Name != "post-titles" {
					t.Errorf("Expected meta name 'post-titles', got %+v", doc.Meta)
				}
				spec, ok := doc.Spec.(map[string]any)
				if !ok {
					t.Fatalf("Expected mapping spec, got %T", doc.Spec)
				}
				if spec["titles"] != "posts" {
					t.Errorf("Expected path spec 'posts', got %v", spec["titles"])
				}
			},
		},
		{
			name: "invalid CUE syntax",
			content: `
spec: {
	name: "test"
	invalid syntax here
}
`,
			wantErr: true,
		},
		{
			name: "missing spec field",
			content: `
meta: {
	name: "empty"
}
`,
			wantErr: true,
			checkFunc: func(t *testing.T, doc *Document) {
				if len(doc.Errors) != 1 || doc.Errors[0].Path != "spec" {
					t.Errorf("Expected a single error at path 'spec', got %+v", doc.Errors)
				}
			},
		},
		{
			name: "meta missing required name",
			content: `
meta: {
	version: "1.0"
}

spec: "a.b"
`,
			wantErr: true,
			checkFunc: func(t *testing.T, doc *Document) {
				if len(doc.Errors) == 0 || !strings.Contains(doc.Errors[0].Message, "validation failed") {
					t.Errorf("Expected meta validation error, got %+v", doc.Errors)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := loader.LoadInline(tt.content)
			if err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
			if tt.wantErr && doc.Valid() {
				t.Fatalf("Expected document errors, got none")
			}
			if !tt.wantErr && !doc.Valid() {
				t.Fatalf("Expected valid document, got errors: %+v", doc.Errors)
			}
			if tt.checkFunc != nil {
				tt.checkFunc(t, doc)
			}
		})
	}
}

// evalDocument loads an inline document and evaluates it against target.
func evalDocument(t *testing.T, loader *Loader, content string, target any) any {
	t.Helper()

	doc, err := loader.LoadInline(content)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !doc.Valid() {
		t.Fatalf("Expected valid document, got errors: %+v", doc.Errors)
	}

	out, err := engine.New().Evaluate(target, doc.Spec)
	if err != nil {
		t.Fatalf("Expected evaluation to succeed, got: %v", err)
	}
	return out
}

func TestLoader_PathAndMapping(t *testing.T) {
	loader := NewLoader()
	target := map[string]any{
		"galaxy": map[string]any{"system": map[string]any{"name": "jupiter"}},
	}

	out := evalDocument(t, loader, `
spec: {
	planet: "galaxy.system.name"
}
`, target)

	expected := map[string]any{"planet": "jupiter"}
	if !reflect.DeepEqual(out, expected) {
		t.Errorf("Expected %v, got %v", expected, out)
	}
}

func TestLoader_SequenceTemplate(t *testing.T) {
	loader := NewLoader()
	target := map[string]any{
		"posts": []any{
			map[string]any{"title": "first"},
			map[string]any{"title": "second"},
		},
	}

	out := evalDocument(t, loader, `
spec: {
	titles: {"$pipe": ["posts", ["title"]]}
}
`, target)

	titles := out.(map[string]any)["titles"]
	expected := []any{"first", "second"}
	if !reflect.DeepEqual(titles, expected) {
		t.Errorf("Expected %v, got %v", expected, titles)
	}
}

func TestLoader_LitDirective(t *testing.T) {
	loader := NewLoader()

	out := evalDocument(t, loader, `
spec: {
	source: {"$lit": "galaxy"}
	answer: 42
}
`, map[string]any{})

	m := out.(map[string]any)
	if m["source"] != "galaxy" {
		t.Errorf("Expected literal 'galaxy', got %v", m["source"])
	}
	if fmt.Sprint(m["answer"]) != "42" {
		t.Errorf("Expected scalar constant 42, got %v", m["answer"])
	}
}

func TestLoader_CoalesceDirective(t *testing.T) {
	loader := NewLoader()
	target := map[string]any{"name": "bob"}

	out := evalDocument(t, loader, `
spec: {"$coalesce": ["missing.key", "name"]}
`, target)
	if out != "bob" {
		t.Errorf("Expected 'bob', got %v", out)
	}

	out = evalDocument(t, loader, `
spec: {"$coalesce": ["missing", "also.missing"], "$default": "fallback"}
`, target)
	if out != "fallback" {
		t.Errorf("Expected 'fallback', got %v", out)
	}
}

func TestLoader_CoalesceSkipValues(t *testing.T) {
	loader := NewLoader()
	target := map[string]any{"nick": "", "name": "alice"}

	out := evalDocument(t, loader, `
spec: {"$coalesce": ["nick", "name"], "$skip": [""]}
`, target)
	if out != "alice" {
		t.Errorf("Expected 'alice', got %v", out)
	}
}

func TestLoader_FnDirective(t *testing.T) {
	loader := NewLoader()
	target := map[string]any{"n": 21}

	out := evalDocument(t, loader, `
spec: {"$fn": "target['n'] * 2"}
`, target)
	if out != int64(42) {
		t.Errorf("Expected 42, got %v (%T)", out, out)
	}
}

func TestLoader_PathDirective(t *testing.T) {
	loader := NewLoader()
	target := map[string]any{"items": []any{"a", "b", "c"}}

	out := evalDocument(t, loader, `
spec: {"$path": ["items", 1]}
`, target)
	if out != "b" {
		t.Errorf("Expected 'b', got %v", out)
	}
}

func TestLoader_LetAndVarDirectives(t *testing.T) {
	loader := NewLoader()
	target := map[string]any{"a": map[string]any{"b": "deep"}}

	out := evalDocument(t, loader, `
spec: {"$pipe": [{"$let": "root"}, "a", {
	inner: "b"
	orig:  {"$var": "root"}
}]}
`, target)

	m := out.(map[string]any)
	if m["inner"] != "deep" {
		t.Errorf("Expected 'deep', got %v", m["inner"])
	}
	if !reflect.DeepEqual(m["orig"], target) {
		t.Errorf("Expected original target, got %v", m["orig"])
	}
}

func TestLoader_SpecDirective(t *testing.T) {
	loader := NewLoader()

	doc, err := loader.LoadInline(`
spec: {"$spec": "a.b"}
`)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !doc.Valid() {
		t.Fatalf("Expected valid document, got errors: %+v", doc.Errors)
	}
	marker, ok := doc.Spec.(engine.Spec)
	if !ok {
		t.Fatalf("Expected engine.Spec, got %T", doc.Spec)
	}
	if marker.Value != "a.b" {
		t.Errorf("Expected wrapped path 'a.b', got %v", marker.Value)
	}
}

func TestLoader_DirectiveErrors(t *testing.T) {
	loader := NewLoader()

	tests := []struct {
		name    string
		content string
		wantMsg string
	}{
		{
			name:    "unknown directive",
			content: `spec: {"$frob": 1}`,
			wantMsg: "unknown directive $frob",
		},
		{
			name:    "mixed directive and plain keys",
			content: `spec: {"$lit": 1, other: 2}`,
			wantMsg: "mixed with plain keys",
		},
		{
			name:    "pipe expects a list",
			content: `spec: {"$pipe": "a.b"}`,
			wantMsg: "$pipe expects a list",
		},
		{
			name:    "default without coalesce",
			content: `spec: {"$default": 1}`,
			wantMsg: "require $coalesce",
		},
		{
			name:    "conflicting directives",
			content: `spec: {"$lit": 1, "$pipe": []}`,
			wantMsg: "conflicting directives",
		},
		{
			name:    "companion on non-coalesce",
			content: `spec: {"$lit": 1, "$default": 2}`,
			wantMsg: "does not accept companion directives",
		},
		{
			name:    "fn syntax error",
			content: `spec: {"$fn": "target["}`,
			wantMsg: "invalid $fn expression",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := loader.LoadInline(tt.content)
			if err != nil {
				t.Fatalf("Expected no error, got: %v", err)
			}
			if doc.Valid() {
				t.Fatalf("Expected document errors, got none")
			}
			found := false
			for _, e := range doc.Errors {
				if strings.Contains(e.Message, tt.wantMsg) {
					found = true
				}
			}
			if !found {
				t.Errorf("Expected an error containing %q, got %+v", tt.wantMsg, doc.Errors)
			}
		})
	}
}

func TestLoader_Load(t *testing.T) {
	loader := NewLoader()
	dir := t.TempDir()
	path := filepath.Join(dir, "spec.cue")

	content := `
meta: {
	name: "file-spec"
}

spec: {
	planet: "galaxy.system.name"
}
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	doc, err := loader.Load(path)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if !doc.Valid() {
		t.Fatalf("Expected valid document, got errors: %+v", doc.Errors)
	}
	if doc.Meta == nil || doc.Meta.Name != "file-spec" {
		t.Errorf("Expected meta name 'file-spec', got %+v", doc.Meta)
	}
	if len(doc.SourceFiles) != 1 || doc.SourceFiles[0] != path {
		t.Errorf("Expected source file %s, got %v", path, doc.SourceFiles)
	}

	target := map[string]any{
		"galaxy": map[string]any{"system": map[string]any{"name": "jupiter"}},
	}
	out, err := engine.New().Evaluate(target, doc.Spec)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if out.(map[string]any)["planet"] != "jupiter" {
		t.Errorf("Expected 'jupiter', got %v", out)
	}
}

func TestLoader_LoadMissingFile(t *testing.T) {
	loader := NewLoader()

	if _, err := loader.Load(filepath.Join(t.TempDir(), "nope.cue")); err == nil {
		t.Fatal("Expected an error for a missing file, got nil")
	}
}
