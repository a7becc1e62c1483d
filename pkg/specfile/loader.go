package specfile

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"github.com/go-playground/validator/v10"

	"github.com/remold/remold/pkg/engine"
)

// LoadError describes a single problem found while loading or
// compiling a spec document.
type LoadError struct {
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

func (e LoadError) Error() string {
	switch {
	case e.File != "" && e.Line > 0:
		return fmt.Sprintf("%s:%d:%d: %s", e.File, e.Line, e.Column, e.Message)
	case e.Path != "":
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	default:
		return e.Message
	}
}

// Meta is the optional document header under the "meta" field.
type Meta struct {
	Name        string `json:"name" validate:"required"`
	Version     string `json:"version,omitempty"`
	Description string `json:"description,omitempty"`
}

// Document is a loaded and compiled spec document. Spec holds the
// engine spec value ready for Evaluator.Evaluate; a document with a
// non-empty Errors slice must not be evaluated.
type Document struct {
	Meta        *Meta
	Spec        any
	SourceFiles []string
	LoadedAt    time.Time
	Errors      []LoadError
}

// Valid reports whether the document loaded without errors.
func (d *Document) Valid() bool { return len(d.Errors) == 0 }

// Loader turns CUE spec documents into engine spec values.
//
// A document is ordinary CUE with an optional "meta" header and a
// required "spec" field. Inside "spec", maps whose keys start with
// "$" are directives:
//
//	{"$lit": v}                     constant output, no recursion
//	{"$pipe": [s1, s2, ...]}        pipeline of steps
//	{"$coalesce": [...], "$default": v, "$skip": [...]}  fallback chain
//	{"$spec": s}                    spec marker for literal positions
//	{"$fn": "expr"}                 Starlark expression over `target`
//	{"$path": [seg, ...]}           explicit access segments
//	{"$let": "name"}, {"$var": "name"}  scope bindings
//
// Everything else compiles structurally: strings are dotted paths,
// maps are mapping specs, lists are sequence templates, and remaining
// scalars become constants.
type Loader struct {
	ctx       *cue.Context
	fn        *FnCompiler
	validator *validator.Validate
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithFnTimeout bounds the execution time of compiled $fn expressions.
func WithFnTimeout(d time.Duration) LoaderOption {
	return func(l *Loader) {
		l.fn = NewFnCompiler(d)
	}
}

// NewLoader creates a spec-document loader.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		ctx:       cuecontext.New(),
		fn:        NewFnCompiler(0),
		validator: validator.New(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load reads a spec document from a CUE file, or from a directory
// holding a CUE package, and compiles it.
func (l *Loader) Load(path string) (*Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	var (
		val     cue.Value
		sources []string
		errs    []LoadError
	)
	if info.IsDir() {
		val, sources, errs = l.loadDirectory(path)
	} else {
		val, errs = l.loadFile(path)
		sources = []string{path}
	}
	if len(errs) > 0 {
		return &Document{SourceFiles: sources, LoadedAt: time.Now(), Errors: errs}, nil
	}

	return l.buildDocument(val, sources), nil
}

// LoadInline compiles inline CUE content.
func (l *Loader) LoadInline(content string) (*Document, error) {
	val := l.ctx.CompileString(content)
	if err := val.Err(); err != nil {
		return &Document{
			SourceFiles: []string{"inline"},
			LoadedAt:    time.Now(),
			Errors:      convertCUEErrors(err),
		}, nil
	}
	return l.buildDocument(val, []string{"inline"}), nil
}

// loadDirectory loads a directory as a CUE package.
func (l *Loader) loadDirectory(dir string) (cue.Value, []string, []LoadError) {
	buildInstances := load.Instances([]string{dir}, nil)
	if len(buildInstances) == 0 {
		return cue.Value{}, nil, []LoadError{{
			File:    dir,
			Message: "no CUE files found",
		}}
	}

	inst := buildInstances[0]
	if inst.Err != nil {
		return cue.Value{}, nil, convertCUEErrors(inst.Err)
	}

	val := l.ctx.BuildInstance(inst)
	if err := val.Err(); err != nil {
		return cue.Value{}, nil, convertCUEErrors(err)
	}

	var files []string
	for _, file := range inst.Files {
		if file.Filename != "" {
			files = append(files, file.Filename)
		}
	}
	return val, files, nil
}

// loadFile loads a single CUE file.
func (l *Loader) loadFile(path string) (cue.Value, []LoadError) {
	content, err := os.ReadFile(path)
	if err != nil {
		return cue.Value{}, []LoadError{{
			File:    path,
			Message: fmt.Sprintf("failed to read file: %v", err),
		}}
	}

	val := l.ctx.CompileString(string(content), cue.Filename(path))
	if err := val.Err(); err != nil {
		return cue.Value{}, convertCUEErrors(err)
	}
	return val, nil
}

// buildDocument extracts the meta header and the spec body from a CUE
// value and compiles the spec. Problems accumulate in Document.Errors.
func (l *Loader) buildDocument(val cue.Value, sources []string) *Document {
	doc := &Document{
		SourceFiles: sources,
		LoadedAt:    time.Now(),
	}

	metaVal := val.LookupPath(cue.ParsePath("meta"))
	if metaVal.Exists() {
		var meta Meta
		if err := metaVal.Decode(&meta); err != nil {
			doc.Errors = append(doc.Errors, LoadError{
				Path:    "meta",
				Message: fmt.Sprintf("failed to decode meta: %v", err),
			})
		} else if err := l.validator.Struct(meta); err != nil {
			doc.Errors = append(doc.Errors, LoadError{
				Path:    "meta",
				Message: fmt.Sprintf("validation failed: %v", err),
			})
		} else {
			doc.Meta = &meta
		}
	}

	specVal := val.LookupPath(cue.ParsePath("spec"))
	if !specVal.Exists() {
		doc.Errors = append(doc.Errors, LoadError{
			Path:    "spec",
			Message: `document has no "spec" field`,
		})
		return doc
	}

	var raw any
	if err := specVal.Decode(&raw); err != nil {
		doc.Errors = append(doc.Errors, LoadError{
			Path:    "spec",
			Message: fmt.Sprintf("failed to decode spec: %v", err),
		})
		return doc
	}

	compiled, errs := l.compile(raw, "spec")
	if len(errs) > 0 {
		doc.Errors = append(doc.Errors, errs...)
		return doc
	}
	doc.Spec = compiled
	return doc
}

// directive companions are only legal next to $coalesce.
var coalesceCompanions = map[string]bool{
	"$default": true,
	"$skip":    true,
}

// compile translates a decoded document value into an engine spec.
// path names the position for error reporting.
func (l *Loader) compile(v any, path string) (any, []LoadError) {
	switch val := v.(type) {
	case map[string]any:
		return l.compileMap(val, path)
	case []any:
		out := make([]any, len(val))
		var errs []LoadError
		for i, item := range val {
			sub, subErrs := l.compile(item, fmt.Sprintf("%s[%d]", path, i))
			errs = append(errs, subErrs...)
			out[i] = sub
		}
		return out, errs
	case string:
		// Dotted access path.
		return val, nil
	default:
		// Numbers, booleans and null cannot be specs; they are
		// constants in the output.
		return engine.Lit(val), nil
	}
}

func (l *Loader) compileMap(m map[string]any, path string) (any, []LoadError) {
	var directives []string
	for k := range m {
		if strings.HasPrefix(k, "$") {
			directives = append(directives, k)
		}
	}

	if len(directives) == 0 {
		out := make(map[string]any, len(m))
		var errs []LoadError
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			sub, subErrs := l.compile(m[k], path+"."+k)
			errs = append(errs, subErrs...)
			out[k] = sub
		}
		return out, errs
	}

	if len(directives) != len(m) {
		return nil, []LoadError{{
			Path:    path,
			Message: "directive cannot be mixed with plain keys",
		}}
	}

	var primary string
	for _, d := range directives {
		if coalesceCompanions[d] {
			continue
		}
		if primary != "" {
			return nil, []LoadError{{
				Path:    path,
				Message: fmt.Sprintf("conflicting directives %s and %s", primary, d),
			}}
		}
		primary = d
	}
	if primary == "" {
		return nil, []LoadError{{
			Path:    path,
			Message: "$default and $skip require $coalesce",
		}}
	}
	if len(directives) > 1 && primary != "$coalesce" {
		return nil, []LoadError{{
			Path:    path,
			Message: fmt.Sprintf("%s does not accept companion directives", primary),
		}}
	}

	switch primary {
	case "$lit":
		return engine.Lit(m["$lit"]), nil

	case "$spec":
		sub, errs := l.compile(m["$spec"], path+".$spec")
		if len(errs) > 0 {
			return nil, errs
		}
		return engine.Spec{Value: sub}, nil

	case "$pipe":
		steps, ok := m["$pipe"].([]any)
		if !ok {
			return nil, []LoadError{{Path: path, Message: "$pipe expects a list of steps"}}
		}
		out := make(engine.Pipeline, len(steps))
		var errs []LoadError
		for i, step := range steps {
			sub, subErrs := l.compile(step, fmt.Sprintf("%s.$pipe[%d]", path, i))
			errs = append(errs, subErrs...)
			out[i] = sub
		}
		if len(errs) > 0 {
			return nil, errs
		}
		return out, nil

	case "$coalesce":
		alts, ok := m["$coalesce"].([]any)
		if !ok {
			return nil, []LoadError{{Path: path, Message: "$coalesce expects a list of alternatives"}}
		}
		specs := make([]any, len(alts))
		var errs []LoadError
		for i, alt := range alts {
			sub, subErrs := l.compile(alt, fmt.Sprintf("%s.$coalesce[%d]", path, i))
			errs = append(errs, subErrs...)
			specs[i] = sub
		}
		if len(errs) > 0 {
			return nil, errs
		}
		c := engine.NewCoalesce(specs...)
		if def, ok := m["$default"]; ok {
			c = c.WithDefault(def)
		}
		if rawSkip, ok := m["$skip"]; ok {
			skip, ok := rawSkip.([]any)
			if !ok {
				return nil, []LoadError{{Path: path, Message: "$skip expects a list of values"}}
			}
			c = c.WithSkipValues(skip...)
		}
		return c, nil

	case "$fn":
		expr, ok := m["$fn"].(string)
		if !ok {
			return nil, []LoadError{{Path: path, Message: "$fn expects an expression string"}}
		}
		transform, err := l.fn.Compile(expr)
		if err != nil {
			return nil, []LoadError{{Path: path, Message: err.Error()}}
		}
		return transform, nil

	case "$path":
		segs, ok := m["$path"].([]any)
		if !ok {
			return nil, []LoadError{{Path: path, Message: "$path expects a list of segments"}}
		}
		return engine.P(segs...), nil

	case "$let":
		name, ok := m["$let"].(string)
		if !ok {
			return nil, []LoadError{{Path: path, Message: "$let expects a binding name"}}
		}
		return engine.Let{Name: name}, nil

	case "$var":
		name, ok := m["$var"].(string)
		if !ok {
			return nil, []LoadError{{Path: path, Message: "$var expects a binding name"}}
		}
		return engine.Var{Name: name}, nil

	default:
		return nil, []LoadError{{
			Path:    path,
			Message: fmt.Sprintf("unknown directive %s", primary),
		}}
	}
}

// convertCUEErrors converts CUE errors to a LoadError slice.
func convertCUEErrors(err error) []LoadError {
	var loadErrors []LoadError
	for _, e := range errors.Errors(err) {
		pos := errors.Positions(e)
		var file string
		var line, column int
		if len(pos) > 0 {
			file = pos[0].Filename()
			line = pos[0].Line()
			column = pos[0].Column()
		}
		loadErrors = append(loadErrors, LoadError{
			File:    file,
			Line:    line,
			Column:  column,
			Message: errors.Details(e, nil),
		})
	}
	return loadErrors
}
