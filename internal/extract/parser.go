package extract

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"apigate/internal/logging"
	"apigate/internal/snapshot"
)

// FileParser extracts the public surface of a single source file.
//
// Module reachability is not decided here: a parser reports every item it
// considers public at its own level together with the module declarations it
// saw, and the backend decides afterwards which modules are reachable from
// the crate root.
type FileParser interface {
	// Parse extracts items from one file. A file that does not parse cleanly
	// is an error: a revision that cannot be parsed cannot be built.
	Parse(ctx context.Context, unit FileUnit) (*FileSurface, error)

	// SupportedExtensions returns the file extensions this parser handles,
	// including the leading dot.
	SupportedExtensions() []string

	// Language returns a short identifier such as "rust".
	Language() string
}

// FileUnit is one file handed to a parser.
type FileUnit struct {
	Path    string // slash-separated, relative to the checkout root
	Module  string // module path of the file, e.g. "crate::hex"
	Content []byte
	Env     CfgEnv
}

// ModDecl is a module declaration seen in a file.
type ModDecl struct {
	Path     string // full module path of the declared module
	Public   bool
	Features []string
}

// Item is a public-at-its-level symbol and the module it lives in.
type Item struct {
	Module string
	Symbol snapshot.Symbol
}

// FileSurface is what a parser found in one file.
type FileSurface struct {
	Module  string
	Enabled bool // false when an inner #![cfg] switches the whole file off
	Items   []Item
	Mods    []ModDecl
	Aliases map[string]string
}

// Registry routes files to FileParsers by extension.
type Registry struct {
	mu      sync.RWMutex
	parsers map[string]FileParser
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{parsers: make(map[string]FileParser)}
}

// Register adds a parser for its supported extensions, replacing any parser
// already registered for them.
func (r *Registry) Register(parser FileParser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ext := range parser.SupportedExtensions() {
		ext = normalizeExtension(ext)
		logging.ExtractDebug("registry: %s parser for %s", parser.Language(), ext)
		r.parsers[ext] = parser
	}
}

// ParserFor returns the parser for path, or nil.
func (r *Registry) ParserFor(path string) FileParser {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.parsers[normalizeExtension(filepath.Ext(path))]
}

// Parse dispatches unit to the parser registered for its extension.
func (r *Registry) Parse(ctx context.Context, unit FileUnit) (*FileSurface, error) {
	parser := r.ParserFor(unit.Path)
	if parser == nil {
		return nil, fmt.Errorf("no parser registered for extension: %s", filepath.Ext(unit.Path))
	}
	return parser.Parse(ctx, unit)
}

// Extensions returns all registered extensions, sorted.
func (r *Registry) Extensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exts := make([]string, 0, len(r.parsers))
	for ext := range r.parsers {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

func normalizeExtension(ext string) string {
	ext = strings.ToLower(ext)
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
