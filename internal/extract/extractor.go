// Package extract turns a checked-out revision into an Interface Snapshot.
//
// Extraction is deterministic: files are visited in sorted order, duplicate
// identities keep the first definition, and the resulting snapshot is
// normalized before it is returned.
package extract

import (
	"context"
	"fmt"

	"apigate/internal/failure"
	"apigate/internal/logging"
	"apigate/internal/snapshot"
)

// Options configures an Extractor.
type Options struct {
	// Language selects the backend: "rust" or "go".
	Language string
	// Root is the crate or module directory relative to the checkout.
	Root string
	// Exclude holds doublestar patterns, relative to Root, of files to skip.
	Exclude []string
	// CfgFlags are extra cfg names (or key=value pairs) that count as set.
	CfgFlags []string
}

// Surface is the raw output of a backend before it becomes a snapshot.
type Surface struct {
	Symbols []snapshot.Symbol
	Aliases map[string]string
}

// Backend extracts the public surface of a tree in one language.
type Backend interface {
	Language() string
	Surface(ctx context.Context, dir string, features FeatureSet) (*Surface, error)
}

// Extractor produces snapshots of checked-out revisions.
type Extractor struct {
	backend Backend
}

// New creates an Extractor for opts.Language.
func New(opts Options) (*Extractor, error) {
	var backend Backend
	switch opts.Language {
	case "", "rust":
		backend = NewRustBackend(opts)
	case "go":
		backend = NewGoBackend(opts)
	default:
		return nil, failure.Mark(fmt.Errorf("unsupported language %q", opts.Language), failure.ErrConfig)
	}
	return &Extractor{backend: backend}, nil
}

// NewWithBackend creates an Extractor around an explicit backend.
func NewWithBackend(b Backend) *Extractor {
	return &Extractor{backend: b}
}

// Language returns the backend language.
func (e *Extractor) Language() string { return e.backend.Language() }

// Extract snapshots the tree at dir, checked out at rev, with features
// enabled. Any failure to read or parse the tree is a build failure of rev.
func (e *Extractor) Extract(ctx context.Context, dir, rev string, features FeatureSet) (*snapshot.Snapshot, error) {
	timer := logging.StartTimer(logging.CategoryExtract, "extract "+rev)
	defer timer.StopWithInfo()

	surface, err := e.backend.Surface(ctx, dir, features)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, failure.BuildFailure(rev, err)
	}

	snap := snapshot.New(rev, e.backend.Language(), features.Names())
	for name, target := range surface.Aliases {
		snap.Aliases[name] = target
	}
	for _, sym := range surface.Symbols {
		if !snap.Add(sym) {
			logging.ExtractDebug("duplicate symbol %s at %s ignored", sym.ID, sym.Location)
		}
	}
	snap.Normalize()

	logging.Extract("%s [%s]: %d public symbols", rev, features, snap.Len())
	return snap, nil
}
