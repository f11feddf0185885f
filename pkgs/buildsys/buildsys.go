package buildsys

import (
	"context"
	"io"
)

// Target is a binary the source tree can produce.
type Target struct {
	Name string
	// RequiredFeatures must all be enabled for the target to be built.
	RequiredFeatures []string
}

// Request describes one compilation of a single binary target.
type Request struct {
	Binary   string
	Features []string

	// TargetDir is a private scratch directory for intermediate output.
	TargetDir string

	// Env overrides variables of the inherited environment.
	Env map[string]string

	Stdout io.Writer
	Stderr io.Writer
}

// BuildSystem captures what the pipeline needs from the toolchain of the
// shared source tree. Implementations only compile; feature validation,
// caching and placement of the result are done by the caller.
type BuildSystem interface {
	// Source returns the root of the source tree.
	Source() string

	// Features returns the feature flags the tree's build configuration
	// recognizes, sorted.
	Features() ([]string, error)

	// Targets returns the binary targets of the tree.
	Targets() ([]Target, error)

	// Check verifies the installed toolchain can build the tree.
	Check(ctx context.Context) error

	// Toolchain returns a string identifying the toolchain version; it
	// participates in artifact fingerprints.
	Toolchain(ctx context.Context) (string, error)

	// Build compiles req.Binary and returns the path of the produced
	// executable inside req.TargetDir.
	Build(ctx context.Context, req Request) (string, error)
}
