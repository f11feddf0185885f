package build

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/apodwall/vbuild/internal/env"
	"github.com/apodwall/vbuild/internal/fingerprint"
	"github.com/apodwall/vbuild/internal/fsutil"
	"github.com/apodwall/vbuild/pkgs/buildsys"
	"github.com/apodwall/vbuild/variant"
	"github.com/qiniu/x/log"
)

// failureTail is the number of compiler output lines kept in a BuildFailure.
const failureTail = 40

// Artifact is a compiled variant binary.
type Artifact struct {
	Spec        variant.Spec
	Path        string
	Fingerprint fingerprint.Hash
	// Cached is true when the binary was taken from the artifact cache.
	Cached bool
}

// Options configures a Builder.
type Options struct {
	System buildsys.BuildSystem

	// OutputDir receives artifacts at <OutputDir>/artifacts/<variant>/<binary>.
	OutputDir string
	// CacheDir and ScratchDir default to the workspace directories.
	CacheDir   string
	ScratchDir string
	// NoCache disables both lookups and stores.
	NoCache bool

	// Verbose streams compiler output to Stderr instead of capturing it.
	Verbose bool
	Stderr  io.Writer
}

// Builder compiles variants of one source tree. It is safe for concurrent
// use; each variant writes only to its own artifact path.
type Builder struct {
	system     buildsys.BuildSystem
	outputDir  string
	cacheDir   string
	scratchDir string
	noCache    bool
	verbose    bool
	stderr     io.Writer

	initOnce  sync.Once
	initErr   error
	tree      fingerprint.Hash
	toolchain string
	features  []string
	targets   []buildsys.Target

	cacheMu sync.Mutex
	fpMu    sync.Mutex
	fpLocks map[fingerprint.Hash]*sync.Mutex
}

// NewBuilder returns a Builder for opts.
func NewBuilder(opts Options) (*Builder, error) {
	if opts.System == nil {
		return nil, fmt.Errorf("build: no build system")
	}
	if opts.OutputDir == "" {
		return nil, fmt.Errorf("build: no output directory")
	}
	b := &Builder{
		system:     opts.System,
		outputDir:  opts.OutputDir,
		cacheDir:   opts.CacheDir,
		scratchDir: opts.ScratchDir,
		noCache:    opts.NoCache,
		verbose:    opts.Verbose,
		stderr:     opts.Stderr,
		fpLocks:    make(map[fingerprint.Hash]*sync.Mutex),
	}
	if b.stderr == nil {
		b.stderr = os.Stderr
	}
	var err error
	if b.cacheDir == "" {
		if b.cacheDir, err = env.ArtifactDir(); err != nil {
			return nil, err
		}
	}
	if b.scratchDir == "" {
		if b.scratchDir, err = env.ScratchDir(); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// ArtifactPath returns where Build places the binary of spec.
func (b *Builder) ArtifactPath(spec variant.Spec) string {
	return filepath.Join(b.outputDir, "artifacts", spec.Name, spec.BinaryName)
}

// init reads the build configuration and hashes the source tree once.
func (b *Builder) init(ctx context.Context) error {
	b.initOnce.Do(func() {
		if b.features, b.initErr = b.system.Features(); b.initErr != nil {
			b.initErr = &variant.ConfigError{Subject: b.system.Source(), Reason: "cannot read build configuration", Err: b.initErr}
			return
		}
		b.features = slices.Clone(b.features)
		slices.Sort(b.features)
		if b.targets, b.initErr = b.system.Targets(); b.initErr != nil {
			b.initErr = &variant.ConfigError{Subject: b.system.Source(), Reason: "cannot read build targets", Err: b.initErr}
			return
		}
		if err := b.system.Check(ctx); err != nil {
			b.initErr = &variant.ConfigError{Subject: b.system.Source(), Reason: "toolchain check failed", Err: err}
			return
		}
		toolchain, err := b.system.Toolchain(ctx)
		if err != nil {
			b.initErr = &variant.BuildFailure{Variant: b.system.Source(), Err: err}
			return
		}
		b.toolchain = toolchain
		// The output and workspace directories may live inside the tree.
		if b.tree, err = fingerprint.Tree(b.system.Source(), b.outputDir, b.cacheDir, b.scratchDir); err != nil {
			b.initErr = &variant.BuildFailure{Variant: b.system.Source(), Err: fmt.Errorf("hash source tree: %w", err)}
		}
	})
	return b.initErr
}

// Validate checks spec against the source tree's build configuration
// without compiling anything.
func (b *Builder) Validate(ctx context.Context, spec variant.Spec) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	if err := b.init(ctx); err != nil {
		return err
	}
	for _, f := range spec.Features() {
		if _, ok := slices.BinarySearch(b.features, f); !ok {
			return &variant.ConfigError{
				Subject: spec.Name,
				Reason:  fmt.Sprintf("unrecognized feature %q (known: %s)", f, strings.Join(b.features, ", ")),
			}
		}
	}
	idx := slices.IndexFunc(b.targets, func(t buildsys.Target) bool { return t.Name == spec.BinaryName })
	if idx < 0 {
		return &variant.ConfigError{Subject: spec.Name, Reason: fmt.Sprintf("source tree has no binary target %q", spec.BinaryName)}
	}
	for _, req := range b.targets[idx].RequiredFeatures {
		if !spec.HasFeature(req) {
			return &variant.ConfigError{
				Subject: spec.Name,
				Reason:  fmt.Sprintf("binary %q requires feature %q", spec.BinaryName, req),
			}
		}
	}
	return nil
}

// Fingerprint returns the cache key of spec built with deps.
func (b *Builder) Fingerprint(ctx context.Context, spec variant.Spec, deps variant.Deps) (fingerprint.Hash, error) {
	if err := b.init(ctx); err != nil {
		return fingerprint.Hash{}, err
	}
	tools := make([]string, 0, len(deps.CompileTools()))
	for _, t := range deps.CompileTools() {
		tools = append(tools, t.String())
	}
	return fingerprint.Inputs{
		Tree:          b.tree,
		Binary:        spec.BinaryName,
		Features:      spec.Features(),
		PkgConfigPath: deps.PkgConfigPath,
		Toolchain:     b.toolchain,
		CompileTools:  tools,
	}.Sum(), nil
}

// Build compiles spec and places the executable at ArtifactPath(spec).
// Configuration problems are reported as *variant.ConfigError before
// anything is written; compiler failures as *variant.BuildFailure.
func (b *Builder) Build(ctx context.Context, spec variant.Spec, deps variant.Deps) (*Artifact, error) {
	if err := b.Validate(ctx, spec); err != nil {
		return nil, err
	}
	fp, err := b.Fingerprint(ctx, spec, deps)
	if err != nil {
		return nil, &variant.BuildFailure{Variant: spec.Name, Err: err}
	}

	dest := b.ArtifactPath(spec)
	if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
		return nil, &variant.BuildFailure{Variant: spec.Name, Err: err}
	}

	// Variants sharing a fingerprint compile once.
	unlock := b.lockFingerprint(fp)
	defer unlock()

	if !b.noCache {
		if cached, ok := b.lookup(fp, spec.BinaryName); ok {
			log.Infof("build %s: cached %s", spec.Name, fp.Short())
			if err := fsutil.CopyFile(cached, dest, 0o755); err != nil {
				return nil, &variant.BuildFailure{Variant: spec.Name, Err: err}
			}
			return &Artifact{Spec: spec, Path: dest, Fingerprint: fp, Cached: true}, nil
		}
	}

	built, err := b.compile(ctx, spec, deps, fp)
	if err != nil {
		return nil, err
	}
	src := built
	if !b.noCache {
		src, err = b.store(fp, built, &cacheEntry{
			Binary:    spec.BinaryName,
			Features:  spec.Features(),
			Toolchain: b.toolchain,
			BuildTime: time.Now(),
		})
		if err != nil {
			return nil, &variant.BuildFailure{Variant: spec.Name, Err: fmt.Errorf("store artifact: %w", err)}
		}
	}
	if err := fsutil.CopyFile(src, dest, 0o755); err != nil {
		return nil, &variant.BuildFailure{Variant: spec.Name, Err: err}
	}
	log.Infof("build %s: %s", spec.Name, dest)
	return &Artifact{Spec: spec, Path: dest, Fingerprint: fp}, nil
}

func (b *Builder) compile(ctx context.Context, spec variant.Spec, deps variant.Deps, fp fingerprint.Hash) (string, error) {
	targetDir := filepath.Join(b.scratchDir, fp.Short())
	req := buildsys.Request{
		Binary:    spec.BinaryName,
		Features:  spec.Features(),
		TargetDir: targetDir,
		Env:       map[string]string{"PKG_CONFIG_PATH": deps.PkgConfigPath},
	}
	var output bytes.Buffer
	if b.verbose {
		req.Stdout, req.Stderr = b.stderr, b.stderr
	} else {
		req.Stdout, req.Stderr = &output, &output
	}

	log.Debugf("build %s: compiling %s [%s] in %s", spec.Name, spec.BinaryName, spec.FeatureKey(), targetDir)
	built, err := b.system.Build(ctx, req)
	if err != nil {
		return "", &variant.BuildFailure{Variant: spec.Name, Output: tail(output.Bytes(), failureTail), Err: err}
	}
	if filepath.Base(built) != spec.BinaryName {
		return "", &variant.BuildFailure{Variant: spec.Name, Err: fmt.Errorf("build produced %s, want %s", filepath.Base(built), spec.BinaryName)}
	}
	return built, nil
}

func (b *Builder) lockFingerprint(fp fingerprint.Hash) (unlock func()) {
	b.fpMu.Lock()
	mu, ok := b.fpLocks[fp]
	if !ok {
		mu = new(sync.Mutex)
		b.fpLocks[fp] = mu
	}
	b.fpMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// tail returns at most the last n lines of b.
func tail(b []byte, n int) string {
	b = bytes.TrimRight(b, "\n")
	if len(b) == 0 {
		return ""
	}
	lines := bytes.Split(b, []byte("\n"))
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return string(bytes.Join(lines, []byte("\n")))
}
