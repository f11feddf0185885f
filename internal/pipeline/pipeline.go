package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"slices"
	"sync"

	"github.com/apodwall/vbuild/internal/build"
	"github.com/apodwall/vbuild/internal/bundle"
	"github.com/apodwall/vbuild/internal/config"
	"github.com/apodwall/vbuild/internal/devenv"
	"github.com/apodwall/vbuild/internal/par"
	"github.com/apodwall/vbuild/internal/wrap"
	"github.com/apodwall/vbuild/pkgs/buildsys"
	"github.com/apodwall/vbuild/pkgs/buildsys/cargo"
	"github.com/apodwall/vbuild/variant"
	"github.com/qiniu/x/log"
)

// Options configures a Pipeline.
type Options struct {
	// Jobs bounds the number of variants processed at once; 0 means the
	// number of CPUs.
	Jobs int

	// System compiles the source tree; nil means Cargo on cfg.Source.
	System buildsys.BuildSystem
	// Resolver resolves runtime dependencies; nil means the host PATH and
	// library directories.
	Resolver *wrap.Resolver

	CacheDir   string
	ScratchDir string
	NoCache    bool
	Verbose    bool
	Stderr     io.Writer
}

// Pipeline runs the variant → build → wrap → bundle graph of a configuration.
type Pipeline struct {
	cfg      *config.Config
	deps     variant.Deps
	jobs     int
	system   buildsys.BuildSystem
	builder  *build.Builder
	wrapper  *wrap.Wrapper
	resolver *wrap.Resolver
}

// Result holds what a run produced. Maps are keyed by variant name.
type Result struct {
	Artifacts map[string]*build.Artifact
	Packages  map[string]*wrap.Package
	Bundles   []*bundle.Bundle
}

// New validates cfg and returns a Pipeline for it.
func New(cfg *config.Config, opts Options) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Pipeline{
		cfg:      cfg,
		deps:     cfg.SharedDeps(),
		jobs:     opts.Jobs,
		system:   opts.System,
		resolver: opts.Resolver,
	}
	if p.jobs <= 0 {
		p.jobs = runtime.NumCPU()
	}
	if p.system == nil {
		p.system = cargo.New(cfg.Source)
	}
	if p.resolver == nil {
		p.resolver = wrap.NewResolver()
	}
	builder, err := build.NewBuilder(build.Options{
		System:     p.system,
		OutputDir:  cfg.Output,
		CacheDir:   opts.CacheDir,
		ScratchDir: opts.ScratchDir,
		NoCache:    opts.NoCache,
		Verbose:    opts.Verbose,
		Stderr:     opts.Stderr,
	})
	if err != nil {
		return nil, err
	}
	p.builder = builder
	p.wrapper = wrap.New(p.resolver, cfg.Output)
	p.wrapper.Siblings = cfg.VariantNames()
	return p, nil
}

// Config returns the configuration p runs.
func (p *Pipeline) Config() *config.Config {
	return p.cfg
}

// selectVariants returns the named variants, or all of them. With
// siblings set it adds, transitively, the variants whose packages the
// selected ones need on PATH.
func (p *Pipeline) selectVariants(names []string, siblings bool) ([]config.Variant, error) {
	if len(names) == 0 {
		return slices.Clone(p.cfg.Variants), nil
	}
	vs := make([]config.Variant, 0, len(names))
	add := func(name string) error {
		if slices.ContainsFunc(vs, func(x config.Variant) bool { return x.Name == name }) {
			return nil
		}
		v, err := p.cfg.Variant(name)
		if err != nil {
			return err
		}
		vs = append(vs, v)
		return nil
	}
	for _, name := range names {
		if err := add(name); err != nil {
			return nil, err
		}
	}
	for i := 0; siblings && i < len(vs); i++ {
		for _, sib := range p.cfg.Siblings(vs[i]) {
			if err := add(sib); err != nil {
				return nil, err
			}
		}
	}
	return vs, nil
}

// wrapOrder sorts vs so that every variant follows the siblings it puts on
// PATH. The configuration has no sibling cycles.
func (p *Pipeline) wrapOrder(vs []config.Variant) []config.Variant {
	byName := make(map[string]config.Variant, len(vs))
	for _, v := range vs {
		byName[v.Name] = v
	}
	var (
		order []config.Variant
		done  = make(map[string]bool, len(vs))
		visit func(v config.Variant)
	)
	visit = func(v config.Variant) {
		if done[v.Name] {
			return
		}
		done[v.Name] = true
		for _, sib := range p.cfg.Siblings(v) {
			if dep, ok := byName[sib]; ok {
				visit(dep)
			}
		}
		order = append(order, v)
	}
	for _, v := range vs {
		visit(v)
	}
	return order
}

// validate checks every selected variant against the source tree so that
// configuration errors surface before anything is written.
func (p *Pipeline) validate(ctx context.Context, vs []config.Variant) error {
	for _, v := range vs {
		if err := p.builder.Validate(ctx, v.Spec()); err != nil {
			return err
		}
	}
	return nil
}

// Build compiles the named variants, all when names is empty.
func (p *Pipeline) Build(ctx context.Context, names ...string) (*Result, error) {
	return p.run(ctx, names, nil, false)
}

// Wrap builds and wraps the named variants, all when names is empty.
func (p *Pipeline) Wrap(ctx context.Context, names ...string) (*Result, error) {
	return p.run(ctx, names, nil, true)
}

// Bundle builds and wraps the members of the named bundles, all when names
// is empty, then composes the bundles.
func (p *Pipeline) Bundle(ctx context.Context, names ...string) (*Result, error) {
	bundles, err := p.selectBundles(names)
	if err != nil {
		return nil, err
	}
	var members []string
	for _, b := range bundles {
		for _, m := range b.Members {
			if !slices.Contains(members, m) {
				members = append(members, m)
			}
		}
	}
	if len(members) == 0 {
		return &Result{Artifacts: map[string]*build.Artifact{}, Packages: map[string]*wrap.Package{}}, nil
	}
	return p.run(ctx, members, bundles, true)
}

// Run processes every variant and every bundle of the configuration.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	return p.run(ctx, nil, p.cfg.Bundles, true)
}

func (p *Pipeline) selectBundles(names []string) ([]config.Bundle, error) {
	if len(names) == 0 {
		return slices.Clone(p.cfg.Bundles), nil
	}
	bs := make([]config.Bundle, 0, len(names))
	for _, name := range names {
		b, err := p.cfg.Bundle(name)
		if err != nil {
			return nil, err
		}
		bs = append(bs, b)
	}
	return bs, nil
}

// checkMembers rejects bundles listing a variant twice before any variant
// is built.
func checkMembers(bundles []config.Bundle) error {
	for _, b := range bundles {
		seen := make(map[string]bool, len(b.Members))
		for _, m := range b.Members {
			if seen[m] {
				return &variant.ConfigError{Subject: b.Name, Reason: fmt.Sprintf("variant %q listed twice", m)}
			}
			seen[m] = true
		}
	}
	return nil
}

func (p *Pipeline) run(ctx context.Context, names []string, bundles []config.Bundle, wrapping bool) (*Result, error) {
	vs, err := p.selectVariants(names, wrapping)
	if err != nil {
		return nil, err
	}
	if err := checkMembers(bundles); err != nil {
		return nil, err
	}
	if err := p.validate(ctx, vs); err != nil {
		return nil, err
	}

	res := &Result{
		Artifacts: make(map[string]*build.Artifact),
		Packages:  make(map[string]*wrap.Package),
	}
	var (
		mu   sync.Mutex
		errs []error
	)
	fail := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	log.Infof("run: %d variants, %d bundles, %d jobs", len(vs), len(bundles), p.jobs)
	byName := make(map[string]config.Variant, len(vs))
	var work par.Work[string]
	for _, v := range vs {
		byName[v.Name] = v
		work.Add(v.Name)
	}
	// A failing variant does not stop its siblings.
	work.Do(ctx, p.jobs, func(ctx context.Context, name string) {
		art, err := p.builder.Build(ctx, byName[name].Spec(), p.deps)
		if err != nil {
			fail(err)
			return
		}
		mu.Lock()
		res.Artifacts[name] = art
		mu.Unlock()
	})
	for _, name := range work.Skipped() {
		errs = append(errs, fmt.Errorf("%s: %w", name, ctx.Err()))
	}

	// Wrapping is cheap; it runs in order so that sibling packages exist
	// before the variants putting them on PATH.
	for _, v := range p.wrapOrder(vs) {
		art, ok := res.Artifacts[v.Name]
		if !wrapping || !ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			errs = append(errs, fmt.Errorf("wrap %s: %w", v.Name, err))
			continue
		}
		if sib := p.missingSibling(v, res.Packages); sib != "" {
			errs = append(errs, &variant.WrapFailure{Variant: v.Name, Dependency: sib, Err: errors.New("sibling package not available")})
			continue
		}
		pkg, err := p.wrapVariant(v, art)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		res.Packages[v.Name] = pkg
	}

	for _, b := range bundles {
		if err := ctx.Err(); err != nil {
			errs = append(errs, fmt.Errorf("bundle %s: %w", b.Name, err))
			continue
		}
		bd, err := p.compose(b, res.Packages)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		res.Bundles = append(res.Bundles, bd)
	}
	return res, errors.Join(errs...)
}

func (p *Pipeline) wrapVariant(v config.Variant, art *build.Artifact) (*wrap.Package, error) {
	return p.wrapper.Wrap(art, p.deps.RuntimeLibraries(), art.Spec.AuxiliaryExecutables(), v.Files)
}

// missingSibling returns the first sibling of v not wrapped in this run.
func (p *Pipeline) missingSibling(v config.Variant, pkgs map[string]*wrap.Package) string {
	for _, sib := range p.cfg.Siblings(v) {
		if pkgs[sib] == nil {
			return sib
		}
	}
	return ""
}

func (p *Pipeline) compose(b config.Bundle, pkgs map[string]*wrap.Package) (*bundle.Bundle, error) {
	members := make([]*wrap.Package, 0, len(b.Members))
	var missing []string
	for _, m := range b.Members {
		pkg, ok := pkgs[m]
		if !ok {
			missing = append(missing, m)
			continue
		}
		members = append(members, pkg)
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("bundle %s: members not available: %v", b.Name, missing)
	}
	policy, err := bundle.ParsePolicy(b.Collision)
	if err != nil {
		return nil, &variant.ConfigError{Subject: b.Name, Reason: "invalid collision policy", Err: err}
	}
	return bundle.New(p.cfg.Output, policy).Compose(b.Name, members)
}

// Package returns the wrapped package of the named variant from a previous
// run.
func (p *Pipeline) Package(name string) (*wrap.Package, error) {
	if _, err := p.cfg.Variant(name); err != nil {
		return nil, err
	}
	return p.wrapper.Load(name)
}

// DevEnv provisions the development environment of all variants.
func (p *Pipeline) DevEnv(ctx context.Context) (*devenv.Descriptor, error) {
	specs, err := p.cfg.Specs()
	if err != nil {
		return nil, err
	}
	opts := devenv.Options{Resolver: p.resolver}
	if tc, ok := p.system.(devenv.Toolchain); ok {
		opts.Toolchain = tc
	}
	log.Debugf("devenv: %d variants", len(specs))
	return devenv.Provision(ctx, specs, p.deps, p.cfg.DevTools, opts)
}
