package wrap

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/apodwall/vbuild/internal/build"
	"github.com/apodwall/vbuild/internal/fingerprint"
	"github.com/apodwall/vbuild/internal/fsutil"
	"github.com/apodwall/vbuild/variant"
	"github.com/qiniu/x/log"
)

// Environment variables set by every wrapper.
const (
	PathVar        = "PATH"
	LibraryPathVar = "LD_LIBRARY_PATH"
)

// Package directory layout:
//
//	<dir>/bin/<binary>                  wrapper shim (entry point)
//	<dir>/libexec/<binary>              inner artifact
//	<dir>/share/vbuild/<variant>.json   manifest
const (
	binDir      = "bin"
	libexecDir  = "libexec"
	manifestDir = "share/vbuild"
)

// Env is the environment a wrapper establishes before starting its inner
// artifact.
type Env struct {
	// PathPrefix is prepended to PATH, earliest entry first.
	PathPrefix []string `json:"path_prefix"`
	// LibraryPath replaces LD_LIBRARY_PATH.
	LibraryPath []string `json:"library_path"`
	// Siblings are the variants whose packages are on PATH. The wrapper
	// also searches its own directory for them, which finds them when the
	// package is part of a bundle.
	Siblings []string `json:"siblings,omitempty"`
}

// Package is a wrapped variant.
type Package struct {
	Artifact    *build.Artifact
	Dir         string
	WrapperPath string
	InnerPath   string
	Env         Env
}

// Name returns the variant name of p.
func (p *Package) Name() string {
	return p.Artifact.Spec.Name
}

// EntryPoint returns the entry point of p relative to p.Dir.
func (p *Package) EntryPoint() string {
	return filepath.Join(binDir, p.Artifact.Spec.BinaryName)
}

// Wrapper produces wrapped packages under <OutputDir>/packages.
type Wrapper struct {
	Resolver  *Resolver
	OutputDir string
	// Siblings names the variants whose packages other variants may list
	// as auxiliary executables.
	Siblings []string
}

// New returns a Wrapper writing to outputDir.
func New(resolver *Resolver, outputDir string) *Wrapper {
	return &Wrapper{Resolver: resolver, OutputDir: outputDir}
}

// PackageDir returns the package directory of the named variant.
func (w *Wrapper) PackageDir(name string) string {
	return filepath.Join(w.OutputDir, "packages", name)
}

// Resolve computes the wrapper environment for the given dependencies.
// An auxiliary entry naming one of w.Siblings other than name itself puts
// that sibling's package bin/ directory on PATH; the sibling must already be
// wrapped. Any dependency that cannot be resolved is a *variant.WrapFailure.
func (w *Wrapper) Resolve(name string, libs []variant.Dependency, aux []string) (Env, error) {
	var env Env
	for _, exe := range aux {
		var dir string
		if exe != name && slices.Contains(w.Siblings, exe) {
			pkgDir, err := filepath.Abs(w.PackageDir(exe))
			if err == nil {
				_, err = os.Stat(manifestPath(pkgDir, exe))
			}
			if err != nil {
				return Env{}, &variant.WrapFailure{Variant: name, Dependency: exe, Err: fmt.Errorf("package not wrapped: %w", err)}
			}
			dir = filepath.Join(pkgDir, binDir)
			env.Siblings = append(env.Siblings, exe)
		} else {
			path, err := w.Resolver.Executable(exe)
			if err != nil {
				return Env{}, &variant.WrapFailure{Variant: name, Dependency: exe, Err: err}
			}
			dir = filepath.Dir(path)
		}
		if !slices.Contains(env.PathPrefix, dir) {
			env.PathPrefix = append(env.PathPrefix, dir)
		}
	}
	for _, lib := range libs {
		dir, err := w.Resolver.Library(lib)
		if err != nil {
			return Env{}, &variant.WrapFailure{Variant: name, Dependency: lib.Name, Err: err}
		}
		if !slices.Contains(env.LibraryPath, dir) {
			env.LibraryPath = append(env.LibraryPath, dir)
		}
	}
	return env, nil
}

// CheckFile reports whether rel may receive an installed file in the
// package of spec. It must stay inside the package and may not replace the
// entry point, the inner artifact or the manifest.
func CheckFile(spec variant.Spec, rel string) error {
	clean := filepath.ToSlash(filepath.Clean(rel))
	if filepath.IsAbs(rel) || clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return &variant.ConfigError{Subject: spec.Name, Reason: "file destination escapes the package: " + rel}
	}
	if clean == binDir+"/"+spec.BinaryName || clean == libexecDir || strings.HasPrefix(clean, libexecDir+"/") ||
		clean == manifestDir || strings.HasPrefix(clean, manifestDir+"/") {
		return &variant.ConfigError{Subject: spec.Name, Reason: "file destination overwrites the package itself: " + rel}
	}
	return nil
}

// Wrap places art in a package directory together with a shim that fixes
// PATH and LD_LIBRARY_PATH before exec'ing it, plus the extra files (keys
// are destinations relative to the package directory). The package is
// staged next to its final location and replaces any previous one as a
// whole. Wrapping the same inputs twice yields byte-identical files.
func (w *Wrapper) Wrap(art *build.Artifact, libs []variant.Dependency, aux []string, files map[string]string) (*Package, error) {
	spec := art.Spec
	for rel := range files {
		if err := CheckFile(spec, rel); err != nil {
			return nil, err
		}
	}
	env, err := w.Resolve(spec.Name, libs, aux)
	if err != nil {
		return nil, err
	}

	dir, err := filepath.Abs(w.PackageDir(spec.Name))
	if err != nil {
		return nil, &variant.WrapFailure{Variant: spec.Name, Err: err}
	}
	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return nil, &variant.WrapFailure{Variant: spec.Name, Err: err}
	}
	stage, err := os.MkdirTemp(filepath.Dir(dir), "."+spec.Name+".tmp-*")
	if err != nil {
		return nil, &variant.WrapFailure{Variant: spec.Name, Err: err}
	}
	defer os.RemoveAll(stage)

	staged := newPackage(art, stage, env)
	if err := fsutil.CopyFile(art.Path, staged.InnerPath, 0o755); err != nil {
		return nil, &variant.WrapFailure{Variant: spec.Name, Err: fmt.Errorf("install artifact: %w", err)}
	}
	shim := Shim(spec.BinaryName, env)
	if err := fsutil.WriteFile(staged.WrapperPath, shim, 0o755); err != nil {
		return nil, &variant.WrapFailure{Variant: spec.Name, Err: fmt.Errorf("write wrapper: %w", err)}
	}
	if err := install(staged, files); err != nil {
		return nil, err
	}
	if err := writeManifest(staged, fingerprint.Bytes(shim)); err != nil {
		return nil, &variant.WrapFailure{Variant: spec.Name, Err: fmt.Errorf("write manifest: %w", err)}
	}
	if err := os.Chmod(stage, 0o755); err != nil {
		return nil, &variant.WrapFailure{Variant: spec.Name, Err: err}
	}
	if err := os.RemoveAll(dir); err != nil {
		return nil, &variant.WrapFailure{Variant: spec.Name, Err: fmt.Errorf("replace package: %w", err)}
	}
	if err := os.Rename(stage, dir); err != nil {
		return nil, &variant.WrapFailure{Variant: spec.Name, Err: fmt.Errorf("replace package: %w", err)}
	}

	pkg := newPackage(art, dir, env)
	log.Infof("wrap %s: %s", spec.Name, pkg.WrapperPath)
	log.Debugf("wrap %s: PATH prefix %s, LD_LIBRARY_PATH %s", spec.Name,
		strings.Join(env.PathPrefix, ":"), strings.Join(env.LibraryPath, ":"))
	return pkg, nil
}

func newPackage(art *build.Artifact, dir string, env Env) *Package {
	return &Package{
		Artifact:    art,
		Dir:         dir,
		WrapperPath: filepath.Join(dir, binDir, art.Spec.BinaryName),
		InnerPath:   filepath.Join(dir, libexecDir, art.Spec.BinaryName),
		Env:         env,
	}
}

// install copies extra files into pkg, e.g. icons or desktop entries.
func install(pkg *Package, files map[string]string) error {
	keys := make([]string, 0, len(files))
	for k := range files {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, rel := range keys {
		src := files[rel]
		fi, err := os.Stat(src)
		if err != nil {
			return &variant.WrapFailure{Variant: pkg.Name(), Dependency: src, Err: err}
		}
		if err := fsutil.CopyFile(src, filepath.Join(pkg.Dir, filepath.Clean(rel)), fi.Mode().Perm()); err != nil {
			return &variant.WrapFailure{Variant: pkg.Name(), Err: err}
		}
	}
	return nil
}

// -----------------------------------------------------------------------------

type manifest struct {
	Variant     string   `json:"variant"`
	Binary      string   `json:"binary"`
	Description string   `json:"description,omitempty"`
	Features    []string `json:"features"`
	Auxiliary   []string `json:"auxiliary"`
	Fingerprint string   `json:"fingerprint"`
	Shim        string   `json:"shim"`
	Env         Env      `json:"env"`
}

func manifestPath(dir, name string) string {
	return filepath.Join(dir, manifestDir, name+".json")
}

func writeManifest(pkg *Package, shim fingerprint.Hash) error {
	spec := pkg.Artifact.Spec
	m := manifest{
		Variant:     spec.Name,
		Binary:      spec.BinaryName,
		Description: spec.Description,
		Features:    spec.Features(),
		Auxiliary:   spec.AuxiliaryExecutables(),
		Fingerprint: pkg.Artifact.Fingerprint.String(),
		Shim:        shim.String(),
		Env:         pkg.Env,
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return fsutil.WriteFile(manifestPath(pkg.Dir, spec.Name), append(data, '\n'), 0o644)
}

// Load reads a previously wrapped package of the named variant. A wrapper
// edited since it was written is rejected.
func (w *Wrapper) Load(name string) (*Package, error) {
	dir, err := filepath.Abs(w.PackageDir(name))
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(manifestPath(dir, name))
	if err != nil {
		return nil, fmt.Errorf("package %s is not wrapped: %w", name, err)
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("package %s: %w", name, err)
	}
	spec := variant.New(m.Variant, m.Binary).
		WithDescription(m.Description).
		WithFeatures(m.Features...).
		WithAuxiliary(m.Auxiliary...)
	wrapper := filepath.Join(dir, binDir, m.Binary)
	shim, err := os.ReadFile(wrapper)
	if err != nil {
		return nil, fmt.Errorf("package %s: %w", name, err)
	}
	if fingerprint.Bytes(shim).String() != m.Shim {
		return nil, fmt.Errorf("package %s: %s changed since it was wrapped", name, wrapper)
	}
	inner := filepath.Join(dir, libexecDir, m.Binary)
	art := &build.Artifact{Spec: spec, Path: inner}
	if fp, err := fingerprint.Parse(m.Fingerprint); err == nil {
		art.Fingerprint = fp
	}
	return &Package{
		Artifact:    art,
		Dir:         dir,
		WrapperPath: wrapper,
		InnerPath:   inner,
		Env:         m.Env,
	}, nil
}
