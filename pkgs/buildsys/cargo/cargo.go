package cargo

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/apodwall/vbuild/pkgs/buildsys"
	"golang.org/x/mod/semver"
)

// Cargo builds binaries of a Rust crate with cargo.
type Cargo struct {
	SourceDir string

	// CargoBin and RustcBin name the toolchain executables. They default to
	// "cargo" and "rustc" resolved through PATH.
	CargoBin string
	RustcBin string

	env      map[string]string
	mu       sync.Mutex
	manifest *Manifest
}

var _ buildsys.BuildSystem = (*Cargo)(nil)

// New returns a Cargo helper for the crate rooted at dir.
func New(dir string) *Cargo {
	return &Cargo{
		SourceDir: dir,
		CargoBin:  "cargo",
		RustcBin:  "rustc",
		env:       map[string]string{},
	}
}

func (c *Cargo) Source() string {
	return c.SourceDir
}

// Env sets a variable for every toolchain invocation made by c.
func (c *Cargo) Env(key, value string) {
	if c.env == nil {
		c.env = map[string]string{}
	}
	c.env[key] = value
}

// Manifest returns the parsed Cargo.toml, loading it on first use.
func (c *Cargo) Manifest() (*Manifest, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.manifest != nil {
		return c.manifest, nil
	}
	m, err := LoadManifest(c.SourceDir)
	if err != nil {
		return nil, err
	}
	c.manifest = m
	return m, nil
}

func (c *Cargo) Features() ([]string, error) {
	m, err := c.Manifest()
	if err != nil {
		return nil, err
	}
	return m.Features(), nil
}

func (c *Cargo) Targets() ([]buildsys.Target, error) {
	m, err := c.Manifest()
	if err != nil {
		return nil, err
	}
	return m.Targets(), nil
}

// Toolchain returns the output of "rustc --version", e.g.
// "rustc 1.79.0 (129f3b996 2024-06-10)", followed by a RUSTFLAGS line when
// builds pass extra flags to rustc.
func (c *Cargo) Toolchain(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, c.RustcBin, "--version").Output()
	if err != nil {
		return "", fmt.Errorf("%s --version: %w", c.RustcBin, err)
	}
	id := strings.TrimSpace(string(out))
	if flags := c.rustFlags(); flags != "" {
		id += "\nRUSTFLAGS=" + flags
	}
	return id, nil
}

// rustFlags returns the RUSTFLAGS set through Env, or else those of the
// process environment.
func (c *Cargo) rustFlags() string {
	if flags, ok := c.env["RUSTFLAGS"]; ok {
		return strings.TrimSpace(flags)
	}
	return strings.TrimSpace(os.Getenv("RUSTFLAGS"))
}

// Check compares the installed rustc against the manifest's rust-version.
// A manifest without rust-version accepts any toolchain.
func (c *Cargo) Check(ctx context.Context) error {
	m, err := c.Manifest()
	if err != nil {
		return err
	}
	want := m.Package.RustVersion
	if want == "" {
		return nil
	}
	if !semver.IsValid("v" + want) {
		return fmt.Errorf("invalid rust-version %q", want)
	}
	toolchain, err := c.Toolchain(ctx)
	if err != nil {
		return err
	}
	have := rustcVersion(toolchain)
	if have == "" {
		return fmt.Errorf("cannot parse toolchain version from %q", toolchain)
	}
	if semver.Compare(have, "v"+want) < 0 {
		return fmt.Errorf("toolchain %s is older than rust-version %s", strings.TrimPrefix(have, "v"), want)
	}
	return nil
}

// rustcVersion extracts a canonical semver from "rustc X.Y.Z[-chan] (...)".
func rustcVersion(s string) string {
	fields := strings.Fields(s)
	if len(fields) < 2 {
		return ""
	}
	v := "v" + fields[1]
	if !semver.IsValid(v) {
		return ""
	}
	// Pre-release toolchains (nightly, beta) satisfy the release they lead to.
	return semver.Canonical(strings.TrimSuffix(v, semver.Prerelease(v)))
}

// Args returns the cargo arguments used to compile req.
func (c *Cargo) Args(req buildsys.Request) []string {
	args := []string{
		"build", "--release",
		"--manifest-path", filepath.Join(c.SourceDir, manifestFile),
		"--bin", req.Binary,
		"--no-default-features",
	}
	if len(req.Features) > 0 {
		features := append([]string(nil), req.Features...)
		sort.Strings(features)
		args = append(args, "--features", strings.Join(features, ","))
	}
	if req.TargetDir != "" {
		args = append(args, "--target-dir", req.TargetDir)
	}
	return args
}

func (c *Cargo) Build(ctx context.Context, req buildsys.Request) (string, error) {
	if req.TargetDir == "" {
		return "", fmt.Errorf("cargo: target dir is required")
	}
	if err := os.MkdirAll(req.TargetDir, 0o755); err != nil {
		return "", err
	}
	src, err := filepath.Abs(c.SourceDir)
	if err != nil {
		return "", err
	}
	env := make(map[string]string, len(c.env)+len(req.Env)+1)
	for k, v := range c.env {
		env[k] = v
	}
	env["RUSTFLAGS"] = c.rustFlags()
	for k, v := range req.Env {
		env[k] = v
	}
	// Embedded paths must not depend on where the tree was checked out.
	env["RUSTFLAGS"] = strings.TrimSpace(env["RUSTFLAGS"] + " --remap-path-prefix=" + src + "=.")

	cmd := exec.CommandContext(ctx, c.CargoBin, c.Args(req)...)
	cmd.Dir = c.SourceDir
	cmd.Env = mergeEnv(os.Environ(), env)
	cmd.Stdout = req.Stdout
	cmd.Stderr = req.Stderr
	if err := cmd.Run(); err != nil {
		return "", err
	}

	out := filepath.Join(req.TargetDir, "release", req.Binary)
	fi, err := os.Stat(out)
	if err != nil {
		return "", fmt.Errorf("cargo did not produce %s: %w", req.Binary, err)
	}
	if fi.IsDir() || fi.Mode()&0o111 == 0 {
		return "", fmt.Errorf("cargo output %s is not an executable", out)
	}
	return out, nil
}

// SysrootSource returns the toolchain's bundled standard library source, as
// used by rust-analyzer. It returns "" when rust-src is not installed.
func (c *Cargo) SysrootSource(ctx context.Context) string {
	out, err := exec.CommandContext(ctx, c.RustcBin, "--print", "sysroot").Output()
	if err != nil {
		return ""
	}
	dir := filepath.Join(strings.TrimSpace(string(out)), "lib", "rustlib", "src", "rust", "library")
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		return ""
	}
	return dir
}

func mergeEnv(base []string, override map[string]string) []string {
	envMap := make(map[string]string, len(base))
	for _, kv := range base {
		if k, v, ok := strings.Cut(kv, "="); ok {
			envMap[k] = v
		}
	}
	for k, v := range override {
		envMap[k] = v
	}
	keys := make([]string, 0, len(envMap))
	for k := range envMap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+envMap[k])
	}
	return out
}
