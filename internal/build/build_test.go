package build

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/apodwall/vbuild/variant"
)

func newTestBuilder(t *testing.T, sys *fakeSystem) *Builder {
	t.Helper()
	b, err := NewBuilder(Options{
		System:     sys,
		OutputDir:  t.TempDir(),
		CacheDir:   t.TempDir(),
		ScratchDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("NewBuilder failed: %v", err)
	}
	return b
}

var testDeps = variant.Deps{}.
	WithRuntimeLibraries(variant.Dependency{Name: "dbus"}).
	WithCompileTools(variant.Dependency{Name: "pkg-config"}).
	WithPkgConfigPath("/usr/lib/pkgconfig")

func TestBuildCLIVariant(t *testing.T) {
	sys := newFakeSystem(t)
	b := newTestBuilder(t, sys)
	spec := variant.New("cli", "apod-wallpaper").WithFeatures("cli").WithAuxiliary("exiftool")

	art, err := b.Build(context.Background(), spec, testDeps)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if filepath.Base(art.Path) != "apod-wallpaper" {
		t.Fatalf("artifact = %q, want executable named apod-wallpaper", art.Path)
	}
	if art.Path != b.ArtifactPath(spec) {
		t.Fatalf("artifact = %q, want %q", art.Path, b.ArtifactPath(spec))
	}
	out, err := exec.Command(art.Path).Output()
	if err != nil {
		t.Fatalf("run artifact: %v", err)
	}
	if got := strings.TrimSpace(string(out)); got != "apod-wallpaper cli" {
		t.Fatalf("artifact output = %q", got)
	}

	req := sys.requests[0]
	if req.Env["PKG_CONFIG_PATH"] != "/usr/lib/pkgconfig" {
		t.Fatalf("PKG_CONFIG_PATH = %q, want fixed value", req.Env["PKG_CONFIG_PATH"])
	}
	if len(req.Features) != 1 || req.Features[0] != "cli" {
		t.Fatalf("features passed to build system = %v", req.Features)
	}
}

func TestBuildDefaultFeatureSet(t *testing.T) {
	sys := newFakeSystem(t)
	b := newTestBuilder(t, sys)

	if _, err := b.Build(context.Background(), variant.New("plain", "apod-wallpaper"), testDeps); err != nil {
		t.Fatalf("Build with empty feature set failed: %v", err)
	}
	if len(sys.requests[0].Features) != 0 {
		t.Fatalf("features = %v, want none", sys.requests[0].Features)
	}
}

func TestBuildConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		spec variant.Spec
	}{
		{"unknown feature", variant.New("cli", "apod-wallpaper").WithFeatures("cli", "tray")},
		{"unknown binary", variant.New("cli", "apod-wallpaper-tui")},
		{"missing required feature", variant.New("gui", "apod-wallpaper-switcher").WithFeatures("cli")},
		{"missing name", variant.New("", "apod-wallpaper")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sys := newFakeSystem(t)
			b := newTestBuilder(t, sys)

			_, err := b.Build(context.Background(), tt.spec, testDeps)
			var cfgErr *variant.ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("Build() = %v, want *variant.ConfigError", err)
			}
			if sys.buildCount() != 0 {
				t.Fatal("compilation attempted despite config error")
			}
			if _, err := os.Stat(b.ArtifactPath(tt.spec)); !os.IsNotExist(err) {
				t.Fatalf("artifact file exists after config error: %v", err)
			}
		})
	}
}

func TestBuildToolchainCheckFails(t *testing.T) {
	sys := newFakeSystem(t)
	sys.checkErr = errors.New("toolchain 1.60.0 is older than rust-version 1.75")
	b := newTestBuilder(t, sys)

	_, err := b.Build(context.Background(), variant.New("cli", "apod-wallpaper").WithFeatures("cli"), testDeps)
	var cfgErr *variant.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Build() = %v, want *variant.ConfigError", err)
	}
}

func TestBuildFailure(t *testing.T) {
	sys := newFakeSystem(t)
	b := newTestBuilder(t, sys)
	spec := variant.New("broken", "broken")

	_, err := b.Build(context.Background(), spec, testDeps)
	var bf *variant.BuildFailure
	if !errors.As(err, &bf) {
		t.Fatalf("Build() = %v, want *variant.BuildFailure", err)
	}
	if !strings.Contains(bf.Output, "E0425") {
		t.Fatalf("BuildFailure.Output = %q, want compiler output", bf.Output)
	}
	if _, err := os.Stat(b.ArtifactPath(spec)); !os.IsNotExist(err) {
		t.Fatal("artifact file exists after build failure")
	}

	// Not retried automatically.
	if n := sys.buildCount(); n != 1 {
		t.Fatalf("build attempted %d times, want 1", n)
	}
}

func TestBuildCacheHit(t *testing.T) {
	sys := newFakeSystem(t)
	b := newTestBuilder(t, sys)
	spec := variant.New("cli", "apod-wallpaper").WithFeatures("cli")

	first, err := b.Build(context.Background(), spec, testDeps)
	if err != nil {
		t.Fatalf("first Build failed: %v", err)
	}
	// A second variant with identical inputs shares the cached artifact.
	second, err := b.Build(context.Background(), variant.New("cli-copy", "apod-wallpaper").WithFeatures("cli"), testDeps)
	if err != nil {
		t.Fatalf("second Build failed: %v", err)
	}
	if sys.buildCount() != 1 {
		t.Fatalf("compiled %d times, want 1", sys.buildCount())
	}
	if !second.Cached || first.Cached {
		t.Fatalf("Cached flags: first=%v second=%v", first.Cached, second.Cached)
	}
	if first.Fingerprint != second.Fingerprint {
		t.Fatal("identical inputs produced different fingerprints")
	}

	a, _ := os.ReadFile(first.Path)
	c, _ := os.ReadFile(second.Path)
	if string(a) != string(c) {
		t.Fatal("cached artifact differs from the original build")
	}
}

func TestBuildFingerprintDependsOnDeps(t *testing.T) {
	sys := newFakeSystem(t)
	b := newTestBuilder(t, sys)
	spec := variant.New("cli", "apod-wallpaper").WithFeatures("cli")

	fp1, err := b.Fingerprint(context.Background(), spec, testDeps)
	if err != nil {
		t.Fatalf("Fingerprint failed: %v", err)
	}
	fp2, err := b.Fingerprint(context.Background(), spec, testDeps.WithPkgConfigPath("/opt/pkgconfig"))
	if err != nil {
		t.Fatalf("Fingerprint failed: %v", err)
	}
	if fp1 == fp2 {
		t.Fatal("pkg-config path does not affect the fingerprint")
	}
	fp3, _ := b.Fingerprint(context.Background(), spec.WithAuxiliary("exiftool").WithDescription("x"), testDeps)
	if fp1 != fp3 {
		t.Fatal("runtime-only fields changed the build fingerprint")
	}
}

func TestBuildNoCache(t *testing.T) {
	sys := newFakeSystem(t)
	b, err := NewBuilder(Options{
		System:     sys,
		OutputDir:  t.TempDir(),
		CacheDir:   t.TempDir(),
		ScratchDir: t.TempDir(),
		NoCache:    true,
	})
	if err != nil {
		t.Fatalf("NewBuilder failed: %v", err)
	}
	spec := variant.New("cli", "apod-wallpaper").WithFeatures("cli")
	for i := 0; i < 2; i++ {
		if _, err := b.Build(context.Background(), spec, testDeps); err != nil {
			t.Fatalf("Build %d failed: %v", i, err)
		}
	}
	if sys.buildCount() != 2 {
		t.Fatalf("compiled %d times with NoCache, want 2", sys.buildCount())
	}
}

func TestBuildConcurrentVariants(t *testing.T) {
	sys := newFakeSystem(t)
	b := newTestBuilder(t, sys)
	specs := []variant.Spec{
		variant.New("cli", "apod-wallpaper").WithFeatures("cli"),
		variant.New("gui", "apod-wallpaper-switcher").WithFeatures("gui"),
		variant.New("applet", "apod-wallpaper-applet").WithFeatures("applet"),
		variant.New("broken", "broken"),
	}

	errs := make([]error, len(specs))
	var wg sync.WaitGroup
	for i, spec := range specs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = b.Build(context.Background(), spec, testDeps)
		}()
	}
	wg.Wait()

	for i, err := range errs[:3] {
		if err != nil {
			t.Errorf("Build(%s) failed: %v", specs[i].Name, err)
		}
	}
	// A failing sibling does not affect the others.
	var bf *variant.BuildFailure
	if !errors.As(errs[3], &bf) {
		t.Errorf("Build(broken) = %v, want *variant.BuildFailure", errs[3])
	}
}

func TestNewBuilderRequiresOptions(t *testing.T) {
	if _, err := NewBuilder(Options{OutputDir: t.TempDir()}); err == nil {
		t.Fatal("expected error without build system")
	}
	if _, err := NewBuilder(Options{System: newFakeSystem(t)}); err == nil {
		t.Fatal("expected error without output dir")
	}
}

func TestTail(t *testing.T) {
	in := []byte("a\nb\nc\nd\n")
	if got := tail(in, 2); got != "c\nd" {
		t.Fatalf("tail = %q, want %q", got, "c\nd")
	}
	if got := tail(nil, 3); got != "" {
		t.Fatalf("tail(nil) = %q", got)
	}
}
