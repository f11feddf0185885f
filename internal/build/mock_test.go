package build

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/apodwall/vbuild/pkgs/buildsys"
)

// fakeSystem is a BuildSystem that "compiles" a shell script echoing the
// binary name and enabled features.
type fakeSystem struct {
	dir      string
	features []string
	targets  []buildsys.Target
	checkErr error

	mu       sync.Mutex
	builds   int
	requests []buildsys.Request
}

func newFakeSystem(t *testing.T) *fakeSystem {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "Cargo.toml"), []byte("[package]\nname = \"apod-wallpaper\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return &fakeSystem{
		dir:      dir,
		features: []string{"gui", "cli", "applet"},
		targets: []buildsys.Target{
			{Name: "apod-wallpaper"},
			{Name: "apod-wallpaper-switcher", RequiredFeatures: []string{"gui"}},
			{Name: "apod-wallpaper-applet", RequiredFeatures: []string{"applet"}},
			{Name: "broken"},
		},
	}
}

func (f *fakeSystem) Source() string { return f.dir }
func (f *fakeSystem) Features() ([]string, error) { return f.features, nil }
func (f *fakeSystem) Targets() ([]buildsys.Target, error) { return f.targets, nil }
func (f *fakeSystem) Check(context.Context) error { return f.checkErr }

func (f *fakeSystem) Toolchain(context.Context) (string, error) {
	return "fakec 1.0.0", nil
}

func (f *fakeSystem) Build(ctx context.Context, req buildsys.Request) (string, error) {
	f.mu.Lock()
	f.builds++
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if req.Binary == "broken" {
		fmt.Fprintln(req.Stderr, "error[E0425]: cannot find value `x` in this scope")
		return "", fmt.Errorf("exit status 101")
	}
	out := filepath.Join(req.TargetDir, "release", req.Binary)
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return "", err
	}
	script := fmt.Sprintf("#!/bin/sh\necho %s %s\n", req.Binary, strings.Join(req.Features, ","))
	return out, os.WriteFile(out, []byte(script), 0o755)
}

func (f *fakeSystem) buildCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.builds
}
