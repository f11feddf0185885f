package wrap

import (
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/apodwall/vbuild/variant"
)

func TestExecutableResolution(t *testing.T) {
	root := t.TempDir()
	mustWrite(t, filepath.Join(root, "a", "exiftool"), "#!/bin/sh\n", 0o755)
	mustWrite(t, filepath.Join(root, "b", "exiftool"), "#!/bin/sh\n", 0o755)
	mustWrite(t, filepath.Join(root, "c", "wal"), "not executable", 0o644)
	mustWrite(t, filepath.Join(root, "prefix", "bin", "wallust"), "#!/bin/sh\n", 0o755)

	r := &Resolver{
		SearchPath: []string{"", filepath.Join(root, "c"), filepath.Join(root, "a"), filepath.Join(root, "b")},
		Executables: map[string]string{
			"wallust": filepath.Join(root, "prefix"),
		},
	}

	got, err := r.Executable("exiftool")
	if err != nil || got != filepath.Join(root, "a", "exiftool") {
		t.Fatalf("Executable(exiftool) = %q, %v; want first match", got, err)
	}
	if _, err := r.Executable("wal"); !errors.Is(err, errNotFound) {
		t.Fatalf("Executable(wal) = %v, want not found for non-executable file", err)
	}
	got, err = r.Executable("wallust")
	if err != nil || got != filepath.Join(root, "prefix", "bin", "wallust") {
		t.Fatalf("Executable(wallust) = %q, %v", got, err)
	}
	got, err = r.Executable(filepath.Join(root, "b", "exiftool"))
	if err != nil || got != filepath.Join(root, "b", "exiftool") {
		t.Fatalf("Executable(explicit path) = %q, %v", got, err)
	}
}

func TestLibraryResolution(t *testing.T) {
	root := t.TempDir()
	mustWrite(t, filepath.Join(root, "sys", "libwayland-client.so.0.22.0"), "", 0o644)
	mustWrite(t, filepath.Join(root, "sys", "libxkbcommon.so"), "", 0o644)
	mustWrite(t, filepath.Join(root, "sys", "libssl3.so"), "", 0o644)
	mustWrite(t, filepath.Join(root, "dbus", "lib", "libdbus-1.so.3"), "", 0o644)

	r := &Resolver{LibraryRoots: []string{filepath.Join(root, "empty"), filepath.Join(root, "sys")}}
	sys := filepath.Join(root, "sys")

	tests := []struct {
		dep  variant.Dependency
		want string
	}{
		{variant.Dependency{Name: "wayland-client"}, sys},
		{variant.Dependency{Name: "libxkbcommon"}, sys},
		{variant.Dependency{Name: "libssl3.so"}, sys},
		{variant.Dependency{Name: "dbus", Path: filepath.Join(root, "dbus")}, filepath.Join(root, "dbus", "lib")},
		{variant.Dependency{Name: "dbus", Path: filepath.Join(root, "dbus", "lib", "libdbus-1.so.3")}, filepath.Join(root, "dbus", "lib")},
	}
	for _, tt := range tests {
		got, err := r.Library(tt.dep)
		if err != nil || got != tt.want {
			t.Errorf("Library(%v) = %q, %v; want %q", tt.dep, got, err, tt.want)
		}
	}

	// "ssl" must not match libssl3.so.
	if _, err := r.Library(variant.Dependency{Name: "ssl"}); !errors.Is(err, errNotFound) {
		t.Fatalf("Library(ssl) = %v, want not found", err)
	}
}

func TestSoname(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"libssl.so", "libssl.so.1.1", "libssl.so.3", "libssl3.so"} {
		mustWrite(t, filepath.Join(dir, name), "", 0o644)
	}
	if got := Soname(dir, "ssl"); got != "libssl.so.3" {
		t.Errorf("Soname(ssl) = %q, want libssl.so.3", got)
	}
	if got := Soname(dir, "libssl3.so"); got != "libssl3.so" {
		t.Errorf("Soname(libssl3.so) = %q", got)
	}
	if got := Soname(dir, "crypto"); got != "" {
		t.Errorf("Soname(crypto) = %q, want empty", got)
	}
}

func TestComputeEnv(t *testing.T) {
	env := Env{PathPrefix: []string{"/opt/exiftool/bin"}, LibraryPath: []string{"/opt/dbus/lib", "/opt/ssl/lib"}}
	tests := []struct {
		name string
		base []string
		env  Env
		want []string
	}{
		{
			name: "prefix and replace",
			base: []string{"HOME=/home/u", "PATH=/usr/bin", "LD_LIBRARY_PATH=/polluted"},
			env:  env,
			want: []string{"HOME=/home/u", "PATH=/opt/exiftool/bin:/usr/bin", "LD_LIBRARY_PATH=/opt/dbus/lib:/opt/ssl/lib"},
		},
		{
			name: "no inherited path",
			base: []string{"HOME=/home/u"},
			env:  env,
			want: []string{"HOME=/home/u", "PATH=/opt/exiftool/bin", "LD_LIBRARY_PATH=/opt/dbus/lib:/opt/ssl/lib"},
		},
		{
			name: "empty env drops library path",
			base: []string{"PATH=/usr/bin", "LD_LIBRARY_PATH=/polluted"},
			env:  Env{},
			want: []string{"PATH=/usr/bin"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base := append([]string(nil), tt.base...)
			got := ComputeEnv(tt.base, tt.env)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("ComputeEnv() = %v, want %v", got, tt.want)
			}
			if !reflect.DeepEqual(base, tt.base) {
				t.Fatal("ComputeEnv modified its input")
			}
		})
	}
}

func TestShimQuoting(t *testing.T) {
	shim := string(Shim("it's", Env{PathPrefix: []string{"/opt/a b"}}))
	for _, want := range []string{
		`exec "$here"/'../libexec/it'\''s' "$@"`,
		`PATH='/opt/a b'${PATH:+':'}"$PATH"`,
	} {
		if !strings.Contains(shim, want) {
			t.Fatalf("shim:\n%s\nmissing %s", shim, want)
		}
	}
	if strings.Contains(shim, `"$here":`) {
		t.Fatalf("shim without siblings searches its own directory:\n%s", shim)
	}
	sib := string(Shim("apod-wallpaper-applet", Env{PathPrefix: []string{"/out/packages/cli/bin"}, Siblings: []string{"cli"}}))
	if want := `PATH="$here":'/out/packages/cli/bin'`; !strings.Contains(sib, want) {
		t.Fatalf("shim:\n%s\nmissing %s", sib, want)
	}
}
