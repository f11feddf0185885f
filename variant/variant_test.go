package variant

import (
	"errors"
	"reflect"
	"testing"
)

func TestWithFeaturesSortsAndDedups(t *testing.T) {
	s := New("cli", "apod-wallpaper").WithFeatures("gui", "cli", " cli ", "")
	want := []string{"cli", "gui"}
	if got := s.Features(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Features() = %v, want %v", got, want)
	}
	if got := s.FeatureKey(); got != "cli,gui" {
		t.Fatalf("FeatureKey() = %q, want %q", got, "cli,gui")
	}
	if !s.HasFeature("gui") || s.HasFeature("applet") {
		t.Fatalf("HasFeature mismatch for %v", s.Features())
	}
}

func TestBuildersDoNotMutateReceiver(t *testing.T) {
	base := New("cli", "apod-wallpaper").WithAuxiliary("exiftool")
	derived := base.WithAuxiliary("wal").WithFeatures("cli")

	if got := base.AuxiliaryExecutables(); !reflect.DeepEqual(got, []string{"exiftool"}) {
		t.Fatalf("base aux = %v, want [exiftool]", got)
	}
	if len(base.Features()) != 0 {
		t.Fatalf("base features = %v, want none", base.Features())
	}
	if got := derived.AuxiliaryExecutables(); !reflect.DeepEqual(got, []string{"exiftool", "wal"}) {
		t.Fatalf("derived aux = %v", got)
	}

	// Mutating a returned slice must not leak back into the Spec value.
	aux := derived.AuxiliaryExecutables()
	aux[0] = "changed"
	if derived.AuxiliaryExecutables()[0] != "exiftool" {
		t.Fatal("AuxiliaryExecutables returned an aliased slice")
	}
}

func TestWithAuxiliaryKeepsFirstPosition(t *testing.T) {
	s := New("applet", "apod-wallpaper-applet").WithAuxiliary("exiftool", "apod-wallpaper", "exiftool")
	want := []string{"exiftool", "apod-wallpaper"}
	if got := s.AuxiliaryExecutables(); !reflect.DeepEqual(got, want) {
		t.Fatalf("aux = %v, want %v", got, want)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		spec Spec
		ok   bool
	}{
		{"valid", New("cli", "apod-wallpaper").WithFeatures("cli"), true},
		{"default build", New("plain", "apod-wallpaper"), true},
		{"missing name", New("", "apod-wallpaper"), false},
		{"missing binary", New("cli", " "), false},
		{"binary with separator", New("cli", "bin/apod"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if tt.ok {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("Validate() = %v, want *ConfigError", err)
			}
		})
	}
}

func TestCheckUnique(t *testing.T) {
	specs := []Spec{New("cli", "a"), New("gui", "b"), New("cli", "c")}
	err := CheckUnique(specs)
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Subject != "cli" {
		t.Fatalf("CheckUnique() = %v, want duplicate cli", err)
	}
	if err := CheckUnique(specs[:2]); err != nil {
		t.Fatalf("CheckUnique() = %v, want nil", err)
	}
}

func TestDepsBuilders(t *testing.T) {
	base := Deps{}.WithRuntimeLibraries(Dependency{Name: "dbus"})
	d := base.WithRuntimeLibraries(Dependency{Name: "dbus"}, Dependency{Name: "ssl"}).
		WithCompileTools(Dependency{Name: "pkg-config"}).
		WithPkgConfigPath("/usr/lib/pkgconfig")

	if len(base.RuntimeLibraries()) != 1 {
		t.Fatalf("base runtime = %v, want 1 entry", base.RuntimeLibraries())
	}
	if got := len(d.RuntimeLibraries()); got != 2 {
		t.Fatalf("runtime count = %d, want 2", got)
	}
	if d.PkgConfigPath != "/usr/lib/pkgconfig" || base.PkgConfigPath != "" {
		t.Fatalf("PkgConfigPath leaked: base=%q d=%q", base.PkgConfigPath, d.PkgConfigPath)
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("exit status 101")
	err := error(&BuildFailure{Variant: "cli", Err: cause})
	if !errors.Is(err, cause) {
		t.Fatal("BuildFailure does not unwrap to its cause")
	}
	wrapErr := error(&WrapFailure{Variant: "cli", Dependency: "exiftool", Err: cause})
	if !errors.Is(wrapErr, cause) {
		t.Fatal("WrapFailure does not unwrap to its cause")
	}
}
