package variant

import (
	"slices"
	"sort"
	"strings"
)

// -----------------------------------------------------------------------------

// Spec describes one product variant built from the shared source tree.
//
// A Spec is a value: the builder methods below return modified copies and
// never touch the receiver, so a Spec can be shared freely between
// goroutines.
type Spec struct {
	Name        string
	BinaryName  string
	Description string

	features []string
	aux      []string
}

// New returns a Spec for the named variant producing binary.
func New(name, binary string) Spec {
	return Spec{Name: name, BinaryName: binary}
}

// Features returns the sorted, de-duplicated feature flags of s.
func (s Spec) Features() []string {
	return slices.Clone(s.features)
}

// AuxiliaryExecutables returns the runtime helper executables of s in
// declaration order. Earlier entries take precedence on the search path.
func (s Spec) AuxiliaryExecutables() []string {
	return slices.Clone(s.aux)
}

// WithDescription returns a copy of s with the description replaced.
func (s Spec) WithDescription(desc string) Spec {
	s.Description = desc
	return s
}

// WithFeatures returns a copy of s whose feature set is exactly flags.
func (s Spec) WithFeatures(flags ...string) Spec {
	set := make([]string, 0, len(flags))
	for _, f := range flags {
		f = strings.TrimSpace(f)
		if f != "" {
			set = append(set, f)
		}
	}
	sort.Strings(set)
	s.features = slices.Compact(set)
	return s
}

// WithAuxiliary returns a copy of s with names appended to its auxiliary
// executables. Names already present keep their original position.
func (s Spec) WithAuxiliary(names ...string) Spec {
	aux := slices.Clone(s.aux)
	for _, n := range names {
		if n != "" && !slices.Contains(aux, n) {
			aux = append(aux, n)
		}
	}
	s.aux = aux
	return s
}

// HasFeature reports whether flag is enabled for s.
func (s Spec) HasFeature(flag string) bool {
	_, ok := slices.BinarySearch(s.features, flag)
	return ok
}

// FeatureKey returns the canonical comma separated feature list, suitable
// for command lines and cache keys. It is empty for the default build.
func (s Spec) FeatureKey() string {
	return strings.Join(s.features, ",")
}

// Validate checks the fields that do not depend on the source tree.
func (s Spec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return &ConfigError{Subject: "variant", Reason: "name is required"}
	}
	if strings.TrimSpace(s.BinaryName) == "" {
		return &ConfigError{Subject: s.Name, Reason: "binary name is required"}
	}
	if strings.ContainsAny(s.BinaryName, `/\`) {
		return &ConfigError{Subject: s.Name, Reason: "binary name must not contain a path separator: " + s.BinaryName}
	}
	for _, a := range s.aux {
		if strings.TrimSpace(a) != a {
			return &ConfigError{Subject: s.Name, Reason: "auxiliary executable has surrounding whitespace: " + a}
		}
	}
	return nil
}

// -----------------------------------------------------------------------------

// Dependency is a shared library, tool or helper executable required by a
// variant. If Path is empty, Name is resolved against search roots at use
// time.
type Dependency struct {
	Name string `json:"name" yaml:"name" toml:"name"`
	Path string `json:"path,omitempty" yaml:"path,omitempty" toml:"path,omitempty"`
}

func (d Dependency) String() string {
	if d.Path != "" {
		return d.Name + "=" + d.Path
	}
	return d.Name
}

// Deps is the dependency set shared by every variant. Keeping it identical
// across variants lets artifacts with equal feature sets share a cache entry.
type Deps struct {
	runtime []Dependency
	compile []Dependency

	// PkgConfigPath is the single package-config search path handed to the
	// compiler.
	PkgConfigPath string
}

// RuntimeLibraries returns the shared libraries needed when a variant runs.
func (d Deps) RuntimeLibraries() []Dependency {
	return slices.Clone(d.runtime)
}

// CompileTools returns the headers and tools needed during compilation.
func (d Deps) CompileTools() []Dependency {
	return slices.Clone(d.compile)
}

// WithRuntimeLibraries returns a copy of d with libs appended.
func (d Deps) WithRuntimeLibraries(libs ...Dependency) Deps {
	d.runtime = appendUnique(slices.Clone(d.runtime), libs)
	return d
}

// WithCompileTools returns a copy of d with tools appended.
func (d Deps) WithCompileTools(tools ...Dependency) Deps {
	d.compile = appendUnique(slices.Clone(d.compile), tools)
	return d
}

// WithPkgConfigPath returns a copy of d using path as package-config path.
func (d Deps) WithPkgConfigPath(path string) Deps {
	d.PkgConfigPath = path
	return d
}

func appendUnique(dst, src []Dependency) []Dependency {
	for _, dep := range src {
		if dep.Name == "" && dep.Path == "" {
			continue
		}
		if !slices.Contains(dst, dep) {
			dst = append(dst, dep)
		}
	}
	return dst
}

// -----------------------------------------------------------------------------

// CheckUnique returns a ConfigError naming the first duplicated variant name.
func CheckUnique(specs []Spec) error {
	seen := make(map[string]bool, len(specs))
	for _, s := range specs {
		if seen[s.Name] {
			return &ConfigError{Subject: s.Name, Reason: "duplicate variant name"}
		}
		seen[s.Name] = true
	}
	return nil
}
