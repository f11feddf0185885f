package cargo

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/apodwall/vbuild/pkgs/buildsys"
)

const manifestFile = "Cargo.toml"

type binTarget struct {
	Name             string   `toml:"name"`
	Path             string   `toml:"path"`
	RequiredFeatures []string `toml:"required-features"`
}

// Manifest is the subset of Cargo.toml the pipeline reads.
type Manifest struct {
	Package struct {
		Name        string `toml:"name"`
		Version     string `toml:"version"`
		RustVersion string `toml:"rust-version"`
		Autobins    *bool  `toml:"autobins"`
	} `toml:"package"`

	FeatureTable map[string][]string `toml:"features"`
	Bin          []binTarget         `toml:"bin"`
	Dependencies map[string]any      `toml:"dependencies"`

	dir string
}

// LoadManifest parses the Cargo.toml found in dir.
func LoadManifest(dir string) (*Manifest, error) {
	path := filepath.Join(dir, manifestFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if _, err := toml.Decode(string(data), &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if m.Package.Name == "" {
		return nil, fmt.Errorf("%s: missing [package] name", path)
	}
	m.dir = dir
	return &m, nil
}

// Features returns the sorted feature flags declared by the manifest.
// Optional dependencies count as implicit features unless some feature
// refers to them with the "dep:" prefix.
func (m *Manifest) Features() []string {
	set := make(map[string]bool, len(m.FeatureTable))
	explicitDep := make(map[string]bool)
	for name, enables := range m.FeatureTable {
		set[name] = true
		for _, e := range enables {
			if dep, ok := strings.CutPrefix(e, "dep:"); ok {
				explicitDep[dep] = true
			}
		}
	}
	for name, v := range m.Dependencies {
		tbl, ok := v.(map[string]any)
		if !ok {
			continue
		}
		if optional, _ := tbl["optional"].(bool); optional && !explicitDep[name] {
			set[name] = true
		}
	}
	// "default" selects features; it is never passed as a flag itself.
	delete(set, "default")

	features := make([]string, 0, len(set))
	for f := range set {
		features = append(features, f)
	}
	sort.Strings(features)
	return features
}

// Targets returns the binary targets: explicit [[bin]] entries first, then
// the ones discovered from src/main.rs and src/bin unless autobins is off.
func (m *Manifest) Targets() []buildsys.Target {
	var targets []buildsys.Target
	seen := make(map[string]bool)
	add := func(name string, required []string) {
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		targets = append(targets, buildsys.Target{Name: name, RequiredFeatures: required})
	}

	for _, b := range m.Bin {
		name := b.Name
		if name == "" && b.Path != "" {
			name = strings.TrimSuffix(filepath.Base(b.Path), ".rs")
		}
		add(name, b.RequiredFeatures)
	}
	if m.Package.Autobins != nil && !*m.Package.Autobins {
		return targets
	}

	if fileExists(filepath.Join(m.dir, "src", "main.rs")) {
		add(m.Package.Name, nil)
	}
	entries, err := os.ReadDir(filepath.Join(m.dir, "src", "bin"))
	if err != nil {
		return targets
	}
	for _, e := range entries {
		switch {
		case e.IsDir() && fileExists(filepath.Join(m.dir, "src", "bin", e.Name(), "main.rs")):
			add(e.Name(), nil)
		case !e.IsDir() && strings.HasSuffix(e.Name(), ".rs"):
			add(strings.TrimSuffix(e.Name(), ".rs"), nil)
		}
	}
	return targets
}

func fileExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && !fi.IsDir()
}
