package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/apodwall/vbuild/internal/bundle"
	"github.com/apodwall/vbuild/internal/wrap"
	"github.com/apodwall/vbuild/variant"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// FileNames lists the configuration files Find looks for, in order.
var FileNames = []string{"vbuild.yaml", "vbuild.yml", "vbuild.toml", "vbuild.jsonc", "vbuild.json"}

// Config is a declarative pipeline description.
type Config struct {
	// Source is the shared source tree.
	Source string `yaml:"source" toml:"source" json:"source"`
	// Output receives artifacts, packages and bundles.
	Output        string               `yaml:"output" toml:"output" json:"output"`
	PkgConfigPath string               `yaml:"pkgConfigPath" toml:"pkgConfigPath" json:"pkgConfigPath"`
	Deps          Deps                 `yaml:"deps" toml:"deps" json:"deps"`
	DevTools      []variant.Dependency `yaml:"devTools" toml:"devTools" json:"devTools"`
	Variants      []Variant            `yaml:"variants" toml:"variants" json:"variants"`
	Bundles       []Bundle             `yaml:"bundles" toml:"bundles" json:"bundles"`

	// Path is the file the configuration was read from, empty for defaults.
	Path string `yaml:"-" toml:"-" json:"-"`
}

// Deps is the dependency set shared by every variant.
type Deps struct {
	Runtime []variant.Dependency `yaml:"runtime" toml:"runtime" json:"runtime"`
	Compile []variant.Dependency `yaml:"compile" toml:"compile" json:"compile"`
}

// Variant describes one product of the source tree.
type Variant struct {
	Name        string   `yaml:"name" toml:"name" json:"name"`
	Binary      string   `yaml:"binary" toml:"binary" json:"binary"`
	Description string   `yaml:"description,omitempty" toml:"description,omitempty" json:"description,omitempty"`
	Features    []string `yaml:"features" toml:"features" json:"features"`
	Aux         []string `yaml:"aux" toml:"aux" json:"aux"`
	// Files installs extra files into the package: destination relative to
	// the package directory mapped to a source file.
	Files map[string]string `yaml:"files,omitempty" toml:"files,omitempty" json:"files,omitempty"`
}

// Bundle groups wrapped variants under one directory.
type Bundle struct {
	Name      string   `yaml:"name" toml:"name" json:"name"`
	Members   []string `yaml:"members" toml:"members" json:"members"`
	Collision string   `yaml:"collision,omitempty" toml:"collision,omitempty" json:"collision,omitempty"`
}

// Default returns the built-in description of the apod-wallpaper variants.
func Default() *Config {
	return &Config{
		Source: ".",
		Output: "result",
		Deps: Deps{
			Runtime: []variant.Dependency{
				{Name: "dbus-1"},
				{Name: "ssl"},
				{Name: "crypto"},
				{Name: "wayland-client"},
				{Name: "xkbcommon"},
				{Name: "fontconfig"},
			},
			Compile: []variant.Dependency{
				{Name: "pkg-config"},
				{Name: "cargo"},
				{Name: "rustc"},
			},
		},
		DevTools: []variant.Dependency{
			{Name: "rust-analyzer"},
			{Name: "clippy-driver"},
			{Name: "rustfmt"},
		},
		Variants: []Variant{
			{Name: "cli", Binary: "apod-wallpaper", Description: "NASA APOD wallpaper command-line tool", Features: []string{"cli"}, Aux: []string{"exiftool"}},
			{Name: "gui", Binary: "apod-wallpaper-switcher", Description: "NASA APOD wallpaper browser", Features: []string{"gui"}, Aux: []string{"exiftool"}},
			{Name: "applet", Binary: "apod-wallpaper-applet", Description: "NASA APOD wallpaper tray applet", Features: []string{"applet"}, Aux: []string{"cli", "gui", "exiftool"}},
		},
		Bundles: []Bundle{
			{Name: "all", Members: []string{"cli", "gui", "applet"}},
		},
	}
}

// Find returns the first configuration file of FileNames present in dir,
// or "" when there is none.
func Find(dir string) (string, error) {
	for _, name := range FileNames {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		} else if !os.IsNotExist(err) {
			return "", err
		}
	}
	return "", nil
}

// Load reads the configuration at path. Keys absent from the file take
// their Default value; relative paths are resolved against the file's
// directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg, err := Parse(data, formatOf(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	cfg.Path = abs
	cfg.resolvePaths(filepath.Dir(abs))
	return cfg, nil
}

// LoadDir loads the configuration file found in dir, or the defaults
// rooted at dir when there is none.
func LoadDir(dir string) (*Config, error) {
	path, err := Find(dir)
	if err != nil {
		return nil, err
	}
	if path != "" {
		return Load(path)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	cfg.resolvePaths(abs)
	return cfg, nil
}

func formatOf(path string) string {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yml":
		return "yaml"
	case ".json":
		return "jsonc"
	default:
		return strings.TrimPrefix(ext, ".")
	}
}

// Parse decodes data in format "yaml", "toml" or "jsonc". Unknown keys
// are errors.
func Parse(data []byte, format string) (*Config, error) {
	cfg := new(Config)
	switch format {
	case "yaml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	case "toml":
		meta, err := toml.Decode(string(data), cfg)
		if err != nil {
			return nil, fmt.Errorf("parse toml: %w", err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("parse toml: unknown key %s", undecoded[0])
		}
	case "jsonc":
		dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("parse jsonc: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q", format)
	}
	cfg.applyDefaults()
	return cfg, nil
}

// applyDefaults fills absent keys from Default. The default bundles only
// apply together with the default variants.
func (c *Config) applyDefaults() {
	def := Default()
	if c.Source == "" {
		c.Source = def.Source
	}
	if c.Output == "" {
		c.Output = def.Output
	}
	if c.Deps.Runtime == nil {
		c.Deps.Runtime = def.Deps.Runtime
	}
	if c.Deps.Compile == nil {
		c.Deps.Compile = def.Deps.Compile
	}
	if c.DevTools == nil {
		c.DevTools = def.DevTools
	}
	if c.Variants == nil {
		c.Variants = def.Variants
		if c.Bundles == nil {
			c.Bundles = def.Bundles
		}
	}
}

func (c *Config) resolvePaths(dir string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dir, p)
	}
	c.Source = abs(c.Source)
	c.Output = abs(c.Output)
	for _, deps := range [][]variant.Dependency{c.Deps.Runtime, c.Deps.Compile, c.DevTools} {
		for i := range deps {
			deps[i].Path = abs(deps[i].Path)
		}
	}
	for i := range c.Variants {
		for dst, src := range c.Variants[i].Files {
			c.Variants[i].Files[dst] = abs(src)
		}
	}
}

// -----------------------------------------------------------------------------

// Spec converts v to a variant spec.
func (v Variant) Spec() variant.Spec {
	return variant.New(v.Name, v.Binary).
		WithDescription(v.Description).
		WithFeatures(v.Features...).
		WithAuxiliary(v.Aux...)
}

// Specs returns the specs of all variants, validated.
func (c *Config) Specs() ([]variant.Spec, error) {
	specs := make([]variant.Spec, 0, len(c.Variants))
	for _, v := range c.Variants {
		s := v.Spec()
		if err := s.Validate(); err != nil {
			return nil, err
		}
		specs = append(specs, s)
	}
	if err := variant.CheckUnique(specs); err != nil {
		return nil, err
	}
	return specs, nil
}

// Variant returns the named variant.
func (c *Config) Variant(name string) (Variant, error) {
	for _, v := range c.Variants {
		if v.Name == name {
			return v, nil
		}
	}
	return Variant{}, &variant.ConfigError{Subject: name, Reason: "unknown variant (known: " + strings.Join(c.VariantNames(), ", ") + ")"}
}

// VariantNames returns the variant names in declaration order.
func (c *Config) VariantNames() []string {
	names := make([]string, 0, len(c.Variants))
	for _, v := range c.Variants {
		names = append(names, v.Name)
	}
	return names
}

// Siblings returns the other variants whose packages v puts on PATH: its
// auxiliary executables that name a configured variant.
func (c *Config) Siblings(v Variant) []string {
	var sibs []string
	for _, a := range v.Aux {
		if a != v.Name && slices.Contains(c.VariantNames(), a) && !slices.Contains(sibs, a) {
			sibs = append(sibs, a)
		}
	}
	return sibs
}

// checkSiblings rejects variants listing themselves as auxiliary
// executables and sibling cycles.
func (c *Config) checkSiblings() error {
	const (
		visiting = 1
		done     = 2
	)
	state := make(map[string]int, len(c.Variants))
	var visit func(v Variant, path []string) error
	visit = func(v Variant, path []string) error {
		switch state[v.Name] {
		case done:
			return nil
		case visiting:
			return &variant.ConfigError{Subject: v.Name, Reason: "sibling cycle " + strings.Join(append(path, v.Name), " -> ")}
		}
		state[v.Name] = visiting
		for _, sib := range c.Siblings(v) {
			dep, _ := c.Variant(sib)
			if err := visit(dep, append(path, v.Name)); err != nil {
				return err
			}
		}
		state[v.Name] = done
		return nil
	}
	for _, v := range c.Variants {
		if slices.Contains(v.Aux, v.Name) {
			return &variant.ConfigError{Subject: v.Name, Reason: "variant lists itself as an auxiliary executable"}
		}
	}
	for _, v := range c.Variants {
		if err := visit(v, nil); err != nil {
			return err
		}
	}
	return nil
}

// SharedDeps returns the dependency set shared by every variant.
func (c *Config) SharedDeps() variant.Deps {
	return variant.Deps{}.
		WithRuntimeLibraries(c.Deps.Runtime...).
		WithCompileTools(c.Deps.Compile...).
		WithPkgConfigPath(c.PkgConfigPath)
}

// Bundle returns the named bundle.
func (c *Config) Bundle(name string) (Bundle, error) {
	for _, b := range c.Bundles {
		if b.Name == name {
			return b, nil
		}
	}
	return Bundle{}, &variant.ConfigError{Subject: name, Reason: "unknown bundle"}
}

// Validate checks the whole configuration without touching the source
// tree. Duplicate bundle members are left to the bundle composer.
func (c *Config) Validate() error {
	if c.Source == "" {
		return &variant.ConfigError{Subject: "config", Reason: "no source tree"}
	}
	if c.Output == "" {
		return &variant.ConfigError{Subject: "config", Reason: "no output directory"}
	}
	if len(c.Variants) == 0 {
		return &variant.ConfigError{Subject: "config", Reason: "no variants"}
	}
	if _, err := c.Specs(); err != nil {
		return err
	}
	for _, v := range c.Variants {
		for rel := range v.Files {
			if err := wrap.CheckFile(v.Spec(), rel); err != nil {
				return err
			}
		}
	}
	if err := c.checkSiblings(); err != nil {
		return err
	}
	for _, deps := range [][]variant.Dependency{c.Deps.Runtime, c.Deps.Compile, c.DevTools} {
		for _, d := range deps {
			if d.Name == "" {
				return &variant.ConfigError{Subject: d.String(), Reason: "dependency without a name"}
			}
		}
	}

	bundles := make(map[string]bool, len(c.Bundles))
	for _, b := range c.Bundles {
		if b.Name == "" {
			return &variant.ConfigError{Subject: "config", Reason: "bundle without a name"}
		}
		if bundles[b.Name] {
			return &variant.ConfigError{Subject: b.Name, Reason: "duplicate bundle name"}
		}
		bundles[b.Name] = true
		if _, err := bundle.ParsePolicy(b.Collision); err != nil {
			return &variant.ConfigError{Subject: b.Name, Reason: "invalid collision policy", Err: err}
		}
		for _, m := range b.Members {
			if !slices.Contains(c.VariantNames(), m) {
				return &variant.ConfigError{Subject: b.Name, Reason: fmt.Sprintf("unknown member %q", m)}
			}
		}
	}
	return nil
}
