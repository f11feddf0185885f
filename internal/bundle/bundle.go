package bundle

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/apodwall/vbuild/internal/wrap"
	"github.com/apodwall/vbuild/variant"
	"github.com/qiniu/x/log"
)

// Policy decides which member provides a path two members both carry.
// Entry points never fall under a policy: they always conflict.
type Policy string

const (
	FirstWins Policy = "first-wins"
	LastWins  Policy = "last-wins"
	Error     Policy = "error"
)

// ParsePolicy parses a policy name. The empty string is FirstWins.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case "":
		return FirstWins, nil
	case FirstWins, LastWins, Error:
		return p, nil
	}
	return "", fmt.Errorf("unknown collision policy %q (want %s, %s or %s)", s, FirstWins, LastWins, Error)
}

// Bundle is a composed set of wrapped packages.
type Bundle struct {
	Name    string
	Dir     string
	Members []*wrap.Package
	// Files maps each path relative to Dir to the member file it links to.
	Files map[string]string
}

// EntryPoints returns the bundle's executables relative to Dir, sorted.
func (b *Bundle) EntryPoints() []string {
	eps := make([]string, 0, len(b.Members))
	for _, m := range b.Members {
		eps = append(eps, m.EntryPoint())
	}
	slices.Sort(eps)
	return eps
}

// Composer builds bundles under <OutputDir>/bundles.
type Composer struct {
	OutputDir string
	Policy    Policy
}

// New returns a Composer with the given collision policy.
func New(outputDir string, policy Policy) *Composer {
	return &Composer{OutputDir: outputDir, Policy: policy}
}

// Dir returns the directory of the named bundle.
func (c *Composer) Dir(name string) string {
	return filepath.Join(c.OutputDir, "bundles", name)
}

type source struct {
	path  string
	owner string
}

// Compose unions members into one directory tree of symlinks and replaces
// any previous bundle of the same name.
func (c *Composer) Compose(name string, members []*wrap.Package) (*Bundle, error) {
	if name == "" || strings.ContainsRune(name, filepath.Separator) || name == "." || name == ".." {
		return nil, &variant.ConfigError{Subject: name, Reason: "invalid bundle name"}
	}
	if len(members) == 0 {
		return nil, &variant.ConfigError{Subject: name, Reason: "bundle has no members"}
	}
	policy := c.Policy
	if policy == "" {
		policy = FirstWins
	}
	if _, err := ParsePolicy(string(policy)); err != nil {
		return nil, &variant.ConfigError{Subject: name, Reason: "invalid collision policy", Err: err}
	}

	seen := make(map[string]bool, len(members))
	entries := make(map[string]string, len(members))
	for _, m := range members {
		if seen[m.Name()] {
			return nil, &variant.ConfigError{Subject: name, Reason: fmt.Sprintf("variant %q listed twice", m.Name())}
		}
		seen[m.Name()] = true
		ep := m.EntryPoint()
		if prev, ok := entries[ep]; ok {
			return nil, &variant.BundleConflict{Bundle: name, Path: ep, First: prev, Second: m.Name()}
		}
		entries[ep] = m.Name()
	}

	files := make(map[string]source)
	for _, m := range members {
		err := walkFiles(m.Dir, func(rel, path string) error {
			prev, ok := files[rel]
			if !ok {
				files[rel] = source{path: path, owner: m.Name()}
				return nil
			}
			switch policy {
			case Error:
				return &variant.BundleConflict{Bundle: name, Path: rel, First: prev.owner, Second: m.Name()}
			case LastWins:
				log.Debugf("bundle %s: %s from %s replaces %s", name, rel, m.Name(), prev.owner)
				files[rel] = source{path: path, owner: m.Name()}
			default:
				log.Debugf("bundle %s: %s from %s kept over %s", name, rel, prev.owner, m.Name())
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	b := &Bundle{
		Name:    name,
		Dir:     c.Dir(name),
		Members: slices.Clone(members),
		Files:   make(map[string]string, len(files)),
	}
	for rel, src := range files {
		b.Files[rel] = src.path
	}
	if err := link(b); err != nil {
		return nil, fmt.Errorf("bundle %s: %w", name, err)
	}
	log.Infof("bundle %s: %d members, %d files", name, len(members), len(files))
	return b, nil
}

// walkFiles calls fn for every non-directory under root in lexical order,
// with its slash-separated path relative to root.
func walkFiles(root string, fn func(rel, path string) error) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		return fn(filepath.ToSlash(rel), path)
	})
}

// link materialises b in a fresh directory and swaps it into place.
func link(b *Bundle) error {
	parent := filepath.Dir(b.Dir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return err
	}
	tmp, err := os.MkdirTemp(parent, "."+b.Name+".tmp-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmp)

	rels := make([]string, 0, len(b.Files))
	for rel := range b.Files {
		rels = append(rels, rel)
	}
	slices.Sort(rels)
	for _, rel := range rels {
		target, err := filepath.Abs(b.Files[rel])
		if err != nil {
			return err
		}
		dst := filepath.Join(tmp, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		if err := os.Symlink(target, dst); err != nil {
			return err
		}
	}
	if err := os.Chmod(tmp, 0o755); err != nil {
		return err
	}
	if err := os.RemoveAll(b.Dir); err != nil {
		return err
	}
	return os.Rename(tmp, b.Dir)
}
