// Package fingerprint computes content hashes identifying build inputs.
//
// A fingerprint covers everything that can change the observable behaviour
// of a compiled variant: the source tree contents, the binary target, the
// enabled features and the compile-time environment. Timestamps, absolute
// checkout locations and other machine specific data are excluded, so two
// checkouts of the same tree built with the same inputs share a cache entry.
package fingerprint

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/zeebo/blake3"
)

// Hash is a 32-byte BLAKE3 digest.
type Hash [32]byte

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Short returns the first 16 hex characters of h.
func (h Hash) Short() string {
	return h.String()[:16]
}

// Parse decodes a hex encoded hash.
func Parse(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, err
	}
	if len(b) != len(h) {
		return h, fmt.Errorf("fingerprint: want %d bytes, got %d", len(h), len(b))
	}
	copy(h[:], b)
	return h, nil
}

// skipDirs are never part of a source tree fingerprint.
var skipDirs = map[string]bool{
	"target": true,
	".git":   true,
	".hg":    true,
	".jj":    true,
	"result": true,
}

// Ignored reports whether a directory named name is left out of tree
// fingerprints.
func Ignored(name string) bool {
	return skipDirs[name]
}

// Within returns those of paths lying strictly inside root, relative to
// root and slash separated.
func Within(root string, paths ...string) []string {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil
	}
	var rels []string
	for _, p := range paths {
		if p == "" {
			continue
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(absRoot, abs)
		if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		rels = append(rels, filepath.ToSlash(rel))
	}
	return rels
}

// Tree hashes the regular files and symlinks below root in lexical order.
// Each entry contributes its slash separated relative path, its executable
// bit and its content (or link target). Directories named in exclude, such
// as an output directory placed inside the tree, are skipped.
func Tree(root string, exclude ...string) (Hash, error) {
	h := blake3.New()
	writeField(h, "vbuild.tree.v1")
	skip := Within(root, exclude...)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if d.IsDir() {
			if rel != "." && (skipDirs[d.Name()] || slices.Contains(skip, filepath.ToSlash(rel))) {
				return filepath.SkipDir
			}
			return nil
		}
		rel = filepath.ToSlash(rel)

		switch {
		case d.Type()&fs.ModeSymlink != 0:
			target, err := os.Readlink(path)
			if err != nil {
				return err
			}
			writeField(h, "L", rel, target)
		case d.Type().IsRegular():
			info, err := d.Info()
			if err != nil {
				return err
			}
			kind := "F"
			if info.Mode()&0o111 != 0 {
				kind = "X"
			}
			writeField(h, kind, rel)
			if err := writeFile(h, path, info.Size()); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Hash{}, err
	}
	return sum(h), nil
}

func writeFile(h *blake3.Hasher, path string, size int64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(size))
	h.Write(n[:])
	_, err = io.Copy(h, f)
	return err
}

// Inputs are the components of an artifact fingerprint.
type Inputs struct {
	Tree          Hash
	Binary        string
	Features      []string
	PkgConfigPath string
	Toolchain     string
	CompileTools  []string
}

// Sum returns the fingerprint of in. Features and compile tools are sorted
// first, so declaration order does not matter.
func (in Inputs) Sum() Hash {
	h := blake3.New()
	writeField(h, "vbuild.artifact.v1")
	h.Write(in.Tree[:])
	writeField(h, in.Binary, in.PkgConfigPath, in.Toolchain)

	features := slices.Clone(in.Features)
	sort.Strings(features)
	writeList(h, features)

	tools := slices.Clone(in.CompileTools)
	sort.Strings(tools)
	writeList(h, tools)
	return sum(h)
}

// Bytes hashes data, e.g. a generated wrapper, in a domain distinct from
// Inputs.Sum.
func Bytes(data []byte) Hash {
	h := blake3.New()
	writeField(h, "vbuild.bytes.v1")
	h.Write(data)
	return sum(h)
}

// writeField writes each string length-prefixed so adjacent fields cannot
// run into each other.
func writeField(h *blake3.Hasher, fields ...string) {
	var n [8]byte
	for _, f := range fields {
		binary.BigEndian.PutUint64(n[:], uint64(len(f)))
		h.Write(n[:])
		h.Write([]byte(f))
	}
}

func writeList(h *blake3.Hasher, items []string) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(items)))
	h.Write(n[:])
	writeField(h, items...)
}

func sum(h *blake3.Hasher) Hash {
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}
