package wrap

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/apodwall/vbuild/pkgs/gnu"
	"github.com/apodwall/vbuild/variant"
	"golang.org/x/sys/unix"
)

var errNotFound = errors.New("not found")

// Resolver maps declared dependencies to concrete filesystem paths.
type Resolver struct {
	// SearchPath is scanned, in order, for executables declared by name.
	SearchPath []string
	// LibraryRoots is scanned, in order, for shared libraries declared by name.
	LibraryRoots []string
	// Executables pins executables to explicit paths by name.
	Executables map[string]string
}

// NewResolver returns a Resolver searching the current PATH and the
// system library directories.
func NewResolver() *Resolver {
	return &Resolver{
		SearchPath:   filepath.SplitList(os.Getenv("PATH")),
		LibraryRoots: DefaultLibraryRoots(),
	}
}

// DefaultLibraryRoots returns the usual shared library directories of the
// host, multiarch directories first.
func DefaultLibraryRoots() []string {
	var roots []string
	if triple := multiarch(); triple != "" {
		roots = append(roots, "/usr/lib/"+triple, "/lib/"+triple)
	}
	return append(roots, "/usr/local/lib", "/usr/lib64", "/lib64", "/usr/lib", "/lib")
}

func multiarch() string {
	switch runtime.GOARCH {
	case "amd64":
		return "x86_64-linux-gnu"
	case "arm64":
		return "aarch64-linux-gnu"
	case "386":
		return "i386-linux-gnu"
	case "riscv64":
		return "riscv64-linux-gnu"
	}
	return ""
}

// Executable returns the absolute path of the executable named name.
func (r *Resolver) Executable(name string) (string, error) {
	if p, ok := r.Executables[name]; ok {
		return executableAt(p, name)
	}
	if strings.ContainsRune(name, filepath.Separator) {
		return executableAt(name, filepath.Base(name))
	}
	for _, dir := range r.SearchPath {
		if dir == "" {
			// An empty PATH element means the working directory, which
			// would make the wrapper depend on where it is started.
			continue
		}
		if p := filepath.Join(dir, name); isExecutable(p) {
			return filepath.Abs(p)
		}
	}
	return "", fmt.Errorf("executable %s: %w in search path", name, errNotFound)
}

// Tool resolves a declared tool dependency; a Path may name the executable
// itself or a prefix directory holding it.
func (r *Resolver) Tool(dep variant.Dependency) (string, error) {
	if dep.Path != "" {
		return executableAt(dep.Path, dep.Name)
	}
	return r.Executable(dep.Name)
}

// executableAt accepts an executable file, or a prefix directory holding
// bin/<name> or <name>.
func executableAt(path, name string) (string, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if fi.IsDir() {
		for _, p := range []string{filepath.Join(path, "bin", name), filepath.Join(path, name)} {
			if isExecutable(p) {
				return filepath.Abs(p)
			}
		}
		return "", fmt.Errorf("executable %s: %w under %s", name, errNotFound, path)
	}
	if !isExecutable(path) {
		return "", fmt.Errorf("%s is not executable", path)
	}
	return filepath.Abs(path)
}

func isExecutable(path string) bool {
	fi, err := os.Stat(path)
	if err != nil || !fi.Mode().IsRegular() {
		return false
	}
	return unix.Access(path, unix.X_OK) == nil
}

// Library returns the directory holding the shared library dep.
func (r *Resolver) Library(dep variant.Dependency) (string, error) {
	if dep.Path != "" {
		return libraryAt(dep.Path)
	}
	for _, root := range r.LibraryRoots {
		if hasLibrary(root, dep.Name) {
			return filepath.Abs(root)
		}
	}
	return "", fmt.Errorf("library %s: %w in %s", dep.Name, errNotFound, strings.Join(r.LibraryRoots, ":"))
}

// libraryAt accepts a library file, a prefix whose lib/ subdirectory
// exists, or a plain directory.
func libraryAt(path string) (string, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if !fi.IsDir() {
		return filepath.Abs(filepath.Dir(path))
	}
	if sub := filepath.Join(path, "lib"); isDir(sub) {
		return filepath.Abs(sub)
	}
	return filepath.Abs(path)
}

// hasLibrary reports whether dir holds lib<name>.so or a versioned
// lib<name>.so.N. A name already starting with "lib" is used as is.
func hasLibrary(dir, name string) bool {
	return len(libraryFiles(dir, name)) > 0
}

// Soname returns the base name of the newest file providing library name
// in dir, or "" if there is none.
func Soname(dir, name string) string {
	return gnu.Latest(libraryFiles(dir, name))
}

func libraryFiles(dir, name string) []string {
	base := name
	if !strings.HasPrefix(base, "lib") {
		base = "lib" + base
	}
	if strings.Contains(base, ".so") {
		if _, err := os.Stat(filepath.Join(dir, base)); err != nil {
			return nil
		}
		return []string{base}
	}
	matches, _ := filepath.Glob(filepath.Join(dir, base+".so*"))
	var files []string
	for _, m := range matches {
		file := filepath.Base(m)
		if rest := strings.TrimPrefix(file, base+".so"); rest == "" || rest[0] == '.' {
			files = append(files, file)
		}
	}
	return files
}

func isDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}
