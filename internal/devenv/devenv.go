package devenv

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"

	"github.com/apodwall/vbuild/internal/wrap"
	"github.com/apodwall/vbuild/variant"
	"github.com/joho/godotenv"
	"github.com/qiniu/x/log"
)

// Variables set by the development environment besides PATH and
// LD_LIBRARY_PATH.
const (
	PkgConfigPathVar   = "PKG_CONFIG_PATH"
	ToolchainSourceVar = "RUST_SRC_PATH"
)

// subject names the development environment in errors.
const subject = "devenv"

// Toolchain locates the toolchain's own source tree.
type Toolchain interface {
	SysrootSource(ctx context.Context) string
}

// Options configures Provision.
type Options struct {
	Resolver *wrap.Resolver
	// Toolchain is optional; without it ToolchainSource stays empty.
	Toolchain Toolchain
}

// Descriptor is a development environment able to build and run every
// variant it was provisioned for.
type Descriptor struct {
	Variants        []string          `json:"variants"`
	Paths           []string          `json:"paths"`
	LibraryPaths    []string          `json:"library_paths"`
	PkgConfigPath   string            `json:"pkg_config_path,omitempty"`
	ToolchainSource string            `json:"toolchain_source,omitempty"`
	Tools           map[string]string `json:"tools"`
	Libraries       map[string]string `json:"libraries"`

	// Sonames holds the newest shared object found for each library.
	Sonames map[string]string `json:"sonames,omitempty"`
}

// Provision resolves the union of every spec's auxiliary executables, the
// shared runtime libraries and compile tools, and devTools. Its PATH and
// library sets contain those of any single wrapped variant.
func Provision(ctx context.Context, specs []variant.Spec, deps variant.Deps, devTools []variant.Dependency, opts Options) (*Descriptor, error) {
	r := opts.Resolver
	if r == nil {
		r = wrap.NewResolver()
	}
	d := &Descriptor{
		PkgConfigPath: deps.PkgConfigPath,
		Tools:         make(map[string]string),
		Libraries:     make(map[string]string),
		Sonames:       make(map[string]string),
	}

	names := make([]string, 0, len(specs))
	for _, spec := range specs {
		names = append(names, spec.Name)
	}
	for _, spec := range specs {
		d.Variants = append(d.Variants, spec.Name)
		for _, exe := range spec.AuxiliaryExecutables() {
			// Sibling variants are built from the shell itself.
			if slices.Contains(names, exe) {
				continue
			}
			path, err := r.Executable(exe)
			if err != nil {
				return nil, &variant.WrapFailure{Variant: subject, Dependency: exe, Err: err}
			}
			d.addTool(exe, path)
		}
	}
	for _, lib := range deps.RuntimeLibraries() {
		dir, err := r.Library(lib)
		if err != nil {
			return nil, &variant.WrapFailure{Variant: subject, Dependency: lib.Name, Err: err}
		}
		d.addLibrary(lib.Name, dir)
	}
	// Compile dependencies are either tools or libraries carrying headers.
	for _, dep := range deps.CompileTools() {
		path, err := r.Tool(dep)
		if err == nil {
			d.addTool(dep.Name, path)
			continue
		}
		dir, lerr := r.Library(dep)
		if lerr != nil {
			return nil, &variant.WrapFailure{Variant: subject, Dependency: dep.Name, Err: errors.Join(err, lerr)}
		}
		d.addLibrary(dep.Name, dir)
	}
	for _, dep := range devTools {
		path, err := r.Tool(dep)
		if err != nil {
			return nil, &variant.WrapFailure{Variant: subject, Dependency: dep.Name, Err: err}
		}
		d.addTool(dep.Name, path)
	}

	if opts.Toolchain != nil {
		d.ToolchainSource = opts.Toolchain.SysrootSource(ctx)
		if d.ToolchainSource == "" {
			log.Warnf("devenv: toolchain source not found; %s left unset", ToolchainSourceVar)
		}
	}
	log.Debugf("devenv: %d tools, %d libraries", len(d.Tools), len(d.Libraries))
	return d, nil
}

func (d *Descriptor) addTool(name, path string) {
	d.Tools[name] = path
	if dir := filepath.Dir(path); !slices.Contains(d.Paths, dir) {
		d.Paths = append(d.Paths, dir)
	}
}

func (d *Descriptor) addLibrary(name, dir string) {
	d.Libraries[name] = dir
	if so := wrap.Soname(dir, name); so != "" {
		d.Sonames[name] = so
	}
	if !slices.Contains(d.LibraryPaths, dir) {
		d.LibraryPaths = append(d.LibraryPaths, dir)
	}
}

// Env returns the PATH and LD_LIBRARY_PATH part of d.
func (d *Descriptor) Env() wrap.Env {
	return wrap.Env{PathPrefix: slices.Clone(d.Paths), LibraryPath: slices.Clone(d.LibraryPaths)}
}

// Environ applies d to base, a list of KEY=VALUE pairs.
func (d *Descriptor) Environ(base []string) []string {
	env := wrap.ComputeEnv(base, d.Env())
	env = setVar(env, PkgConfigPathVar, d.PkgConfigPath)
	return setVar(env, ToolchainSourceVar, d.ToolchainSource)
}

func setVar(env []string, key, value string) []string {
	env = slices.DeleteFunc(env, func(kv string) bool {
		return strings.HasPrefix(kv, key+"=")
	})
	if value == "" {
		return env
	}
	return append(env, key+"="+value)
}

// Variables returns the variables d sets on top of the current process
// environment.
func (d *Descriptor) Variables() map[string]string {
	vars := make(map[string]string)
	for _, kv := range d.Environ(os.Environ()) {
		k, v, _ := strings.Cut(kv, "=")
		switch k {
		case wrap.PathVar, wrap.LibraryPathVar, PkgConfigPathVar, ToolchainSourceVar:
			vars[k] = v
		}
	}
	return vars
}

// WriteDotenv writes Variables in dotenv format.
func (d *Descriptor) WriteDotenv(w io.Writer) error {
	s, err := godotenv.Marshal(d.Variables())
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, s+"\n")
	return err
}

// WriteJSON writes d as indented JSON.
func (d *Descriptor) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(d)
}

// Shell runs shell with args inside the environment, attached to the
// current standard streams. An empty shell means $SHELL, then /bin/sh.
func (d *Descriptor) Shell(ctx context.Context, shell string, args ...string) error {
	if shell == "" {
		shell = os.Getenv("SHELL")
	}
	if shell == "" {
		shell = "/bin/sh"
	}
	cmd := exec.CommandContext(ctx, shell, args...)
	cmd.Env = d.Environ(os.Environ())
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	log.Infof("devenv: entering %s", shell)
	return cmd.Run()
}
