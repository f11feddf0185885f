package wrap

import (
	"bytes"
	"os"
	"strings"
)

// Shim returns the POSIX shell wrapper that runs the inner artifact named
// binary under env. The artifact is found at ../libexec/<binary> relative
// to the shim itself, so a package or bundle keeps working when moved or
// unpacked elsewhere. The script exec's the artifact, so arguments,
// standard streams and the exit status pass through unchanged.
func Shim(binary string, env Env) []byte {
	var b bytes.Buffer
	b.WriteString("#!/bin/sh\n")
	b.WriteString("# Generated by vbuild. Do not edit.\n")
	b.WriteString("case $0 in\n*/*) here=$(cd -- \"${0%/*}\" && pwd) ;;\n*) here=$(pwd) ;;\nesac\n")
	if len(env.PathPrefix) > 0 {
		b.WriteString(PathVar + "=")
		if len(env.Siblings) > 0 {
			b.WriteString(`"$here":`)
		}
		b.WriteString(quote(strings.Join(env.PathPrefix, ":")) + "${" + PathVar + ":+':'}\"$" + PathVar + "\"\n")
		b.WriteString("export " + PathVar + "\n")
	}
	if len(env.LibraryPath) > 0 {
		b.WriteString(LibraryPathVar + "=" + quote(strings.Join(env.LibraryPath, ":")) + "\n")
		b.WriteString("export " + LibraryPathVar + "\n")
	} else {
		b.WriteString("unset " + LibraryPathVar + "\n")
	}
	b.WriteString(`exec "$here"/` + quote("../"+libexecDir+"/"+binary) + " \"$@\"\n")
	return b.Bytes()
}

// quote single-quotes s for the shell.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// ComputeEnv applies env to base, a list of KEY=VALUE pairs as returned by
// os.Environ: PATH gains env.PathPrefix in front of its previous value and
// LD_LIBRARY_PATH is replaced by env.LibraryPath. base is not modified.
func ComputeEnv(base []string, env Env) []string {
	out := make([]string, 0, len(base)+2)
	oldPath, hasPath := "", false
	for _, kv := range base {
		k, v, _ := strings.Cut(kv, "=")
		switch k {
		case PathVar:
			oldPath, hasPath = v, true
			continue
		case LibraryPathVar:
			continue
		}
		out = append(out, kv)
	}

	path := strings.Join(env.PathPrefix, ":")
	switch {
	case path == "":
		path = oldPath
	case hasPath && oldPath != "":
		path += ":" + oldPath
	}
	if path != "" || hasPath {
		out = append(out, PathVar+"="+path)
	}
	if len(env.LibraryPath) > 0 {
		out = append(out, LibraryPathVar+"="+strings.Join(env.LibraryPath, ":"))
	}
	return out
}

// Environ returns the environment the package's inner artifact runs with
// when started from the current process.
func (p *Package) Environ() []string {
	return ComputeEnv(os.Environ(), p.Env)
}
