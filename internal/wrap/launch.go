package wrap

import (
	"context"
	"os"
	"os/exec"

	"golang.org/x/sys/unix"
)

// Command returns a command running p's inner artifact with args under the
// wrapper environment. Standard streams are those of the current process.
func (p *Package) Command(ctx context.Context, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, p.InnerPath, args...)
	cmd.Args[0] = p.Artifact.Spec.BinaryName
	cmd.Env = p.Environ()
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd
}

// Launch replaces the current process with p's inner artifact, the same
// way the shim does. It only returns on failure.
func Launch(p *Package, args []string) error {
	argv := append([]string{p.Artifact.Spec.BinaryName}, args...)
	return unix.Exec(p.InnerPath, argv, p.Environ())
}
