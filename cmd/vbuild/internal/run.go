package internal

import (
	"github.com/apodwall/vbuild/internal/wrap"
	"github.com/spf13/cobra"
)

var runNoBuild bool

var runCmd = &cobra.Command{
	Use:   "run <variant> [-- args...]",
	Short: "Build, wrap and run a variant",
	Long: `Run builds and wraps the variant, then replaces vbuild with it under the
wrapper environment. The exit status is the variant's own.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().BoolVar(&runNoBuild, "no-build", false, "Run the package from the last wrap")
	runCmd.Flags().SetInterspersed(false)
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	name, rest := args[0], args[1:]
	if len(rest) > 0 && rest[0] == "--" {
		rest = rest[1:]
	}
	p, err := newPipeline(cmd)
	if err != nil {
		return err
	}
	if !runNoBuild {
		if _, err := p.Wrap(cmd.Context(), name); err != nil {
			return err
		}
	}
	pkg, err := p.Package(name)
	if err != nil {
		return err
	}
	return wrap.Launch(pkg, rest)
}
