package internal

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	devenvFormat string
	devenvShell  bool
)

var devenvCmd = &cobra.Command{
	Use:   "devenv",
	Short: "Print or enter the development environment",
	Long: `Devenv resolves every tool and library any variant needs to build or run,
plus the configured development tools, and prints the resulting environment.
With --shell it starts $SHELL inside that environment instead.`,
	Args: cobra.NoArgs,
	RunE: runDevenv,
}

func init() {
	devenvCmd.Flags().StringVarP(&devenvFormat, "format", "f", "env", "Output format: env or json")
	devenvCmd.Flags().BoolVar(&devenvShell, "shell", false, "Start an interactive shell in the environment")
	rootCmd.AddCommand(devenvCmd)
}

func runDevenv(cmd *cobra.Command, args []string) error {
	p, err := newPipeline(cmd)
	if err != nil {
		return err
	}
	d, err := p.DevEnv(cmd.Context())
	if err != nil {
		return err
	}
	if devenvShell {
		return d.Shell(cmd.Context(), "")
	}
	switch devenvFormat {
	case "env":
		return d.WriteDotenv(cmd.OutOrStdout())
	case "json":
		return d.WriteJSON(cmd.OutOrStdout())
	}
	return fmt.Errorf("unknown format %q (want env or json)", devenvFormat)
}
