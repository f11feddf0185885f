package internal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"

	"github.com/apodwall/vbuild/internal/config"
	"github.com/apodwall/vbuild/internal/pipeline"
	"github.com/qiniu/x/log"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"
)

var (
	configPath string
	verbose    bool
	jobs       int
	noCache    bool
)

var rootCmd = &cobra.Command{
	Use:   "vbuild",
	Short: "vbuild builds the variants of one source tree",
	Long: `vbuild compiles several products from one shared source tree, each with its
own feature set, wraps each into a package with a fixed runtime environment,
and composes the packages into bundles.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := log.Linfo
		if verbose {
			level = log.Ldebug
		}
		log.SetOutputLevel(level)
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "Pipeline file (default: vbuild.{yaml,toml,jsonc} in the current directory)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging and stream compiler output")
	flags.IntVarP(&jobs, "jobs", "j", 0, "Variants processed in parallel (default: number of CPUs)")
	flags.BoolVar(&noCache, "no-cache", false, "Neither use nor fill the artifact cache")
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, unix.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "vbuild:", err)
		os.Exit(exitCode(err))
	}
}

// exitCode passes through the status of a failed child process.
func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() > 0 {
		return exitErr.ExitCode()
	}
	return 1
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.Load(configPath)
	}
	return config.LoadDir(".")
}

func newPipeline(cmd *cobra.Command) (*pipeline.Pipeline, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return pipeline.New(cfg, pipeline.Options{
		Jobs:    jobs,
		NoCache: noCache,
		Verbose: verbose,
		Stderr:  cmd.ErrOrStderr(),
	})
}
