package internal

import (
	"context"

	"github.com/apodwall/vbuild/internal/env"
	"github.com/apodwall/vbuild/internal/pipeline"
	"github.com/qiniu/x/log"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch [variant...]",
	Short: "Rebuild on source changes",
	Long: `Watch wraps the named variants, or runs the whole pipeline, and repeats that
whenever a file of the source tree changes.`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// A fresh pipeline per round re-hashes the source tree.
	rebuild := func(ctx context.Context) error {
		p, err := newPipeline(cmd)
		if err != nil {
			return err
		}
		if len(args) == 0 {
			_, err = p.Run(ctx)
		} else {
			_, err = p.Wrap(ctx, args...)
		}
		return err
	}
	if err := rebuild(cmd.Context()); err != nil {
		log.Errorf("watch: %v", err)
	}
	exclude := []string{cfg.Output}
	if dir, err := env.WorkDir(); err == nil {
		exclude = append(exclude, dir)
	}
	log.Infof("watch: watching %s", cfg.Source)
	return pipeline.Watch(cmd.Context(), cfg.Source, exclude, pipeline.DefaultDebounce, rebuild)
}
