package internal

import (
	"fmt"
	"io"
	"slices"

	"github.com/apodwall/vbuild/internal/pipeline"
	"github.com/spf13/cobra"
)

var buildCmd = &cobra.Command{
	Use:   "build [variant...]",
	Short: "Compile variants",
	Long: `Build compiles the named variants, or all of them, and places each binary
at <output>/artifacts/<variant>/<binary>.`,
	RunE: runBuild,
}

func init() {
	rootCmd.AddCommand(buildCmd)
}

func runBuild(cmd *cobra.Command, args []string) error {
	p, err := newPipeline(cmd)
	if err != nil {
		return err
	}
	res, err := p.Build(cmd.Context(), args...)
	if res != nil {
		printArtifacts(cmd.OutOrStdout(), res)
	}
	return err
}

func printArtifacts(w io.Writer, res *pipeline.Result) {
	for _, name := range sortedKeys(res.Artifacts) {
		art := res.Artifacts[name]
		suffix := ""
		if art.Cached {
			suffix = " (cached)"
		}
		fmt.Fprintf(w, "%s\t%s%s\n", name, art.Path, suffix)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
