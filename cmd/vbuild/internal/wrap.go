package internal

import (
	"fmt"
	"io"

	"github.com/apodwall/vbuild/internal/pipeline"
	"github.com/spf13/cobra"
)

var wrapCmd = &cobra.Command{
	Use:   "wrap [variant...]",
	Short: "Build and wrap variants",
	Long: `Wrap builds the named variants, or all of them, and wraps each into
<output>/packages/<variant> with a launcher that fixes PATH and
LD_LIBRARY_PATH.`,
	RunE: runWrap,
}

func init() {
	rootCmd.AddCommand(wrapCmd)
}

func runWrap(cmd *cobra.Command, args []string) error {
	p, err := newPipeline(cmd)
	if err != nil {
		return err
	}
	res, err := p.Wrap(cmd.Context(), args...)
	if res != nil {
		printPackages(cmd.OutOrStdout(), res)
	}
	return err
}

func printPackages(w io.Writer, res *pipeline.Result) {
	for _, name := range sortedKeys(res.Packages) {
		fmt.Fprintf(w, "%s\t%s\n", name, res.Packages[name].WrapperPath)
	}
}
