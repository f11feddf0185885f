package internal

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/apodwall/vbuild/internal/bundle"
	"github.com/spf13/cobra"
)

var bundleArchive bool

var bundleCmd = &cobra.Command{
	Use:   "bundle [name...]",
	Short: "Compose bundles of wrapped variants",
	Long: `Bundle builds and wraps the members of the named bundles, or of all of them,
and composes each bundle under <output>/bundles/<name>.`,
	RunE: runBundle,
}

func init() {
	bundleCmd.Flags().BoolVarP(&bundleArchive, "archive", "a", false, "Also write <output>/<name>.tar.zst")
	rootCmd.AddCommand(bundleCmd)
}

func runBundle(cmd *cobra.Command, args []string) error {
	p, err := newPipeline(cmd)
	if err != nil {
		return err
	}
	res, err := p.Bundle(cmd.Context(), args...)
	if res == nil {
		return err
	}
	for _, b := range res.Bundles {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", b.Name, b.Dir)
		if !bundleArchive {
			continue
		}
		path := filepath.Join(p.Config().Output, bundle.ArchiveName(b))
		if aerr := writeArchive(b, path); aerr != nil {
			return fmt.Errorf("archive %s: %w", b.Name, aerr)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", b.Name, path)
	}
	return err
}

func writeArchive(b *bundle.Bundle, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := bundle.Archive(b, f); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}
