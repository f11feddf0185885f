package internal

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/apodwall/vbuild/internal/bundle"
	"github.com/apodwall/vbuild/internal/config"
	"github.com/spf13/cobra"
)

var variantsCmd = &cobra.Command{
	Use:   "variants",
	Short: "List configured variants and bundles",
	Args:  cobra.NoArgs,
	RunE:  runVariants,
}

func init() {
	rootCmd.AddCommand(variantsCmd)
}

func runVariants(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	return printVariants(cmd.OutOrStdout(), cfg)
}

func printVariants(out io.Writer, cfg *config.Config) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "VARIANT\tBINARY\tFEATURES\tAUX")
	for _, v := range cfg.Variants {
		spec := v.Spec()
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", spec.Name, spec.BinaryName, orNone(spec.FeatureKey()),
			orNone(strings.Join(spec.AuxiliaryExecutables(), ",")))
	}
	if len(cfg.Bundles) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "BUNDLE\tMEMBERS\tCOLLISION")
		for _, b := range cfg.Bundles {
			policy, _ := bundle.ParsePolicy(b.Collision)
			fmt.Fprintf(w, "%s\t%s\t%s\n", b.Name, strings.Join(b.Members, ","), policy)
		}
	}
	return w.Flush()
}

func orNone(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
