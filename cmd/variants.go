package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jonesrussell/north-cloud/guardrail/internal/bootstrap"
)

func newVariantsCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "variants",
		Short: "List the threshold variants",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := bootstrap.LoadConfig(opts.configPath)
			if err != nil {
				return err
			}
			reg, err := cfg.VariantRegistry()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tBATCH SIZE\tMIN SCORE FOR SAFE\tMIN SCORE FOR NOT SAFE")
			for _, v := range reg.Views() {
				fmt.Fprintf(w, "%s\t%d\t%g\t%g\n", v.Name, v.PipelineBatchSize, v.MinScoreForSafe, v.MinScoreForNotSafe)
			}
			return w.Flush()
		},
	}
}
