package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/verte-labs/refillery/internal/classify"
)

var backstopOutput string

var priceBackstopCmd = &cobra.Command{
	Use:   "price-backstop",
	Short: "Compute price percentiles and classify luxury products",
	Long:  "Computes p25/p50/p75/p90 per (site, category) over the validated layer, applies the tier-and-price luxury predicate, writes the classification back, and exports a kept/dropped report.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		tiers, _, err := loadRefData()
		if err != nil {
			return err
		}

		products, err := st.LoadProducts(ctx, "")
		if err != nil {
			return err
		}
		if len(products) == 0 {
			fmt.Fprintln(os.Stderr, "No products in the validated layer. Run crawl and normalize first.")
			return nil
		}

		stats := classify.ComputeStats(products)
		thresholds := classify.NewThresholds(stats)
		rows := classify.Classify(products, tiers, thresholds)

		if _, err := st.UpsertProducts(ctx, products); err != nil {
			return eris.Wrap(err, "write classifications")
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SITE\tCATEGORY\tN\tP25\tP50\tP75\tP90")
		for _, s := range stats {
			fmt.Fprintf(w, "%s\t%s\t%d\t%.2f\t%.2f\t%.2f\t%.2f\n",
				s.Site, s.Category, s.N, s.P25, s.P50, s.P75, s.P90)
		}
		w.Flush() //nolint:errcheck

		kept := 0
		for _, r := range rows {
			if r.Status == "kept" {
				kept++
			}
		}
		fmt.Fprintf(os.Stdout, "%d/%d products classified luxury\n", kept, len(rows))

		output := backstopOutput
		if output == "" {
			output = cfg.Report.OutputPath
		}
		if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
			return eris.Wrap(err, "create report directory")
		}
		if err := classify.ExportReport(output, stats, rows); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "report written to %s\n", output)
		return nil
	},
}

func init() {
	priceBackstopCmd.Flags().StringVar(&backstopOutput, "output", "", "kept/dropped report path (default from config)")
	rootCmd.AddCommand(priceBackstopCmd)
}
