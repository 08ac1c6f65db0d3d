package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/verte-labs/refillery/internal/integrity"
	"github.com/verte-labs/refillery/internal/model"
)

var (
	validateRunID         string
	validateAllowFixtures bool
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Run the integrity gate over the validated layer",
	Long:  "Checks provenance completeness, the refillable-evidence contract, fixture quarantine, numeric bounds, and synthetic-data heuristics. Exits non-zero on FAIL; violations are never repaired automatically.",
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
		reviews, err := st.LoadReviews(ctx, "")
		if err != nil {
			return err
		}

		var manifest *model.RunManifest
		if validateRunID != "" {
			manifest, err = st.GetRun(ctx, validateRunID)
			if err != nil {
				return err
			}
		}

		gate := integrity.New(integrity.Config{
			AllowFixtures:   validateAllowFixtures || cfg.Integrity.AllowFixtures,
			AuditSampleSize: cfg.Integrity.AuditSampleSize,
			Tiers:           tiers,
		})
		report := gate.Check(products, reviews, manifest)

		runID := validateRunID
		if runID == "" && manifest != nil {
			runID = manifest.RunID
		}
		if err := st.SaveIntegrityReport(ctx, runID, report); err != nil {
			return eris.Wrap(err, "save integrity report")
		}

		fmt.Fprintf(os.Stdout, "integrity: %s (%d products, %d reviews checked)\n",
			report.Status, report.ProductsChecked, report.ReviewsChecked)

		if len(report.Violations) > 0 {
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "KIND\tENTITY\tRECORD\tDETAIL")
			for _, v := range report.Violations {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", v.Kind, v.Entity, v.RecordID, v.Detail)
			}
			w.Flush() //nolint:errcheck
		}

		if report.Status == model.IntegrityFail {
			return eris.Errorf("integrity gate failed with %d violations", len(report.Violations))
		}
		return nil
	},
}

func init() {
	validateCmd.Flags().StringVar(&validateRunID, "run-id", "", "check manifest plausibility for this run")
	validateCmd.Flags().BoolVar(&validateAllowFixtures, "allow-fixtures", false, "permit fixture records (non-production runs only)")
	rootCmd.AddCommand(validateCmd)
}
