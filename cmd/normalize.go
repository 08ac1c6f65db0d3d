package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/verte-labs/refillery/internal/evidence"
	"github.com/verte-labs/refillery/internal/model"
	"github.com/verte-labs/refillery/internal/store"
)

var normalizeCmd = &cobra.Command{
	Use:   "normalize",
	Short: "Merge raw records from all sites into the validated layer",
	Long:  "Loads the raw layer, normalizes category paths against the taxonomy, links refill SKUs to their parent products, and upserts into the validated layer keyed by (product_id, scrape_ts).",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		log := zap.L().With(zap.String("component", "normalize"))

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		_, taxonomy, err := loadRefData()
		if err != nil {
			return err
		}

		rawProducts, err := st.LoadRaw(ctx, store.EntityProduct)
		if err != nil {
			return err
		}
		var products []*model.Product
		for _, rec := range rawProducts {
			var p model.Product
			if err := json.Unmarshal(rec.Data, &p); err != nil {
				log.Warn("skipping malformed raw product",
					zap.String("run_id", rec.RunID),
					zap.Error(err),
				)
				continue
			}
			p.CategoryPath = taxonomy.NormalizePath(string(p.Site), p.CategoryPath)
			products = append(products, &p)
		}

		linked := evidence.LinkRefills(products)

		rawReviews, err := st.LoadRaw(ctx, store.EntityReview)
		if err != nil {
			return err
		}
		var reviews []*model.Review
		for _, rec := range rawReviews {
			var r model.Review
			if err := json.Unmarshal(rec.Data, &r); err != nil {
				log.Warn("skipping malformed raw review",
					zap.String("run_id", rec.RunID),
					zap.Error(err),
				)
				continue
			}
			reviews = append(reviews, &r)
		}

		nProducts, err := st.UpsertProducts(ctx, products)
		if err != nil {
			return eris.Wrap(err, "normalize products")
		}
		nReviews, err := st.UpsertReviews(ctx, reviews)
		if err != nil {
			return eris.Wrap(err, "normalize reviews")
		}

		fmt.Fprintf(os.Stdout, "normalized %d products (%d refill SKUs linked), %d reviews\n",
			nProducts, linked, nReviews)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(normalizeCmd)
}
