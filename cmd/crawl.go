package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/verte-labs/refillery/internal/adapter"
	"github.com/verte-labs/refillery/internal/crawl"
	"github.com/verte-labs/refillery/internal/model"
	"github.com/verte-labs/refillery/internal/refdata"
)

var (
	crawlSite           string
	crawlMode           string
	crawlMaxPages       int
	crawlRefillableOnly bool
)

var crawlCmd = &cobra.Command{
	Use:   "crawl",
	Short: "Run a compliance-gated crawl for one site",
	Long:  "Discovers product URLs, fetches details and reviews under robots.txt and rate limits, and records raw records plus a run manifest.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		site := model.Site(crawlSite)
		registry := adapter.Default()
		if _, err := registry.Get(site); err != nil {
			return err
		}

		mode := model.CrawlMode(crawlMode)
		switch mode {
		case model.ModeDiscovery, model.ModeDetails, model.ModeReviews, model.ModeFull:
		default:
			return eris.Errorf("unknown mode %q (want discovery, details, reviews, or full)", crawlMode)
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		tiers, taxonomy, err := loadRefData()
		if err != nil {
			return err
		}

		crawlCfg := cfg.Crawl
		if crawlRefillableOnly {
			crawlCfg.RefillableOnly = true
		}

		orch := crawl.New(crawlCfg, registry, st)
		manifest, err := orch.Run(ctx, site, crawl.Options{
			Mode:        mode,
			MaxPages:    crawlMaxPages,
			RefDataHash: refdata.CombinedHash(tiers.Hash(), taxonomy.Hash()),
		})
		if err != nil {
			return eris.Wrap(err, "crawl")
		}

		fmt.Fprintf(os.Stdout, "run %s: %s (%d products, %d reviews, %d pages fetched, %d not modified)\n",
			manifest.RunID, manifest.Status,
			manifest.ProductsCount, manifest.ReviewsCount,
			manifest.PagesFetched, manifest.PagesNotModified,
		)

		switch manifest.Status {
		case model.RunStatusFailed:
			return eris.Errorf("run %s failed", manifest.RunID)
		case model.RunStatusPartial:
			exitCode = 2
		}
		return nil
	},
}

func init() {
	crawlCmd.Flags().StringVar(&crawlSite, "site", string(model.SiteSephora), "site to crawl (sephora, marionnaud)")
	crawlCmd.Flags().StringVar(&crawlMode, "mode", string(model.ModeFull), "crawl mode: discovery, details, reviews, or full")
	crawlCmd.Flags().IntVar(&crawlMaxPages, "max-pages", 0, "cap on discovery listing pages (default from config)")
	crawlCmd.Flags().BoolVar(&crawlRefillableOnly, "refillable-only", false, "seed discovery from refillable facet listings")
	rootCmd.AddCommand(crawlCmd)
}
