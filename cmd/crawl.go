// Package cmd defines the CLI commands for the news-listing-crawler executable.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/news-listing-crawler/internal/config"
)

type crawlOptions struct {
	baseURL         string
	outputDir       string
	ordered         bool
	includeLastPage bool
}

// newCrawlCmd creates the 'crawl' subcommand, which runs exactly one crawl.
func newCrawlCmd(root *rootOptions) *cobra.Command {
	opts := &crawlOptions{}
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawl the configured listing once",
		Long: `Fetches page 1, detects the page count, fetches the remaining pages
concurrently and appends every extracted article to the dated output file.
When an archive backend is configured the finished file is uploaded,
recorded and announced.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(root.configFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := opts.apply(cmd, &cfg); err != nil {
				return err
			}
			return runCrawl(cmd, cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.baseURL, "base-url", "", "listing URL to crawl (overrides site.base_url)")
	flags.StringVar(&opts.outputDir, "output-dir", "", "directory for the digest file (overrides output.dir)")
	flags.BoolVar(&opts.ordered, "ordered", false, "write pages in page order (overrides crawler.ordered_output)")
	flags.BoolVar(&opts.includeLastPage, "include-last-page", false,
		"also fetch the final page (overrides crawler.include_last_page)")
	return cmd
}

// apply copies explicitly set flags onto cfg and re-validates it.
func (o *crawlOptions) apply(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("base-url") {
		cfg.Site.BaseURL = o.baseURL
	}
	if flags.Changed("output-dir") {
		cfg.Output.Dir = o.outputDir
	}
	if flags.Changed("ordered") {
		cfg.Crawler.OrderedOutput = o.ordered
	}
	if flags.Changed("include-last-page") {
		cfg.Crawler.IncludeLastPage = o.includeLastPage
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	return nil
}

func runCrawl(cmd *cobra.Command, cfg config.Config) error {
	logger, err := newLogger(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize application services: %w", err)
	}
	defer func() {
		if cerr := a.Close(); cerr != nil {
			logger.Warn("failed to close application services", zap.Error(cerr))
		}
	}()

	summary, err := a.Run(ctx)
	if err != nil {
		return fmt.Errorf("run crawl: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %d articles from %d pages to %s\n",
		summary.Articles, summary.PagesFetched, summary.OutputPath)
	return nil
}
