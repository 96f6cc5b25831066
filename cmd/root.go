package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/news-listing-crawler/internal/app"
	"github.com/JakeFAU/news-listing-crawler/internal/config"
	"github.com/JakeFAU/news-listing-crawler/internal/crawler"
	"github.com/JakeFAU/news-listing-crawler/internal/logging"
)

// crawlApp is the slice of *app.App the commands use, so tests can inject a fake.
type crawlApp interface {
	Run(ctx context.Context) (crawler.RunSummary, error)
	Close() error
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (crawlApp, error) {
	return app.New(ctx, cfg, logger)
}

// newLogger is swapped in tests to silence output.
var newLogger = logging.NewWithLevel

type rootOptions struct {
	configFile string
}

// newRootCmd creates the root command and its subcommands.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "news-listing-crawler",
		Short: "Crawls a paginated news listing into a dated text digest.",
		Long: `news-listing-crawler fetches the first page of a news listing, reads the
page count from its pagination control, fetches the remaining pages
concurrently, and writes every article's title and prose to a single
<site>-<DD-MM-YYYY>.txt file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (YAML, TOML or JSON)")
	cmd.AddCommand(newCrawlCmd(opts))
	return cmd
}

// Execute is the main entry point. It cancels the command context on
// SIGINT/SIGTERM and returns the process exit code.
func Execute() int {
	return executeArgs(os.Args[1:])
}

func executeArgs(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		logger, lerr := logging.New(false)
		if lerr != nil {
			fmt.Fprintln(os.Stderr, err)
			return 1
		}
		defer func() { _ = logger.Sync() }()
		logger.Error("command execution failed", zap.Error(err))
		return 1
	}
	return 0
}
