package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/ytserve/ytserve/internal/config"
	"github.com/ytserve/ytserve/internal/credentials"
	"github.com/ytserve/ytserve/internal/fetch"
	"github.com/ytserve/ytserve/internal/logging"
	"github.com/ytserve/ytserve/internal/output"
	"github.com/ytserve/ytserve/internal/ratelimit"
	"github.com/ytserve/ytserve/internal/server"
	"github.com/ytserve/ytserve/internal/source"
	"github.com/ytserve/ytserve/internal/workspace"
)

var (
	cfgFile string
	port    string
	debug   bool
)

var YtserveVersion = "dev"

var rootCmd = &cobra.Command{
	Use:     "ytserve",
	Short:   "Ytserve fetches media from allow-listed sources and serves it over HTTP",
	Version: YtserveVersion,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			output.PrintError(fmt.Sprintf("Configuration error: %v", err))
			os.Exit(1)
		}
		if port != "" {
			cfg.Port = port
		}
		if debug {
			cfg.Debug = true
		}
		logging.Init(cfg.Debug)

		srv, limiter, err := buildServer(cfg)
		if err != nil {
			output.PrintError(fmt.Sprintf("Startup error: %v", err))
			os.Exit(1)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		limiter.StartSweeper(ctx, time.Minute)

		output.PrintHeader("ytserve " + YtserveVersion)
		output.PrintSuccess(fmt.Sprintf("Listening on http://localhost:%s", cfg.Port))
		if err := srv.Run(ctx); err != nil {
			output.PrintError(fmt.Sprintf("Server error: %v", err))
			os.Exit(1)
		}
		output.PrintInfo("Shutdown complete")
		return nil
	},
}

func buildServer(cfg *config.Config) (*server.Server, *ratelimit.Limiter, error) {
	var extraHosts []string
	if cfg.ExtraHostsFile != "" {
		hosts, err := source.LoadExtraHosts(cfg.ExtraHostsFile)
		if err != nil {
			return nil, nil, err
		}
		extraHosts = hosts
		log.Debug().Int("count", len(hosts)).Msg("Extra source hosts loaded")
	}
	validator := source.NewValidator(extraHosts)
	limiter := ratelimit.New(cfg.RateLimitMax, cfg.RateLimitWindow)

	creds, err := credentials.New(cfg.CookiesFile, cfg.CookiesContent)
	if err != nil {
		return nil, nil, err
	}
	workspaces, err := workspace.NewManager(cfg.ArtifactRoot)
	if err != nil {
		return nil, nil, err
	}
	if _, err := workspaces.SweepOrphans(); err != nil {
		log.Warn().Err(err).Msg("Orphaned workspace sweep failed")
	}
	fetcher, err := fetch.NewExecutor(fetch.Options{
		Binary:  cfg.FetchBinary,
		Format:  cfg.Format,
		Timeout: cfg.FetchTimeout,
		Retries: cfg.FetchRetries,
	})
	if err != nil {
		return nil, nil, err
	}
	return server.New(cfg, validator, limiter, creds, workspaces, fetcher), limiter, nil
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().StringVarP(&cfgFile, "config", "c", "", "Path to YAML configuration file")
	rootCmd.Flags().StringVarP(&port, "port", "p", "", "Listen port (overrides PORT)")
	rootCmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging and diagnostic error details")
}
