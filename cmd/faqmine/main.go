// Command faqmine mines resolved support conversations for FAQ candidates
// and drives the human review queue.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hurttlocker/faqmine/internal/config"
	"github.com/hurttlocker/faqmine/internal/logging"
	"github.com/hurttlocker/faqmine/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// version is set at build time via ldflags.
var version = "dev"

var (
	cfgFile         string
	flagApp         string
	flagCacheDB     string
	flagKnowledgeDB string
	flagRedis       string
	flagArtifacts   string
	flagEmbed       string
	flagGolden      string
	flagLogLevel    string
	flagPretty      bool
	flagNoColor     bool
	flagMetricsAddr string

	cfg      config.ResolvedConfig
	logger   = zerolog.Nop()
	registry = prometheus.NewRegistry()
	appStats *metrics.Metrics
)

var rootCmd = &cobra.Command{
	Use:   "faqmine",
	Short: "Mine support conversations for FAQ candidates",
	Long: `faqmine finds recurring questions in resolved support conversations,
clusters them, scores each cluster as an FAQ candidate, and queues the
candidates for human review.

Example usage:
  faqmine run --app app_1 --save        # mine, score, and queue candidates
  faqmine queue list --app app_1        # show pending candidates
  faqmine queue approve <id>            # publish a candidate
  faqmine golden extract --app app_1    # build the golden response set
  faqmine mcp --app app_1               # serve review tools over stdio`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig(cmd)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is ~/.faqmine/config.yaml)")
	pf.StringVar(&flagApp, "app", "", "app id to operate on")
	pf.StringVar(&flagCacheDB, "cache-db", "", "conversation cache database")
	pf.StringVar(&flagKnowledgeDB, "knowledge-db", "", "knowledge base database")
	pf.StringVar(&flagRedis, "redis", "", "review queue redis URL")
	pf.StringVar(&flagArtifacts, "artifacts", "", "artifacts directory")
	pf.StringVar(&flagEmbed, "embed", "", "embedding provider/model, e.g. ollama/nomic-embed-text")
	pf.StringVar(&flagGolden, "golden", "", "golden responses file or directory")
	pf.StringVar(&flagLogLevel, "log-level", "", "debug, info, warn, error")
	pf.BoolVar(&flagPretty, "pretty", false, "human-readable log output")
	pf.BoolVar(&flagNoColor, "no-color", false, "disable colored output")
	pf.StringVar(&flagMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
}

func initConfig(cmd *cobra.Command) error {
	var err error
	cfg, err = config.ResolveConfig(config.ResolveOptions{
		ConfigPath:      cfgFile,
		CLIAppID:        flagApp,
		CLIEmbed:        flagEmbed,
		CLICacheDB:      flagCacheDB,
		CLIKnowledgeDB:  flagKnowledgeDB,
		CLIRedisURL:     flagRedis,
		CLIArtifactsDir: flagArtifacts,
		CLIGoldenPath:   flagGolden,
	})
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	level := cfg.LogLevel.Or("info")
	if flagLogLevel != "" {
		level = flagLogLevel
	}
	logger = logging.New(logging.Config{
		Level:  level,
		Pretty: flagPretty,
		Output: cmd.ErrOrStderr(),
	})
	if appStats == nil {
		appStats = metrics.New(registry)
	}

	logger.Debug().
		Str("config", cfg.ConfigPath).
		Str("app_id", cfg.AppID.Value).
		Str("cache_db", cfg.CacheDB.Value).
		Str("redis", cfg.RedisURL.Value).
		Msg("configuration loaded")

	if flagMetricsAddr != "" {
		startMetricsServer(flagMetricsAddr)
	}
	return nil
}

// startMetricsServer serves /metrics for the lifetime of the process.
func startMetricsServer(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("addr", addr).Msg("metrics server stopped")
		}
	}()
	logger.Info().Str("addr", addr).Msg("serving metrics")
}

// requireApp returns the resolved app id or an error naming the flag.
func requireApp() (string, error) {
	if !cfg.AppID.Set() {
		return "", fmt.Errorf("app id is required (--app, FAQMINE_APP_ID, or app_id in config)")
	}
	return cfg.AppID.Value, nil
}

func main() {
	ctx, cancel := signalContext()
	defer cancel()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		cancel()
		newPrinter(os.Stdout, os.Stderr).Error("%v", err)
		os.Exit(1)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
