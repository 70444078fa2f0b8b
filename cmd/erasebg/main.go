package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/erasebg-relay/internal/config"
	"github.com/fpang/erasebg-relay/internal/document"
	"github.com/fpang/erasebg-relay/internal/logging"
	"github.com/fpang/erasebg-relay/internal/relay"
	"github.com/fpang/erasebg-relay/internal/store"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// CLI flags
var (
	logLevelFlag  string
	storeFlag     string
	namespaceFlag string
	timeoutFlag   time.Duration
)

// rootCmd is the main Cobra command for the erasebg CLI.
var rootCmd = &cobra.Command{
	Use:   "erasebg",
	Short: "Remove image backgrounds with Erase.bg from the command line",
	Long: `erasebg runs the Erase.bg plugin session headless: a host side that owns a
directory of images and the saved settings, and a UI side that talks to
Pixelbin. Each command plays the user for one interaction.

Examples:
  erasebg token set                 # prompts for the API token
  erasebg token status
  erasebg apply ./photos product.png --industry ecommerce --out ./done
  erasebg reset
  erasebg console                   # open the page where tokens are created`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := logLevelFlag
		if level == "" {
			level = os.Getenv(logging.LevelEnv)
		}
		logging.InitWithLevel(level)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level: trace, debug, info, warn, error (default from ERASEBG_LOG_LEVEL)")
	rootCmd.PersistentFlags().StringVar(&storeFlag, "store", "", "Store backend: file, dynamodb or memory (overrides ERASEBG_STORE)")
	rootCmd.PersistentFlags().StringVar(&namespaceFlag, "namespace", "", "Store namespace (overrides ERASEBG_NAMESPACE)")
	rootCmd.PersistentFlags().DurationVar(&timeoutFlag, "timeout", 5*time.Minute, "Give up after this long")

	rootCmd.AddCommand(tokenCmd, applyCmd, resetCmd, consoleCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// commandContext is cancelled on interrupt or when --timeout passes.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	ctx, cancel := context.WithTimeout(ctx, timeoutFlag)
	return ctx, func() {
		cancel()
		stop()
	}
}

// loadConfig reads the environment and applies flag overrides.
func loadConfig() (*config.Config, error) {
	if storeFlag != "" {
		os.Setenv("ERASEBG_STORE", storeFlag)
	}
	if namespaceFlag != "" {
		os.Setenv("ERASEBG_NAMESPACE", namespaceFlag)
	}
	return config.Load()
}

// env is everything a command needs before it opens a session.
type env struct {
	cfg   *config.Config
	store store.Store
}

func bootstrap(ctx context.Context) (*env, error) {
	start := time.Now()
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.LogLevel != "" && logLevelFlag == "" {
		logging.InitWithLevel(cfg.LogLevel)
	}
	relay.ConfigureMetrics(cfg, os.Stderr)

	st, location, err := relay.OpenStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	relay.LogStartup("erasebg", version, cfg, location, time.Since(start))
	return &env{cfg: cfg, store: st}, nil
}

// openSession starts a plugin session over doc. A nil doc means an empty
// document, for commands that never transform.
func (e *env) openSession(ctx context.Context, doc document.Document, opts ...relay.Option) (*relay.Session, error) {
	if doc == nil {
		doc = document.NewMemory(document.NewHTTPFetcher(e.cfg.HTTPTimeout))
	}
	s, err := relay.NewSession(e.cfg, e.store, doc, relay.Notifier(e.cfg), opts...)
	if err != nil {
		return nil, err
	}
	s.Start(ctx)
	return s, nil
}

// closeSession closes s, logging instead of failing the command.
func closeSession(s *relay.Session) {
	if err := s.Close(); err != nil {
		log.Warn().Err(err).Msg("Plugin session ended with an error")
	}
}
