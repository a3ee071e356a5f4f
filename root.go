package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/D3MONSAUSAGE/teamtegrate-ingest/internal/catalog"
	"github.com/D3MONSAUSAGE/teamtegrate-ingest/internal/config"
	"github.com/D3MONSAUSAGE/teamtegrate-ingest/internal/nethealth"
	"github.com/D3MONSAUSAGE/teamtegrate-ingest/internal/storage"
	"github.com/D3MONSAUSAGE/teamtegrate-ingest/internal/upload"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagOrg        string
	flagUser       string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// resolvedCfg holds the effective configuration loaded by PersistentPreRunE.
var resolvedCfg *config.Config

// httpClientTimeout bounds every storage API call. Prevents hung
// connections from stalling the retry loop indefinitely.
const httpClientTimeout = 30 * time.Second

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "teamtegrate-ingest",
		Short:   "Resilient invoice document ingestion",
		Long:    "Uploads invoice documents to object storage with validation, adaptive retry, and post-upload verification.",
		Version: version,
		// Silence Cobra's default error/usage printing; errors are reported once in main.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return loadConfig()
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagOrg, "org", "", "organization ID (overrides config)")
	cmd.PersistentFlags().StringVar(&flagUser, "user", "", "uploader user ID (overrides config)")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	// Register subcommands.
	cmd.AddCommand(newUploadCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newMetricsCmd())
	cmd.AddCommand(newHistoryCmd())
	cmd.AddCommand(newStatusCmd())

	return cmd
}

// loadConfig resolves the effective configuration: defaults, then config
// file, then environment. CLI flags are applied at the command layer.
func loadConfig() error {
	path := flagConfigPath
	if path == "" {
		path = os.Getenv(config.EnvConfig)
	}

	cfg, err := config.Resolve(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	resolvedCfg = cfg

	return nil
}

// buildLogger creates an slog.Logger configured by the resolved config and
// CLI flags. Config-file log level is the baseline; --verbose and --quiet
// override it. The "auto" format picks text on a terminal and JSON
// otherwise.
func buildLogger() *slog.Logger {
	level := slog.LevelInfo

	if resolvedCfg != nil {
		switch resolvedCfg.Logging.Level {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}

	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	format := "auto"
	if resolvedCfg != nil {
		format = resolvedCfg.Logging.Format
	}

	opts := &slog.HandlerOptions{Level: level}

	switch format {
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	case "text":
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	default:
		if isatty.IsTerminal(os.Stderr.Fd()) {
			return slog.New(slog.NewTextHandler(os.Stderr, opts))
		}

		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
}

// ingestEnv bundles the wired collaborators a command needs to ingest files.
type ingestEnv struct {
	cfg     *config.Config
	logger  *slog.Logger
	health  *nethealth.Monitor
	store   *storage.Client
	orch    *upload.Orchestrator
	catalog *catalog.Store // nil when no catalog is configured
}

// newIngestEnv wires the storage client, health monitor, orchestrator, and
// optional catalog from the resolved config. The storage HTTP client runs
// through the health monitor's transport so the gate sees real traffic.
func newIngestEnv() (*ingestEnv, error) {
	cfg := resolvedCfg
	logger := buildLogger()

	if cfg.Storage.URL == "" {
		return nil, fmt.Errorf("storage.url not configured: set it in the config file or %s", config.EnvStorageURL)
	}

	serviceKey := config.ServiceKey()
	if serviceKey == "" {
		return nil, fmt.Errorf("storage service key not set: export %s", config.EnvServiceKey)
	}

	health := nethealth.NewMonitor()
	httpClient := &http.Client{
		Timeout:   httpClientTimeout,
		Transport: nethealth.NewTransport(nil, health),
	}

	store := storage.NewClient(cfg.Storage.URL, cfg.Storage.Bucket, serviceKey, httpClient, logger)
	orch := upload.NewOrchestrator(store, health, logger)

	env := &ingestEnv{
		cfg:    cfg,
		logger: logger,
		health: health,
		store:  store,
		orch:   orch,
	}

	if cfg.Catalog.Path != "" {
		cat, err := catalog.Open(cfg.Catalog.Path, logger)
		if err != nil {
			return nil, err
		}

		env.catalog = cat
	}

	return env, nil
}

// Close releases environment resources.
func (e *ingestEnv) Close() {
	if e.catalog != nil {
		if err := e.catalog.Close(); err != nil {
			e.logger.Warn("closing catalog", slog.String("error", err.Error()))
		}
	}
}

// owner resolves the organization and user IDs from flags over config.
func (e *ingestEnv) owner() (string, string, error) {
	org := flagOrg
	if org == "" {
		org = e.cfg.Ingest.OrganizationID
	}

	user := flagUser
	if user == "" {
		user = e.cfg.Ingest.UserID
	}

	if org == "" || user == "" {
		return "", "", errors.New("organization and user IDs are required: set --org/--user or ingest.organization_id/ingest.user_id")
	}

	return org, user, nil
}
