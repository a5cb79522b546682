// Command coordi is a terminal client for the outfit dialogue.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/ashureev/coordi/internal/auth"
	"github.com/ashureev/coordi/internal/config"
	"github.com/ashureev/coordi/internal/convlog"
	"github.com/ashureev/coordi/internal/finalizer"
	"github.com/ashureev/coordi/internal/gateway"
	"github.com/ashureev/coordi/internal/identity"
	"github.com/ashureev/coordi/internal/store"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	verbose bool

	// Set by PersistentPreRunE.
	deps *clientDeps
)

// clientDeps is everything the subcommands share.
type clientDeps struct {
	cfg         *config.Config
	logger      *slog.Logger
	repo        store.Repository
	credentials *identity.Context
	gateway     *gateway.Gateway
	auth        *auth.Client
	finalizer   *finalizer.Finalizer
	convlog     *convlog.Logger
	expired     *atomic.Bool
}

func (d *clientDeps) Close() {
	if err := d.convlog.Close(); err != nil {
		d.logger.Warn("Failed to close conversation logger", "error", err)
	}
	if err := d.repo.Close(); err != nil {
		d.logger.Warn("Failed to close credential storage", "error", err)
	}
}

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "coordi",
	Short: "Talk to the outfit assistant from the terminal",
	Long: `coordi consults the outfit assistant turn by turn.

Log in once with 'coordi login'; the credential is cached locally and reused
by 'coordi chat' until the backend rejects it.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		d, err := setup(cmd.Context())
		if err != nil {
			return err
		}
		deps = d
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.AddCommand(loginCmd, logoutCmd, chatCmd)
}

func setup(ctx context.Context) (*clientDeps, error) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	repo, err := store.Open(cfg.CredentialStore, cfg.CredentialDBPath)
	if err != nil {
		return nil, fmt.Errorf("open credential storage: %w", err)
	}
	credentials := identity.NewContext(repo, logger)
	if err := credentials.Load(ctx); err != nil {
		_ = repo.Close()
		return nil, err
	}

	expired := &atomic.Bool{}
	nav := gateway.NavigatorFunc(func(location string) {
		expired.Store(true)
		fmt.Fprintf(os.Stderr, "\n%s\n", noticeStyle.Render(
			fmt.Sprintf("セッションの有効期限が切れました。'coordi login' で再度ログインしてください (%s)", location)))
	})
	gw := gateway.New(gateway.Options{
		BaseURL:   cfg.APIBaseURL,
		LoginPath: cfg.LoginPath,
		Timeout:   cfg.RequestTimeout,
	}, credentials, nav, logger)

	resolver, err := finalizer.NewURLResolver(cfg.ImageBaseURL, cfg.ImageStripPrefix)
	if err != nil {
		_ = repo.Close()
		return nil, err
	}

	cl, err := convlog.New(convlog.Config{
		Enabled:    cfg.ConversationLog.Enabled,
		Dir:        cfg.ConversationLog.Dir,
		QueueSize:  cfg.ConversationLog.QueueSize,
		MaxSizeMB:  cfg.ConversationLog.MaxSizeMB,
		MaxBackups: cfg.ConversationLog.MaxBackups,
	}, logger)
	if err != nil {
		_ = repo.Close()
		return nil, err
	}

	return &clientDeps{
		cfg:         cfg,
		logger:      logger,
		repo:        repo,
		credentials: credentials,
		gateway:     gw,
		auth:        auth.NewClient(gw, credentials),
		finalizer:   finalizer.New(gw, resolver, logger),
		convlog:     cl,
		expired:     expired,
	}, nil
}

func main() {
	err := rootCmd.ExecuteContext(context.Background())
	if deps != nil {
		deps.Close()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render(err.Error()))
		os.Exit(1)
	}
}
