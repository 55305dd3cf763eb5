package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tendant/simple-idm-stepflow/internal/backend"
	"github.com/tendant/simple-idm-stepflow/internal/config"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "stepflowctl",
	Short: "Administer the step-based authentication service",
	Long: `Manage authentication settings and provision users directly against the
configured store. Configuration is read from the environment and .env, the
same way the server reads it.`,
	SilenceUsage: true,
}

// session holds what a command needs from the configured store.
type session struct {
	cfg    *config.Config
	stores *backend.Backends
	logger *slog.Logger
}

func (s *session) Close() error { return s.stores.Close() }

// openSession is replaced in tests.
var openSession = func(ctx context.Context, logger *slog.Logger) (*session, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cfg.StoreBackend == config.StoreMemory {
		return nil, errors.New("STORE_BACKEND=memory is not persistent; use postgres or bbolt")
	}
	// Commands never touch live sessions.
	cfg.SessionBackend = config.SessionMemory

	stores, err := backend.Open(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.StoreBackend, err)
	}
	return &session{cfg: cfg, stores: stores, logger: logger}, nil
}

func withSession(cmd *cobra.Command, fn func(ctx context.Context, s *session) error) error {
	w := io.Discard
	if verbose {
		w = cmd.ErrOrStderr()
	}
	logger := slog.New(slog.NewTextHandler(w, nil))

	s, err := openSession(cmd.Context(), logger)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(cmd.Context(), s)
}

func Execute() {
	err := rootCmd.ExecuteContext(context.Background())
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log store activity to stderr")
}
