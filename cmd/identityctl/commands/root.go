// Package commands implements identityctl, the operator CLI for the identity store.
package commands

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fastygo/identity/internal/app"
	"github.com/fastygo/identity/internal/config"
	"github.com/fastygo/identity/internal/services/lifecycle"
	"github.com/fastygo/identity/pkg/logger"
	"github.com/fastygo/identity/repository"
)

// env is filled by the root command before any subcommand runs.
type env struct {
	cfg     *config.Config
	logger  *zap.Logger
	manager *lifecycle.Manager
	timeout time.Duration
}

func Execute() error {
	return NewRoot().Execute()
}

// NewRoot builds the command tree. Settings come from the same environment (and .env)
// as the server; --store overrides STORE_DRIVER.
func NewRoot() *cobra.Command {
	e := &env{}
	var driver string

	root := &cobra.Command{
		Use:          "identityctl",
		Short:        "Administer the identity store",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if driver != "" {
				cfg.Store.Driver = driver
			}
			log, err := logger.New(logger.Config{
				Level:    cfg.Logger.Level,
				Encoding: "console",
				Output:   cmd.ErrOrStderr(),
			})
			if err != nil {
				return err
			}
			e.cfg = cfg
			e.logger = log
			e.manager = lifecycle.New(cfg.Context.ShutdownTimeout, log)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&driver, "store", "", "store driver: postgres, sqlite, bolt or memory (default $STORE_DRIVER)")
	root.PersistentFlags().DurationVar(&e.timeout, "timeout", 30*time.Second, "deadline for store operations")

	root.AddCommand(migrateCmd(e), hashPasswordCmd(e), lookupCmd(e), setActiveCmd(e))

	// Post-run hooks are skipped on error; the store must be released either way.
	for _, c := range root.Commands() {
		run := c.RunE
		c.RunE = func(cmd *cobra.Command, args []string) error {
			return errors.Join(run(cmd, args), e.close())
		}
	}
	return root
}

func (e *env) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, e.timeout)
}

func (e *env) openStore(ctx context.Context) (repository.IdentityRepository, error) {
	store, _, err := app.OpenStore(ctx, e.cfg, e.manager, e.logger)
	return store, err
}

func (e *env) close() error {
	if e.manager == nil {
		return nil
	}
	err := e.manager.Shutdown(context.Background())
	_ = e.logger.Sync()
	return err
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
