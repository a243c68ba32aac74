// Package cli implements the eshotry storefront command line
package cli

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/findosh/eshotry/internal/api"
	"github.com/findosh/eshotry/internal/config"
	"github.com/findosh/eshotry/internal/services/cart"
	"github.com/findosh/eshotry/internal/services/catalog"
	"github.com/findosh/eshotry/internal/services/session"
	"github.com/findosh/eshotry/internal/storage"
)

type rootOptions struct {
	apiURL  string
	stateDB string
	verbose bool
	noColor bool
}

// app holds the services shared by every command
type app struct {
	opts    rootOptions
	log     *slog.Logger
	printer *Printer
	db      *storage.DB
	session *session.Manager
	cart    *cart.Manager
	catalog *catalog.Service
}

// Run executes the command line with args and returns the first error
func Run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	a := &app{}
	defer a.close()

	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetIn(stdin)
	return root.ExecuteContext(ctx)
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "eshotry",
		Short: "Shop the EshoTry storefront from the terminal",
		Long: `eshotry browses the EshoTry catalog and manages your cart and account.

Items added while logged out are kept in a local cart and moved to your
account cart when you log in.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.open(cmd)
		},
	}

	root.PersistentFlags().StringVar(&a.opts.apiURL, "api-url", "", "commerce API base URL (overrides ESHOTRY_API_URL)")
	root.PersistentFlags().StringVar(&a.opts.stateDB, "state-db", "", "local state database (overrides ESHOTRY_STATE_DB)")
	root.PersistentFlags().BoolVarP(&a.opts.verbose, "verbose", "v", false, "enable debug logging")
	root.PersistentFlags().BoolVar(&a.opts.noColor, "no-color", false, "disable colored output")

	root.AddCommand(
		newLoginCmd(a),
		newRegisterCmd(a),
		newLogoutCmd(a),
		newWhoamiCmd(a),
		newProfileCmd(a),
		newProductsCmd(a),
		newCartCmd(a),
	)
	return root
}

// open wires configuration, persistence and services, then restores the
// persisted guest cart and session
func (a *app) open(cmd *cobra.Command) error {
	// Load configuration
	cfg := config.Load()
	if a.opts.apiURL != "" {
		cfg.APIURL = a.opts.apiURL
	}
	if a.opts.stateDB != "" {
		cfg.StateDB = a.opts.stateDB
	}
	if a.opts.verbose {
		cfg.LogLevel = "debug"
	}

	a.log = newLogger(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
	a.printer = NewPrinter(cmd.OutOrStdout(), cmd.ErrOrStderr(), resolveColors(a.opts.noColor))

	if cfg.IsProduction() && cfg.EncryptionKey == config.DefaultEncryptionKey {
		return errors.New("ESHOTRY_ENCRYPTION_KEY must be set in production")
	}

	// Initialize database
	db, err := storage.New(cfg.StateDB)
	if err != nil {
		return err
	}
	a.db = db

	// Run migrations
	if err := db.Migrate(); err != nil {
		return err
	}

	// Initialize repositories
	kv := storage.NewKVRepository(db)
	sealed, err := storage.NewSealedStore(kv, cfg.EncryptionKey)
	if err != nil {
		return err
	}

	// Initialize services
	client, err := api.NewClient(api.ClientConfig{
		URL:      cfg.APIURL,
		Timeout:  cfg.RequestTimeout,
		RetryMax: cfg.RetryMax,
		Logger:   a.log,
	})
	if err != nil {
		return err
	}
	a.session = session.NewManager(client, sealed, session.Options{
		Logger:      a.log,
		RefreshSkew: cfg.TokenRefreshSkew,
	})
	a.cart = cart.NewManager(client, a.session, kv, a.log)
	a.catalog = catalog.NewService(client, catalog.Config{
		CacheTTL: cfg.CatalogCacheTTL,
		Logger:   a.log,
	})

	ctx := cmd.Context()
	if err := a.cart.Restore(ctx); err != nil {
		a.printer.Warning("Could not restore your local cart: %v", err)
	}
	if err := a.session.InitializeAuth(ctx); err != nil {
		a.printer.Warning("Could not verify your session, continuing offline: %v", err)
	}
	return nil
}

// close waits for background session work and releases the database
func (a *app) close() {
	if a.session != nil {
		a.session.Wait()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn("failed to close state database", "error", err)
		}
		a.db = nil
	}
}

// message returns the shopper-facing text of err
func message(err error) string {
	var sessErr *session.Error
	if errors.As(err, &sessErr) && sessErr.Message != "" {
		return sessErr.Message
	}
	var cartErr *cart.Error
	if errors.As(err, &cartErr) && cartErr.Message != "" {
		return cartErr.Message
	}
	return err.Error()
}

// userError strips err down to its shopper-facing message
func userError(err error) error {
	if err == nil {
		return nil
	}
	return errors.New(message(err))
}
