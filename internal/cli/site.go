package cli

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/storesync/internal/config"
	"github.com/roach88/storesync/internal/engine"
	"github.com/roach88/storesync/internal/notify"
	"github.com/roach88/storesync/internal/store"
	"github.com/roach88/storesync/internal/translate"
	"github.com/roach88/storesync/internal/transport"
)

// site is everything a command needs to act on the configured site.
type site struct {
	cfg      config.Config
	logger   *slog.Logger
	st       *store.Store
	reg      *translate.Registry
	notifier *notify.Notifier
}

// openSite loads the config, configures logging and opens the database.
func openSite(opts *RootOptions, cmd *cobra.Command) (*site, error) {
	cfg, err := config.Load(opts.ConfigPath, opts.EnvFiles...)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}

	logger := newLogger(cfg, opts.Verbose, cmd.ErrOrStderr())
	slog.SetDefault(logger)

	logger.Debug("opening database", "path", cfg.Database.Path)
	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	return &site{
		cfg:    cfg,
		logger: logger,
		st:     st,
		reg:    translate.Default(),
	}, nil
}

// Close releases the notifier and the database.
func (s *site) Close() error {
	var errs []error
	if s.notifier != nil {
		errs = append(errs, s.notifier.Close())
	}
	errs = append(errs, s.st.Close())
	return errors.Join(errs...)
}

// coordinator builds the site's coordinator. A remote site talks to its
// configured peer over HTTP; a central site takes no peer.
func (s *site) coordinator() (*engine.Coordinator, error) {
	n, err := s.cfg.Notifier(s.logger)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to start notifier", err)
	}
	s.notifier = n

	var peer engine.Peer
	if engine.Role(s.cfg.Site.Role) == engine.RoleRemote {
		auth, err := s.authenticator()
		if err != nil {
			return nil, err
		}
		peer = transport.NewClient(s.cfg.Peer.URL, s.cfg.Site.ID, auth,
			transport.WithHTTPClient(&http.Client{Timeout: s.cfg.Peer.Timeout.Std()}),
			transport.WithClientLogger(s.logger),
		)
	}

	coord, err := engine.NewCoordinator(s.st, s.reg, peer, s.cfg.EngineConfig(),
		engine.WithLogger(s.logger),
		engine.WithNotifier(n),
	)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to create coordinator", err)
	}
	return coord, nil
}

func (s *site) authenticator() (*transport.Authenticator, error) {
	auth, err := transport.NewAuthenticator(s.cfg.Auth.Secret, s.cfg.Auth.TokenTTL.Std())
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid auth config", err)
	}
	return auth, nil
}

// newLogger returns a slog logger on w in the configured format.
func newLogger(cfg config.Config, verbose bool, w io.Writer) *slog.Logger {
	handlerOpts := &slog.HandlerOptions{Level: cfg.SlogLevel(verbose)}
	if cfg.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts))
}

// signalContext derives a context from the command's that is cancelled
// on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
