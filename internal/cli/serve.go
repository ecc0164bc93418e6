package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/storesync/internal/engine"
	"github.com/roach88/storesync/internal/transport"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Listen string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the sync protocol for remote sites",
		Long: `Start the central sync server.

Remote sites pull central changes from POST /sync/pull and push their own
changes to POST /sync/push. Pushed records are staged and integrated by
the central coordinator every sync.interval.

Requires site.role: central.

Example:
  storesync serve --config ./central.yaml
  storesync serve --config ./central.yaml --listen 127.0.0.1:9090`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "listen address (overrides server.listen)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	s, err := openSite(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	if engine.Role(s.cfg.Site.Role) != engine.RoleCentral {
		return NewExitError(ExitCommandError, fmt.Sprintf("serve requires site.role central, got %q", s.cfg.Site.Role))
	}

	auth, err := s.authenticator()
	if err != nil {
		return err
	}
	coord, err := s.coordinator()
	if err != nil {
		return err
	}

	hub := engine.NewHub(s.st, s.reg, s.cfg.Site.ID,
		engine.WithMaxPageSize(s.cfg.Server.MaxPageSize),
		engine.WithHubLogger(s.logger),
	)
	srv := &http.Server{
		Handler:           transport.NewServer(hub, auth, s.logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	addr := s.cfg.Server.Listen
	if opts.Listen != "" {
		addr = opts.Listen
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	fmt.Fprintf(cmd.OutOrStdout(), "Central sync server for site %s listening on %s\n", s.cfg.Site.ID, ln.Addr())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		err := coord.Run(gctx)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout.Std())
		defer cancel()
		s.logger.Info("shutting down sync server")
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return WrapExitError(ExitFailure, "sync server error", err)
	}
	s.logger.Info("sync server stopped")
	return nil
}
