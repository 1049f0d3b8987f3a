package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	gateway "github.com/marrasen/iec61850-gateway"
	"github.com/marrasen/iec61850-gateway/der"
	"github.com/marrasen/iec61850-gateway/iec61850"
	"github.com/marrasen/iec61850-gateway/memserver"
	"github.com/marrasen/iec61850-gateway/mqtt"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			log, err := newLogger(cfg.Log, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, log)
		},
	}
}

func newBackend(name string) (gateway.Backend, error) {
	switch name {
	case backendLibIEC61850:
		return iec61850.NewBackend(), nil
	case backendMemory:
		return memserver.NewBackend(), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", name)
	}
}

// serve configures and starts a session, connects it to the broker and runs
// until ctx is done or the broker connection cannot be opened.
func serve(ctx context.Context, cfg *gatewayFile, log *slog.Logger) error {
	backend, err := newBackend(cfg.Backend)
	if err != nil {
		return err
	}
	if cfg.Backend == backendLibIEC61850 {
		log.Info("using libiec61850", slog.String("version", iec61850.GetVersionString()))
	}

	session := gateway.NewSession(backend,
		gateway.WithLogger(log),
		gateway.WithCertificateDir(cfg.certDir()),
		gateway.WithScheduler(der.New(der.WithLogger(log))))
	defer session.Stop()

	cat, err := cfg.category()
	if err != nil {
		return err
	}
	if err := session.Configure(cat); err != nil {
		return err
	}

	var connector *mqtt.Connector
	if cfg.MQTT != nil {
		if connector, err = mqtt.NewConnector(cfg.MQTT, session, log); err != nil {
			return err
		}
		session.RegisterControl(connector)
	} else {
		log.Warn("no mqtt section: controls are rejected")
	}

	if err := session.Start(); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	if connector != nil {
		g.Go(func() error {
			if err := connector.Open(gctx); err != nil {
				return fmt.Errorf("open mqtt connection to %s: %w", cfg.MQTT.BrokerURL, err)
			}
			<-gctx.Done()
			connector.Close()
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		session.Stop()
		return nil
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
