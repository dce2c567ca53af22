package gateway

import (
	"context"
	"net"
	"net/http"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/tarancss/satp/gateway/rpc"
)

// Listeners of a running gateway. A nil listener disables its server.
type Listeners struct {
	GRPC    net.Listener
	Admin   net.Listener
	Metrics net.Listener
}

// Run listens on the configured ports and serves until ctx is done.
func (g *Gateway) Run(ctx context.Context) error {
	var lis Listeners

	for _, l := range []struct {
		port string
		to   *net.Listener
	}{
		{g.cfg.Port, &lis.GRPC},
		{g.cfg.AdminPort, &lis.Admin},
		{g.cfg.MetricsPort, &lis.Metrics},
	} {
		if l.port == "" {
			continue
		}

		nl, err := net.Listen("tcp", g.cfg.Address+":"+l.port)
		if err != nil {
			closeAll(lis)

			return errors.Wrapf(err, "listening on port %s", l.port)
		}

		*l.to = nl
	}

	return g.Serve(ctx, lis)
}

func closeAll(lis Listeners) {
	for _, l := range []net.Listener{lis.GRPC, lis.Admin, lis.Metrics} {
		if l != nil {
			_ = l.Close()
		}
	}
}

// Serve recovers the logged sessions, starts the crash manager and serves the SATP services, the admin API and the
// metrics on lis until ctx is done or one of the servers fails.
func (g *Gateway) Serve(ctx context.Context, lis Listeners) error {
	if n, err := g.Recover(ctx); err != nil {
		g.log.Error().Err(err).Msg("recovering sessions")
	} else if n > 0 {
		g.log.Info().Int("sessions", n).Msg("recovered sessions")
	}

	grpcServer := rpc.NewGRPCServer(g.mon)
	g.server.Register(grpcServer)

	admin := newServer(g.AdminHandler())
	metrics := newServer(promhttp.HandlerFor(g.mon.Registry(), promhttp.HandlerOpts{}))

	eg, ctx := errgroup.WithContext(ctx)

	if lis.GRPC != nil {
		eg.Go(func() error {
			g.log.Info().Str("address", lis.GRPC.Addr().String()).Msg("serving SATP")

			if err := grpcServer.Serve(lis.GRPC); !errors.Is(err, grpc.ErrServerStopped) {
				return err
			}

			return nil
		})
	}

	for _, s := range []struct {
		name string
		srv  *http.Server
		lis  net.Listener
	}{
		{"admin", admin, lis.Admin},
		{"metrics", metrics, lis.Metrics},
	} {
		s := s
		if s.lis == nil {
			continue
		}

		eg.Go(func() error {
			g.log.Info().Str("address", s.lis.Addr().String()).Msgf("serving %s API", s.name)

			if err := s.srv.Serve(s.lis); !errors.Is(err, http.ErrServerClosed) {
				return errors.Wrapf(err, "serving %s API", s.name)
			}

			return nil
		})
	}

	g.crash.Start(ctx)
	g.followProofs(ctx, eg)

	eg.Go(func() error {
		<-ctx.Done()

		g.crash.Stop()
		grpcServer.GracefulStop()
		_ = admin.Shutdown(context.Background())
		_ = metrics.Shutdown(context.Background())

		g.log.Info().Msg("gateway stopped")

		return nil
	})

	return eg.Wait()
}

// followProofs collects the log proofs every counterparty publishes to the broker, so the rows they hand over during a
// recovery can be checked. Broker failures are logged and never stop the gateway.
func (g *Gateway) followProofs(ctx context.Context, eg *errgroup.Group) {
	if g.remote == nil {
		return
	}

	for _, peer := range g.cfg.Gateways {
		id := peer.ID
		if id == "" || id == g.cfg.ID {
			continue
		}

		eg.Go(func() error {
			if err := g.proofs.Follow(ctx, g.remote, id); err != nil {
				g.log.Error().Err(err).Str("peer", id).Msg("following log proofs")
			}

			return nil
		})
	}
}
