// Package gateway wires a SATP gateway together: the stage services served over gRPC, the session registry, the crash
// manager, the client side transfer flow towards counterparty gateways and the admin REST API.
package gateway

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/grpc"

	"github.com/tarancss/satp/gateway/crash"
	"github.com/tarancss/satp/gateway/rollback"
	"github.com/tarancss/satp/gateway/rpc"
	"github.com/tarancss/satp/gateway/stage"
	"github.com/tarancss/satp/lib/bridge"
	"github.com/tarancss/satp/lib/config"
	"github.com/tarancss/satp/lib/log"
	"github.com/tarancss/satp/lib/monitor"
	"github.com/tarancss/satp/lib/msg"
	"github.com/tarancss/satp/lib/msg/amqp"
	"github.com/tarancss/satp/lib/signer"
	"github.com/tarancss/satp/lib/store"
	"github.com/tarancss/satp/lib/store/db"
)

// Errors returned by the gateway.
var (
	ErrNoSigner       = errors.New("gateway has no signer")
	ErrNoBridges      = errors.New("gateway has no bridge manager")
	ErrNoCounterparty = errors.New("no counterparty gateway serves network")
	ErrBadRequest     = errors.New("bad request")
	ErrNoSession      = errors.New("session not found")
)

// Options of a Gateway. Repository defaults to an in-memory store and Remote may be nil.
type Options struct {
	Config      config.GatewayConfig
	Signer      *signer.Signer
	Bridges     *bridge.Manager
	Repository  store.LogRepository
	Remote      msg.RemoteLogRepository
	Monitor     *monitor.Service
	Log         log.Logger
	DialOptions []grpc.DialOption
}

// Gateway is a SATP gateway.
type Gateway struct {
	cfg      config.GatewayConfig
	signer   *signer.Signer
	bridges  *bridge.Manager
	repo     store.LogRepository
	remote   msg.RemoteLogRepository
	mon      *monitor.Service
	log      log.Logger
	sessions *Registry
	opts     stage.Options
	server   *rpc.Server
	crash    *crash.Manager
	proofs   *store.Proofs
	dialOpts []grpc.DialOption

	mu    sync.Mutex
	peers map[string]*rpc.Client // by counterparty gateway id
}

// New returns a gateway.
func New(o Options) (*Gateway, error) {
	if o.Signer == nil {
		return nil, ErrNoSigner
	}

	if o.Bridges == nil {
		return nil, ErrNoBridges
	}

	if o.Monitor == nil {
		o.Monitor = monitor.Disabled()
	}

	if o.Repository == nil {
		o.Repository, _ = db.New(db.MEMORY, "")
	}

	g := &Gateway{
		cfg:      o.Config,
		signer:   o.Signer,
		bridges:  o.Bridges,
		repo:     o.Repository,
		remote:   o.Remote,
		mon:      o.Monitor,
		log:      o.Log.Module("gateway"),
		sessions: NewRegistry(),
		proofs:   store.NewProofs(o.Log),
		dialOpts: o.DialOptions,
		peers:    make(map[string]*rpc.Client),
	}

	g.opts = stage.Options{
		Signer:  o.Signer,
		Bridges: o.Bridges,
		Auditor: store.NewAuditor(o.Config.ID, o.Repository, o.Remote, o.Signer, o.Log),
		Monitor: o.Monitor,
		Log:     o.Log,
	}

	var err error

	g.crash, err = crash.New(crash.Options{
		GatewayID:     o.Config.ID,
		Repository:    o.Repository,
		Auditor:       g.opts.Auditor,
		Factory:       rollback.NewFactory(o.Bridges, o.Monitor, o.Log),
		Sessions:      g.sessions,
		Peers:         g,
		Signer:        o.Signer,
		Proofs:        g.proofs,
		Monitor:       o.Monitor,
		Log:           o.Log,
		CheckInterval: time.Duration(o.Config.CheckInterval),
		MaxTimeout:    time.Duration(o.Config.MaxTimeout),
		MaxRetries:    o.Config.MaxRetries,
	})
	if err != nil {
		return nil, err
	}

	g.server = rpc.NewServer(g.opts, g.sessions, g.crash)

	return g, nil
}

// NewFromConfig builds the signer, bridge leaves, log store, remote log broker and monitoring of cfg and returns the
// gateway using them.
func NewFromConfig(cfg config.GatewayConfig, l log.Logger) (*Gateway, error) {
	mc := monitor.Config{Enabled: cfg.MonitorEnabled, ServiceName: cfg.Name}
	if cfg.TraceStdout {
		mc.TraceWriter = os.Stdout
	}

	mon, err := monitor.New(mc, l)
	if err != nil {
		return nil, err
	}

	s, err := signer.FromSeed(cfg.Seed, cfg.KeyWallet, cfg.KeyIndex)
	if err != nil {
		return nil, errors.Wrap(err, "loading gateway key")
	}

	bridges := bridge.NewManager(l, mon, s, 0)
	if err = bridge.Init(cfg.Networks, bridge.Account{Address: s.Address(), Key: s.PrivateKeyHex()}, bridges); err != nil {
		return nil, err
	}

	repo, err := db.New(cfg.LogType, cfg.LogConn)
	if err != nil {
		bridges.Close()

		return nil, errors.Wrapf(err, "opening %s log store", cfg.LogType)
	}

	var remote msg.RemoteLogRepository

	switch cfg.MbType {
	case "amqp":
		r, err := amqp.New(cfg.MbConn, l)
		if err != nil {
			bridges.Close()
			_ = db.Close(repo)

			return nil, err
		}

		if err = r.Setup(); err != nil {
			bridges.Close()
			_ = db.Close(repo)
			_ = r.Close()

			return nil, err
		}

		remote = r
	case "":
	default:
		l.Warn().Str("mbtype", cfg.MbType).Msg("unknown message broker type, remote logs disabled")
	}

	return New(Options{
		Config:     cfg,
		Signer:     s,
		Bridges:    bridges,
		Repository: repo,
		Remote:     remote,
		Monitor:    mon,
		Log:        l,
	})
}

// ID returns the gateway id.
func (g *Gateway) ID() string { return g.cfg.ID }

// PubKey returns the gateway public key.
func (g *Gateway) PubKey() string { return g.signer.PubKey() }

// Sessions returns the session registry.
func (g *Gateway) Sessions() *Registry { return g.sessions }

// CrashManager returns the crash manager.
func (g *Gateway) CrashManager() *crash.Manager { return g.crash }

// Monitor returns the monitoring service.
func (g *Gateway) Monitor() *monitor.Service { return g.mon }

// Recover rebuilds the sessions found in the log store.
func (g *Gateway) Recover(ctx context.Context) (int, error) {
	return g.crash.RecoverSessions(ctx)
}

// Close closes the counterparty connections, the bridge leaves, the log store, the broker and the monitoring
// service.
func (g *Gateway) Close() {
	g.mu.Lock()
	for id, c := range g.peers {
		if err := c.Close(); err != nil {
			g.log.Error().Err(err).Str("peer", id).Msg("closing counterparty connection")
		}
	}
	g.peers = make(map[string]*rpc.Client)
	g.mu.Unlock()

	g.bridges.Close()

	if err := db.Close(g.repo); err != nil {
		g.log.Error().Err(err).Msg("closing log store")
	}

	if g.remote != nil {
		if err := g.remote.Close(); err != nil {
			g.log.Error().Err(err).Msg("closing message broker")
		}
	}

	if err := g.mon.Shutdown(context.Background()); err != nil {
		g.log.Error().Err(err).Msg("shutting down monitoring")
	}
}
