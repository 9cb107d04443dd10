// Package daemon is the composition root: it owns the embedded store,
// constructs the terminal adapter, assigner, supervisor, coordinator,
// and control-surface server, and runs them with an ordered startup
// and shutdown. Children stop before the coordinator's loops; the
// pidfile is written first and removed last.
package daemon

import (
	"context"
	"path/filepath"
	"time"

	"github.com/cuemby/fleetctl/pkg/api"
	"github.com/cuemby/fleetctl/pkg/apierr"
	"github.com/cuemby/fleetctl/pkg/assigner"
	"github.com/cuemby/fleetctl/pkg/clock"
	"github.com/cuemby/fleetctl/pkg/cluster"
	"github.com/cuemby/fleetctl/pkg/config"
	"github.com/cuemby/fleetctl/pkg/events"
	"github.com/cuemby/fleetctl/pkg/health"
	"github.com/cuemby/fleetctl/pkg/log"
	"github.com/cuemby/fleetctl/pkg/remote"
	"github.com/cuemby/fleetctl/pkg/storage"
	"github.com/cuemby/fleetctl/pkg/supervisor"
	"github.com/cuemby/fleetctl/pkg/terminal"
	"github.com/rs/zerolog"
)

// Daemon holds every constructed component for one process instance.
type Daemon struct {
	cfgPath string
	cfg     *config.Config
	logger  zerolog.Logger

	store       *storage.BoltStore
	broker      *events.Broker
	prober      *health.Prober
	executor    *remote.Executor
	terminal    *terminal.Adapter
	assigner    *assigner.Assigner
	supervisor  *supervisor.Supervisor
	coordinator *cluster.Coordinator
	server      *api.Server

	pidPath   string
	eventSub  events.Subscriber
	serverErr chan error
}

// New constructs (but does not start) a Daemon from the configuration
// at cfgPath.
func New(cfgPath string) (*Daemon, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, apierr.Wrap(apierr.Transport, "open store", err)
	}

	clk := clock.Real{}
	broker := events.NewBroker()
	prober := health.NewProber(0)

	// Worker panes live either on this host's tmux server or, when
	// remote_mux is configured, on another node's, reached over SSH.
	var mux terminal.Muxer = &terminal.TmuxMuxer{}
	var executor *remote.Executor
	if rm := cfg.Assigner.RemoteMux; rm != nil {
		executor = remote.New(0)
		mux = &remote.TmuxMuxer{
			Exec: executor,
			Target: remote.Target{
				Host:    rm.Host,
				User:    rm.User,
				Port:    rm.Port,
				KeyPath: rm.KeyPath,
			},
		}
	}
	term := terminal.New(mux)

	d := &Daemon{
		cfgPath:     cfgPath,
		cfg:         cfg,
		logger:      log.WithComponent("daemon"),
		store:       store,
		broker:      broker,
		prober:      prober,
		executor:    executor,
		terminal:    term,
		assigner:    assigner.New(store, term, clk, broker, cfg.AssignerConfig()),
		supervisor:  supervisor.New(store, prober, clk, broker, cfg.SupervisorConfig()),
		coordinator: cluster.New(store, prober, clk, broker, cfg.ClusterConfig()),
		pidPath:     filepath.Join(cfg.Supervisor.PidDirectory, "fleetctl.pid"),
		serverErr:   make(chan error, 1),
	}
	d.server = api.NewServer(store, d.assigner, d.supervisor, d.coordinator, d.Reload)
	return d, nil
}

// Run starts every component and blocks until ctx is cancelled or the
// control-surface listener fails, then shuts everything down in order.
func (d *Daemon) Run(ctx context.Context) error {
	if err := writePidFile(d.pidPath); err != nil {
		return err
	}
	defer removePidFile(d.pidPath)

	d.broker.Start()
	d.eventSub = d.broker.Subscribe()
	go d.drainEvents()

	for _, n := range d.cfg.ClusterNodes() {
		if err := d.coordinator.RegisterNode(n); err != nil {
			return err
		}
	}
	for _, svc := range d.cfg.ManagedServices() {
		if err := d.supervisor.Declare(svc); err != nil {
			return err
		}
	}
	if err := d.assigner.LoadSessions(); err != nil {
		return err
	}

	d.supervisor.Start(ctx)
	d.assigner.Start(ctx)
	d.coordinator.Start(ctx)
	go func() {
		d.serverErr <- d.server.Start(d.cfg.ListenAddr())
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-d.serverErr:
		runErr = apierr.Wrap(apierr.Transport, "control surface listener", err)
	}

	d.shutdown()
	return runErr
}

// shutdown stops components in dependency order: supervised children
// first, then the assigner (which finishes any in-flight injection),
// then the coordinator's loops, the HTTP server, the broker, and the
// store.
func (d *Daemon) shutdown() {
	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	d.supervisor.Stop(stopCtx)
	d.assigner.Stop()
	d.coordinator.Stop()
	if err := d.server.Stop(stopCtx); err != nil {
		d.logger.Warn().Err(err).Msg("control surface shutdown")
	}
	d.broker.Unsubscribe(d.eventSub)
	d.broker.Stop()
	if d.executor != nil {
		_ = d.executor.Close()
	}
	if err := d.store.Close(); err != nil {
		d.logger.Warn().Err(err).Msg("store close")
	}
	d.logger.Info().Msg("daemon stopped")
}

// drainEvents logs every fire-and-forget notification; delivery never
// blocks publishers, so a burst beyond the buffer is simply dropped.
func (d *Daemon) drainEvents() {
	for ev := range d.eventSub {
		var logEvent *zerolog.Event
		switch ev.Severity {
		case events.SeverityWarning:
			logEvent = d.logger.Warn()
		case events.SeverityCritical:
			logEvent = d.logger.Error()
		default:
			logEvent = d.logger.Info()
		}
		logEvent.
			Str("event", string(ev.Type)).
			Str("service", ev.ServiceID).
			Int64("prompt_id", ev.PromptID).
			Msg(ev.Message)
	}
}

// Reload re-reads the configuration file and applies the sections that
// can change at runtime: assigner exclusions, defaults, and provider
// markers. Service and coordinator topology changes require a restart
// and are logged as skipped.
func (d *Daemon) Reload() error {
	cfg, err := config.Load(d.cfgPath)
	if err != nil {
		return err
	}

	d.assigner.ApplyConfig(cfg.AssignerConfig())
	if len(cfg.Services) != len(d.cfg.Services) {
		d.logger.Warn().Msg("service declarations changed on disk; restart to apply")
	}
	d.cfg = cfg
	d.logger.Info().Msg("configuration reloaded")
	return nil
}
