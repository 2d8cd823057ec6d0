package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"reflect"
	"sync"
	"time"

	"github.com/danmuck/boxrelay/internal/codec"
	"github.com/danmuck/boxrelay/internal/config"
	"github.com/danmuck/boxrelay/internal/frontend"
	"github.com/danmuck/boxrelay/internal/logging"
	"github.com/danmuck/boxrelay/internal/observability"
	"github.com/danmuck/boxrelay/internal/queue"
	"github.com/danmuck/boxrelay/internal/router"
	"github.com/danmuck/boxrelay/internal/supervisor"
	"github.com/danmuck/boxrelay/internal/worker"
	"github.com/rs/zerolog/log"
)

// SpawnerFactory builds the worker spawner once group socket paths are known.
type SpawnerFactory func(socket func(group string) string) (supervisor.Spawner, error)

type Option func(*App)

// WithConfigPath enables reloading workers when the file changes.
func WithConfigPath(path string) Option {
	return func(a *App) { a.configPath = path }
}

// WithRoute selects the group for each decoded frame.
func WithRoute(route frontend.RouteFunc) Option {
	return func(a *App) { a.route = route }
}

func WithLinkConfig(cfg queue.LinkConfig) Option {
	return func(a *App) { a.linkCfg = cfg }
}

func WithSpawner(factory SpawnerFactory) Option {
	return func(a *App) { a.spawner = factory }
}

// WithListener serves on ln instead of listening on server.listen_addr.
func WithListener(ln net.Listener) Option {
	return func(a *App) { a.listener = ln }
}

// WithAdminListener serves the admin surface on ln instead of
// admin.listen_addr.
func WithAdminListener(ln net.Listener) Option {
	return func(a *App) { a.adminListener = ln }
}

func WithCloseHook(fn frontend.CloseHook) Option {
	return func(a *App) { a.onClose = fn }
}

// App is the configured process: codec, router, route and config.
type App struct {
	cfg    config.Config
	codec  codec.Codec
	router *router.Router

	configPath    string
	route         frontend.RouteFunc
	linkCfg       queue.LinkConfig
	spawner       SpawnerFactory
	listener      net.Listener
	adminListener net.Listener
	onClose       frontend.CloseHook
}

func New(cfg config.Config, c codec.Codec, r *router.Router, opts ...Option) *App {
	a := &App{
		cfg:     cfg,
		codec:   c,
		router:  r,
		linkCfg: queue.DefaultLinkConfig(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.spawner == nil {
		a.spawner = selfSpawner
	}
	return a
}

func (a *App) Config() config.Config {
	return a.cfg
}

// Run validates the router and runs the role selected by the environment.
// Route conflicts abort before anything binds.
func (a *App) Run(ctx context.Context) error {
	if a.codec == nil || a.router == nil {
		return errors.New("app: codec and router are required")
	}
	if err := a.router.Validate(); err != nil {
		return err
	}
	if worker.IsWorkerProcess() {
		return a.RunWorker(ctx)
	}
	return a.RunFrontend(ctx)
}

// RunWorker attaches to the group named by the environment and serves jobs
// until stopped.
func (a *App) RunWorker(ctx context.Context) error {
	target, err := worker.TargetFromEnv()
	if err != nil {
		return err
	}
	logging.ConfigureFrom(a.cfg.LoggingConfig())
	info := worker.NewInfo(target.Group)
	logging.WithFields(map[string]string{"role": "worker", "group": info.Group, "worker_id": info.ID})

	attachCtx, stopStartup := worker.StartupSignals(ctx)
	link, err := worker.Attach(attachCtx, target, info, a.linkCfg)
	if err != nil {
		stopStartup()
		if attachCtx.Err() != nil && ctx.Err() == nil {
			log.Info().Str("group", info.Group).Msg("worker stopped before attaching")
			return nil
		}
		return err
	}
	defer link.Close()

	w := worker.New(a.cfg.WorkerConfig(), info, a.router, a.codec, link)
	w.HandleSignals(ctx)
	stopStartup()
	return w.Run(ctx)
}

// RunFrontend serves TCP clients and supervises the worker pool until every
// worker has exited after a stop signal or ctx cancellation.
func (a *App) RunFrontend(ctx context.Context) error {
	logging.ConfigureFrom(a.cfg.LoggingConfig())
	logging.WithFields(map[string]string{"role": "frontend"})
	observability.RegisterMetrics()

	groups, err := a.cfg.QueueGroups()
	if err != nil {
		return err
	}

	ipcDir := a.cfg.Supervisor.IPCDir
	if ipcDir == "" {
		ipcDir, err = os.MkdirTemp("", "boxrelay-")
		if err != nil {
			return fmt.Errorf("app: create ipc dir: %w", err)
		}
		defer os.RemoveAll(ipcDir)
	}
	broker := queue.NewBroker(ipcDir, a.linkCfg, groups...)
	if err := broker.Listen(); err != nil {
		return err
	}

	srv, err := frontend.NewServer(a.cfg.FrontendConfig(), a.codec, a.route, groups...)
	if err != nil {
		return err
	}
	if a.onClose != nil {
		srv.OnClose(a.onClose)
	}

	ln := a.listener
	if ln == nil {
		ln, err = net.Listen("tcp", a.cfg.Server.ListenAddr)
		if err != nil {
			return fmt.Errorf("app: listen %s: %w", a.cfg.Server.ListenAddr, err)
		}
	}

	spawner, err := a.spawner(broker.SocketPath)
	if err != nil {
		_ = ln.Close()
		return err
	}
	sup, err := supervisor.New(a.cfg.SupervisorConfig(), spawner, a.cfg.GroupSpecs()...)
	if err != nil {
		_ = ln.Close()
		return err
	}

	svcCtx, stopServices := context.WithCancel(context.Background())
	defer stopServices()
	sigCtx, stopSignals := context.WithCancel(ctx)
	defer stopSignals()
	sup.NotifySignals(sigCtx)

	var (
		wg       sync.WaitGroup
		errMu    sync.Mutex
		firstErr error
	)
	fail := func(name string, err error) {
		if err == nil {
			return
		}
		log.Error().Err(err).Str("service", name).Msg("service failed; stopping workers")
		errMu.Lock()
		if firstErr == nil {
			firstErr = fmt.Errorf("app: %s: %w", name, err)
		}
		errMu.Unlock()
		sup.Terminate()
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		fail("broker", broker.Serve(svcCtx))
	}()
	go func() {
		defer wg.Done()
		fail("frontend", srv.Serve(svcCtx, ln))
	}()

	if a.adminListener != nil || a.cfg.Admin.ListenAddr != "" {
		h := observability.NewAdminRouter(func() any { return a.adminView(svcCtx, sup, broker, srv) })
		wg.Add(1)
		go func() {
			defer wg.Done()
			if a.adminListener != nil {
				fail("admin", observability.ServeAdminListener(svcCtx, a.adminListener, h))
				return
			}
			fail("admin", observability.ServeAdmin(svcCtx, a.cfg.Admin.ListenAddr, h))
		}()
	}

	if a.configPath != "" {
		watcher := config.NewWatcher(a.configPath, 0, func(next config.Config) { a.reload(sup, next) })
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := watcher.Run(svcCtx); err != nil {
				log.Warn().Err(err).Msg("config watcher unavailable")
			}
		}()
	}

	log.Info().
		Str("addr", ln.Addr().String()).
		Str("ipc_dir", ipcDir).
		Strs("groups", srv.Bridge().Groups()).
		Msg("boxrelay frontend started")

	runErr := sup.Run(ctx)
	stopServices()
	wg.Wait()
	log.Info().Msg("boxrelay frontend stopped")

	if runErr != nil {
		return runErr
	}
	errMu.Lock()
	defer errMu.Unlock()
	return firstErr
}

// reload restarts workers so they pick up the new file. Listener and group
// changes need a process restart.
func (a *App) reload(sup *supervisor.Supervisor, next config.Config) {
	if next.Server.ListenAddr != a.cfg.Server.ListenAddr ||
		next.Supervisor.IPCDir != a.cfg.Supervisor.IPCDir ||
		!reflect.DeepEqual(next.Groups, a.cfg.Groups) {
		log.Warn().Msg("listener and group changes apply after a restart")
	}
	sup.Reload()
}

type adminView struct {
	Connections int                       `json:"connections"`
	Workers     []supervisor.WorkerStatus `json:"workers"`
	Links       []queue.LinkInfo          `json:"links"`
}

func (a *App) adminView(ctx context.Context, sup *supervisor.Supervisor, broker *queue.Broker, srv *frontend.Server) adminView {
	view := adminView{
		Workers: sup.Snapshot(),
		Links:   broker.Links(),
	}
	callCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if n, err := srv.Connections(callCtx); err == nil {
		view.Connections = n
	}
	return view
}

func selfSpawner(socket func(group string) string) (supervisor.Spawner, error) {
	sp, err := supervisor.SelfSpawner(func(group string) []string {
		return worker.Env(group, socket(group))
	})
	if err != nil {
		return nil, err
	}
	return sp, nil
}
