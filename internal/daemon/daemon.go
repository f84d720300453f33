package daemon

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/necessary-nu/tracey/internal/engine"
	"github.com/necessary-nu/tracey/internal/logging"
	"github.com/necessary-nu/tracey/internal/model"
	"github.com/necessary-nu/tracey/internal/paths"
	"github.com/necessary-nu/tracey/internal/version"
	"github.com/necessary-nu/tracey/internal/watcher"
)

// Options configures the daemon.
type Options struct {
	// IdleTimeout shuts the daemon down after this long with no client
	// connections and no in-flight builds. Zero disables idle exit.
	IdleTimeout time.Duration
	// Watch enables the filesystem watcher.
	Watch bool
	// Cache enables the on-disk parse-artifact cache.
	Cache bool
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		IdleTimeout: 30 * time.Minute,
		Watch:       true,
		Cache:       true,
	}
}

// Daemon owns the workspace model and serves it over the local socket.
type Daemon struct {
	root   string
	opts   Options
	logger *logging.Logger
	engine *engine.Engine
	fsw    *watcher.Watcher
	pid    *PIDFile

	snap    atomic.Pointer[model.Snapshot]
	version atomic.Uint64

	// buildCh coalesces triggers: at most one build runs, at most one
	// more is queued.
	buildCh chan struct{}
	buildMu sync.Mutex // serializes engine.Build + publish

	stateMu    sync.Mutex
	buildDepth int
	buildDone  chan struct{}

	connMu     sync.Mutex
	conns      map[*conn]bool
	activity   time.Time

	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New creates a daemon for a workspace root.
func New(root string, logger *logging.Logger, opts Options) *Daemon {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Daemon{
		root:      root,
		opts:      opts,
		logger:    logger,
		engine:    engine.New(root, logger, engine.Options{Cache: opts.Cache}),
		pid:       NewPIDFile(paths.PIDPath(root)),
		buildCh:   make(chan struct{}, 1),
		buildDone: make(chan struct{}),
		conns:     make(map[*conn]bool),
		activity:  time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}
	close(d.buildDone) // not building
	d.snap.Store(model.Empty())
	d.fsw = watcher.New(root, watcher.DefaultConfig(), logger, d.onChanges)
	return d
}

// Engine exposes the build engine (VFS overlay, config state).
func (d *Daemon) Engine() *engine.Engine {
	return d.engine
}

// Snapshot returns the latest published snapshot.
func (d *Daemon) Snapshot() *model.Snapshot {
	return d.snap.Load()
}

// Version returns the latest published model version.
func (d *Daemon) Version() uint64 {
	return d.version.Load()
}

// Start acquires the pid file and socket, runs the first build, and
// begins serving.
func (d *Daemon) Start() error {
	if _, err := paths.EnsureStateDir(d.root); err != nil {
		return err
	}
	if err := d.pid.Acquire(version.Protocol); err != nil {
		return err
	}

	ln, err := bindSocket(paths.SocketPath(d.root))
	if err != nil {
		d.pid.Release()
		return err
	}
	d.listener = ln

	if d.opts.Watch {
		cfg, _ := d.engine.Config()
		if err := d.fsw.Start(cfg); err != nil {
			d.logger.Warn("Watcher failed to start", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	// First build happens before requests are accepted so early queries
	// see a real snapshot.
	d.buildNow(d.ctx)
	if cfg, cfgErr := d.engine.Config(); cfgErr == nil && d.opts.Watch {
		d.fsw.Reconfigure(cfg)
	}

	d.wg.Add(2)
	go d.runBuilds()
	go d.acceptLoop()

	if d.opts.IdleTimeout > 0 {
		d.wg.Add(1)
		go d.idleLoop()
	}

	d.logger.Info("Daemon started", map[string]interface{}{
		"pid":      os.Getpid(),
		"version":  version.Version,
		"protocol": version.Protocol,
		"socket":   paths.SocketPath(d.root),
	})
	return nil
}

// Wait blocks until the daemon stops: a signal, idle exit, or a
// shutdown request.
func (d *Daemon) Wait() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		d.logger.Info("Received signal", map[string]interface{}{"signal": sig.String()})
	case <-d.ctx.Done():
	}
}

// Stop releases the socket and pid file and waits for goroutines.
func (d *Daemon) Stop() error {
	d.cancel()

	if d.listener != nil {
		d.listener.Close()
	}

	d.connMu.Lock()
	for c := range d.conns {
		c.close()
	}
	d.connMu.Unlock()

	if d.opts.Watch {
		d.fsw.Stop()
	}

	d.wg.Wait()
	d.engine.Close()

	os.Remove(paths.SocketPath(d.root))
	if err := d.pid.Release(); err != nil {
		d.logger.Warn("Failed to release pid file", map[string]interface{}{
			"error": err.Error(),
		})
	}

	d.logger.Info("Daemon stopped", nil)
	return nil
}

// RequestBuild queues a build, coalescing with any already-queued one.
func (d *Daemon) RequestBuild() {
	select {
	case d.buildCh <- struct{}{}:
	default:
	}
}

// onChanges handles one debounced watcher batch.
func (d *Daemon) onChanges(events []watcher.Event) {
	d.logger.Debug("Filesystem changes", map[string]interface{}{
		"eventCount": len(events),
	})
	d.RequestBuild()
}

func (d *Daemon) runBuilds() {
	defer d.wg.Done()
	for {
		select {
		case <-d.ctx.Done():
			return
		case <-d.buildCh:
			d.buildNow(d.ctx)
		}
	}
}

// buildNow runs one build synchronously and publishes its snapshot.
// Config parse failures keep the previous snapshot current.
func (d *Daemon) buildNow(ctx context.Context) {
	d.setBuilding(true)
	defer d.setBuilding(false)

	d.buildMu.Lock()
	defer d.buildMu.Unlock()

	start := time.Now()
	snap, err := d.engine.Build(ctx)
	if err != nil {
		d.logger.Error("Build failed, keeping previous snapshot", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	next := d.version.Add(1)
	snap.Version = next
	d.snap.Store(snap)

	d.logger.Info("Published snapshot", map[string]interface{}{
		"version":    next,
		"durationMs": time.Since(start).Milliseconds(),
		"issues":     len(snap.Issues),
	})

	d.broadcastVersion(next)

	if cfg, cfgErr := d.engine.Config(); cfgErr == nil && d.opts.Watch {
		d.fsw.Reconfigure(cfg)
	}
}

func (d *Daemon) setBuilding(on bool) {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	if on {
		d.buildDepth++
		if d.buildDepth == 1 {
			d.buildDone = make(chan struct{})
		}
		return
	}
	d.buildDepth--
	if d.buildDepth == 0 {
		close(d.buildDone)
	}
}

// waitIdle blocks until no build is in progress. Requests dispatch
// against the latest published snapshot only after the current build
// (if any) completes.
func (d *Daemon) waitIdle(ctx context.Context) error {
	for {
		d.stateMu.Lock()
		building := d.buildDepth > 0
		done := d.buildDone
		d.stateMu.Unlock()

		if !building {
			return nil
		}
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (d *Daemon) touch() {
	d.connMu.Lock()
	d.activity = time.Now()
	d.connMu.Unlock()
}

func (d *Daemon) idleLoop() {
	defer d.wg.Done()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.connMu.Lock()
			idle := len(d.conns) == 0 && time.Since(d.activity) > d.opts.IdleTimeout
			d.connMu.Unlock()

			d.stateMu.Lock()
			building := d.buildDepth > 0
			d.stateMu.Unlock()

			if idle && !building {
				d.logger.Info("Idle timeout reached, exiting", nil)
				d.cancel()
				return
			}
		}
	}
}

// bindSocket listens on the unix socket path. A live owner wins; a
// stale socket is removed before binding.
func bindSocket(path string) (net.Listener, error) {
	ln, err := net.Listen("unix", path)
	if err == nil {
		return ln, nil
	}

	// The address is taken: probe it. A successful dial means another
	// daemon is alive and this process must lose.
	probe, derr := net.DialTimeout("unix", path, time.Second)
	if derr == nil {
		probe.Close()
		return nil, fmt.Errorf("another daemon owns %s", path)
	}

	if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
		return nil, fmt.Errorf("cannot remove stale socket %s: %w", path, rmErr)
	}
	return net.Listen("unix", path)
}
