package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/necessary-nu/tracey/internal/config"
	"github.com/necessary-nu/tracey/internal/errors"
	"github.com/necessary-nu/tracey/internal/paths"
	"github.com/necessary-nu/tracey/internal/patch"
	"github.com/necessary-nu/tracey/internal/query"
	"github.com/necessary-nu/tracey/internal/version"
)

// maxFrameSize bounds one request frame (large vfs_change payloads
// included).
const maxFrameSize = 16 * 1024 * 1024

// conn is one client connection.
type conn struct {
	d  *Daemon
	nc net.Conn

	writeMu sync.Mutex

	notifyMu   sync.Mutex
	subscribed bool
	pending    uint64 // latest un-sent version; 0 = none
	notifyCh   chan struct{}

	done      chan struct{}
	closeOnce sync.Once
}

func (d *Daemon) acceptLoop() {
	defer d.wg.Done()

	for {
		nc, err := d.listener.Accept()
		if err != nil {
			select {
			case <-d.ctx.Done():
				return
			default:
			}
			d.logger.Warn("Accept failed", map[string]interface{}{"error": err.Error()})
			continue
		}

		c := &conn{
			d:        d,
			nc:       nc,
			notifyCh: make(chan struct{}, 1),
			done:     make(chan struct{}),
		}

		d.connMu.Lock()
		d.conns[c] = true
		d.activity = time.Now()
		d.connMu.Unlock()

		d.wg.Add(2)
		go c.readLoop()
		go c.notifyLoop()
	}
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.nc.Close()
	})
}

func (c *conn) readLoop() {
	defer c.d.wg.Done()
	defer func() {
		c.close()
		c.d.connMu.Lock()
		delete(c.d.conns, c)
		c.d.activity = time.Now()
		c.d.connMu.Unlock()
	}()

	scanner := bufio.NewScanner(c.nc)
	scanner.Buffer(make([]byte, 64*1024), maxFrameSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			c.write(Response{Error: &WireError{
				Code:    string(errors.TransportError),
				Message: "malformed frame: " + err.Error(),
			}})
			continue
		}

		c.d.touch()
		c.handle(req)
	}
}

// handle dispatches one request, honoring its deadline.
func (c *conn) handle(req Request) {
	ctx := c.d.ctx
	var cancel context.CancelFunc
	if req.DeadlineMs > 0 {
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.DeadlineMs)*time.Millisecond)
	}

	type outcome struct {
		result interface{}
		err    error
	}
	resCh := make(chan outcome, 1)

	go func() {
		result, err := c.dispatch(ctx, req)
		resCh <- outcome{result: result, err: err}
	}()

	var out outcome
	select {
	case out = <-resCh:
	case <-ctx.Done():
		if cancel != nil {
			cancel()
		}
		c.write(Response{ID: req.ID, Error: &WireError{
			Code:    string(errors.DeadlineExceeded),
			Message: fmt.Sprintf("deadline of %dms exceeded", req.DeadlineMs),
		}})
		return
	}
	if cancel != nil {
		cancel()
	}

	if out.err != nil {
		c.write(Response{ID: req.ID, Error: wireError(out.err)})
		return
	}

	data, err := json.Marshal(out.result)
	if err != nil {
		c.write(Response{ID: req.ID, Error: wireError(err)})
		return
	}
	c.write(Response{ID: req.ID, Result: data})
}

func (c *conn) write(resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.nc.Write(append(data, '\n'))
}

// notifyLoop delivers version notifications in non-decreasing order.
// Intermediate versions are dropped when the client cannot keep up;
// only the latest matters.
func (c *conn) notifyLoop() {
	defer c.d.wg.Done()

	for {
		select {
		case <-c.done:
			return
		case <-c.notifyCh:
			c.notifyMu.Lock()
			v := c.pending
			c.pending = 0
			c.notifyMu.Unlock()
			if v == 0 {
				continue
			}
			params, _ := json.Marshal(VersionParams{Version: v})
			c.write(Response{Method: NotifyVersion, Params: params})
		}
	}
}

// queueNotify records the latest version for delivery.
func (c *conn) queueNotify(v uint64) {
	c.notifyMu.Lock()
	if !c.subscribed {
		c.notifyMu.Unlock()
		return
	}
	if v > c.pending {
		c.pending = v
	}
	c.notifyMu.Unlock()

	select {
	case c.notifyCh <- struct{}{}:
	default:
	}
}

// broadcastVersion pushes a published version to all subscribers.
func (d *Daemon) broadcastVersion(v uint64) {
	d.connMu.Lock()
	conns := make([]*conn, 0, len(d.conns))
	for c := range d.conns {
		conns = append(conns, c)
	}
	d.connMu.Unlock()

	for _, c := range conns {
		c.queueNotify(v)
	}
}

func (c *conn) dispatch(ctx context.Context, req Request) (interface{}, error) {
	d := c.d

	switch req.Method {
	case MethodPing:
		return map[string]interface{}{"ok": true, "pid": os.Getpid(), "protocol": version.Protocol}, nil

	case MethodVersion:
		return VersionParams{Version: d.Version()}, nil

	case MethodSubscribe:
		c.notifyMu.Lock()
		c.subscribed = true
		c.notifyMu.Unlock()
		return VersionParams{Version: d.Version()}, nil

	case MethodShutdown:
		defer d.cancel()
		return map[string]interface{}{"ok": true}, nil

	case MethodReload:
		d.buildNow(ctx)
		return VersionParams{Version: d.Version()}, nil
	}

	// Query methods dispatch against the latest published snapshot; a
	// build in progress blocks them until it completes.
	if err := d.waitIdle(ctx); err != nil {
		return nil, errors.Wrap(errors.DeadlineExceeded, "waiting for build", err)
	}
	snap := d.Snapshot()

	switch req.Method {
	case MethodStatus:
		report := query.Status(snap)
		if _, cfgErr := d.engine.Config(); cfgErr != nil {
			report.ConfigError = cfgErr.Error()
		}
		return report, nil

	case MethodUncovered, MethodUntested, MethodStale:
		var p FilterParams
		parseParams(req.Params, &p)
		f := query.Filter{Spec: p.Spec, Impl: p.Impl, Prefix: p.Prefix}
		switch req.Method {
		case MethodUncovered:
			return query.Uncovered(snap, f), nil
		case MethodUntested:
			return query.Untested(snap, f), nil
		default:
			return query.Stale(snap, f), nil
		}

	case MethodUnmapped:
		var p FilterParams
		parseParams(req.Params, &p)
		return query.Unmapped(snap, query.Filter{Spec: p.Spec, Impl: p.Impl}, p.Path), nil

	case MethodRule:
		var p RuleParams
		parseParams(req.Params, &p)
		return query.Rule(snap, p.ID)

	case MethodValidate:
		var p FilterParams
		parseParams(req.Params, &p)
		report := query.Validate(snap, query.Filter{Spec: p.Spec, Impl: p.Impl})
		if _, cfgErr := d.engine.Config(); cfgErr != nil {
			return map[string]interface{}{
				"configError": cfgErr.Error(),
				"report":      report,
			}, nil
		}
		return report, nil

	case MethodConfig:
		cfg, cfgErr := d.engine.Config()
		result := map[string]interface{}{"root": d.root, "config": cfg}
		if cfgErr != nil {
			result["configError"] = cfgErr.Error()
		}
		return result, nil

	case MethodSpec:
		var p FilterParams
		parseParams(req.Params, &p)
		return query.Spec(snap, p.Spec)

	case MethodForward:
		var p FilterParams
		parseParams(req.Params, &p)
		return query.Forward(snap, query.Filter{Spec: p.Spec, Impl: p.Impl}), nil

	case MethodFile:
		var p FilterParams
		parseParams(req.Params, &p)
		return query.File(snap, query.Filter{Spec: p.Spec, Impl: p.Impl}, p.Path)

	case MethodVfsOpen, MethodVfsChange, MethodVfsClose:
		return c.handleVfs(ctx, req)

	case MethodFileRangeFetch:
		var p FileRangeParams
		parseParams(req.Params, &p)
		abs, err := d.workspacePath(p.Path)
		if err != nil {
			return nil, err
		}
		return patch.Fetch(abs, p.Start, p.End)

	case MethodFileRangePatch:
		var p FileRangeParams
		parseParams(req.Params, &p)
		abs, err := d.workspacePath(p.Path)
		if err != nil {
			return nil, err
		}
		res, err := patch.Apply(abs, p.Start, p.End, p.Content, p.FileHash)
		if err != nil {
			return nil, err
		}
		d.RequestBuild()
		return res, nil

	case MethodConfigInclude, MethodConfigExclude:
		var p ConfigPatternParams
		parseParams(req.Params, &p)
		if err := d.mutateConfig(req.Method, p); err != nil {
			return nil, err
		}
		d.buildNow(ctx)
		return VersionParams{Version: d.Version()}, nil
	}

	return nil, errors.New(errors.InternalError, fmt.Sprintf("unknown method %q", req.Method))
}

// handleVfs applies an overlay operation and rebuilds before replying,
// so a query issued after the acknowledgment observes the change.
func (c *conn) handleVfs(ctx context.Context, req Request) (interface{}, error) {
	var p VfsParams
	parseParams(req.Params, &p)
	if p.Path == "" {
		return nil, errors.New(errors.RangeInvalid, "vfs path must not be empty")
	}

	abs, err := c.d.workspacePath(p.Path)
	if err != nil {
		return nil, err
	}

	overlay := c.d.engine.Overlay()
	switch req.Method {
	case MethodVfsOpen:
		overlay.Open(abs, []byte(p.Content))
	case MethodVfsChange:
		overlay.Change(abs, []byte(p.Content))
	case MethodVfsClose:
		overlay.Close(abs)
	}

	c.d.buildNow(ctx)
	return VersionParams{Version: c.d.Version()}, nil
}

// workspacePath resolves a canonical or absolute path inside the
// workspace, rejecting escapes.
func (d *Daemon) workspacePath(p string) (string, error) {
	abs := p
	if !isAbs(p) {
		abs = paths.Join(d.root, p)
	}
	if !paths.IsWithin(abs, d.root) {
		return "", errors.New(errors.RangeInvalid, fmt.Sprintf("path %q is outside the workspace", p))
	}
	return abs, nil
}

func isAbs(p string) bool {
	return len(p) > 0 && p[0] == '/'
}

// mutateConfig re-serializes the configuration with one added pattern.
// Config writes serialize through the daemon.
func (d *Daemon) mutateConfig(method string, p ConfigPatternParams) error {
	d.buildMu.Lock()
	defer d.buildMu.Unlock()

	cfg, err := config.Load(d.root)
	if err != nil {
		return errors.Wrap(errors.ConfigInvalid, "cannot mutate unparsable config", err)
	}

	spec := cfg.SpecByName(p.Spec)
	if spec == nil {
		return errors.New(errors.SpecNotFound, fmt.Sprintf("no spec %q", p.Spec))
	}

	if p.Impl == "" {
		if method == MethodConfigExclude {
			return errors.New(errors.ConfigInvalid, "spec-level excludes are not supported; name an impl")
		}
		spec.Include = append(spec.Include, p.Pattern)
	} else {
		impl := spec.ImplByName(p.Impl)
		if impl == nil {
			return errors.New(errors.ImplNotFound, fmt.Sprintf("no impl %q in spec %q", p.Impl, p.Spec))
		}
		if method == MethodConfigInclude {
			impl.Include = append(impl.Include, p.Pattern)
		} else {
			impl.Exclude = append(impl.Exclude, p.Pattern)
		}
	}

	return cfg.Save(d.root)
}

func parseParams(raw json.RawMessage, out interface{}) {
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, out)
	}
}
