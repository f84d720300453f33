package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/necessary-nu/tracey/internal/errors"
	"github.com/necessary-nu/tracey/internal/paths"
	"github.com/necessary-nu/tracey/internal/version"
)

// Client is the RPC client bridges share. It is safe for concurrent
// use; calls are correlated by request ID.
type Client struct {
	root string
	nc   net.Conn

	writeMu sync.Mutex

	mu       sync.Mutex
	pending  map[string]chan Response
	onNotify func(uint64)
	closed   bool

	done chan struct{}
}

// Connect dials the workspace daemon socket.
func Connect(root string) (*Client, error) {
	nc, err := net.DialTimeout("unix", paths.SocketPath(root), 2*time.Second)
	if err != nil {
		return nil, errors.Wrap(errors.DaemonUnavailable, "daemon is not running", err)
	}

	c := &Client{
		root:    root,
		nc:      nc,
		pending: make(map[string]chan Response),
		done:    make(chan struct{}),
	}
	go c.readLoop()

	// Protocol check: a daemon speaking another wire version is as good
	// as absent.
	var pong struct {
		Protocol int `json:"protocol"`
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Call(ctx, MethodPing, nil, &pong); err != nil {
		c.Close()
		return nil, err
	}
	if pong.Protocol != version.Protocol {
		c.Close()
		return nil, errors.New(errors.ProtocolMismatch,
			fmt.Sprintf("daemon speaks protocol %d, this client needs %d", pong.Protocol, version.Protocol))
	}

	return c, nil
}

// ConnectOrStart dials the daemon, spawning one in the background when
// none is running.
func ConnectOrStart(root string) (*Client, error) {
	if c, err := Connect(root); err == nil {
		return c, nil
	}

	if err := spawnDaemon(root); err != nil {
		return nil, errors.Wrap(errors.DaemonUnavailable, "failed to start daemon", err)
	}

	// The daemon needs a moment to bind the socket and finish its
	// first build.
	var lastErr error
	for i := 0; i < 50; i++ {
		time.Sleep(100 * time.Millisecond)
		c, err := Connect(root)
		if err == nil {
			return c, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// spawnDaemon launches `tracey daemon` detached from this process.
func spawnDaemon(root string) error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}

	cmd := exec.Command(exe, "daemon")
	cmd.Dir = root
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	setDaemonSysProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		return err
	}
	return cmd.Process.Release()
}

// Close tears the connection down and fails all pending calls.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	close(c.done)
	return c.nc.Close()
}

// Call sends one request and decodes the result into out (which may be
// nil).
func (c *Client) Call(ctx context.Context, method string, params interface{}, out interface{}) error {
	req := Request{
		ID:     uuid.NewString(),
		Method: method,
	}
	if deadline, ok := ctx.Deadline(); ok {
		ms := int(time.Until(deadline).Milliseconds())
		if ms <= 0 {
			return errors.New(errors.DeadlineExceeded, "deadline already expired")
		}
		req.DeadlineMs = ms
	}
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return err
		}
		req.Params = data
	}

	ch := make(chan Response, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New(errors.TransportError, "client is closed")
	}
	c.pending[req.ID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
	}()

	if err := c.write(req); err != nil {
		return errors.Wrap(errors.TransportError, "write failed", err)
	}

	select {
	case <-ctx.Done():
		return errors.Wrap(errors.DeadlineExceeded, method, ctx.Err())
	case <-c.done:
		return errors.New(errors.TransportError, "connection closed")
	case resp := <-ch:
		if resp.Error != nil {
			return errors.New(errors.ErrorCode(resp.Error.Code), resp.Error.Message).WithDetails(resp.Error.Details)
		}
		if out != nil && len(resp.Result) > 0 {
			return json.Unmarshal(resp.Result, out)
		}
		return nil
	}
}

// Subscribe registers a version-notification handler and enables
// server pushes on this connection.
func (c *Client) Subscribe(ctx context.Context, fn func(uint64)) (uint64, error) {
	c.mu.Lock()
	c.onNotify = fn
	c.mu.Unlock()

	var v VersionParams
	if err := c.Call(ctx, MethodSubscribe, nil, &v); err != nil {
		return 0, err
	}
	return v.Version, nil
}

func (c *Client) write(req Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err = c.nc.Write(append(data, '\n'))
	return err
}

func (c *Client) readLoop() {
	scanner := bufio.NewScanner(c.nc)
	scanner.Buffer(make([]byte, 64*1024), maxFrameSize)

	for scanner.Scan() {
		var resp Response
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			continue
		}

		if resp.Method == NotifyVersion {
			var p VersionParams
			if err := json.Unmarshal(resp.Params, &p); err == nil {
				c.mu.Lock()
				fn := c.onNotify
				c.mu.Unlock()
				if fn != nil {
					fn(p.Version)
				}
			}
			continue
		}

		c.mu.Lock()
		ch := c.pending[resp.ID]
		c.mu.Unlock()
		if ch != nil {
			ch <- resp
		}
	}

	c.mu.Lock()
	closed := c.closed
	c.closed = true
	c.mu.Unlock()
	if !closed {
		close(c.done)
		c.nc.Close()
	}
}
