package geopin

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/geopin/geopin-go/internal/logger"
	"github.com/geopin/geopin-go/internal/observability"
	"github.com/geopin/geopin-go/pkg/querycache"
)

// Mode selects how an operation executes. It is read fresh at the start of
// every call, not captured at client construction; mutating it concurrently
// with in-flight calls is a documented data race the design does not protect
// against.
type Mode int32

const (
	// ModeSync executes sign+transport+decode on the calling goroutine.
	ModeSync Mode = iota
	// ModeDeferred submits the unit to the client's worker pool and hands
	// back an unresolved *Call immediately.
	ModeDeferred
)

func (m Mode) String() string {
	if m == ModeDeferred {
		return "deferred"
	}
	return "sync"
}

// Call is the single-assignment handle for one dispatched operation. It
// transitions from unset to exactly one of {result, error} exactly once;
// reads after completion always observe the same outcome. A submitted call
// cannot be cancelled, only waited on or polled.
type Call struct {
	done chan struct{}
	res  Result
	err  error
}

func newCall() *Call {
	return &Call{done: make(chan struct{})}
}

func (c *Call) complete(res Result, err error) {
	c.res = res
	c.err = err
	close(c.done)
}

// Done returns a channel closed once the outcome is assigned.
func (c *Call) Done() <-chan struct{} { return c.done }

// Ready polls for completion without blocking.
func (c *Call) Ready() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the outcome is assigned or ctx expires. The context
// bounds only the wait; the underlying request keeps running.
func (c *Call) Wait(ctx context.Context) (Result, error) {
	select {
	case <-c.done:
		return c.res, c.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// pool is the bounded worker set servicing deferred calls. Capacity is fixed
// at construction; submission blocks once the queue is full.
type pool struct {
	mu     sync.RWMutex
	closed bool
	tasks  chan func()
	wg     sync.WaitGroup
}

func newPool(workers, queue int) *pool {
	if workers <= 0 {
		workers = 1
	}
	if queue < 0 {
		queue = 0
	}
	p := &pool{tasks: make(chan func(), queue)}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer p.wg.Done()
			for task := range p.tasks {
				task()
			}
		}()
	}
	return p
}

func (p *pool) submit(task func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return errors.New("geopin: client closed")
	}
	p.tasks <- task
	return nil
}

// close stops accepting work, drains queued tasks and waits for the workers.
func (p *pool) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()
	p.wg.Wait()
}

// dispatch runs one built request in the mode read at call time. In sync
// mode the returned *Call is already resolved and the error is also returned
// directly; in deferred mode the error return covers submission only.
func (c *Client) dispatch(ctx context.Context, req *request) (*Call, error) {
	call := newCall()
	mode := c.Mode()

	if mode == ModeDeferred {
		if err := c.pool.submit(func() {
			call.complete(c.execute(ctx, req, ModeDeferred))
		}); err != nil {
			return nil, err
		}
		return call, nil
	}

	res, err := c.execute(ctx, req, ModeSync)
	call.complete(res, err)
	return call, err
}

// execute performs sign, transport and decode for one request. No retries;
// timeouts are whatever the transport enforces.
func (c *Client) execute(ctx context.Context, req *request, mode Mode) (Result, error) {
	start := time.Now()
	ctx = logger.WithOperation(ctx, req.op)
	if req.layer != "" {
		ctx = logger.WithLayer(ctx, req.layer)
	}

	fullURL := req.url(c.baseURL)

	var cacheKey string
	if c.cache != nil && req.cacheable && req.method == http.MethodGet {
		cacheKey = querycache.Key(req.layer, fullURL)
		if entry, ok := c.cache.Get(ctx, cacheKey); ok {
			observability.ObserveCacheResult("hit")
			c.log.DebugContext(ctx, "served from query cache", "url", fullURL)
			return c.handlerFor(req.kind).Decode(entry.Status, entry.Body)
		}
		observability.ObserveCacheResult("miss")
	}

	var bodyReader io.Reader
	if len(req.body) > 0 {
		bodyReader = bytes.NewReader(req.body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, fullURL, bodyReader)
	if err != nil {
		return Result{}, transportFailure(err)
	}
	if len(req.body) > 0 {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	if err := c.signer.Sign(httpReq); err != nil {
		observability.ObserveRequest(req.op, mode.String(), 0, time.Since(start).Seconds())
		c.log.WarnContext(ctx, "request signing failed", "err", err)
		return Result{}, notAuthorized(err)
	}

	c.log.DebugContext(ctx, "sending request", "method", req.method, "url", fullURL, "mode", mode.String())

	resp, err := c.http.Do(httpReq)
	if err != nil {
		observability.ObserveRequest(req.op, mode.String(), 0, time.Since(start).Seconds())
		c.log.WarnContext(ctx, "transport failure", "err", err)
		return Result{}, transportFailure(err)
	}
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		observability.ObserveRequest(req.op, mode.String(), resp.StatusCode, time.Since(start).Seconds())
		return Result{}, transportFailure(err)
	}

	res, decodeErr := c.handlerFor(req.kind).Decode(resp.StatusCode, body)

	elapsed := time.Since(start)
	observability.ObserveRequest(req.op, mode.String(), resp.StatusCode, elapsed.Seconds())
	if decodeErr != nil {
		c.log.InfoContext(ctx, "request failed",
			"status", resp.StatusCode, "duration", elapsed.String(), "err", decodeErr)
		return Result{}, decodeErr
	}
	c.log.InfoContext(ctx, "request done", "status", resp.StatusCode, "duration", elapsed.String())

	if cacheKey != "" {
		c.cache.Set(ctx, cacheKey, querycache.Entry{Status: resp.StatusCode, Body: body}, c.cacheTTL)
	}
	return res, nil
}
