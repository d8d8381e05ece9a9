package modbus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrPoolClosed is returned by Get after Close.
var ErrPoolClosed = errors.New("modbus: pool closed")

// PoolOption configures a Pool.
type PoolOption func(*poolOptions)

type poolOptions struct {
	size        int
	maxIdleTime time.Duration
	clientOpts  []Option
}

func defaultPoolOptions() *poolOptions {
	return &poolOptions{
		size:        2,
		maxIdleTime: time.Minute,
	}
}

// WithSize sets the maximum number of connections.
func WithSize(n int) PoolOption {
	return func(o *poolOptions) {
		o.size = n
	}
}

// WithMaxIdleTime sets how long an idle connection is kept. Zero keeps it forever.
func WithMaxIdleTime(d time.Duration) PoolOption {
	return func(o *poolOptions) {
		o.maxIdleTime = d
	}
}

// WithClientOptions sets the options used for every pooled client.
func WithClientOptions(opts ...Option) PoolOption {
	return func(o *poolOptions) {
		o.clientOpts = append(o.clientOpts, opts...)
	}
}

// Pool hands out connected clients for one server address and unit.
// Clients are created lazily, up to the pool size.
type Pool struct {
	addr string
	opts *poolOptions

	mu      sync.Mutex
	idle    chan *pooledClient
	created int
	freed   chan struct{}
	closed  atomic.Bool
	stopCh  chan struct{}
	metrics *PoolMetrics
}

type pooledClient struct {
	client   *Client
	lastUsed time.Time
}

// PoolMetrics holds pool-specific metrics.
type PoolMetrics struct {
	Gets     Counter
	Hits     Counter
	Misses   Counter
	Timeouts Counter
	Created  Counter
	Closed   Counter
}

// PoolStats is a snapshot of pool state.
type PoolStats struct {
	Size      int
	Created   int
	Available int
	Gets      int64
	Hits      int64
	Misses    int64
}

// NewPool creates a new pool. It does not dial.
func NewPool(addr string, opts ...PoolOption) (*Pool, error) {
	if addr == "" {
		return nil, errors.New("modbus: pool address cannot be empty")
	}

	options := defaultPoolOptions()
	for _, opt := range opts {
		opt(options)
	}
	options.size = max(options.size, 1)

	return &Pool{
		addr:    addr,
		opts:    options,
		idle:    make(chan *pooledClient, options.size),
		freed:   make(chan struct{}, options.size),
		stopCh:  make(chan struct{}),
		metrics: &PoolMetrics{},
	}, nil
}

// Address returns the server address.
func (p *Pool) Address() string {
	return p.addr
}

// Get returns a connected client. The caller must hand it back with Put.
func (p *Pool) Get(ctx context.Context) (*Client, error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}
	p.metrics.Gets.Add(1)

	for drained := false; !drained; {
		select {
		case pc := <-p.idle:
			if c := p.reuse(pc); c != nil {
				p.metrics.Hits.Add(1)
				return c, nil
			}
		default:
			drained = true
		}
	}
	p.metrics.Misses.Add(1)

	for {
		p.mu.Lock()
		if p.created < p.opts.size {
			p.created++
			p.mu.Unlock()
			return p.dial(ctx)
		}
		p.mu.Unlock()

		// Wait for an idle client or for a slot freed by a dropped one.
		select {
		case pc := <-p.idle:
			if c := p.reuse(pc); c != nil {
				return c, nil
			}
		case <-p.freed:
		case <-ctx.Done():
			p.metrics.Timeouts.Add(1)
			return nil, ctx.Err()
		case <-p.stopCh:
			return nil, ErrPoolClosed
		}
	}
}

// reuse returns the pooled client if still usable, otherwise discards it.
func (p *Pool) reuse(pc *pooledClient) *Client {
	stale := p.opts.maxIdleTime > 0 && time.Since(pc.lastUsed) > p.opts.maxIdleTime
	if pc.client.State() == StateConnected && !stale {
		return pc.client
	}
	p.discard(pc.client)
	return nil
}

func (p *Pool) dial(ctx context.Context) (*Client, error) {
	client, err := NewClient(p.addr, p.opts.clientOpts...)
	if err == nil {
		err = client.Connect(ctx)
	}
	if err != nil {
		if client != nil {
			client.Close()
		}
		p.release()
		return nil, err
	}
	p.metrics.Created.Add(1)
	return client, nil
}

func (p *Pool) discard(c *Client) {
	c.Close()
	p.release()
	p.metrics.Closed.Add(1)
}

// release gives back a connection slot and wakes one waiting Get.
func (p *Pool) release() {
	p.mu.Lock()
	p.created--
	p.mu.Unlock()

	select {
	case p.freed <- struct{}{}:
	default:
	}
}

// Put returns a client obtained from Get. Disconnected clients are dropped.
func (p *Pool) Put(c *Client) {
	if c == nil {
		return
	}
	if p.closed.Load() || c.State() != StateConnected {
		p.discard(c)
		return
	}

	select {
	case p.idle <- &pooledClient{client: c, lastUsed: time.Now()}:
	default:
		p.discard(c)
	}
}

// Do runs fn with a pooled client and returns it afterwards.
func (p *Pool) Do(ctx context.Context, fn func(*Client) error) error {
	c, err := p.Get(ctx)
	if err != nil {
		return err
	}
	defer p.Put(c)
	return fn(c)
}

// Close closes all idle clients. Clients still checked out are closed on Put.
func (p *Pool) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(p.stopCh)

	for {
		select {
		case pc := <-p.idle:
			p.discard(pc.client)
		default:
			return nil
		}
	}
}

// Stats returns pool statistics.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	created := p.created
	p.mu.Unlock()

	return PoolStats{
		Size:      p.opts.size,
		Created:   created,
		Available: len(p.idle),
		Gets:      p.metrics.Gets.Value(),
		Hits:      p.metrics.Hits.Value(),
		Misses:    p.metrics.Misses.Value(),
	}
}

// Metrics returns the pool metrics.
func (p *Pool) Metrics() *PoolMetrics {
	return p.metrics
}
