package probe

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/google/uuid"

	"github.com/cartouche/internal/config"
	"github.com/cartouche/internal/logger"
	"github.com/cartouche/pkg/gemini"
)

// CategoryError labels probes that got no header at all.
const CategoryError = "error"

// Result is the outcome of one probe.
type Result struct {
	Capsule  string
	URL      string
	RunID    string
	Category string
	Status   gemini.Status
	Meta     string
	Bytes    int64
	Latency  time.Duration
	NotAfter time.Time
	Err      error
	At       time.Time
}

// Up reports whether the capsule answered with a success or a redirect and
// the body, if any, was read to the end.
func (r Result) Up() bool {
	if r.Err != nil {
		return false
	}
	c := r.Status.Category()
	return c == gemini.CategorySuccess || c == gemini.CategoryRedirect
}

// Summary holds latency percentiles for one capsule.
type Summary struct {
	Capsule string
	Count   int64
	P50     time.Duration
	P90     time.Duration
	P99     time.Duration
	Max     time.Duration
}

// Option configures a Checker.
type Option func(*Checker)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Checker) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock overrides the time source used for certificate expiry.
func WithClock(now func() time.Time) Option {
	return func(c *Checker) {
		if now != nil {
			c.now = now
		}
	}
}

// Checker probes every configured capsule on an interval.
type Checker struct {
	cfg       config.Watch
	client    *gemini.Client
	metrics   *Metrics
	pool      *Pool
	logger    *slog.Logger
	now       func() time.Time
	results   map[string]Result
	latencies map[string]*hdrhistogram.Histogram
	rounds    int
	mu        sync.RWMutex
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewChecker creates a checker. client supplies the trust policy and timeouts
// used for every probe.
func NewChecker(cfg config.Watch, client *gemini.Client, metrics *Metrics, opts ...Option) *Checker {
	c := &Checker{
		cfg:       cfg,
		client:    client,
		metrics:   metrics,
		logger:    logger.Discard(),
		now:       time.Now,
		results:   make(map[string]Result),
		latencies: make(map[string]*hdrhistogram.Histogram),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(logger.Component("probe"))
	c.pool = NewPool(cfg.Concurrency, 2*len(cfg.Capsules), cfg.Rate, c.handle, metrics, c.logger)
	return c
}

// Start probes every capsule immediately and then once per interval.
func (c *Checker) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})

	c.pool.Start(ctx)
	go c.run(ctx)
}

func (c *Checker) run(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	c.submitAll()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.submitAll()
		}
	}
}

func (c *Checker) submitAll() {
	runID := uuid.NewString()
	c.logger.Debug("probe round", logger.RunID(runID), "capsules", len(c.cfg.Capsules))

	for _, capsule := range c.cfg.Capsules {
		if !c.pool.Submit(Job{Capsule: capsule, RunID: runID}) {
			c.logger.Warn("probe queue full, skipping", logger.Capsule(capsule.Name), logger.RunID(runID))
		}
	}

	c.mu.Lock()
	c.rounds++
	c.mu.Unlock()
}

func (c *Checker) handle(ctx context.Context, job Job) {
	r := c.Probe(ctx, job.Capsule)
	if ctx.Err() != nil {
		// Stopped mid-probe.
		return
	}
	r.RunID = job.RunID
	c.record(r)
}

// Probe requests one capsule and reads the body to the end. It does not
// update the checker's state.
func (c *Checker) Probe(ctx context.Context, capsule config.Capsule) (r Result) {
	timeout := capsule.Timeout
	if timeout <= 0 {
		timeout = c.cfg.Timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	r = Result{Capsule: capsule.Name, URL: capsule.URL, Category: CategoryError}
	start := time.Now()
	defer func() {
		r.Latency = time.Since(start)
		r.At = c.now()
	}()

	resp, err := c.client.Perform(ctx, capsule.URL)
	if err != nil {
		r.Err = err
		return r
	}
	defer resp.Close()

	if state := resp.TLS(); state != nil && len(state.PeerCertificates) > 0 {
		r.NotAfter = state.PeerCertificates[0].NotAfter
	}

	err = resp.ReadHeader()
	r.Status, r.Meta = resp.Status(), resp.Meta()
	var statusErr *gemini.StatusError
	switch {
	case errors.As(err, &statusErr):
		r.Category = statusErr.Status.Category().String()
		return r
	case err != nil:
		r.Err = err
		return r
	}

	r.Category = gemini.CategorySuccess.String()
	r.Bytes, r.Err = io.Copy(io.Discard, resp.Body())
	return r
}

func (c *Checker) record(r Result) {
	c.metrics.RecordProbe(r.Capsule, r.Category, r.Latency)
	c.metrics.SetCapsuleUp(r.Capsule, r.Up())
	if !r.NotAfter.IsZero() {
		c.metrics.SetCertificateExpiry(r.Capsule, r.NotAfter, r.At)
	}

	c.mu.Lock()
	prev, seen := c.results[r.Capsule]
	c.results[r.Capsule] = r
	h, ok := c.latencies[r.Capsule]
	if !ok {
		// 1µs to 5 minutes at three significant figures.
		h = hdrhistogram.New(1, int64(5*time.Minute/time.Microsecond), 3)
		c.latencies[r.Capsule] = h
	}
	_ = h.RecordValue(r.Latency.Microseconds())
	c.mu.Unlock()

	log := c.logger.With(logger.Capsule(r.Capsule), logger.RunID(r.RunID))
	log.Debug("probe finished",
		"category", r.Category,
		"status", int(r.Status),
		"bytes", r.Bytes,
		logger.Latency(r.Latency),
		logger.Error(r.Err),
	)

	if !seen || prev.Up() != r.Up() {
		if r.Up() {
			log.Info("capsule is up", "status", int(r.Status))
		} else {
			log.Warn("capsule is down", "category", r.Category, "meta", r.Meta, logger.Error(r.Err))
		}
	}
}

// IsUp returns whether the last probe of the named capsule succeeded.
func (c *Checker) IsUp(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.results[name]
	return ok && r.Up()
}

// Ready reports whether every capsule has been probed at least once.
func (c *Checker) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rounds > 0 && len(c.results) >= len(c.cfg.Capsules)
}

// Results returns the last result of each capsule, sorted by name.
func (c *Checker) Results() []Result {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Result, 0, len(c.results))
	for _, r := range c.results {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Capsule < out[j].Capsule })
	return out
}

// Summaries returns latency percentiles per capsule, sorted by name.
func (c *Checker) Summaries() []Summary {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Summary, 0, len(c.latencies))
	for name, h := range c.latencies {
		out = append(out, Summary{
			Capsule: name,
			Count:   h.TotalCount(),
			P50:     time.Duration(h.ValueAtQuantile(50)) * time.Microsecond,
			P90:     time.Duration(h.ValueAtQuantile(90)) * time.Microsecond,
			P99:     time.Duration(h.ValueAtQuantile(99)) * time.Microsecond,
			Max:     time.Duration(h.Max()) * time.Microsecond,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Capsule < out[j].Capsule })
	return out
}

// Stop halts scheduling, waits for running probes and logs the latency summary.
func (c *Checker) Stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
	c.pool.Stop()

	for _, s := range c.Summaries() {
		c.logger.Info("latency summary",
			logger.Capsule(s.Capsule),
			"probes", s.Count,
			"p50", s.P50,
			"p90", s.P90,
			"p99", s.P99,
			"max", s.Max,
		)
	}
}
