package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"prediction-dashboard/internal/models"
	"prediction-dashboard/internal/observability"
)

const (
	DefaultPollInterval    = 5 * time.Second
	DefaultMaxPollDuration = 300 * time.Second

	msgLoadFailed    = "Failed to load predictions from cache."
	msgRefreshFailed = "Failed to trigger refresh."
)

// ErrDisposed is returned by every operation once Dispose has run.
var ErrDisposed = errors.New("prediction coordinator disposed")

// PredictionAPI is the part of the backend client the coordinator needs.
type PredictionAPI interface {
	LatestPredictions(ctx context.Context) (*models.LatestPredictions, error)
	StartRefresh(ctx context.Context) (*models.RefreshAck, error)
	RefreshStatus(ctx context.Context) (*models.RefreshStatus, error)
}

// Phase is the state of the refresh polling machine.
type Phase string

const (
	PhaseIdle      Phase = "IDLE"
	PhasePolling   Phase = "POLLING"
	PhaseCompleted Phase = "COMPLETED"
	PhaseTimedOut  Phase = "TIMED_OUT"
	PhaseErrored   Phase = "ERRORED"
)

// View is a read-only copy of the coordinator state. Its slices are
// replaced on every snapshot and never mutated, so views may share them.
type View struct {
	Predictions      []models.CombinedPrediction     `json:"predictions"`
	Bestsellers      []models.BestsellerPrediction   `json:"bestsellers"`
	Rankings         []models.RankingTrendPrediction `json:"rankings"`
	Prices           []models.PriceIntelligence      `json:"prices"`
	Stats            models.PredictionStats          `json:"stats"`
	TotalCount       int                             `json:"totalCount"`
	LastRefreshedAt  string                          `json:"lastRefreshedAt,omitempty"`
	ServerRefreshing bool                            `json:"serverRefreshing"`
	FromCache        bool                            `json:"fromCache"`
	IsRefreshing     bool                            `json:"isRefreshing"`
	IsLoading        bool                            `json:"isLoading"`
	Error            string                          `json:"error,omitempty"`
	Phase            Phase                           `json:"phase"`
	LastOutcome      Phase                           `json:"lastOutcome,omitempty"`
	BackendStatus    string                          `json:"backendStatus,omitempty"`
}

type CoordinatorOptions struct {
	PollInterval    time.Duration
	MaxPollDuration time.Duration
	// LoadTimeout bounds the snapshot read issued at the end of a cycle.
	LoadTimeout time.Duration
	Clock       clockwork.Clock
	Logger      *slog.Logger
}

// Coordinator owns the cached prediction snapshot and at most one
// background refresh cycle at a time.
type Coordinator struct {
	api             PredictionAPI
	clock           clockwork.Clock
	logger          *slog.Logger
	pollInterval    time.Duration
	maxPollDuration time.Duration
	loadTimeout     time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	state       View
	disposed    bool
	loading     int
	loadSeq     uint64
	appliedSeq  uint64
	pollGen     uint64
	stopPoll    context.CancelFunc
	subscribers map[int]chan View
	nextSubID   int
}

func NewCoordinator(api PredictionAPI, opts CoordinatorOptions) *Coordinator {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.MaxPollDuration <= 0 {
		opts.MaxPollDuration = DefaultMaxPollDuration
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		api:             api,
		clock:           opts.Clock,
		logger:          opts.Logger.With("component", "prediction_coordinator"),
		pollInterval:    opts.PollInterval,
		maxPollDuration: opts.MaxPollDuration,
		loadTimeout:     opts.LoadTimeout,
		ctx:             ctx,
		cancel:          cancel,
		state: View{
			Predictions: []models.CombinedPrediction{},
			Bestsellers: []models.BestsellerPrediction{},
			Rankings:    []models.RankingTrendPrediction{},
			Prices:      []models.PriceIntelligence{},
			Phase:       PhaseIdle,
		},
		subscribers: make(map[int]chan View),
	}
}

// LoadSnapshot reads the cached predictions once and republishes the merged
// view. On failure the previous data stays in place and the error message
// is set.
func (c *Coordinator) LoadSnapshot(ctx context.Context) error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return ErrDisposed
	}
	c.loadSeq++
	seq := c.loadSeq
	c.mu.Unlock()

	latest, err := c.api.LatestPredictions(ctx)

	var merged []models.CombinedPrediction
	if err == nil {
		merged = MergePredictions(latest)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disposed {
		return ErrDisposed
	}
	// A newer load already landed.
	if seq < c.appliedSeq {
		return err
	}

	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("load predictions: %w", err)
		}
		c.appliedSeq = seq
		c.state.Error = msgLoadFailed
		c.publishLocked()
		c.logger.Warn("snapshot load failed", "error", err)
		return fmt.Errorf("load predictions: %w", err)
	}

	c.appliedSeq = seq
	c.state.Predictions = merged
	c.state.Bestsellers = nonNil(latest.BestsellerPredictions)
	c.state.Rankings = nonNil(latest.RankingPredictions)
	c.state.Prices = nonNil(latest.PriceIntelligence)
	c.state.Stats = ComputeStats(merged)
	c.state.TotalCount = latest.TotalCount
	c.state.LastRefreshedAt = latest.LastRefreshedAt
	c.state.ServerRefreshing = latest.IsRefreshing
	c.state.FromCache = latest.FromCache
	c.state.Error = ""
	c.publishLocked()

	c.logger.Debug("snapshot loaded",
		"products", len(merged),
		"total_count", latest.TotalCount,
		"from_cache", latest.FromCache,
	)
	return nil
}

// ReloadCache is LoadSnapshot with the loading flag raised for its duration.
func (c *Coordinator) ReloadCache(ctx context.Context) error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return ErrDisposed
	}
	c.loading++
	c.state.IsLoading = true
	c.publishLocked()
	c.mu.Unlock()

	err := c.LoadSnapshot(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return ErrDisposed
	}
	c.loading--
	c.state.IsLoading = c.loading > 0
	c.publishLocked()
	return err
}

// RequestRefresh starts a background refresh cycle and returns as soon as
// the backend has accepted the job. A call made while a cycle is already in
// flight does nothing and returns nil.
func (c *Coordinator) RequestRefresh(ctx context.Context) error {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return ErrDisposed
	}
	if c.state.IsRefreshing {
		c.mu.Unlock()
		c.logger.Debug("refresh already in flight, request dropped")
		return nil
	}
	c.state.IsRefreshing = true
	c.publishLocked()
	c.mu.Unlock()

	ack, err := c.api.StartRefresh(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disposed {
		return ErrDisposed
	}

	if err != nil {
		c.state.IsRefreshing = false
		c.state.Error = msgRefreshFailed
		c.publishLocked()
		c.logger.Warn("refresh start failed", "error", err)
		return fmt.Errorf("start refresh: %w", err)
	}

	c.state.BackendStatus = ack.Status
	c.startPollingLocked()
	c.publishLocked()

	c.logger.Info("refresh started",
		"backend_status", ack.Status,
		"poll_interval", c.pollInterval,
		"max_poll_duration", c.maxPollDuration,
	)
	return nil
}

// View returns the current state.
func (c *Coordinator) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe returns a channel that receives the current view immediately
// and then after every change. A slow reader only ever sees the most recent
// view. The channel is closed by the returned cancel func or by Dispose.
func (c *Coordinator) Subscribe() (<-chan View, func()) {
	ch := make(chan View, 1)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disposed {
		close(ch)
		return ch, func() {}
	}

	id := c.nextSubID
	c.nextSubID++
	c.subscribers[id] = ch
	ch <- c.state

	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if sub, ok := c.subscribers[id]; ok {
			delete(c.subscribers, id)
			close(sub)
		}
	}
}

// Dispose cancels any pending poll, waits for the poll goroutine to exit and
// closes all subscriber channels. It is safe to call more than once.
func (c *Coordinator) Dispose() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	c.cancel()
	subs := c.subscribers
	c.subscribers = nil
	c.mu.Unlock()

	c.wg.Wait()

	for _, ch := range subs {
		close(ch)
	}
	c.logger.Info("coordinator disposed")
}

// startPollingLocked enters Polling. Any earlier poll is cancelled first so
// only one ticker is ever live.
func (c *Coordinator) startPollingLocked() {
	if c.stopPoll != nil {
		c.stopPoll()
	}

	ctx, cancel := context.WithCancel(c.ctx)
	c.stopPoll = cancel
	c.pollGen++
	c.state.Phase = PhasePolling

	start := c.clock.Now()
	ticker := c.clock.NewTicker(c.pollInterval)

	c.wg.Add(1)
	go c.poll(ctx, c.pollGen, start, ticker)
}

func (c *Coordinator) poll(ctx context.Context, gen uint64, start time.Time, ticker clockwork.Ticker) {
	defer c.wg.Done()
	defer ticker.Stop()

	ctx, span := observability.StartSpan(ctx, "refresh cycle")
	defer func() {
		span.Finish()
		c.logger.LogAttrs(context.Background(), slog.LevelInfo, "refresh cycle finished", span.LogAttrs()...)
	}()

	ticks := 0
	for {
		select {
		case <-ctx.Done():
			span.SetTag("outcome", "cancelled")
			return
		case <-ticker.Chan():
		}
		if ctx.Err() != nil {
			span.SetTag("outcome", "cancelled")
			return
		}
		ticks++

		if elapsed := c.clock.Since(start); elapsed > c.maxPollDuration {
			c.logger.Warn("refresh cycle timed out", "elapsed", elapsed, "ticks", ticks)
			ticker.Stop()
			c.finishPoll(gen, PhaseTimedOut, "", true)
			span.SetTag("outcome", string(PhaseTimedOut))
			return
		}

		status, err := c.api.RefreshStatus(ctx)
		if ctx.Err() != nil {
			span.SetTag("outcome", "cancelled")
			return
		}
		if err != nil {
			c.logger.Warn("refresh status poll failed", "error", err, "ticks", ticks)
			ticker.Stop()
			c.finishPoll(gen, PhaseErrored, "", false)
			span.SetError(err)
			span.SetTag("outcome", string(PhaseErrored))
			return
		}

		if !status.IsRefreshing {
			ticker.Stop()
			c.finishPoll(gen, PhaseCompleted, status.Status, true)
			span.SetTag("outcome", string(PhaseCompleted))
			span.SetTag("success_count", strconv.Itoa(status.LastSuccessCount))
			return
		}

		c.recordBackendStatus(gen, status.Status)
	}
}

// finishPoll moves the machine through the terminal phase back to Idle,
// reloading the snapshot in between when asked to.
func (c *Coordinator) finishPoll(gen uint64, outcome Phase, backendStatus string, reload bool) {
	c.mu.Lock()
	if c.disposed || gen != c.pollGen {
		c.mu.Unlock()
		return
	}
	c.state.Phase = outcome
	c.state.LastOutcome = outcome
	c.state.IsRefreshing = false
	if backendStatus != "" {
		c.state.BackendStatus = backendStatus
	}
	c.publishLocked()
	c.mu.Unlock()

	if reload {
		// A refresh requested during this read cancels the poll context, so
		// the read runs on the coordinator's own context.
		loadCtx, cancel := c.ctx, context.CancelFunc(func() {})
		if c.loadTimeout > 0 {
			loadCtx, cancel = context.WithTimeout(c.ctx, c.loadTimeout)
		}
		if err := c.LoadSnapshot(loadCtx); err != nil && !errors.Is(err, ErrDisposed) {
			c.logger.Warn("reload after refresh cycle failed", "outcome", outcome, "error", err)
		}
		cancel()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed || gen != c.pollGen {
		return
	}
	c.stopPoll()
	c.stopPoll = nil
	c.state.Phase = PhaseIdle
	c.publishLocked()
}

func (c *Coordinator) recordBackendStatus(gen uint64, status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed || gen != c.pollGen || status == "" || status == c.state.BackendStatus {
		return
	}
	c.state.BackendStatus = status
	c.publishLocked()
}

// publishLocked hands the current view to every subscriber, replacing any
// value a subscriber has not read yet. Only publishLocked sends, and it
// holds c.mu, so the send below never blocks.
func (c *Coordinator) publishLocked() {
	for _, ch := range c.subscribers {
		select {
		case <-ch:
		default:
		}
		ch <- c.state
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
