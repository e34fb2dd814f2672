package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/playbookd/internal/component"
	"github.com/roach88/playbookd/internal/lock"
	"github.com/roach88/playbookd/internal/playbook"
	"github.com/roach88/playbookd/internal/stream"
)

// Consumer defaults.
const (
	DefaultConsumerName = "playbook-engine"
	DefaultLockName     = "playbook-engine"
	DefaultInterval     = 5 * time.Second

	unlockTimeout = 5 * time.Second
)

// State is the Consumer's lifecycle state.
type State int32

const (
	// StateIdle: not holding the lock.
	StateIdle State = iota
	// StateRunning: holding the lock and reading the stream.
	StateRunning
	// StateShuttingDown: Run's context is done; no new events are taken.
	StateShuttingDown
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting_down"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// PlaybookLister lists playbooks with the running flag set.
// Implemented by store.Store.
type PlaybookLister interface {
	FindRunningPlaybooks(ctx context.Context) ([]playbook.Playbook, error)
}

// Checkpointer persists the consumer's stream position.
// Implemented by store.Store.
type Checkpointer interface {
	ReadCheckpoint(ctx context.Context, consumer string) (int64, bool, error)
	WriteCheckpoint(ctx context.Context, consumer string, seq int64) error
}

// Consumer is the single active reader of the change stream.
//
// Every Interval an Idle consumer tries the lock once. The holder reads the
// stream from its checkpoint (or the live position when it has none) and
// runs every event through the running playbooks, one batch at a time. A
// sibling goroutine refreshes the lock on the same interval; losing it stops
// the stream and returns the consumer to Idle.
type Consumer struct {
	playbooks   PlaybookLister
	checkpoints Checkpointer
	source      stream.Source
	locker      lock.Locker
	registry    *component.Registry
	executor    *Executor
	ids         IDGenerator

	name     string
	lockName string
	interval time.Duration

	state atomic.Int32

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// ConsumerOption configures a Consumer.
type ConsumerOption func(*Consumer)

// WithConsumerName sets the name checkpoints are stored under.
func WithConsumerName(name string) ConsumerOption {
	return func(c *Consumer) {
		c.name = name
	}
}

// WithLockName sets the name of the election lock.
func WithLockName(name string) ConsumerOption {
	return func(c *Consumer) {
		c.lockName = name
	}
}

// WithInterval sets the lock retry and refresh period.
func WithInterval(d time.Duration) ConsumerOption {
	return func(c *Consumer) {
		c.interval = d
	}
}

// WithIDGenerator sets the bundle id generator. Default: UUIDv7Generator.
func WithIDGenerator(ids IDGenerator) ConsumerOption {
	return func(c *Consumer) {
		c.ids = ids
	}
}

// WithCheckpointer enables resuming from a stored stream position.
// Without one the consumer always starts at the live position.
func WithCheckpointer(cp Checkpointer) ConsumerOption {
	return func(c *Consumer) {
		c.checkpoints = cp
	}
}

// NewConsumer creates a Consumer.
func NewConsumer(
	playbooks PlaybookLister,
	source stream.Source,
	locker lock.Locker,
	registry *component.Registry,
	executor *Executor,
	opts ...ConsumerOption,
) *Consumer {
	c := &Consumer{
		playbooks: playbooks,
		source:    source,
		locker:    locker,
		registry:  registry,
		executor:  executor,
		ids:       UUIDv7Generator{},
		name:      DefaultConsumerName,
		lockName:  DefaultLockName,
		interval:  DefaultInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current lifecycle state.
func (c *Consumer) State() State {
	return State(c.state.Load())
}

func (c *Consumer) setState(s State) {
	if old := State(c.state.Swap(int32(s))); old != s {
		slog.Debug("consumer state changed", "from", old.String(), "to", s.String())
	}
}

// Run drives the consumer until ctx is done or Shutdown is called.
// Blocks; must be called at most once at a time.
//
// ERROR HANDLING: lock, stream and batch errors are logged and retried on
// the next tick. Run only returns an error if it is already running.
func (c *Consumer) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return errors.New("consumer already running")
	}
	c.cancel = cancel
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.cancel = nil
		c.mu.Unlock()
		close(done)
	}()

	c.setState(StateIdle)
	slog.Info("consumer starting",
		"consumer", c.name,
		"lock", c.lockName,
		"interval", c.interval,
	)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		c.lead(ctx)

		select {
		case <-ctx.Done():
			c.setState(StateShuttingDown)
			slog.Info("consumer stopped", "consumer", c.name)
			return nil
		case <-ticker.C:
		}
	}
}

// Shutdown stops Run and waits for it to release the lock.
func (c *Consumer) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()
	if cancel == nil {
		return nil
	}

	c.setState(StateShuttingDown)
	cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// lead makes one lock attempt and, on success, consumes the stream until
// ctx is done or leadership is lost.
func (c *Consumer) lead(ctx context.Context) {
	held, err := c.locker.Acquire(ctx, c.lockName)
	if errors.Is(err, lock.ErrLockHeld) {
		slog.Debug("lock held elsewhere", "lock", c.lockName)
		return
	}
	if err != nil {
		if ctx.Err() == nil {
			slog.Error("acquire lock failed", "lock", c.lockName, "error", err)
		}
		return
	}

	c.setState(StateRunning)
	slog.Info("consumer acquired lock", "lock", c.lockName)

	defer func() {
		shuttingDown := ctx.Err() != nil
		if shuttingDown {
			c.setState(StateShuttingDown)
		}

		uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), unlockTimeout)
		defer cancel()
		if err := held.Unlock(uctx); err != nil {
			slog.Warn("release lock failed", "lock", c.lockName, "error", err)
		} else {
			slog.Info("consumer released lock", "lock", c.lockName)
		}

		if !shuttingDown {
			c.setState(StateIdle)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.keepLock(gctx, held)
	})
	g.Go(func() error {
		return c.consume(gctx)
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		slog.Error("consumer stopped leading", "lock", c.lockName, "error", err)
	}
}

func (c *Consumer) keepLock(ctx context.Context, held lock.Lock) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := held.Refresh(ctx); err != nil {
				return fmt.Errorf("refresh lock: %w", err)
			}
		}
	}
}

func (c *Consumer) consume(ctx context.Context) error {
	pos := stream.Live
	if c.checkpoints != nil {
		seq, ok, err := c.checkpoints.ReadCheckpoint(ctx, c.name)
		if err != nil {
			return fmt.Errorf("read checkpoint: %w", err)
		}
		if ok {
			pos = stream.After(seq)
		}
	}

	cur, err := c.source.Open(ctx, pos)
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	defer cur.Close()

	for {
		batch, err := cur.Next(ctx)
		if err != nil {
			return fmt.Errorf("read stream: %w", err)
		}

		c.handleBatch(ctx, batch)

		if c.checkpoints != nil {
			if err := c.checkpoints.WriteCheckpoint(ctx, c.name, batch.Last()); err != nil {
				slog.Error("write checkpoint failed", "consumer", c.name, "seq", batch.Last(), "error", err)
			}
		}
	}
}

// handleBatch runs every event of the batch. Nothing escapes it: errors and
// panics are logged so the next batch is still attempted.
func (c *Consumer) handleBatch(ctx context.Context, batch stream.Batch) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("batch handler panicked", "last_seq", batch.Last(), "panic", r)
		}
	}()

	// Runs are not aborted by shutdown; only intake stops.
	runCtx := context.WithoutCancel(ctx)
	for _, ev := range batch.Events {
		if _, err := c.HandleEvent(runCtx, ev); err != nil {
			slog.Error("handle event failed", "seq", ev.Seq, "type", string(ev.Type), "error", err)
		}
	}
}

// HandleEvent starts a run of every running playbook whose start node accepts
// ev's type. Returns the number of runs started.
//
// Only the start node is checked here. Faults further down the graph are
// recorded by the executor against the step that hits them.
func (c *Consumer) HandleEvent(ctx context.Context, ev playbook.ChangeEvent) (int, error) {
	playbooks, err := c.playbooks.FindRunningPlaybooks(ctx)
	if err != nil {
		return 0, fmt.Errorf("find running playbooks: %w", err)
	}

	started := 0
	for _, p := range playbooks {
		run, ok, err := c.prepare(p, ev)
		if err != nil {
			slog.Error("playbook skipped", "playbook_id", p.ID, "seq", ev.Seq, "error", err)
			continue
		}
		if !ok {
			continue
		}

		slog.Debug("starting run",
			"playbook_id", p.ID,
			"instance_id", run.InstanceID,
			"bundle_id", run.Bundle.ID,
		)
		c.executor.Execute(ctx, run)
		started++
	}
	return started, nil
}

// prepare builds the entry run of p for ev. ok is false when the start node
// does not accept ev's type.
func (c *Consumer) prepare(p playbook.Playbook, ev playbook.ChangeEvent) (Run, bool, error) {
	def, err := playbook.ParseDefinition([]byte(p.Definition))
	if err != nil {
		return Run{}, false, err
	}
	start, ok := def.Node(p.Start)
	if !ok {
		return Run{}, false, fmt.Errorf("start node %q not found", p.Start)
	}
	comp, err := c.registry.Lookup(start.ComponentID)
	if err != nil {
		return Run{}, false, fmt.Errorf("start node %q: %w", start.ID, err)
	}

	filter, err := decodeTriggerFilter(start.Configuration)
	if err != nil {
		return Run{}, false, fmt.Errorf("start node %q: %w", start.ID, err)
	}
	if !filter.Accepts(ev.Type) {
		return Run{}, false, nil
	}

	bundle := playbook.NewBundle(c.ids.Generate(), ev.Data).Clone()
	return Run{
		PlaybookID:     p.ID,
		InstanceID:     ev.EntityID(),
		Definition:     def,
		Next:           Step{Component: comp, Node: start},
		PreviousBundle: &bundle,
		Bundle:         bundle,
	}, true, nil
}

// decodeTriggerFilter reads the {create, update, delete} flags from a start
// node's configuration. Other fields are ignored; absent flags are false.
func decodeTriggerFilter(raw json.RawMessage) (playbook.TriggerFilter, error) {
	var f playbook.TriggerFilter
	if len(raw) == 0 || string(raw) == "null" {
		return f, nil
	}
	if err := json.Unmarshal(raw, &f); err != nil {
		return f, fmt.Errorf("decode trigger filter: %w", err)
	}
	return f, nil
}
