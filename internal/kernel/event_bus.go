package kernel

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"msgwatch/pkg/msgwatch"
)

// EventBus is the kernel asynchronous pub/sub implementation.
//
// Each subscription runs one queue per worker and routes an event to the queue owning its
// platform and channel, so edits and deletes of one channel are handled in publish order
// while different channels are handled concurrently.
type EventBus struct {
	mu                    sync.RWMutex
	nextID                int64
	closed                bool
	subscriptions         map[int64]*busSubscription
	defaultBuffer         int
	defaultWorkers        int
	defaultHandlerTimeout time.Duration
	onAsyncError          func(context.Context, string, error)
}

// NewEventBus creates an asynchronous event bus with bounded queues.
func NewEventBus(
	defaultBuffer int,
	defaultWorkers int,
	defaultHandlerTimeout time.Duration,
	onAsyncError func(context.Context, string, error),
) *EventBus {
	return &EventBus{
		subscriptions:         make(map[int64]*busSubscription),
		defaultBuffer:         defaultBuffer,
		defaultWorkers:        defaultWorkers,
		defaultHandlerTimeout: defaultHandlerTimeout,
		onAsyncError:          onAsyncError,
	}
}

// Publish validates an event and enqueues it on every matching subscription.
func (b *EventBus) Publish(ctx context.Context, event *msgwatch.Event) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}

	subs, err := b.snapshotSubscriptions()
	if err != nil {
		return fmt.Errorf("publish event %s: %w", event.Kind, err)
	}

	var publishErrs []error
	for _, sub := range subs {
		if !sub.spec.Interest.Matches(event) {
			continue
		}
		if err := sub.enqueue(ctx, event); err != nil {
			if errors.Is(err, msgwatch.ErrEventDropped) || errors.Is(err, msgwatch.ErrSubscriptionClosed) {
				b.reportAsyncError(ctx, sub.spec.Name, err)
				continue
			}
			publishErrs = append(publishErrs, err)
		}
	}

	if len(publishErrs) > 0 {
		return fmt.Errorf("publish event %s: %w", event.Kind, errors.Join(publishErrs...))
	}

	return nil
}

// Subscribe registers a bounded asynchronous consumer.
func (b *EventBus) Subscribe(
	ctx context.Context,
	spec msgwatch.SubscriptionSpec,
	handler msgwatch.EventHandler,
) (msgwatch.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", spec.Name, err)
	}
	if handler == nil {
		return nil, fmt.Errorf("subscribe %s: nil handler", spec.Name)
	}

	subID := atomic.AddInt64(&b.nextID, 1)
	spec, err := b.normalizeSpec(spec, subID)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("subscribe %s: bus closed", spec.Name)
	}
	sub := newBusSubscription(subID, spec, handler, b)
	b.subscriptions[subID] = sub

	return sub, nil
}

// Close stops all active subscriptions and rejects further publishes/subscribes.
func (b *EventBus) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := make([]*busSubscription, 0, len(b.subscriptions))
	for _, sub := range b.subscriptions {
		subs = append(subs, sub)
	}
	b.subscriptions = make(map[int64]*busSubscription)
	b.mu.Unlock()

	var closeErrs []error
	for _, sub := range subs {
		if err := sub.shutdown(ctx); err != nil {
			closeErrs = append(closeErrs, err)
		}
	}

	if len(closeErrs) > 0 {
		return fmt.Errorf("close event bus: %w", errors.Join(closeErrs...))
	}

	return nil
}

// snapshotSubscriptions returns a stable copy for lock-free publish fan-out.
func (b *EventBus) snapshotSubscriptions() ([]*busSubscription, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("bus closed")
	}

	subs := make([]*busSubscription, 0, len(b.subscriptions))
	for _, sub := range b.subscriptions {
		subs = append(subs, sub)
	}

	return subs, nil
}

// normalizeSpec applies runtime defaults when callers omit optional fields.
// Unknown backpressure policies are rejected here rather than on first publish.
func (b *EventBus) normalizeSpec(spec msgwatch.SubscriptionSpec, subID int64) (msgwatch.SubscriptionSpec, error) {
	if spec.Name == "" {
		spec.Name = fmt.Sprintf("subscription-%d", subID)
	}
	if spec.Buffer <= 0 {
		spec.Buffer = b.defaultBuffer
	}
	if spec.Workers <= 0 {
		spec.Workers = b.defaultWorkers
	}
	if spec.HandlerTimeout <= 0 {
		spec.HandlerTimeout = b.defaultHandlerTimeout
	}
	switch spec.Backpressure {
	case "":
		spec.Backpressure = msgwatch.BackpressureDropNewest
	case msgwatch.BackpressureDropNewest, msgwatch.BackpressureDropOldest, msgwatch.BackpressureBlock:
	default:
		return spec, fmt.Errorf("subscribe %s: backpressure %q: %w", spec.Name, spec.Backpressure, msgwatch.ErrInvalidSubscription)
	}
	spec.Interest = msgwatch.InterestSet{
		Kinds:     append([]msgwatch.EventKind(nil), spec.Interest.Kinds...),
		Platforms: append([]msgwatch.Platform(nil), spec.Interest.Platforms...),
	}

	return spec, nil
}

// unsubscribe removes and shuts down a subscription by id.
func (b *EventBus) unsubscribe(ctx context.Context, subID int64) error {
	b.mu.Lock()
	sub, found := b.subscriptions[subID]
	if found {
		delete(b.subscriptions, subID)
	}
	b.mu.Unlock()

	if !found {
		return nil
	}
	if err := sub.shutdown(ctx); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", sub.spec.Name, err)
	}

	return nil
}

// Stats returns delivery counters for every live subscription, ordered by name.
func (b *EventBus) Stats() []SubscriptionStats {
	b.mu.RLock()
	stats := make([]SubscriptionStats, 0, len(b.subscriptions))
	for _, sub := range b.subscriptions {
		stats = append(stats, sub.stats())
	}
	b.mu.RUnlock()

	sort.Slice(stats, func(i, j int) bool {
		return stats[i].Name < stats[j].Name
	})

	return stats
}

// reportAsyncError forwards background worker failures to the configured error sink.
func (b *EventBus) reportAsyncError(ctx context.Context, scope string, err error) {
	if b.onAsyncError != nil {
		b.onAsyncError(ctx, scope, err)
	}
}

// SubscriptionStats counts what one subscription did with the events routed to it.
type SubscriptionStats struct {
	Name string
	// Handled counts handler calls that returned nil.
	Handled uint64
	// Failed counts handler calls that returned an error or panicked.
	Failed uint64
	// Dropped counts events discarded by the backpressure policy.
	Dropped uint64
}

// busSubscription owns queueing and worker lifecycle for a single subscriber.
// Queue closure is driven by context cancellation rather than channel close.
type busSubscription struct {
	id      int64
	spec    msgwatch.SubscriptionSpec
	handler msgwatch.EventHandler
	// queues holds one channel per worker; queues[i] is drained only by worker i.
	queues  []chan *msgwatch.Event
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	closed  atomic.Bool
	once    sync.Once
	bus     *EventBus
	handled atomic.Uint64
	failed  atomic.Uint64
	dropped atomic.Uint64
}

func newBusSubscription(
	subID int64,
	spec msgwatch.SubscriptionSpec,
	handler msgwatch.EventHandler,
	bus *EventBus,
) *busSubscription {
	subCtx, cancel := context.WithCancel(context.Background())
	queues := make([]chan *msgwatch.Event, spec.Workers)
	for idx := range queues {
		queues[idx] = make(chan *msgwatch.Event, spec.Buffer)
	}
	sub := &busSubscription{
		id:      subID,
		spec:    spec,
		handler: handler,
		queues:  queues,
		ctx:     subCtx,
		cancel:  cancel,
		done:    make(chan struct{}),
		bus:     bus,
	}
	sub.startWorkers()

	return sub
}

// Name returns the stable subscription name.
func (s *busSubscription) Name() string {
	return s.spec.Name
}

// Close unregisters this subscription from its parent bus.
func (s *busSubscription) Close(ctx context.Context) error {
	return s.bus.unsubscribe(ctx, s.id)
}

func (s *busSubscription) stats() SubscriptionStats {
	return SubscriptionStats{
		Name:    s.spec.Name,
		Handled: s.handled.Load(),
		Failed:  s.failed.Load(),
		Dropped: s.dropped.Load(),
	}
}

// shardFor picks the worker queue owning the event's platform and channel.
func (s *busSubscription) shardFor(event *msgwatch.Event) chan *msgwatch.Event {
	if len(s.queues) == 1 {
		return s.queues[0]
	}

	hasher := fnv.New32a()
	_, _ = hasher.Write([]byte(event.Platform))
	_, _ = hasher.Write([]byte{0})
	_, _ = hasher.Write([]byte(event.ChannelID))

	return s.queues[hasher.Sum32()%uint32(len(s.queues))]
}

// enqueue applies the configured backpressure policy to the event's shard.
func (s *busSubscription) enqueue(ctx context.Context, event *msgwatch.Event) error {
	if s.closed.Load() {
		return fmt.Errorf("enqueue %s: %w", s.spec.Name, msgwatch.ErrSubscriptionClosed)
	}

	queue := s.shardFor(event)
	switch s.spec.Backpressure {
	case msgwatch.BackpressureDropNewest:
		select {
		case queue <- event:
			return nil
		default:
			s.dropped.Add(1)
			return fmt.Errorf("enqueue %s: %w", s.spec.Name, msgwatch.ErrEventDropped)
		}
	case msgwatch.BackpressureDropOldest:
		return s.enqueueDropOldest(queue, event)
	case msgwatch.BackpressureBlock:
		select {
		case queue <- event:
			return nil
		case <-ctx.Done():
			return fmt.Errorf("enqueue %s: %w", s.spec.Name, ctx.Err())
		case <-s.ctx.Done():
			return fmt.Errorf("enqueue %s: %w", s.spec.Name, msgwatch.ErrSubscriptionClosed)
		}
	default:
		return fmt.Errorf("enqueue %s: %w", s.spec.Name, msgwatch.ErrInvalidSubscription)
	}
}

// enqueueDropOldest evicts one queued event before enqueueing the new event.
func (s *busSubscription) enqueueDropOldest(queue chan *msgwatch.Event, event *msgwatch.Event) error {
	select {
	case queue <- event:
		return nil
	default:
	}

	select {
	case <-queue:
		s.dropped.Add(1)
	default:
	}

	select {
	case queue <- event:
		return nil
	default:
		s.dropped.Add(1)
		return fmt.Errorf("enqueue %s: %w", s.spec.Name, msgwatch.ErrEventDropped)
	}
}

// startWorkers launches one worker per queue and closes done after all workers exit.
func (s *busSubscription) startWorkers() {
	workerWG := &sync.WaitGroup{}
	for workerID := range s.queues {
		workerWG.Add(1)
		go s.runWorker(workerWG, workerID)
	}

	go func() {
		workerWG.Wait()
		close(s.done)
	}()
}

// runWorker drains its own queue until subscription context cancellation.
// Every handler failure is routed to the async error sink.
func (s *busSubscription) runWorker(workerWG *sync.WaitGroup, workerID int) {
	defer workerWG.Done()

	queue := s.queues[workerID]
	for {
		select {
		case <-s.ctx.Done():
			return
		case event := <-queue:
			if err := s.handleEvent(s.ctx, workerID, event); err != nil {
				s.failed.Add(1)
				s.bus.reportAsyncError(s.ctx, s.spec.Name, err)
				continue
			}
			s.handled.Add(1)
		}
	}
}

// handleEvent executes one handler call with the subscription timeout and panic recovery.
func (s *busSubscription) handleEvent(ctx context.Context, workerID int, event *msgwatch.Event) error {
	handlerCtx, cancel := context.WithTimeout(ctx, s.spec.HandlerTimeout)
	defer cancel()

	scope := fmt.Sprintf("subscription %s worker %d", s.spec.Name, workerID)
	if err := runSafely(scope, func() error {
		return s.handler(handlerCtx, event)
	}); err != nil {
		return fmt.Errorf("handle event %s in channel %s: %w", event.Kind, event.ChannelID, err)
	}

	return nil
}

// signalClose marks the subscription closed exactly once and cancels workers.
func (s *busSubscription) signalClose() {
	s.once.Do(func() {
		s.closed.Store(true)
		s.cancel()
	})
}

// shutdown waits for worker exit or returns when the supplied context expires.
func (s *busSubscription) shutdown(ctx context.Context) error {
	s.signalClose()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown subscription %s: %w", s.spec.Name, ctx.Err())
	}
}
