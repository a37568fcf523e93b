package event

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dshills/negstation/internal/event/dispatch"
	"github.com/dshills/negstation/internal/event/topic"
)

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func startBus(t *testing.T, opts ...BusOption) *Bus {
	t.Helper()
	bus := NewBus(opts...)
	if err := bus.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = bus.Stop(ctx)
	})
	return bus
}

// idle waits until the dispatch goroutine has consumed every queued event.
func idle(t *testing.T, bus *Bus) {
	t.Helper()
	done := make(chan struct{})
	sub, err := bus.SubscribeFunc("test-barrier", func(ctx context.Context, env Envelope) error {
		close(done)
		return nil
	}, WithOnce())
	if err != nil {
		t.Fatalf("Subscribe() failed: %v", err)
	}
	defer bus.Unsubscribe(sub)

	bus.Publish("test-barrier", nil)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("bus did not become idle")
	}
}

func TestBus_StartStop(t *testing.T) {
	bus := NewBus()

	if err := bus.Stop(context.Background()); err != ErrBusNotRunning {
		t.Errorf("expected ErrBusNotRunning before Start, got %v", err)
	}

	if err := bus.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if !bus.IsRunning() {
		t.Error("expected bus to be running after Start()")
	}
	if err := bus.Start(); err != ErrBusAlreadyRunning {
		t.Errorf("expected ErrBusAlreadyRunning, got %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := bus.Stop(ctx); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if bus.IsRunning() {
		t.Error("expected bus to not be running after Stop()")
	}
	if err := bus.Stop(ctx); err != ErrBusNotRunning {
		t.Errorf("expected ErrBusNotRunning, got %v", err)
	}
	if err := bus.Start(); err != ErrBusStopped {
		t.Errorf("expected ErrBusStopped, got %v", err)
	}
}

func TestBus_Subscribe_Errors(t *testing.T) {
	bus := NewBus()

	if _, err := bus.Subscribe("stage-data", nil); err != ErrNilHandler {
		t.Errorf("expected ErrNilHandler, got %v", err)
	}

	noop := HandlerFunc(func(ctx context.Context, env Envelope) error { return nil })
	for _, tp := range []topic.Topic{"", "Stage-Data", "stage..data"} {
		if _, err := bus.Subscribe(tp, noop); !errors.Is(err, ErrInvalidTopic) {
			t.Errorf("Subscribe(%q) err = %v, want ErrInvalidTopic", tp, err)
		}
	}

	sub, err := bus.Subscribe("converter-*", noop)
	if err != nil {
		t.Fatalf("Subscribe() failed: %v", err)
	}
	if sub.ID() == "" || sub.Topic() != "converter-*" || sub.Mode() != DeliveryBackground {
		t.Errorf("unexpected subscription %s %s %s", sub.ID(), sub.Topic(), sub.Mode())
	}
	if !sub.IsActive() {
		t.Error("expected new subscription to be active")
	}
}

func TestBus_PublishBackground(t *testing.T) {
	bus := startBus(t)

	var got atomic.Value
	_, err := bus.SubscribeFunc("stage-data", func(ctx context.Context, env Envelope) error {
		got.Store(env)
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() failed: %v", err)
	}

	bus.Publish("stage-data", 42)
	waitFor(t, func() bool { return got.Load() != nil })

	env := got.Load().(Envelope)
	if env.Topic != "stage-data" || env.Payload != 42 {
		t.Errorf("unexpected envelope %+v", env)
	}
	if env.Metadata.ID == "" || env.Metadata.Timestamp.IsZero() {
		t.Errorf("expected metadata to be filled, got %+v", env.Metadata)
	}
}

func TestBus_PublishBeforeStart(t *testing.T) {
	bus := NewBus()
	var count atomic.Int32
	bus.SubscribeFunc("stage-data", func(ctx context.Context, env Envelope) error {
		count.Add(1)
		return nil
	})

	bus.Publish("stage-data", nil)
	if count.Load() != 0 {
		t.Fatal("handler ran before Start()")
	}

	if err := bus.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer bus.Stop(context.Background())
	waitFor(t, func() bool { return count.Load() == 1 })
}

func TestBus_PerTopicOrder(t *testing.T) {
	bus := startBus(t)

	const n = 500
	var mu sync.Mutex
	var got []int
	bus.SubscribeFunc("stage-data", func(ctx context.Context, env Envelope) error {
		mu.Lock()
		got = append(got, env.Payload.(int))
		mu.Unlock()
		return nil
	})

	for i := 0; i < n; i++ {
		bus.Publish("stage-data", i)
	}
	idle(t, bus)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != n {
		t.Fatalf("expected %d deliveries, got %d", n, len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("delivery %d carried %d", i, v)
		}
	}
}

func TestBus_RegistrationOrder(t *testing.T) {
	bus := startBus(t)

	var mu sync.Mutex
	var order []string
	for _, name := range []string{"first", "second", "third"} {
		name := name
		bus.SubscribeFunc("stage-data", func(ctx context.Context, env Envelope) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		})
	}

	bus.Publish("stage-data", nil)
	idle(t, bus)

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 || order[0] != "first" || order[1] != "second" || order[2] != "third" {
		t.Errorf("unexpected order %v", order)
	}
}

func TestBus_PatternSubscription(t *testing.T) {
	bus := startBus(t)

	var mu sync.Mutex
	var seen []topic.Topic
	bus.SubscribeFunc("converter-*", func(ctx context.Context, env Envelope) error {
		mu.Lock()
		seen = append(seen, env.Topic)
		mu.Unlock()
		return nil
	})

	bus.Publish("converter-started", nil)
	bus.Publish("stage-data", nil)
	bus.Publish("converter-finished", nil)
	idle(t, bus)

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 || seen[0] != "converter-started" || seen[1] != "converter-finished" {
		t.Errorf("unexpected topics %v", seen)
	}
}

func TestBus_MainDeliveryWaitsForDrain(t *testing.T) {
	bus := startBus(t)

	var calls []int
	bus.SubscribeFunc("stage-data", func(ctx context.Context, env Envelope) error {
		calls = append(calls, env.Payload.(int))
		return nil
	}, WithDeliveryMode(DeliveryMain))

	bus.Publish("stage-data", 1)
	bus.Publish("stage-data", 2)
	idle(t, bus)

	if len(calls) != 0 {
		t.Fatalf("main handler ran before DrainMain: %v", calls)
	}
	if depth := bus.Stats().MainQueueDepth; depth != 2 {
		t.Errorf("MainQueueDepth = %d, want 2", depth)
	}

	if ran := bus.DrainMain(); ran != 2 {
		t.Errorf("DrainMain() = %d, want 2", ran)
	}
	if len(calls) != 2 || calls[0] != 1 || calls[1] != 2 {
		t.Errorf("unexpected calls %v", calls)
	}
	if ran := bus.DrainMain(); ran != 0 {
		t.Errorf("second DrainMain() = %d, want 0", ran)
	}
}

func TestBus_DrainMainSnapshot(t *testing.T) {
	bus := startBus(t)

	var calls atomic.Int32
	var republished atomic.Bool
	bus.SubscribeFunc("stage-data", func(ctx context.Context, env Envelope) error {
		calls.Add(1)
		if republished.CompareAndSwap(false, true) {
			bus.Publish("stage-data", "again")
		}
		return nil
	}, WithDeliveryMode(DeliveryMain))

	bus.Publish("stage-data", "first")
	idle(t, bus)

	if ran := bus.DrainMain(); ran != 1 {
		t.Fatalf("DrainMain() = %d, want 1", ran)
	}
	idle(t, bus)

	// The item published during the first drain waits for the next call.
	if calls.Load() != 1 {
		t.Fatalf("expected 1 call, got %d", calls.Load())
	}
	if ran := bus.DrainMain(); ran != 1 {
		t.Errorf("DrainMain() = %d, want 1", ran)
	}
}

func TestBus_FailureIsolation(t *testing.T) {
	bus := startBus(t)

	var after atomic.Int32
	bus.SubscribeFunc("stage-data", func(ctx context.Context, env Envelope) error {
		return errors.New("broken")
	})
	bus.SubscribeFunc("stage-data", func(ctx context.Context, env Envelope) error {
		panic("worse")
	})
	bus.SubscribeFunc("stage-data", func(ctx context.Context, env Envelope) error {
		after.Add(1)
		return nil
	})

	bus.Publish("stage-data", nil)
	bus.Publish("stage-data", nil)
	idle(t, bus)

	if after.Load() != 2 {
		t.Errorf("subscriber after failures ran %d times, want 2", after.Load())
	}
	stats := bus.Stats()
	if stats.Failed != 2 {
		t.Errorf("Failed = %d, want 2", stats.Failed)
	}
	if stats.Panicked != 2 {
		t.Errorf("Panicked = %d, want 2", stats.Panicked)
	}
}

func TestBus_MainFailureIsolation(t *testing.T) {
	bus := startBus(t)

	var ok atomic.Int32
	bus.SubscribeFunc("stage-data", func(ctx context.Context, env Envelope) error {
		panic("main panic")
	}, WithDeliveryMode(DeliveryMain))
	bus.SubscribeFunc("stage-data", func(ctx context.Context, env Envelope) error {
		ok.Add(1)
		return nil
	}, WithDeliveryMode(DeliveryMain))

	bus.Publish("stage-data", nil)
	idle(t, bus)

	if ran := bus.DrainMain(); ran != 2 {
		t.Errorf("DrainMain() = %d, want 2", ran)
	}
	if ok.Load() != 1 {
		t.Error("expected the second main handler to run")
	}
	if bus.Stats().Panicked != 1 {
		t.Errorf("Panicked = %d, want 1", bus.Stats().Panicked)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := startBus(t)

	var count atomic.Int32
	sub, _ := bus.SubscribeFunc("stage-data", func(ctx context.Context, env Envelope) error {
		count.Add(1)
		return nil
	})

	bus.Publish("stage-data", nil)
	idle(t, bus)

	if err := bus.Unsubscribe(sub); err != nil {
		t.Fatalf("Unsubscribe() failed: %v", err)
	}
	if sub.IsActive() {
		t.Error("expected subscription to be cancelled")
	}
	if err := bus.Unsubscribe(sub); err != ErrSubscriptionNotFound {
		t.Errorf("expected ErrSubscriptionNotFound, got %v", err)
	}
	if err := bus.Unsubscribe(nil); err != ErrInvalidSubscription {
		t.Errorf("expected ErrInvalidSubscription, got %v", err)
	}

	bus.Publish("stage-data", nil)
	idle(t, bus)
	if count.Load() != 1 {
		t.Errorf("expected 1 delivery, got %d", count.Load())
	}
}

func TestBus_UnsubscribeAllDiscardsQueuedMainItems(t *testing.T) {
	bus := startBus(t)
	owner := NewOwner()

	var calls atomic.Int32
	handler := HandlerFunc(func(ctx context.Context, env Envelope) error {
		calls.Add(1)
		return nil
	})
	bus.Subscribe("stage-data", handler, WithOwner(owner), WithDeliveryMode(DeliveryMain))
	bus.Subscribe("stage-data-full", handler, WithOwner(owner), WithDeliveryMode(DeliveryMain))
	bus.Subscribe("stage-data", handler, WithDeliveryMode(DeliveryMain))

	bus.Publish("stage-data", nil)
	bus.Publish("stage-data-full", nil)
	idle(t, bus)

	if n := bus.UnsubscribeAll(owner); n != 2 {
		t.Errorf("UnsubscribeAll() = %d, want 2", n)
	}
	if n := bus.UnsubscribeAll(owner); n != 0 {
		t.Errorf("second UnsubscribeAll() = %d, want 0", n)
	}
	if n := bus.UnsubscribeAll(NewOwner()); n != 0 {
		t.Errorf("UnsubscribeAll(unknown) = %d, want 0", n)
	}

	if ran := bus.DrainMain(); ran != 1 {
		t.Errorf("DrainMain() = %d, want 1", ran)
	}
	if calls.Load() != 1 {
		t.Errorf("expected only the unowned handler to run, got %d calls", calls.Load())
	}
	if bus.Stats().Skipped != 2 {
		t.Errorf("Skipped = %d, want 2", bus.Stats().Skipped)
	}
}

func TestBus_UnsubscribeAllIgnoresUnowned(t *testing.T) {
	bus := startBus(t)

	var calls atomic.Int32
	for i := 0; i < 3; i++ {
		if _, err := bus.SubscribeFunc("stage-data", func(ctx context.Context, env Envelope) error {
			calls.Add(1)
			return nil
		}); err != nil {
			t.Fatalf("SubscribeFunc() failed: %v", err)
		}
	}

	if n := bus.UnsubscribeAll(NoOwner); n != 0 {
		t.Errorf("UnsubscribeAll(NoOwner) = %d, want 0", n)
	}
	if n := bus.Stats().ActiveSubscriptions; n != 3 {
		t.Errorf("ActiveSubscriptions = %d, want 3", n)
	}

	bus.Publish("stage-data", nil)
	idle(t, bus)
	if calls.Load() != 3 {
		t.Errorf("expected 3 deliveries, got %d", calls.Load())
	}
}

func TestBus_SubscribeFromHandler(t *testing.T) {
	bus := startBus(t)

	var late atomic.Int32
	bus.SubscribeFunc("stage-structure-changed", func(ctx context.Context, env Envelope) error {
		_, err := bus.SubscribeFunc("stage-data", func(ctx context.Context, env Envelope) error {
			late.Add(1)
			return nil
		}, WithOnce())
		return err
	}, WithOnce())

	bus.Publish("stage-structure-changed", nil)
	bus.Publish("stage-data", nil)
	bus.Publish("stage-data", nil)
	idle(t, bus)

	if late.Load() != 1 {
		t.Errorf("expected the late once subscriber to run once, got %d", late.Load())
	}
}

func TestBus_Filter(t *testing.T) {
	bus := startBus(t)

	var got []int
	var mu sync.Mutex
	bus.SubscribeFunc("stage-data", func(ctx context.Context, env Envelope) error {
		mu.Lock()
		got = append(got, env.Payload.(int))
		mu.Unlock()
		return nil
	}, WithFilter(func(env Envelope) bool { return env.Payload.(int)%2 == 0 }))

	for i := 0; i < 6; i++ {
		bus.Publish("stage-data", i)
	}
	idle(t, bus)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 3 || got[0] != 0 || got[1] != 2 || got[2] != 4 {
		t.Errorf("unexpected filtered deliveries %v", got)
	}
}

func TestBus_OnceMain(t *testing.T) {
	bus := startBus(t)

	var calls atomic.Int32
	sub, _ := bus.SubscribeFunc("run-full-resolution", func(ctx context.Context, env Envelope) error {
		calls.Add(1)
		return nil
	}, WithOnce(), WithDeliveryMode(DeliveryMain))

	bus.Publish("run-full-resolution", nil)
	bus.Publish("run-full-resolution", nil)
	idle(t, bus)

	if ran := bus.DrainMain(); ran != 1 {
		t.Errorf("DrainMain() = %d, want 1", ran)
	}
	if calls.Load() != 1 || sub.IsActive() {
		t.Errorf("once subscription ran %d times, active=%v", calls.Load(), sub.IsActive())
	}
}

func TestBus_StopDrainsQueue(t *testing.T) {
	bus := NewBus()
	var count atomic.Int32
	bus.SubscribeFunc("stage-data", func(ctx context.Context, env Envelope) error {
		count.Add(1)
		return nil
	})
	if err := bus.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	for i := 0; i < 100; i++ {
		bus.Publish("stage-data", i)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := bus.Stop(ctx); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if count.Load() != 100 {
		t.Errorf("expected all 100 events dispatched, got %d", count.Load())
	}

	bus.Publish("stage-data", "late")
	if bus.Stats().Dropped != 1 {
		t.Errorf("Dropped = %d, want 1", bus.Stats().Dropped)
	}
}

func TestBus_StopTimeout(t *testing.T) {
	bus := NewBus()
	release := make(chan struct{})
	defer close(release)
	bus.SubscribeFunc("stage-data", func(ctx context.Context, env Envelope) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	})
	bus.Start()
	bus.Publish("stage-data", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := bus.Stop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected DeadlineExceeded, got %v", err)
	}
}

func TestBus_ConcurrentPublishers(t *testing.T) {
	bus := startBus(t)

	const publishers = 8
	const perPublisher = 200

	var mu sync.Mutex
	last := make(map[int]int)
	outOfOrder := false
	total := 0
	bus.SubscribeFunc("stage-data", func(ctx context.Context, env Envelope) error {
		v := env.Payload.([2]int)
		mu.Lock()
		defer mu.Unlock()
		if prev, ok := last[v[0]]; ok && v[1] <= prev {
			outOfOrder = true
		}
		last[v[0]] = v[1]
		total++
		return nil
	})

	var wg sync.WaitGroup
	for p := 0; p < publishers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perPublisher; i++ {
				bus.Publish("stage-data", [2]int{p, i})
			}
		}(p)
	}
	wg.Wait()
	idle(t, bus)

	mu.Lock()
	defer mu.Unlock()
	if outOfOrder {
		t.Error("events from one publisher were delivered out of order")
	}
	if total != publishers*perPublisher {
		t.Errorf("expected %d deliveries, got %d", publishers*perPublisher, total)
	}
}

type countingObserver struct {
	published atomic.Int32
	completed atomic.Int32
}

func (o *countingObserver) EventPublished(topic.Topic) { o.published.Add(1) }

func (o *countingObserver) HandlerCompleted(topic.Topic, DeliveryMode, dispatch.Result) {
	o.completed.Add(1)
}

func TestBus_Observer(t *testing.T) {
	obs := &countingObserver{}
	bus := startBus(t, WithObserver(obs), WithSource("test"))

	var source atomic.Value
	bus.SubscribeFunc("stage-data", func(ctx context.Context, env Envelope) error {
		source.Store(env.Metadata.Source)
		return nil
	})

	bus.Publish("stage-data", nil)
	waitFor(t, func() bool { return obs.completed.Load() == 1 })

	if obs.published.Load() != 1 {
		t.Errorf("published = %d, want 1", obs.published.Load())
	}
	if source.Load() != "test" {
		t.Errorf("Source = %v, want test", source.Load())
	}
}
