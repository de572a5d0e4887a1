package kernel

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"msgwatch/pkg/msgwatch"
)

// TestKernelRunCallsModuleLifecycle verifies lifecycle hook execution during run and shutdown.
func TestKernelRunCallsModuleLifecycle(t *testing.T) {
	t.Parallel()

	kernelRuntime := New(WithShutdownTimeout(time.Second))

	module := &stubModule{name: "lifecycle"}
	if err := kernelRuntime.RegisterModule(context.Background(), module); err != nil {
		t.Fatalf("register module failed: %v", err)
	}

	driver := &stubDriver{name: "stub-driver"}
	if err := kernelRuntime.RegisterDriver(driver); err != nil {
		t.Fatalf("register driver failed: %v", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runDone := make(chan error, 1)
	go func() {
		runDone <- kernelRuntime.Run(runCtx)
	}()

	eventually(t, 2*time.Second, func() bool {
		return driver.started.Load() > 0
	})
	cancel()

	select {
	case err := <-runDone:
		if err != nil {
			t.Fatalf("kernel run failed: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("kernel run did not exit")
	}

	if module.registered.Load() == 0 {
		t.Fatal("module OnRegister was not called")
	}
	if module.started.Load() == 0 {
		t.Fatal("module OnStart was not called")
	}
	if module.shutdown.Load() == 0 {
		t.Fatal("module OnShutdown was not called")
	}
	if driver.stopped.Load() == 0 {
		t.Fatal("driver Shutdown was not called")
	}
}

// TestKernelRunDeliversDriverEventsToModules verifies the driver -> bus -> module path.
func TestKernelRunDeliversDriverEventsToModules(t *testing.T) {
	t.Parallel()

	kernelRuntime := New()

	handled := make(chan string, 1)
	module := &stubModule{
		name: "consumer",
		register: func(ctx context.Context, runtime msgwatch.ModuleRuntime) error {
			_, err := runtime.Subscribe(ctx, msgwatch.SubscriptionSpec{
				Interest: msgwatch.InterestSet{
					Kinds: []msgwatch.EventKind{msgwatch.EventKindMessageCreated},
				},
			}, func(_ context.Context, event *msgwatch.Event) error {
				handled <- event.ID
				return nil
			})
			return err
		},
	}
	if err := kernelRuntime.RegisterModule(context.Background(), module); err != nil {
		t.Fatalf("register module failed: %v", err)
	}

	driver := &stubDriver{
		name: "publisher",
		events: []*msgwatch.Event{
			newTestEvent("e1", msgwatch.EventKindMessageCreated),
		},
	}
	if err := kernelRuntime.RegisterDriver(driver); err != nil {
		t.Fatalf("register driver failed: %v", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() {
		runDone <- kernelRuntime.Run(runCtx)
	}()

	select {
	case id := <-handled:
		if id != "e1" {
			t.Fatalf("handled event id = %s, want e1", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for module handler")
	}

	cancel()
	if err := <-runDone; err != nil {
		t.Fatalf("kernel run failed: %v", err)
	}
}

// TestKernelRunReturnsFatalDriverError verifies that a failing driver stops the run.
func TestKernelRunReturnsFatalDriverError(t *testing.T) {
	t.Parallel()

	kernelRuntime := New(WithShutdownTimeout(time.Second))
	healthy := &stubDriver{name: "healthy"}
	failing := &stubDriver{name: "failing", startErr: errors.New("gateway refused")}
	for _, driver := range []msgwatch.Driver{healthy, failing} {
		if err := kernelRuntime.RegisterDriver(driver); err != nil {
			t.Fatalf("register driver %s failed: %v", driver.Name(), err)
		}
	}

	runDone := make(chan error, 1)
	go func() {
		runDone <- kernelRuntime.Run(context.Background())
	}()

	select {
	case err := <-runDone:
		if err == nil || !strings.Contains(err.Error(), "gateway refused") {
			t.Fatalf("run error = %v, want gateway refused", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("kernel run did not exit after driver failure")
	}
	if healthy.stopped.Load() == 0 {
		t.Fatal("healthy driver Shutdown was not called")
	}
}

// TestRegisterModuleRollsBackOnRegisterFailure verifies failed registrations leave no trace.
func TestRegisterModuleRollsBackOnRegisterFailure(t *testing.T) {
	t.Parallel()

	kernelRuntime := New()
	t.Cleanup(func() {
		_ = kernelRuntime.EventBus().Close(context.Background())
	})

	var subscription msgwatch.Subscription
	failing := &stubModule{
		name: "flaky",
		register: func(ctx context.Context, runtime msgwatch.ModuleRuntime) error {
			sub, err := runtime.Subscribe(ctx, msgwatch.SubscriptionSpec{},
				func(context.Context, *msgwatch.Event) error { return nil },
			)
			if err != nil {
				return err
			}
			subscription = sub
			return errors.New("missing dependency")
		},
	}
	if err := kernelRuntime.RegisterModule(context.Background(), failing); err == nil {
		t.Fatal("expected register module error")
	}
	if subscription == nil {
		t.Fatal("expected subscription to be created before failure")
	}
	if subscription.Name() != "flaky-subscription-1" {
		t.Fatalf("subscription name = %q, want flaky-subscription-1", subscription.Name())
	}

	if err := kernelRuntime.RegisterModule(context.Background(), &stubModule{name: "flaky"}); err != nil {
		t.Fatalf("re-register after rollback failed: %v", err)
	}
}

// TestRegisterRejectsDuplicatesAndInvalidInput verifies registration guards.
func TestRegisterRejectsDuplicatesAndInvalidInput(t *testing.T) {
	t.Parallel()

	kernelRuntime := New()
	t.Cleanup(func() {
		_ = kernelRuntime.EventBus().Close(context.Background())
	})

	if err := kernelRuntime.RegisterModule(context.Background(), nil); err == nil {
		t.Fatal("expected nil module error")
	}
	if err := kernelRuntime.RegisterModule(context.Background(), &stubModule{}); err == nil {
		t.Fatal("expected empty module name error")
	}
	if err := kernelRuntime.RegisterModule(context.Background(), &stubModule{name: "m"}); err != nil {
		t.Fatalf("register module failed: %v", err)
	}
	err := kernelRuntime.RegisterModule(context.Background(), &stubModule{name: "m"})
	if !errors.Is(err, msgwatch.ErrModuleAlreadyRegistered) {
		t.Fatalf("duplicate module error = %v, want %v", err, msgwatch.ErrModuleAlreadyRegistered)
	}

	if err := kernelRuntime.RegisterDriver(nil); err == nil {
		t.Fatal("expected nil driver error")
	}
	if err := kernelRuntime.RegisterDriver(&stubDriver{name: "d"}); err != nil {
		t.Fatalf("register driver failed: %v", err)
	}
	err = kernelRuntime.RegisterDriver(&stubDriver{name: "d"})
	if !errors.Is(err, msgwatch.ErrDriverAlreadyRegistered) {
		t.Fatalf("duplicate driver error = %v, want %v", err, msgwatch.ErrDriverAlreadyRegistered)
	}

	if err := kernelRuntime.RegisterService(msgwatch.ServiceLogger, "logger"); err != nil {
		t.Fatalf("register service failed: %v", err)
	}
	if err := kernelRuntime.RegisterService(msgwatch.ServiceLogger, "logger"); !errors.Is(err, msgwatch.ErrServiceAlreadyRegistered) {
		t.Fatalf("duplicate service error = %v, want %v", err, msgwatch.ErrServiceAlreadyRegistered)
	}
}

// TestKernelRecoversModulePanics verifies lifecycle hook panics surface as errors.
func TestKernelRecoversModulePanics(t *testing.T) {
	t.Parallel()

	kernelRuntime := New()
	t.Cleanup(func() {
		_ = kernelRuntime.EventBus().Close(context.Background())
	})

	module := &stubModule{
		name: "panicky",
		register: func(context.Context, msgwatch.ModuleRuntime) error {
			panic("register exploded")
		},
	}
	err := kernelRuntime.RegisterModule(context.Background(), module)
	if err == nil || !strings.Contains(err.Error(), "panic recovered") {
		t.Fatalf("register error = %v, want recovered panic", err)
	}
}

type stubModule struct {
	name     string
	register func(ctx context.Context, runtime msgwatch.ModuleRuntime) error

	registered atomic.Int64
	started    atomic.Int64
	shutdown   atomic.Int64
}

func (m *stubModule) Name() string {
	return m.name
}

func (m *stubModule) OnRegister(ctx context.Context, runtime msgwatch.ModuleRuntime) error {
	m.registered.Add(1)
	if m.register != nil {
		return m.register(ctx, runtime)
	}

	return nil
}

func (m *stubModule) OnStart(_ context.Context) error {
	m.started.Add(1)
	return nil
}

func (m *stubModule) OnShutdown(_ context.Context) error {
	m.shutdown.Add(1)
	return nil
}

type stubDriver struct {
	name     string
	events   []*msgwatch.Event
	startErr error

	started atomic.Int64
	stopped atomic.Int64
}

func (d *stubDriver) Name() string {
	return d.name
}

func (d *stubDriver) Start(ctx context.Context, sink msgwatch.EventSink) error {
	d.started.Add(1)
	if d.startErr != nil {
		return d.startErr
	}
	for _, event := range d.events {
		if err := sink.Publish(ctx, event); err != nil {
			return err
		}
	}
	<-ctx.Done()

	return ctx.Err()
}

func (d *stubDriver) Shutdown(_ context.Context) error {
	d.stopped.Add(1)
	return nil
}
