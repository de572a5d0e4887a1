package discord

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"msgwatch/internal/msgcache"
	"msgwatch/pkg/msgwatch"
)

// TestDriverPublishesGatewayEvents verifies gateway handlers publish neutral events and skip our own webhook posts.
func TestDriverPublishesGatewayEvents(t *testing.T) {
	t.Parallel()

	webhooks := msgcache.NewWebhookDirectory()
	webhooks.Remember("C", msgwatch.WebhookIdentity{ID: "own-hook", Token: "tok"})

	session := newStubSession()
	driver, err := NewDriver(session, WithName("discord-main"), WithWebhookDirectory(webhooks))
	if err != nil {
		t.Fatalf("new driver failed: %v", err)
	}

	sink := &captureSink{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- driver.Start(ctx, sink)
	}()
	waitOpened(t, session)

	edited := time.Unix(200, 0)
	driver.onMessageCreate(nil, &discordgo.MessageCreate{Message: &discordgo.Message{
		ID: "1", ChannelID: "C", Content: "hi", Timestamp: time.Unix(100, 0),
	}})
	driver.onMessageCreate(nil, &discordgo.MessageCreate{Message: &discordgo.Message{
		ID: "2", ChannelID: "C", Content: "repost", WebhookID: "own-hook",
	}})
	driver.onMessageUpdate(nil, &discordgo.MessageUpdate{Message: &discordgo.Message{
		ID: "1", ChannelID: "C", Content: "edited", EditedTimestamp: &edited,
	}})
	driver.onMessageDelete(nil, &discordgo.MessageDelete{Message: &discordgo.Message{ID: "1", ChannelID: "C"}})
	driver.onMessageDeleteBulk(nil, &discordgo.MessageDeleteBulk{ChannelID: "C", Messages: []string{"3", "4"}})

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("start returned error: %v", err)
	}
	if got := session.removed.Load(); got != 4 {
		t.Fatalf("removed handlers = %d, want 4", got)
	}

	events := sink.snapshot()
	wantKinds := []msgwatch.EventKind{
		msgwatch.EventKindMessageCreated,
		msgwatch.EventKindMessageUpdated,
		msgwatch.EventKindMessageDeleted,
		msgwatch.EventKindMessageDeleted,
		msgwatch.EventKindMessageDeleted,
	}
	if len(events) != len(wantKinds) {
		t.Fatalf("events = %d, want %d", len(events), len(wantKinds))
	}
	for index, event := range events {
		if event.Kind != wantKinds[index] {
			t.Fatalf("event[%d] kind = %s, want %s", index, event.Kind, wantKinds[index])
		}
		if err := event.Validate(); err != nil {
			t.Fatalf("event[%d] invalid: %v", index, err)
		}
	}
	if events[1].OccurredAt != edited.UTC() {
		t.Fatalf("update occurred at = %v, want edit timestamp", events[1].OccurredAt)
	}
	if events[4].Deletion.MessageID != "4" {
		t.Fatalf("bulk deletion = %s, want 4", events[4].Deletion.MessageID)
	}
}

// TestDriverReportsPublishFailures verifies sink failures reach the async error handler.
func TestDriverReportsPublishFailures(t *testing.T) {
	t.Parallel()

	var reported atomic.Int64
	session := newStubSession()
	driver, err := NewDriver(session, WithErrorHandler(func(context.Context, error) {
		reported.Add(1)
	}))
	if err != nil {
		t.Fatalf("new driver failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- driver.Start(ctx, &captureSink{err: errors.New("closed")})
	}()
	waitOpened(t, session)

	driver.onMessageDelete(nil, &discordgo.MessageDelete{Message: &discordgo.Message{ID: "1", ChannelID: "C"}})
	cancel()
	<-done

	if reported.Load() != 1 {
		t.Fatalf("reported = %d, want 1", reported.Load())
	}
}

func TestDriverStartFailsWhenOpenFails(t *testing.T) {
	t.Parallel()

	session := newStubSession()
	session.openErr = errors.New("bad token")
	driver, err := NewDriver(session)
	if err != nil {
		t.Fatalf("new driver failed: %v", err)
	}

	if err := driver.Start(context.Background(), &captureSink{}); err == nil {
		t.Fatal("expected open error")
	}
	if got := session.removed.Load(); got != 4 {
		t.Fatalf("removed handlers = %d, want 4", got)
	}
}

// TestDriverShutdownClosesOnce verifies repeated shutdowns close the session once.
func TestDriverShutdownClosesOnce(t *testing.T) {
	t.Parallel()

	session := newStubSession()
	driver, err := NewDriver(session)
	if err != nil {
		t.Fatalf("new driver failed: %v", err)
	}

	for range 2 {
		if err := driver.Shutdown(context.Background()); err != nil {
			t.Fatalf("shutdown failed: %v", err)
		}
	}
	if got := session.closed.Load(); got != 1 {
		t.Fatalf("close calls = %d, want 1", got)
	}
}

func TestDriverEventsAfterStopAreDropped(t *testing.T) {
	t.Parallel()

	driver, err := NewDriver(newStubSession())
	if err != nil {
		t.Fatalf("new driver failed: %v", err)
	}

	// No sink is attached, so the handler must return without panicking.
	driver.onMessageDelete(nil, &discordgo.MessageDelete{Message: &discordgo.Message{ID: "1", ChannelID: "C"}})
}

type stubSession struct {
	mu       sync.Mutex
	handlers []interface{}
	opened   chan struct{}
	openErr  error
	removed  atomic.Int64
	closed   atomic.Int64
}

func newStubSession() *stubSession {
	return &stubSession{opened: make(chan struct{})}
}

func (s *stubSession) AddHandler(handler interface{}) func() {
	s.mu.Lock()
	s.handlers = append(s.handlers, handler)
	s.mu.Unlock()

	return func() { s.removed.Add(1) }
}

func (s *stubSession) Open() error {
	if s.openErr != nil {
		return s.openErr
	}
	close(s.opened)

	return nil
}

func (s *stubSession) Close() error {
	s.closed.Add(1)
	return nil
}

func waitOpened(t *testing.T, session *stubSession) {
	t.Helper()

	select {
	case <-session.opened:
	case <-time.After(2 * time.Second):
		t.Fatal("session was not opened")
	}
}

type captureSink struct {
	mu     sync.Mutex
	events []*msgwatch.Event
	err    error
}

func (s *captureSink) Publish(_ context.Context, event *msgwatch.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)

	return nil
}

func (s *captureSink) snapshot() []*msgwatch.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]*msgwatch.Event(nil), s.events...)
}
