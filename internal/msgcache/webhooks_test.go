package msgcache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"msgwatch/pkg/msgwatch"
)

func TestWebhookDirectoryRememberLookupForget(t *testing.T) {
	t.Parallel()

	directory := NewWebhookDirectory()
	if _, found := directory.Lookup("c"); found {
		t.Fatal("empty directory reported an identity")
	}

	directory.Remember("c", msgwatch.WebhookIdentity{ID: "w1", Token: "t1"})
	identity, found := directory.Lookup("c")
	if !found || identity.ID != "w1" || identity.Token != "t1" {
		t.Fatalf("lookup = (%+v, %t), want w1/t1", identity, found)
	}

	directory.Forget("c")
	if _, found := directory.Lookup("c"); found {
		t.Fatal("identity still present after forget")
	}
}

func TestWebhookDirectoryLoadOrCreateSharesCreation(t *testing.T) {
	t.Parallel()

	directory := NewWebhookDirectory()
	var calls atomic.Int32
	release := make(chan struct{})
	create := func(context.Context) (msgwatch.WebhookIdentity, error) {
		calls.Add(1)
		<-release
		return msgwatch.WebhookIdentity{ID: "w", Token: "t"}, nil
	}

	var wg sync.WaitGroup
	results := make(chan msgwatch.WebhookIdentity, 8)
	for idx := 0; idx < 8; idx++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			identity, err := directory.LoadOrCreate(context.Background(), "c", create)
			if err != nil {
				t.Errorf("load or create failed: %v", err)
				return
			}
			results <- identity
		}()
	}
	close(release)
	wg.Wait()
	close(results)

	for identity := range results {
		if identity.ID != "w" {
			t.Fatalf("identity = %+v, want w", identity)
		}
	}
	if calls.Load() < 1 {
		t.Fatal("create was never called")
	}

	if _, err := directory.LoadOrCreate(context.Background(), "c", create); err != nil {
		t.Fatalf("cached load failed: %v", err)
	}
	before := calls.Load()
	if _, err := directory.LoadOrCreate(context.Background(), "c", create); err != nil {
		t.Fatalf("cached load failed: %v", err)
	}
	if calls.Load() != before {
		t.Fatal("create called again for a cached channel")
	}
}

func TestWebhookDirectoryLoadOrCreateErrors(t *testing.T) {
	t.Parallel()

	directory := NewWebhookDirectory()
	wantErr := errors.New("missing permissions")

	_, err := directory.LoadOrCreate(context.Background(), "c", func(context.Context) (msgwatch.WebhookIdentity, error) {
		return msgwatch.WebhookIdentity{}, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("error = %v, want %v", err, wantErr)
	}
	if _, found := directory.Lookup("c"); found {
		t.Fatal("failed creation must not be remembered")
	}

	_, err = directory.LoadOrCreate(context.Background(), "c", func(context.Context) (msgwatch.WebhookIdentity, error) {
		return msgwatch.WebhookIdentity{ID: "w"}, nil
	})
	if err == nil {
		t.Fatal("expected error for identity without token")
	}

	if _, err := directory.LoadOrCreate(context.Background(), "c", nil); err == nil {
		t.Fatal("expected error for nil create func")
	}
}
