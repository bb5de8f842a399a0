package vikauth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestDispatcherDeliversToSink(t *testing.T) {
	sink := NewChannelSink(16)
	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 16, DropIfFull: true}, sink)
	defer d.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		d.Emit(ctx, AuditEvent{EventType: "login_success", Success: true})
	}

	for i := 0; i < 5; i++ {
		select {
		case ev := <-sink.Events():
			if ev.EventType != "login_success" {
				t.Fatalf("unexpected event type %q", ev.EventType)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}

	if d.Dropped() != 0 {
		t.Fatalf("expected no drops, got %d", d.Dropped())
	}
}

// blockingSink parks the dispatch goroutine inside Emit until released.
type blockingSink struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *blockingSink) Emit(_ context.Context, _ AuditEvent) {
	s.once.Do(func() { close(s.entered) })
	<-s.release
}

func TestDispatcherDropsWhenBufferFull(t *testing.T) {
	sink := &blockingSink{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	d := newAuditDispatcher(AuditConfig{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	ctx := context.Background()

	// First event occupies the sink; wait until the goroutine is inside it.
	d.Emit(ctx, AuditEvent{EventType: "first"})
	select {
	case <-sink.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch goroutine never reached the sink")
	}

	// Second fills the buffer, third has nowhere to go.
	d.Emit(ctx, AuditEvent{EventType: "second"})
	d.Emit(ctx, AuditEvent{EventType: "third"})

	if d.Dropped() != 1 {
		t.Fatalf("expected one dropped event, got %d", d.Dropped())
	}

	close(sink.release)
	d.Close()
}

func TestDispatcherDisabledIsNil(t *testing.T) {
	d := newAuditDispatcher(AuditConfig{Enabled: false}, NoOpSink{})
	if d != nil {
		t.Fatal("expected nil dispatcher when audit is disabled")
	}

	// Nil receivers stay safe on every method.
	d.Emit(context.Background(), AuditEvent{})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("expected zero drops from nil dispatcher")
	}
}

func TestJSONWriterSinkWritesOneObjectPerLine(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)

	sink.Emit(context.Background(), AuditEvent{EventType: "login_failure", Error: "invalid_credentials"})
	sink.Emit(context.Background(), AuditEvent{EventType: "logout_session", Success: true})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected two lines, got %d", len(lines))
	}

	var ev AuditEvent
	if err := json.Unmarshal([]byte(lines[0]), &ev); err != nil {
		t.Fatalf("line is not valid JSON: %v", err)
	}
	if ev.EventType != "login_failure" || ev.Error != "invalid_credentials" {
		t.Fatalf("unexpected decoded event: %+v", ev)
	}
}

func TestEngineEmitsAuditEvents(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	sink := NewChannelSink(32)
	clock := newFakeClock(time.Date(2026, time.March, 14, 9, 30, 0, 0, time.UTC))

	cfg := testConfig(t)
	cfg.Audit.Enabled = true
	cfg.Audit.BufferSize = 32

	engine, err := New().
		WithConfig(cfg).
		WithRedis(client).
		WithAccountProvider(newMockProvider(guestAccount(t))).
		WithNotifier(&recordingNotifier{}).
		WithClock(clock.Now).
		WithAuditSink(sink).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	_, err = engine.Login(context.Background(), "guest@lodgegate.test", "Wrong!Pass11z")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	select {
	case ev := <-sink.Events():
		if ev.EventType != "login_failure" {
			t.Fatalf("expected login_failure event, got %q", ev.EventType)
		}
		if ev.Error != "invalid_credentials" {
			t.Fatalf("expected invalid_credentials error code, got %q", ev.Error)
		}
		if ev.Metadata["identifier"] != "guest@lodgegate.test" {
			t.Fatalf("expected identifier metadata, got %+v", ev.Metadata)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for audit event")
	}
}
