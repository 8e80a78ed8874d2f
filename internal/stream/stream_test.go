package stream

import (
	"context"
	"testing"
	"time"

	"signato.org/internal/auditlog"
)

func TestPublishFansOutToMatchingSubscribers(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	all := s.Subscribe(ctx, "")
	mine := s.Subscribe(ctx, "env-1")
	other := s.Subscribe(ctx, "env-2")

	s.Publish(context.Background(), auditlog.Entry{EnvelopeID: "env-1", Type: auditlog.EventDocumentSent})

	for name, ch := range map[string]<-chan auditlog.Entry{"all": all, "mine": mine} {
		select {
		case e := <-ch:
			if e.EnvelopeID != "env-1" {
				t.Fatalf("%s: envelope = %q", name, e.EnvelopeID)
			}
		case <-time.After(time.Second):
			t.Fatalf("%s: no entry received", name)
		}
	}
	select {
	case e := <-other:
		t.Fatalf("unexpected entry for env-2 subscriber: %+v", e)
	default:
	}
}

func TestSubscriberRemovedOnContextEnd(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	ch := s.Subscribe(ctx, "env-1")
	if s.SubscriberCount() != 1 {
		t.Fatalf("count = %d", s.SubscriberCount())
	}
	cancel()
	for range ch {
	}
	deadline := time.Now().Add(time.Second)
	for s.SubscriberCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber not removed")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Subscribe(ctx, "env-1") // never drained

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			s.Publish(context.Background(), auditlog.Entry{EnvelopeID: "env-1"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}
