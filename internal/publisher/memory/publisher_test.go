package memory

import (
	"context"
	"testing"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "topic-a", map[string]string{"k": "v"})
	if err != nil || id1 != "memory-1" {
		t.Fatalf("unexpected publish result id=%s err=%v", id1, err)
	}
	id2, err := pub.Publish(context.Background(), "topic-b", "payload")
	if err != nil || id2 != "memory-2" {
		t.Fatalf("unexpected publish result id=%s err=%v", id2, err)
	}

	msgs := pub.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Topic != "topic-a" || msgs[1].Topic != "topic-b" {
		t.Fatalf("topics not recorded correctly: %+v", msgs)
	}

	msgs[0].Topic = "modified"
	if pub.Messages()[0].Topic == "modified" {
		t.Fatal("expected Messages() to return a copy")
	}
}

func TestBoundedPublisherKeepsNewest(t *testing.T) {
	t.Parallel()

	pub := NewBounded(2)
	for i := 0; i < 5; i++ {
		if _, err := pub.Publish(context.Background(), "decisions", i); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}

	msgs := pub.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 retained messages, got %d", len(msgs))
	}
	if msgs[0].Payload != 3 || msgs[1].Payload != 4 {
		t.Fatalf("expected newest payloads 3 and 4, got %+v", msgs)
	}
	if msgs[1].ID != "memory-5" || pub.Total() != 5 {
		t.Fatalf("unexpected id %s or total %d", msgs[1].ID, pub.Total())
	}
}
