package bus

import (
	"context"
	"testing"
)

func TestMemoryBusFiltersByTopic(t *testing.T) {
	b := NewMemoryBus()
	ctx := context.Background()
	_ = b.Publish(ctx, "a", []byte("k1"), []byte("v1"))
	_ = b.Publish(ctx, "b", []byte("k2"), []byte("v2"))
	_ = b.Publish(ctx, "a", []byte("k3"), []byte("v3"))

	got := b.Messages("a")
	if len(got) != 2 || string(got[0].Value) != "v1" || string(got[1].Key) != "k3" {
		t.Fatalf("unexpected messages %+v", got)
	}
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}
	if err := b.Publish(ctx, "a", nil, nil); err == nil {
		t.Fatal("publish after close should fail")
	}
}
