package observer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UkralStul/technews/internal/domain"
)

func TestObserver_DeliversToPostSubscribers(t *testing.T) {
	o := NewCommentObserver()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := o.Subscribe(ctx, "post-1")
	other := o.Subscribe(ctx, "post-2")

	o.Publish(&domain.Comment{ID: "c1", PostID: "post-1"})

	select {
	case c := <-ch:
		assert.Equal(t, "c1", c.ID)
	case <-time.After(time.Second):
		t.Fatal("comment was not delivered")
	}
	select {
	case <-other:
		t.Fatal("comment leaked to another post")
	default:
	}
}

func TestObserver_CleanupOnCancel(t *testing.T) {
	o := NewCommentObserver()
	ctx, cancel := context.WithCancel(context.Background())

	ch := o.Subscribe(ctx, "post-1")
	require.Equal(t, 1, o.Subscribers("post-1"))

	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel must be closed")
	case <-time.After(time.Second):
		t.Fatal("channel was not closed")
	}
	assert.Equal(t, 0, o.Subscribers("post-1"))
}

func TestObserver_SlowSubscriberDoesNotBlock(t *testing.T) {
	o := NewCommentObserver()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_ = o.Subscribe(ctx, "post-1")

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			o.Publish(&domain.Comment{PostID: "post-1"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}
