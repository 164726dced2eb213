package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"askshot/src/chat"
)

func TestSubmitRunsJob(t *testing.T) {
	p := New(1, func(ctx context.Context, q string) (chat.Result, error) {
		return chat.Result{Answer: "re: " + q}, nil
	})
	defer p.Close()

	got := make(chan string, 1)
	require.True(t, p.Submit(context.Background(), "hello", func(res chat.Result, err error) {
		got <- res.Answer
	}))

	select {
	case answer := <-got:
		assert.Equal(t, "re: hello", answer)
	case <-time.After(time.Second):
		t.Fatal("job did not run")
	}
}

func TestSubmitDropsWhenBusy(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	p := New(1, func(ctx context.Context, q string) (chat.Result, error) {
		started <- struct{}{}
		<-release
		return chat.Result{}, nil
	})

	noop := func(chat.Result, error) {}
	require.True(t, p.Submit(context.Background(), "first", noop))
	<-started
	require.True(t, p.Submit(context.Background(), "queued", noop))
	assert.False(t, p.Submit(context.Background(), "dropped", noop))

	close(release)
	p.Close()
	p.Close()
}
