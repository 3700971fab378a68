package groutine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGoNamesContext(t *testing.T) {
	names := make(chan string, 1)
	done := Go(context.Background(), "worker-42", func(ctx context.Context) {
		names <- GetName(ctx)
	})

	assert.True(t, Join(done, time.Second))
	assert.Equal(t, "worker-42", <-names)
}

func TestJoinTimeout(t *testing.T) {
	release := make(chan struct{})
	done := Go(nil, "blocked", func(ctx context.Context) { //nolint:staticcheck // nil parent is supported
		<-release
	})

	assert.False(t, Join(done, 10*time.Millisecond))
	close(release)
	assert.True(t, Join(done, time.Second))
}

func TestJoinNil(t *testing.T) {
	assert.True(t, Join(nil, time.Millisecond))
}

func TestGetNameMissing(t *testing.T) {
	assert.Equal(t, "", GetName(context.Background()))
	assert.Equal(t, "", GetName(nil)) //nolint:staticcheck // nil context is handled
}
