package pool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var nodes = []string{"primary", "fallback-1", "fallback-2"}

func newTestPool(clock *time.Time) *Pool {
	p := New(nodes, time.Minute)
	p.now = func() time.Time { return *clock }
	return p
}

func TestPool_StaysOnPrimaryWhileHealthy(t *testing.T) {
	now := time.Now()
	p := newTestPool(&now)
	for i := 0; i < 3; i++ {
		assert.Equal(t, "primary", p.Current())
	}
}

func TestPool_FailsOverInPriorityOrder(t *testing.T) {
	now := time.Now()
	p := newTestPool(&now)

	p.MarkFailed("primary")
	assert.Equal(t, "fallback-1", p.Current())

	p.MarkFailed("fallback-1")
	assert.Equal(t, "fallback-2", p.Current())

	total, healthy, failed := p.GetStats()
	assert.Equal(t, 3, total)
	assert.Equal(t, 1, healthy)
	assert.Equal(t, 2, failed)

	// all cooling down: failures are forgotten
	p.MarkFailed("fallback-2")
	assert.Equal(t, "primary", p.Current())
	_, healthy, _ = p.GetStats()
	assert.Equal(t, 3, healthy)
}

func TestPool_Recovery(t *testing.T) {
	now := time.Now()
	p := newTestPool(&now)

	p.MarkFailed("primary")
	assert.Equal(t, "fallback-1", p.Current())

	now = now.Add(time.Minute + time.Second)
	assert.Equal(t, "primary", p.Current(), "cooldown elapsed")

	p.MarkFailed("primary")
	p.MarkHealthy("primary")
	assert.Equal(t, "primary", p.Current())
}

func TestPool_SingleNodeNeverCoolsDown(t *testing.T) {
	p := New([]string{"only"}, 0)
	p.MarkFailed("only")
	assert.Equal(t, "only", p.Current())
	_, _, failed := p.GetStats()
	assert.Zero(t, failed)

	assert.Equal(t, "", New(nil, 0).Current())
}
