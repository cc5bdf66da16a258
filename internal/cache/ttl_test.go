package cache

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
)

func TestTTL_GetBeforeAndAfterExpiry(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := New(5*time.Minute, clock)

	c.Put("eng", "team-uuid")
	v, ok := c.Get("eng")
	assert.True(t, ok)
	assert.Equal(t, "team-uuid", v)

	clock.Advance(5*time.Minute + time.Second)
	_, ok = c.Get("eng")
	assert.False(t, ok)
}

func TestTTL_PutRefreshesExpiry(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := New(time.Minute, clock)

	c.Put("k", "v1")
	clock.Advance(45 * time.Second)
	c.Put("k", "v2")
	clock.Advance(45 * time.Second)

	v, ok := c.Get("k")
	assert.True(t, ok)
	assert.Equal(t, "v2", v)
}

func TestTTL_DeleteAndSweep(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := New(time.Minute, clock)

	c.Put("a", "1")
	c.Put("b", "2")
	c.Delete("a")
	_, ok := c.Get("a")
	assert.False(t, ok)

	clock.Advance(2 * time.Minute)
	c.Put("c", "3")
	c.Sweep()
	assert.Equal(t, 1, c.Len())
}
