package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFakeAdvance(t *testing.T) {
	c := NewFake(100)
	start := c.Now()
	assert.Equal(t, uint32(100), c.Micros())

	c.Advance(1500 * time.Microsecond)
	assert.Equal(t, uint32(1600), c.Micros())
	assert.Equal(t, 1500*time.Microsecond, c.Now().Sub(start))
}

func TestElapsedMicrosWraps(t *testing.T) {
	c := NewFake(^uint32(0) - 10)
	then := c.Micros()
	c.Advance(30 * time.Microsecond)
	assert.Equal(t, uint32(30), ElapsedMicros(c.Micros(), then))
}

func TestRealMonotonic(t *testing.T) {
	r := NewReal()
	a := r.Micros()
	time.Sleep(2 * time.Millisecond)
	assert.GreaterOrEqual(t, ElapsedMicros(r.Micros(), a), uint32(1000))
}
