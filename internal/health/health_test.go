package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatus_NotAliveBeforeFirstTouch(t *testing.T) {
	h := New()
	status := h.Status(10 * time.Second)
	assert.False(t, status.Alive)
	assert.True(t, status.LastHeartbeat.IsZero())
}

func TestStatus_AliveWithinThreshold(t *testing.T) {
	h := New()
	h.Touch()
	status := h.Status(10 * time.Second)
	assert.True(t, status.Alive)
	assert.False(t, status.LastHeartbeat.IsZero())
}

func TestStatus_StaleAfterThreshold(t *testing.T) {
	h := New()
	h.Touch()
	time.Sleep(time.Millisecond)
	assert.False(t, h.Status(1*time.Nanosecond).Alive)
}
