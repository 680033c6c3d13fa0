package pacer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDecayOnSuccess(t *testing.T) {
	c := NewDefault(MinSleep(1*time.Millisecond), MaxSleep(1*time.Second), DecayConstant(2))
	p := New()
	p.SetCalculator(c)
	p.state.SleepTime = 8 * time.Millisecond
	got := p.Success()
	assert.Equal(t, 4*time.Millisecond, got)
	assert.Equal(t, uint(0), p.ConsecutiveFailures())
}

func TestAttackOnFailure(t *testing.T) {
	c := NewDefault(MinSleep(1*time.Millisecond), MaxSleep(1*time.Second), AttackConstant(1))
	p := New()
	p.SetCalculator(c)
	p.state.SleepTime = 1 * time.Millisecond
	got := p.Fail()
	assert.Equal(t, 2*time.Millisecond, got)
	assert.Equal(t, uint(1), p.ConsecutiveFailures())
}

func TestAttackClampsToMax(t *testing.T) {
	c := NewDefault(MinSleep(1*time.Millisecond), MaxSleep(5*time.Millisecond), AttackConstant(1))
	p := New()
	p.SetCalculator(c)
	for i := 0; i < 10; i++ {
		p.Fail()
	}
	assert.LessOrEqual(t, p.CurrentSleep(), 5*time.Millisecond)
}

func TestDecayClampsToMin(t *testing.T) {
	c := NewDefault(MinSleep(2*time.Millisecond), MaxSleep(time.Second), DecayConstant(2))
	p := New()
	p.SetCalculator(c)
	p.state.SleepTime = 2 * time.Millisecond
	got := p.Success()
	assert.Equal(t, 2*time.Millisecond, got)
}

func TestResetClearsFailures(t *testing.T) {
	p := New()
	p.Fail()
	p.Fail()
	p.Fail()
	assert.Equal(t, uint(3), p.ConsecutiveFailures())
	p.Reset()
	assert.Equal(t, uint(0), p.ConsecutiveFailures())
}

// TestHostTogglePolicy exercises scenario S2 from spec.md §8: three
// consecutive failures hit max_errors and the caller (scheduler) would
// toggle hosts and reset the pacer.
func TestHostTogglePolicy(t *testing.T) {
	const maxErrors = 3
	p := New()
	var toggled bool
	for i := 0; i < maxErrors; i++ {
		p.Fail()
		if p.ConsecutiveFailures() >= maxErrors {
			toggled = true
			p.Reset()
		}
	}
	assert.True(t, toggled)
	assert.Equal(t, uint(0), p.ConsecutiveFailures())
}
