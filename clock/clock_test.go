package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFake_AdvanceFiresExpiredTimers(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fake := NewFake(start)

	short := fake.After(10 * time.Second)
	long := fake.After(5 * time.Minute)
	assert.Equal(t, 2, fake.Pending())

	fake.Advance(30 * time.Second)

	select {
	case fired := <-short:
		assert.Equal(t, start.Add(30*time.Second), fired)
	default:
		t.Fatal("short timer should have fired")
	}
	select {
	case <-long:
		t.Fatal("long timer should not have fired")
	default:
	}
	assert.Equal(t, 1, fake.Pending())
}

func TestFake_NonPositiveDurationFiresImmediately(t *testing.T) {
	fake := NewFake(time.Unix(0, 0))
	ch := fake.After(0)
	select {
	case <-ch:
	default:
		t.Fatal("zero-duration timer should fire immediately")
	}
	assert.Equal(t, 0, fake.Pending())
}
