package services

import (
	"math"
	"sync"
	"time"
)

const ThrottleCooldownCapSeconds = 30

// LoginThrottle slows down PIN guessing: each rejected PIN doubles the
// cooldown, capped at ThrottleCooldownCapSeconds.
type LoginThrottle struct {
	mu            sync.Mutex
	clock         Clock
	failCount     int
	cooldownUntil time.Time
}

func NewLoginThrottle(clock Clock) *LoginThrottle {
	if clock == nil {
		clock = RealClock{}
	}
	return &LoginThrottle{clock: clock}
}

// WaitSeconds returns how many seconds the operator must wait before trying again (0 if no cooldown).
func (t *LoginThrottle) WaitSeconds() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock.Now()
	if !now.Before(t.cooldownUntil) {
		return 0
	}
	return int(math.Ceil(t.cooldownUntil.Sub(now).Seconds()))
}

// RecordFailed increments the fail count and starts a cooldown of min(30, 2^failCount) seconds.
func (t *LoginThrottle) RecordFailed() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failCount++
	wait := time.Duration(CooldownSecondsForFailCount(t.failCount)) * time.Second
	t.cooldownUntil = t.clock.Now().Add(wait)
}

// RecordSuccess resets the fail count and cooldown.
func (t *LoginThrottle) RecordSuccess() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failCount = 0
	t.cooldownUntil = time.Time{}
}

// CooldownSecondsForFailCount returns min(30, 2^failCount).
func CooldownSecondsForFailCount(failCount int) int {
	s := int(math.Pow(2, float64(failCount)))
	if s > ThrottleCooldownCapSeconds {
		return ThrottleCooldownCapSeconds
	}
	return s
}
