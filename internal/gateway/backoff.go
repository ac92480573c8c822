package gateway

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrReconnectCeiling is returned once consecutive failed connections exceed
// the configured maximum.
var ErrReconnectCeiling = errors.New("reconnect attempts exhausted")

// ReconnectPolicy computes backoff delays between connection attempts.
type ReconnectPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// Delay returns BaseDelay * 2^attempts, saturating instead of overflowing.
func (p ReconnectPolicy) Delay(attempts int) time.Duration {
	if attempts <= 0 {
		return p.BaseDelay
	}
	if p.BaseDelay <= 0 {
		return 0
	}
	if attempts >= 62 || p.BaseDelay > time.Duration(math.MaxInt64>>attempts) {
		return time.Duration(math.MaxInt64)
	}
	return p.BaseDelay << attempts
}

// Next returns the wait before the next connection attempt, given the number of
// consecutive failures recorded so far. The first failure waits BaseDelay.
func (p ReconnectPolicy) Next(attempts int) (time.Duration, error) {
	if attempts > p.MaxAttempts {
		return 0, fmt.Errorf("%w: %d consecutive failures (max %d)", ErrReconnectCeiling, attempts, p.MaxAttempts)
	}
	return p.Delay(attempts - 1), nil
}
