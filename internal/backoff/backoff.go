package backoff

import "time"

// Policy describes an exponential retry schedule shared by the connection
// manager and the recovery manager. The zero value is not usable; construct
// one with the defaults below or fill every field.
type Policy struct {
	Base        time.Duration
	Multiplier  float64
	Max         time.Duration
	MaxAttempts int
}

// Reconnect is the schedule used for push-channel reconnects.
func Reconnect() Policy {
	return Policy{
		Base:        1 * time.Second,
		Multiplier:  2,
		Max:         30 * time.Second,
		MaxAttempts: 5,
	}
}

// Recovery is the schedule used for boundary recovery attempts.
func Recovery() Policy {
	return Policy{
		Base:        5 * time.Second,
		Multiplier:  2,
		Max:         60 * time.Second,
		MaxAttempts: 3,
	}
}

// Delay returns the wait before the given attempt. Attempts are zero-based:
// Delay(0) is the wait before the first retry.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := float64(p.Base)
	for i := 0; i < attempt; i++ {
		d *= p.Multiplier
		if time.Duration(d) >= p.Max {
			return p.Max
		}
	}
	if max := float64(p.Max); p.Max > 0 && d > max {
		d = max
	}
	return time.Duration(d)
}

// Exhausted reports whether the given zero-based attempt exceeds the cap.
func (p Policy) Exhausted(attempt int) bool {
	return p.MaxAttempts > 0 && attempt >= p.MaxAttempts
}
