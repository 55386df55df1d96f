package resilient

import (
	"time"
)

type RetryParameters struct {
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	MaxJitter   time.Duration
}

func DefaultRetryParameters() *RetryParameters {
	return &RetryParameters{
		BaseBackoff: 200 * time.Millisecond,
		MaxBackoff:  time.Second,
		MaxJitter:   100 * time.Millisecond,
	}
}
