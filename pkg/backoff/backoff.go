// Package backoff computes the delays a connection waits between reopen attempts.
package backoff

import "time"

// Sequence is a table of reopen delays. Attempts past the end of the table
// keep returning the last entry.
type Sequence []time.Duration

// Default is the reopen table used when no other Sequence is configured.
var Default = Sequence{
	2 * time.Second,
	5 * time.Second,
	10 * time.Second,
	30 * time.Second,
	60 * time.Second,
}

// NextDelay returns the delay for the given attempt. The attempt counter itself
// is unbounded; indexing saturates at the last entry.
func (s Sequence) NextDelay(attempt uint) time.Duration {
	if len(s) == 0 {
		return 0
	}
	last := uint(len(s) - 1)
	if attempt >= last {
		return s[last]
	}
	return s[attempt]
}

// Max returns the largest delay the sequence can produce.
func (s Sequence) Max() time.Duration {
	if len(s) == 0 {
		return 0
	}
	return s[len(s)-1]
}

// NextDelay returns Default.NextDelay(attempt).
func NextDelay(attempt uint) time.Duration {
	return Default.NextDelay(attempt)
}
