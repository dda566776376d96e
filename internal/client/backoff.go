package client

import "time"

const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

// Backoff produces the reconnect delay sequence: 1s doubling up to a 30s
// cap, reset after a successful connection.
type Backoff struct {
	next time.Duration
}

func NewBackoff() *Backoff {
	return &Backoff{next: initialBackoff}
}

// Next returns the delay to wait before the upcoming attempt and advances
// the sequence.
func (b *Backoff) Next() time.Duration {
	d := b.next
	b.next *= 2
	if b.next > maxBackoff {
		b.next = maxBackoff
	}
	return d
}

func (b *Backoff) Reset() {
	b.next = initialBackoff
}
