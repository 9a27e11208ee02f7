// Package channelpool hands out transport channels in round-robin order.
package channelpool

import (
	"errors"
	"sync/atomic"

	"github.com/maazmalik2004/Dspace/internal/metrics"
)

// ErrEmpty is returned when a pool is created without channels.
var ErrEmpty = errors.New("channel pool: no channels configured")

// Pool is a fixed, ordered list of channel ids. Next is safe for concurrent use.
type Pool struct {
	channels []string
	cursor   atomic.Uint64
}

// New returns a pool over a copy of channels.
func New(channels []string) (*Pool, error) {
	if len(channels) == 0 {
		return nil, ErrEmpty
	}
	return &Pool{channels: append([]string(nil), channels...)}, nil
}

// Next returns the next channel id. The first call returns the first channel.
func (p *Pool) Next() string {
	n := p.cursor.Add(1) - 1
	id := p.channels[n%uint64(len(p.channels))]
	metrics.RecordChannelSelection(id)
	return id
}

// Len returns the number of channels in the pool.
func (p *Pool) Len() int {
	return len(p.channels)
}

// Channels returns a copy of the configured channel ids in order.
func (p *Pool) Channels() []string {
	return append([]string(nil), p.channels...)
}
