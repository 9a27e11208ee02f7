package chunk

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"
)

// memTransport stores attachments in memory, keyed by channel and message id.
type memTransport struct {
	mu       sync.Mutex
	nextID   int
	messages map[string]Attachment
	sends    []string // channel ids in send order

	failFirst map[string]int // chunk name -> remaining failures
	jitter    bool
}

func newMemTransport() *memTransport {
	return &memTransport{messages: map[string]Attachment{}, failFirst: map[string]int{}}
}

var errFlaky = errors.New("flaky transport")

func (m *memTransport) Send(ctx context.Context, channelID, name string, data []byte) (Reference, error) {
	if m.jitter {
		time.Sleep(time.Duration(rand.Intn(3)) * time.Millisecond)
	}
	if err := ctx.Err(); err != nil {
		return Reference{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sends = append(m.sends, channelID)
	if n := m.failFirst[name]; n != 0 {
		if n > 0 {
			m.failFirst[name] = n - 1
		}
		return Reference{}, errFlaky
	}

	m.nextID++
	id := strconv.Itoa(1000 + m.nextID)
	m.messages[channelID+"/"+id] = Attachment{Name: name, Data: append([]byte(nil), data...)}
	return Reference{GuildID: "42", ChannelID: channelID, MessageID: id}, nil
}

func (m *memTransport) Fetch(ctx context.Context, ref Reference) (*Attachment, error) {
	if m.jitter {
		time.Sleep(time.Duration(rand.Intn(3)) * time.Millisecond)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.messages[ref.ChannelID+"/"+ref.MessageID]
	if !ok {
		return nil, fmt.Errorf("message %s: %w", ref.MessageID, ErrMissingAttachment)
	}
	return &a, nil
}
