package channelpool

import (
	"errors"
	"sync"
	"testing"
)

func TestNewEmpty(t *testing.T) {
	if _, err := New(nil); !errors.Is(err, ErrEmpty) {
		t.Fatalf("expected ErrEmpty, got %v", err)
	}
}

func TestNextRoundRobin(t *testing.T) {
	p, err := New([]string{"a", "b", "c"})
	if err != nil {
		t.Fatal(err)
	}

	want := []string{"a", "b", "c", "a", "b", "c", "a"}
	prev := ""
	for i, w := range want {
		got := p.Next()
		if got != w {
			t.Fatalf("call %d: got %q, want %q", i, got, w)
		}
		if got == prev {
			t.Fatalf("call %d repeated %q", i, got)
		}
		prev = got
	}
}

func TestNextSingleChannel(t *testing.T) {
	p, _ := New([]string{"only"})
	for i := 0; i < 5; i++ {
		if got := p.Next(); got != "only" {
			t.Fatalf("got %q", got)
		}
	}
}

func TestNextConcurrentDistribution(t *testing.T) {
	channels := []string{"a", "b", "c", "d"}
	p, _ := New(channels)

	const workers, perWorker = 16, 250
	var (
		mu     sync.Mutex
		counts = map[string]int{}
		wg     sync.WaitGroup
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := map[string]int{}
			for i := 0; i < perWorker; i++ {
				local[p.Next()]++
			}
			mu.Lock()
			for k, v := range local {
				counts[k] += v
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	total := workers * perWorker
	for _, ch := range channels {
		if counts[ch] != total/len(channels) {
			t.Errorf("channel %s selected %d times, want %d", ch, counts[ch], total/len(channels))
		}
	}
}

func TestChannelsIsCopy(t *testing.T) {
	src := []string{"a", "b"}
	p, _ := New(src)
	src[0] = "mutated"

	got := p.Channels()
	got[1] = "mutated"
	if p.Next() != "a" || p.Next() != "b" {
		t.Error("pool shares storage with caller slices")
	}
	if p.Len() != 2 {
		t.Errorf("Len = %d", p.Len())
	}
}
