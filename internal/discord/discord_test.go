package discord

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/maazmalik2004/Dspace/internal/chunk"
	"github.com/maazmalik2004/Dspace/internal/logging"
)

func init() {
	logging.InitNop()
}

// fakeAPI stores posted attachments and serves them from an httptest server.
type fakeAPI struct {
	mu          sync.Mutex
	srv         *httptest.Server
	loginFails  int
	userCalls   int
	channelHits map[string]int
	files       map[string][]byte // message id -> content
	names       map[string]string
}

func newFakeAPI(t *testing.T) *fakeAPI {
	f := &fakeAPI{
		channelHits: map[string]int{},
		files:       map[string][]byte{},
		names:       map[string]string{},
	}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		data, ok := f.files[r.URL.Path[1:]]
		f.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write(data)
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeAPI) User(userID string, _ ...discordgo.RequestOption) (*discordgo.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userCalls++
	if f.loginFails > 0 {
		f.loginFails--
		return nil, errors.New("gateway unavailable")
	}
	return &discordgo.User{ID: "1", Username: "dspace-bot"}, nil
}

func (f *fakeAPI) Channel(channelID string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channelHits[channelID]++
	return &discordgo.Channel{ID: channelID, GuildID: "g" + channelID}, nil
}

func (f *fakeAPI) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	body, err := io.ReadAll(data.Files[0].Reader)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	id := strconv.Itoa(len(f.files) + 1)
	f.files[id] = body
	f.names[id] = data.Files[0].Name
	return &discordgo.Message{ID: id, ChannelID: channelID}, nil
}

func (f *fakeAPI) ChannelMessage(channelID, messageID string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if messageID == "empty" {
		return &discordgo.Message{ID: messageID}, nil
	}
	name, ok := f.names[messageID]
	if !ok {
		return nil, errors.New("unknown message")
	}
	return &discordgo.Message{
		ID: messageID,
		Attachments: []*discordgo.MessageAttachment{{
			Filename: name,
			URL:      f.srv.URL + "/" + messageID,
		}},
	}, nil
}

func TestLoginRetriesAndPrefetches(t *testing.T) {
	api := newFakeAPI(t)
	api.loginFails = 2
	c := NewWithAPI(api, api.srv.Client(), Options{
		Channels:           []string{"10", "20"},
		LoginBackoff:       time.Millisecond,
		BackoffCoefficient: 1.5,
	})

	if err := c.Login(context.Background()); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if api.userCalls != 3 {
		t.Errorf("user calls = %d, want 3", api.userCalls)
	}
	if api.channelHits["10"] != 1 || api.channelHits["20"] != 1 {
		t.Errorf("channel prefetch = %v", api.channelHits)
	}
}

func TestLoginStopsOnCancel(t *testing.T) {
	api := newFakeAPI(t)
	api.loginFails = 1 << 30
	c := NewWithAPI(api, nil, Options{LoginBackoff: time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := c.Login(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}

func TestSendFetchRoundTrip(t *testing.T) {
	api := newFakeAPI(t)
	c := NewWithAPI(api, api.srv.Client(), Options{Channels: []string{"10"}})
	if err := c.Login(context.Background()); err != nil {
		t.Fatal(err)
	}

	ref, err := c.Send(context.Background(), "10", "label.txt.0.atomic", []byte("payload"))
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if ref.GuildID != "g10" || ref.ChannelID != "10" {
		t.Errorf("ref = %+v", ref)
	}

	att, err := c.Fetch(context.Background(), ref)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(att.Data) != "payload" || att.Name != "label.txt.0.atomic" {
		t.Errorf("attachment = %q %q", att.Name, att.Data)
	}
}

func TestSendResolvesUnknownChannel(t *testing.T) {
	api := newFakeAPI(t)
	c := NewWithAPI(api, api.srv.Client(), Options{})

	ref, err := c.Send(context.Background(), "77", "x.0.atomic", []byte("a"))
	if err != nil {
		t.Fatal(err)
	}
	if ref.GuildID != "g77" {
		t.Errorf("GuildID = %q", ref.GuildID)
	}
	if _, err := c.Send(context.Background(), "77", "y.0.atomic", []byte("b")); err != nil {
		t.Fatal(err)
	}
	if api.channelHits["77"] != 1 {
		t.Errorf("channel looked up %d times, want 1", api.channelHits["77"])
	}
}

func TestFetchMissingAttachment(t *testing.T) {
	api := newFakeAPI(t)
	c := NewWithAPI(api, api.srv.Client(), Options{})

	_, err := c.Fetch(context.Background(), chunk.Reference{ChannelID: "1", MessageID: "empty"})
	if !errors.Is(err, chunk.ErrMissingAttachment) {
		t.Fatalf("expected ErrMissingAttachment, got %v", err)
	}
}
