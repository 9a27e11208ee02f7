// Package discord implements the chunk transport on top of Discord channels.
package discord

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/maazmalik2004/Dspace/internal/chunk"
	"github.com/maazmalik2004/Dspace/internal/logging"
	"github.com/maazmalik2004/Dspace/internal/metrics"
	"github.com/maazmalik2004/Dspace/pkg/retry"
)

// ErrLoginFailed wraps every failed login attempt.
var ErrLoginFailed = errors.New("discord login failed")

// API is the subset of the Discord REST client used here. *discordgo.Session implements it.
type API interface {
	User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error)
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessage(channelID, messageID string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Options configures a Client.
type Options struct {
	Channels           []string
	Timeout            time.Duration // REST and attachment download timeout
	LoginBackoff       time.Duration
	BackoffCoefficient float64
	MaxLoginBackoff    time.Duration
}

// Client posts chunks as message attachments and downloads them back.
type Client struct {
	api    API
	http   *http.Client
	opts   Options
	mu     sync.RWMutex
	guilds map[string]string // channel id -> guild id
}

var _ chunk.Transport = (*Client)(nil)

// New creates a Client authenticated with a bot token.
func New(token string, opts Options) (*Client, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	httpClient := &http.Client{Timeout: opts.Timeout}
	s.Client = httpClient
	return NewWithAPI(s, httpClient, opts), nil
}

// NewWithAPI creates a Client over an existing API implementation.
func NewWithAPI(api API, httpClient *http.Client, opts Options) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if opts.LoginBackoff <= 0 {
		opts.LoginBackoff = time.Second
	}
	if opts.MaxLoginBackoff <= 0 {
		opts.MaxLoginBackoff = time.Minute
	}
	return &Client{api: api, http: httpClient, opts: opts, guilds: make(map[string]string)}
}

// Login verifies the credential and prefetches every configured channel.
// It retries without limit using exponential backoff until it succeeds or
// ctx is cancelled.
func (c *Client) Login(ctx context.Context) error {
	cfg := retry.Forever(c.opts.LoginBackoff, c.opts.BackoffCoefficient, c.opts.MaxLoginBackoff)
	cfg.OnRetry = func(attempt int, wait time.Duration, err error) {
		logging.Warn("login failed, retrying",
			logging.Int("attempt", attempt),
			logging.Duration("wait", wait),
			logging.Err(err))
	}

	return retry.Do(ctx, cfg, func() error {
		err := c.login(ctx)
		metrics.RecordLoginAttempt(err == nil)
		if err != nil {
			return retry.Retryable(fmt.Errorf("%w: %v", ErrLoginFailed, err))
		}
		return nil
	})
}

func (c *Client) login(ctx context.Context) error {
	user, err := c.api.User("@me", discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("identify: %w", err)
	}

	guilds := make(map[string]string, len(c.opts.Channels))
	for _, id := range c.opts.Channels {
		ch, err := c.api.Channel(id, discordgo.WithContext(ctx))
		if err != nil {
			return fmt.Errorf("fetch channel %s: %w", id, err)
		}
		guilds[id] = ch.GuildID
	}

	c.mu.Lock()
	c.guilds = guilds
	c.mu.Unlock()

	logging.Info("logged in",
		logging.String("user", user.Username),
		logging.Int("channels", len(guilds)))
	return nil
}

// Send posts data as a single attachment to channelID.
func (c *Client) Send(ctx context.Context, channelID, name string, data []byte) (chunk.Reference, error) {
	msg, err := c.api.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Files: []*discordgo.File{{
			Name:        name,
			ContentType: "application/octet-stream",
			Reader:      bytes.NewReader(data),
		}},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return chunk.Reference{}, err
	}

	guildID, err := c.guild(ctx, channelID, msg.GuildID)
	if err != nil {
		return chunk.Reference{}, err
	}
	return chunk.Reference{GuildID: guildID, ChannelID: channelID, MessageID: msg.ID}, nil
}

// guild resolves the guild of a channel, preferring the prefetched value.
func (c *Client) guild(ctx context.Context, channelID, hint string) (string, error) {
	c.mu.RLock()
	id, ok := c.guilds[channelID]
	c.mu.RUnlock()
	if ok {
		return id, nil
	}
	if hint != "" {
		return hint, nil
	}

	ch, err := c.api.Channel(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("resolve guild of channel %s: %w", channelID, err)
	}
	c.mu.Lock()
	c.guilds[channelID] = ch.GuildID
	c.mu.Unlock()
	return ch.GuildID, nil
}

// Fetch downloads the first attachment of the referenced message.
func (c *Client) Fetch(ctx context.Context, ref chunk.Reference) (*chunk.Attachment, error) {
	msg, err := c.api.ChannelMessage(ref.ChannelID, ref.MessageID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("fetch message %s: %w", ref.MessageID, err)
	}
	if len(msg.Attachments) == 0 || msg.Attachments[0] == nil {
		return nil, chunk.ErrMissingAttachment
	}
	att := msg.Attachments[0]

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, att.URL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download attachment: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download attachment: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read attachment: %w", err)
	}
	return &chunk.Attachment{Name: att.Filename, Data: data}, nil
}
