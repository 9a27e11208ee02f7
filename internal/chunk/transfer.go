// Package chunk splits files into chunks, posts them to a message transport
// and reassembles them from their ordered address lists.
package chunk

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/maazmalik2004/Dspace/internal/channelpool"
	"github.com/maazmalik2004/Dspace/internal/logging"
	"github.com/maazmalik2004/Dspace/internal/metrics"
	"github.com/maazmalik2004/Dspace/pkg/retry"
)

// Attachment is the payload of a posted chunk message.
type Attachment struct {
	Name string
	Data []byte
}

// Transport posts and fetches chunk attachments.
type Transport interface {
	// Send posts data as an attachment named name to channelID.
	Send(ctx context.Context, channelID, name string, data []byte) (Reference, error)
	// Fetch returns the first attachment of the referenced message.
	Fetch(ctx context.Context, ref Reference) (*Attachment, error)
}

// Options configures a Transfer.
type Options struct {
	Host        string        // host embedded in addresses
	ChunkSize   int64         // size of each piece of a split file
	MaxAtomic   int64         // files below this size are posted whole
	Attempts    int           // upload attempts per chunk
	Backoff     time.Duration // fixed delay between upload attempts
	Timeout     time.Duration // bounds one chunk transfer including retries (0 = none)
	Concurrency int           // concurrent chunk transfers per file
}

// Transfer uploads and downloads chunked files.
type Transfer struct {
	transport Transport
	pool      *channelpool.Pool
	opts      Options
	now       func() time.Time
}

// NewTransfer returns a Transfer posting to channels drawn from pool.
func NewTransfer(transport Transport, pool *channelpool.Pool, opts Options) (*Transfer, error) {
	if opts.ChunkSize <= 0 || opts.ChunkSize >= opts.MaxAtomic {
		return nil, fmt.Errorf("chunk: chunk size %d must be positive and below max atomic %d", opts.ChunkSize, opts.MaxAtomic)
	}
	if opts.Attempts < 1 {
		opts.Attempts = 1
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.Host == "" {
		opts.Host = "discord.com"
	}
	return &Transfer{transport: transport, pool: pool, opts: opts, now: time.Now}, nil
}

// Upload posts one chunk and returns its address. Each attempt takes the next
// channel from the pool. The whole retry loop is bounded by Options.Timeout.
func (t *Transfer) Upload(ctx context.Context, name string, data []byte) (string, error) {
	if t.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	attempts := 0
	cfg := retry.Fixed(t.opts.Attempts, t.opts.Backoff)
	cfg.OnRetry = func(attempt int, wait time.Duration, err error) {
		metrics.RecordChunkRetry()
		logging.Warn("chunk upload failed, retrying",
			logging.Chunk(name),
			logging.Int("attempt", attempt),
			logging.Duration("wait", wait),
			logging.Err(err))
	}

	address, err := retry.DoWithResult(ctx, cfg, func() (string, error) {
		attempts++
		channelID := t.pool.Next()
		ref, err := t.transport.Send(ctx, channelID, name, data)
		if err != nil {
			logging.Debug("chunk send failed", logging.Chunk(name), logging.Channel(channelID), logging.Err(err))
			return "", retry.Retryable(fmt.Errorf("channel %s: %w", channelID, err))
		}
		return FormatAddress(t.opts.Host, ref), nil
	})
	if err != nil {
		metrics.RecordChunkUpload(len(data), time.Since(start), false)
		return "", &ChunkUploadError{Name: name, Attempts: attempts, Err: retry.Unwrap(err)}
	}

	metrics.RecordChunkUpload(len(data), time.Since(start), true)
	logging.Debug("chunk uploaded",
		logging.Chunk(name),
		logging.Address(address),
		logging.Int("bytes", len(data)))
	return address, nil
}

// UploadFile splits data per the split policy and uploads every piece
// concurrently. The returned addresses are in piece order regardless of
// completion order. Any chunk failure cancels the rest and fails the file.
func (t *Transfer) UploadFile(ctx context.Context, filename string, data []byte) ([]string, error) {
	label := Label(t.now())
	pieces := Split(data, label, FileExtension(filename), t.opts.ChunkSize, t.opts.MaxAtomic)
	addresses := make([]string, len(pieces))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.opts.Concurrency)
	for i, p := range pieces {
		g.Go(func() error {
			address, err := t.Upload(gctx, p.Name, p.Data)
			if err != nil {
				return err
			}
			addresses[i] = address
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("upload %s: %w", filename, err)
	}

	logging.Info("file uploaded",
		logging.String("file", filename),
		logging.Int("chunks", len(pieces)),
		logging.Int("bytes", len(data)))
	return addresses, nil
}

// DownloadChunks fetches the attachment behind every address. The result is
// ordered like addresses. Every address is validated before any fetch starts.
func (t *Transfer) DownloadChunks(ctx context.Context, addresses []string) ([]*Attachment, error) {
	refs := make([]Reference, len(addresses))
	for i, address := range addresses {
		ref, err := ParseAddress(address)
		if err != nil {
			return nil, &ChunkDownloadError{Address: address, Err: err}
		}
		refs[i] = ref
	}

	pieces := make([]*Attachment, len(addresses))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.opts.Concurrency)
	for i, ref := range refs {
		g.Go(func() error {
			a, err := t.fetch(gctx, ref)
			if err != nil {
				return &ChunkDownloadError{Address: addresses[i], Err: err}
			}
			pieces[i] = a
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return pieces, nil
}

func (t *Transfer) fetch(ctx context.Context, ref Reference) (*Attachment, error) {
	if t.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	a, err := t.transport.Fetch(ctx, ref)
	if err == nil && a == nil {
		err = ErrMissingAttachment
	}
	if err != nil {
		metrics.RecordChunkDownload(0, time.Since(start), false)
		return nil, err
	}
	metrics.RecordChunkDownload(len(a.Data), time.Since(start), true)
	return a, nil
}

// Reassemble concatenates pieces in order.
func Reassemble(pieces []*Attachment) []byte {
	size := 0
	for _, p := range pieces {
		size += len(p.Data)
	}
	var buf bytes.Buffer
	buf.Grow(size)
	for _, p := range pieces {
		buf.Write(p.Data)
	}
	return buf.Bytes()
}
