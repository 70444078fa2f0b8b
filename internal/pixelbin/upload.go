package pixelbin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/fpang/erasebg-relay/internal/retry"
)

// Upload defaults.
const (
	DefaultChunkSize   = 2 << 20
	DefaultConcurrency = 2
	DefaultMaxRetries  = 1

	chunkBackoff = 250 * time.Millisecond
)

// UploadOptions tunes a chunked upload.
type UploadOptions struct {
	ChunkSize   int
	Concurrency int
	// MaxRetries is the per-chunk retry budget; each chunk is tried at most
	// MaxRetries+1 times.
	MaxRetries int
	FileName   string
	Clock      clockwork.Clock
}

func (o UploadOptions) withDefaults() UploadOptions {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.FileName == "" {
		o.FileName = "blob"
	}
	return o
}

// ChunkCount returns how many parts size bytes split into.
func ChunkCount(size, chunkSize int) int {
	if size <= 0 {
		return 1
	}
	return (size + chunkSize - 1) / chunkSize
}

// Classify marks client errors other than timeouts and rate limits as
// permanent. Everything else, including transport failures, is retried.
func Classify(err error) retry.Action {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return retry.After
		case apiErr.Temporary():
			return retry.Retry
		default:
			return retry.Stop
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return retry.Stop
	}
	return retry.Retry
}

// Upload sends data to target in chunks, at most opts.Concurrency at a time,
// then asks the target to assemble the parts. Any chunk failing past its
// retry budget fails the whole upload.
func (c *Client) Upload(ctx context.Context, data []byte, target PresignedURL, opts UploadOptions) error {
	opts = opts.withDefaults()
	parts := ChunkCount(len(data), opts.ChunkSize)
	start := time.Now()

	log.Debug().
		Int("bytes", len(data)).
		Int("parts", parts).
		Int("concurrency", opts.Concurrency).
		Msg("Starting chunked upload")

	policy := retry.Policy{
		MaxAttempts:    opts.MaxRetries + 1,
		InitialBackoff: chunkBackoff,
		Clock:          opts.Clock,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for i := 0; i < parts; i++ {
		partNumber := i + 1
		lo := i * opts.ChunkSize
		hi := min(lo+opts.ChunkSize, len(data))
		chunk := data[lo:hi]

		g.Go(func() error {
			err := retry.DoVoid(gctx, policy, Classify, func(attempt int) error {
				if attempt > 1 {
					log.Warn().Int("part", partNumber).Int("attempt", attempt).Msg("Retrying chunk")
				}
				return c.uploadChunk(gctx, target, partNumber, chunk, opts.FileName)
			})
			if err != nil {
				return fmt.Errorf("part %d: %w", partNumber, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("upload chunks: %w", err)
	}

	if err := c.completeUpload(ctx, target, parts); err != nil {
		return fmt.Errorf("complete upload: %w", err)
	}

	log.Info().
		Int("bytes", len(data)).
		Int("parts", parts).
		Dur("duration", time.Since(start)).
		Msg("Upload complete")
	return nil
}

func (c *Client) uploadChunk(ctx context.Context, target PresignedURL, partNumber int, chunk []byte, fileName string) error {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	keys := make([]string, 0, len(target.Fields))
	for k := range target.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := w.WriteField(k, target.Fields[k]); err != nil {
			return fmt.Errorf("write field %s: %w", k, err)
		}
	}

	fw, err := w.CreateFormFile("file", fileName)
	if err != nil {
		return fmt.Errorf("create file part: %w", err)
	}
	if _, err := fw.Write(chunk); err != nil {
		return fmt.Errorf("write file part: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close multipart body: %w", err)
	}

	u, err := url.Parse(target.URL)
	if err != nil {
		return fmt.Errorf("parse upload url: %w", err)
	}
	q := u.Query()
	q.Set("partNumber", strconv.Itoa(partNumber))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u.String(), &body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	return c.send(req, "upload part "+strconv.Itoa(partNumber), nil)
}

func (c *Client) completeUpload(ctx context.Context, target PresignedURL, parts int) error {
	payload := make(map[string]any, len(target.Fields)+1)
	for k, v := range target.Fields {
		payload[k] = v
	}
	numbers := make([]int, parts)
	for i := range numbers {
		numbers[i] = i + 1
	}
	payload["parts"] = numbers

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode completion: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.URL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.send(req, "upload complete", nil)
}
