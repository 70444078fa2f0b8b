// Package transfer moves one image to the remote service and turns it into
// a background-removed delivery URL: acquire a signed upload target, upload
// it in chunks under a bounded retry policy, then build the transformation
// URL from the form parameters.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fpang/erasebg-relay/internal/metrics"
	"github.com/fpang/erasebg-relay/internal/options"
	"github.com/fpang/erasebg-relay/internal/pixelbin"
	"github.com/fpang/erasebg-relay/internal/retry"
)

// Upload target defaults.
const (
	DefaultPath   = "figma/ebg"
	DefaultFormat = "jpeg"
	DefaultAccess = "public-read"
)

// DefaultPolicy is the outer upload retry policy.
var DefaultPolicy = retry.Policy{
	MaxAttempts:    5,
	InitialBackoff: 500 * time.Millisecond,
	MaxBackoff:     8 * time.Second,
}

// Remote is the part of the service client the engine drives.
type Remote interface {
	CreateSignedURLV2(ctx context.Context, req pixelbin.SignedURLRequest) (*pixelbin.PresignedURL, error)
	Upload(ctx context.Context, data []byte, target pixelbin.PresignedURL, opts pixelbin.UploadOptions) error
}

// Dialer returns a Remote authenticated with token.
type Dialer func(token string) Remote

type Config struct {
	Path   string
	Format string
	Access string
	Tags   []string

	CDN  string
	Zone string

	Upload pixelbin.UploadOptions
	// Policy is the outer upload retry policy; nil means DefaultPolicy.
	Policy *retry.Policy
}

// Request is everything one transform needs.
type Request struct {
	RequestID  string
	Token      string
	CloudName  string
	ImageName  string
	ImageBytes []byte
	Params     []options.Param
}

// Engine runs transfer jobs. It holds no per-job state and is safe for
// concurrent use.
type Engine struct {
	dial    Dialer
	cfg     Config
	observe func(Job)
	newName func(base string) string
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithObserver registers fn to receive a copy of the job after every state
// change. fn runs on the job's goroutine.
func WithObserver(fn func(Job)) EngineOption {
	return func(e *Engine) { e.observe = fn }
}

// WithNameGenerator replaces the unique upload name generator.
func WithNameGenerator(fn func(base string) string) EngineOption {
	return func(e *Engine) { e.newName = fn }
}

// NewEngine validates cfg and returns an Engine. A policy with
// MaxAttempts < 1 is rejected.
func NewEngine(dial Dialer, cfg Config, opts ...EngineOption) (*Engine, error) {
	if dial == nil {
		return nil, errors.New("transfer: dialer is required")
	}
	policy := DefaultPolicy
	if cfg.Policy != nil {
		policy = *cfg.Policy
	}
	cfg.Policy = &policy
	if err := cfg.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("transfer: %w", err)
	}
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	if cfg.Format == "" {
		cfg.Format = DefaultFormat
	}
	if cfg.Access == "" {
		cfg.Access = DefaultAccess
	}

	e := &Engine{dial: dial, cfg: cfg, newName: UniqueName}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// UniqueName strips spaces from base and appends a random UUID.
func UniqueName(base string) string {
	return strings.ReplaceAll(base, " ", "") + uuid.NewString()
}

func (e *Engine) transition(job *Job, s State) {
	job.State = s
	log.Debug().
		Str("requestId", job.RequestID).
		Str("state", s.String()).
		Int("attempt", job.Attempts).
		Msg("Transfer state changed")
	if e.observe != nil {
		e.observe(*job)
	}
}

// Run acquires a target, uploads req.ImageBytes and returns the delivery
// URL. Errors are *AcquireError or *UploadError, or wrap ctx.Err().
func (e *Engine) Run(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	job := &Job{
		RequestID:  req.RequestID,
		TargetName: e.newName(req.ImageName),
		Size:       len(req.ImageBytes),
	}
	e.transition(job, StateRequested)

	res, err := e.run(ctx, job, req)

	outcome := "completed"
	if err != nil {
		job.Err = err
		e.transition(job, StateAbandoned)
		outcome = "abandoned"
		var acqErr *AcquireError
		if errors.As(err, &acqErr) {
			outcome = "acquire_failed"
		}
	}

	metrics.New(metrics.Namespace).
		Dimension("Outcome", outcome).
		Metric("TransferMs", float64(time.Since(start).Milliseconds()), metrics.UnitMilliseconds).
		Metric("TransferAttempts", float64(job.Attempts), metrics.UnitCount).
		Metric("TransferBytes", float64(job.Size), metrics.UnitBytes).
		Property("requestId", job.RequestID).
		Flush()

	return res, err
}

func (e *Engine) run(ctx context.Context, job *Job, req Request) (*Result, error) {
	remote := e.dial(req.Token)

	target, err := remote.CreateSignedURLV2(ctx, pixelbin.SignedURLRequest{
		Path:             e.cfg.Path,
		Name:             job.TargetName,
		Format:           e.cfg.Format,
		Access:           e.cfg.Access,
		Tags:             e.cfg.Tags,
		Metadata:         assetMetadata(req.ImageBytes),
		Overwrite:        false,
		FilenameOverride: false,
	})
	if err != nil {
		log.Error().Err(err).Str("requestId", job.RequestID).Msg("Failed to acquire upload target")
		return nil, &AcquireError{RequestID: job.RequestID, Err: err}
	}
	job.Target = target

	asset, err := target.Asset()
	if err != nil {
		log.Error().Err(err).Str("requestId", job.RequestID).Msg("Upload target has no usable asset data")
		return nil, &AcquireError{RequestID: job.RequestID, Err: err}
	}
	job.FileID = asset.FileID

	policy := *e.cfg.Policy
	onRetry := policy.OnRetry
	policy.OnRetry = func(attempt int, err error, backoff time.Duration) {
		log.Warn().
			Err(err).
			Str("requestId", job.RequestID).
			Int("attempt", attempt).
			Dur("backoff", backoff).
			Msg("Upload failed, retrying")
		e.transition(job, StateRetrying)
		if onRetry != nil {
			onRetry(attempt, err, backoff)
		}
	}

	uploadOpts := e.cfg.Upload
	if uploadOpts.FileName == "" {
		uploadOpts.FileName = job.TargetName + "." + e.cfg.Format
	}

	err = retry.DoVoid(ctx, policy, pixelbin.Classify, func(attempt int) error {
		job.Attempts = attempt
		e.transition(job, StateUploading)
		return remote.Upload(ctx, req.ImageBytes, *target, uploadOpts)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("transfer %s cancelled: %w", job.RequestID, ctx.Err())
		}
		log.Error().Err(err).Str("requestId", job.RequestID).Int("attempts", job.Attempts).Msg("Upload abandoned")
		return nil, &UploadError{RequestID: job.RequestID, Attempts: job.Attempts, Err: err}
	}
	e.transition(job, StateSucceeded)

	builder := pixelbin.URLBuilder{CDN: e.cfg.CDN, CloudName: req.CloudName, Zone: e.cfg.Zone}
	job.URL = builder.ImageURL(asset.FileID, EraseBgTransformation(req.Params))
	e.transition(job, StateCompleted)

	log.Info().
		Str("requestId", job.RequestID).
		Str("fileId", asset.FileID).
		Int("attempts", job.Attempts).
		Msg("Transfer completed")

	return &Result{URL: job.URL, FileID: asset.FileID, Attempts: job.Attempts}, nil
}

// EraseBgTransformation maps form parameters onto the erase.bg transformation.
func EraseBgTransformation(params []options.Param) pixelbin.Transformation {
	out := make([]pixelbin.Param, len(params))
	for i, p := range params {
		out[i] = pixelbin.Param{Key: p.Key, Value: p.Value}
	}
	return pixelbin.EraseBg(out...)
}
