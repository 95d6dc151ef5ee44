// Package media keeps finalized audio artifacts in process memory and serves them to players.
//
// Store implements capture.Encoder: buffered chunks become one blob addressed by an opaque
// source reference. Nothing here outlives the process.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"campus/cmd/identity/ids"
	"campus/cmd/internal/capture"
)

const (
	// RefPrefix marks source references issued by this store.
	RefPrefix = "blob:"

	// DefaultMIMEType is the container browsers produce from MediaRecorder by default.
	DefaultMIMEType = "audio/webm"
)

var (
	ErrNotFound = errors.New("media: not found")
	ErrTooLarge = errors.New("media: artifact too large")
)

// Blob is a stored artifact.
type Blob struct {
	Ref             string
	MIMEType        string
	DurationSeconds int
	CreatedAt       time.Time
	// Digest is the SHA-256 hex of the body; artifacts are immutable so it doubles as the ETag.
	Digest          string
	data            []byte
}

// Size returns the artifact length in bytes.
func (b Blob) Size() int { return len(b.data) }

// Reader returns a fresh seekable reader over the artifact bytes.
func (b Blob) Reader() *bytes.Reader { return bytes.NewReader(b.data) }

type Options struct {
	// MaxBytes caps a single artifact (0 = unbounded).
	MaxBytes int64
	// MIMEType recorded for new artifacts; defaults to DefaultMIMEType.
	MIMEType string
	Now      func() time.Time
	Logger   *slog.Logger
}

// Store is a concurrency-safe, process-local artifact store.
type Store struct {
	log      *slog.Logger
	ids      *ids.Generator
	now      func() time.Time
	maxBytes int64
	mimeType string

	mu    sync.RWMutex
	blobs map[string]Blob
}

var _ capture.Encoder = (*Store)(nil)

func NewStore(opts Options) *Store {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if strings.TrimSpace(opts.MIMEType) == "" {
		opts.MIMEType = DefaultMIMEType
	}
	return &Store{
		log:      opts.Logger,
		ids:      ids.NewGenerator(),
		now:      opts.Now,
		maxBytes: opts.MaxBytes,
		mimeType: opts.MIMEType,
		blobs:    make(map[string]Blob),
	}
}

// Encode concatenates the captured chunks into one artifact and returns its reference.
func (s *Store) Encode(ctx context.Context, in capture.EncodeInput) (capture.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return capture.Artifact{}, err
	}

	var total int64
	for _, c := range in.Chunks {
		total += int64(len(c))
	}
	if s.maxBytes > 0 && total > s.maxBytes {
		return capture.Artifact{}, fmt.Errorf("%w: %d bytes (max %d)", ErrTooLarge, total, s.maxBytes)
	}

	data := make([]byte, 0, total)
	for _, c := range in.Chunks {
		data = append(data, c...)
	}

	now := s.now()
	id, err := s.ids.New(now)
	if err != nil {
		return capture.Artifact{}, fmt.Errorf("media: allocate ref: %w", err)
	}
	ref := RefPrefix + id

	b := Blob{
		Ref:             ref,
		MIMEType:        s.mimeType,
		DurationSeconds: in.DurationSeconds,
		CreatedAt:       now,
		Digest:          digestHex(data),
		data:            data,
	}

	s.mu.Lock()
	s.blobs[ref] = b
	s.mu.Unlock()

	s.log.Info("media.store", "source_ref", ref, "capture_id", in.CaptureID, "bytes", len(data), "chunks", len(in.Chunks), "digest", b.Digest[:12])

	return capture.Artifact{
		SourceRef:       ref,
		DurationSeconds: in.DurationSeconds,
		Bytes:           len(data),
		MIMEType:        s.mimeType,
	}, nil
}

// Open returns the artifact stored under ref.
func (s *Store) Open(ref string) (Blob, error) {
	s.mu.RLock()
	b, ok := s.blobs[ref]
	s.mu.RUnlock()
	if !ok {
		return Blob{}, ErrNotFound
	}
	return b, nil
}

// Len reports how many artifacts are held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
