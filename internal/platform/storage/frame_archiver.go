package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/oklog/ulid/v2"

	"github.com/Francovarelav/pickpackpromx/internal/services"
)

// objectOpener returns a writer for a new object. The object is committed on Close.
type objectOpener func(ctx context.Context, bucket, object string, attrs ObjectAttrs) io.WriteCloser

// ObjectAttrs is the metadata written alongside an archived frame.
type ObjectAttrs struct {
	ContentType string
	Metadata    map[string]string
}

// FrameArchiver writes detection frames to a Cloud Storage bucket.
type FrameArchiver struct {
	bucket string
	prefix string
	open   objectOpener
	clock  func() time.Time
	newID  func() string
}

var _ services.FrameArchiver = (*FrameArchiver)(nil)

// FrameArchiverOption customises archiver behaviour.
type FrameArchiverOption func(*FrameArchiver)

// WithFramePrefix places archived frames under the given prefix.
func WithFramePrefix(prefix string) FrameArchiverOption {
	return func(a *FrameArchiver) {
		a.prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	}
}

// WithFrameClock injects a custom clock.
func WithFrameClock(clock func() time.Time) FrameArchiverOption {
	return func(a *FrameArchiver) {
		if clock != nil {
			a.clock = clock
		}
	}
}

// WithFrameIDGenerator overrides the object name suffix generator.
func WithFrameIDGenerator(fn func() string) FrameArchiverOption {
	return func(a *FrameArchiver) {
		if fn != nil {
			a.newID = fn
		}
	}
}

func withObjectOpener(open objectOpener) FrameArchiverOption {
	return func(a *FrameArchiver) {
		if open != nil {
			a.open = open
		}
	}
}

// NewFrameArchiver constructs an archiver backed by the provided Cloud Storage client.
func NewFrameArchiver(client *gcs.Client, bucket string, opts ...FrameArchiverOption) (*FrameArchiver, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("storage frame archiver: bucket is required")
	}

	archiver := &FrameArchiver{
		bucket: bucket,
		clock:  time.Now,
		newID:  func() string { return ulid.Make().String() },
	}
	if client != nil {
		archiver.open = func(ctx context.Context, bucket, object string, attrs ObjectAttrs) io.WriteCloser {
			w := client.Bucket(bucket).Object(object).NewWriter(ctx)
			w.ContentType = attrs.ContentType
			w.Metadata = attrs.Metadata
			return w
		}
	}
	for _, opt := range opts {
		if opt != nil {
			opt(archiver)
		}
	}
	if archiver.open == nil {
		return nil, errors.New("storage frame archiver: client is required")
	}
	return archiver, nil
}

// ArchiveFrame uploads the frame and returns its gs:// URI.
func (a *FrameArchiver) ArchiveFrame(ctx context.Context, cartID, sessionID string, frame services.Frame) (string, error) {
	if a == nil || a.open == nil {
		return "", errors.New("storage frame archiver: not initialised")
	}
	if len(frame.Data) == 0 {
		return "", errors.New("storage frame archiver: frame data is required")
	}

	capturedAt := frame.CapturedAt
	if capturedAt.IsZero() {
		capturedAt = a.clock()
	}
	capturedAt = capturedAt.UTC()

	contentType := strings.TrimSpace(frame.ContentType)
	if contentType == "" {
		contentType = "image/jpeg"
	}

	fileName := fmt.Sprintf("%s-%s%s", capturedAt.Format("20060102T150405.000Z"), a.newID(), extensionFor(contentType))
	object, err := FrameKey{Prefix: a.prefix, CartID: cartID, SessionID: sessionID, FileName: fileName}.ObjectName()
	if err != nil {
		return "", err
	}

	metadata := map[string]string{
		"cartId":     strings.TrimSpace(cartID),
		"sessionId":  strings.TrimSpace(sessionID),
		"capturedAt": capturedAt.Format(time.RFC3339Nano),
	}
	if weight, ok := frame.ScaleWeightGrams.Get(); ok {
		metadata["scaleWeightGrams"] = fmt.Sprintf("%.1f", weight)
	}

	w := a.open(ctx, a.bucket, object, ObjectAttrs{ContentType: contentType, Metadata: metadata})
	if _, err := w.Write(frame.Data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("storage frame archiver: write %s: %w", object, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("storage frame archiver: commit %s: %w", object, err)
	}
	return fmt.Sprintf("gs://%s/%s", a.bucket, object), nil
}

func extensionFor(contentType string) string {
	switch strings.ToLower(contentType) {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	default:
		return ".bin"
	}
}
