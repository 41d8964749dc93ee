package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

const MaxMediaSize = 10 << 20

var (
	ErrTooLarge    = errors.New("storage: file exceeds size limit")
	ErrUnsupported = errors.New("storage: unsupported media type")
)

var allowedMedia = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

// Upload is what Media.Save stored.
type Upload struct {
	Key         string `json:"key"`
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// Media sniffs, names and stores image uploads.
type Media struct {
	blobs   BlobStore
	maxSize int64
	baseURL string
	now     func() time.Time
}

type MediaOption func(*Media)

// WithBaseURL makes upload URLs absolute, e.g. https://psy.example/media/...
func WithBaseURL(u string) MediaOption {
	return func(m *Media) { m.baseURL = strings.TrimSuffix(u, "/") }
}

func NewMedia(blobs BlobStore, opts ...MediaOption) *Media {
	m := &Media{blobs: blobs, maxSize: MaxMediaSize, now: time.Now}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Save reads at most the size limit from r and stores it under
// media/<yyyy>/<mm>/<uuid><ext>. The extension follows the sniffed type,
// never the client supplied filename.
func (m *Media) Save(ctx context.Context, r io.Reader) (Upload, error) {
	body, err := io.ReadAll(io.LimitReader(r, m.maxSize+1))
	if err != nil {
		return Upload{}, err
	}
	if int64(len(body)) > m.maxSize {
		return Upload{}, ErrTooLarge
	}
	ct, _, _ := strings.Cut(mimetype.Detect(body).String(), ";")
	ext, ok := allowedMedia[ct]
	if !ok {
		return Upload{}, fmt.Errorf("%w: %s", ErrUnsupported, ct)
	}
	now := m.now().UTC()
	key := fmt.Sprintf("media/%04d/%02d/%s%s", now.Year(), int(now.Month()), uuid.NewString(), ext)
	if err := m.blobs.Put(ctx, key, bytes.NewReader(body)); err != nil {
		return Upload{}, err
	}
	return Upload{Key: key, URL: m.baseURL + "/media/" + key, ContentType: ct, Size: int64(len(body))}, nil
}

// Open returns the blob at key and its sniffed content type.
func (m *Media) Open(ctx context.Context, key string) (io.ReadCloser, string, error) {
	if !ValidKey(key) {
		return nil, "", ErrNotFound
	}
	rc, err := m.blobs.Get(ctx, key)
	if err != nil {
		return nil, "", err
	}
	head := make([]byte, 3072)
	n, err := io.ReadFull(rc, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		rc.Close()
		return nil, "", err
	}
	head = head[:n]
	ct := mimetype.Detect(head).String()
	return readCloser{io.MultiReader(bytes.NewReader(head), rc), rc}, ct, nil
}

// Delete removes an uploaded blob. Keys outside media/ are reported missing.
func (m *Media) Delete(ctx context.Context, key string) error {
	if !ValidKey(key) || !strings.HasPrefix(key, "media/") {
		return ErrNotFound
	}
	return m.blobs.Delete(ctx, key)
}

type readCloser struct {
	io.Reader
	io.Closer
}
