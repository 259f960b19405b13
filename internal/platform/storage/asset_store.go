package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	gcs "cloud.google.com/go/storage"
	"github.com/oklog/ulid/v2"

	"github.com/hanko-field/marketplace/internal/services"
)

const (
	defaultMaxUploadSize = 5 << 20
	assetCacheControl    = "public, max-age=31536000, immutable"
)

var (
	errInvalidBucket      = errors.New("storage: bucket name is required")
	errContentTypeMissing = errors.New("storage: content type is required for uploads")
	// ErrContentTypeDenied is returned for uploads outside the allowed content types.
	ErrContentTypeDenied = errors.New("storage: content type not allowed")
	// ErrUploadTooLarge is returned when the upload exceeds the configured size limit.
	ErrUploadTooLarge = errors.New("storage: upload exceeds size limit")
)

var defaultImageContentTypes = []string{"image/png", "image/jpeg", "image/webp", "image/gif"}

// Uploader writes a single object. The Cloud Storage implementation streams into an object writer.
type Uploader interface {
	Upload(ctx context.Context, bucket, object, contentType string, body io.Reader) error
}

// AssetStoreConfig controls where and how order assets are written.
type AssetStoreConfig struct {
	Bucket              string
	PublicBaseURL       string
	AllowedContentTypes []string
	MaxSize             int64
}

// AssetStore persists order item images to Cloud Storage and returns their public URL.
type AssetStore struct {
	uploader    Uploader
	bucket      string
	baseURL     string
	allowed     []string
	maxSize     int64
	newUploadID func() string
}

// AssetStoreOption customises the asset store.
type AssetStoreOption func(*AssetStore)

// WithUploadIDGenerator overrides the per-upload id used to keep object names unique.
func WithUploadIDGenerator(fn func() string) AssetStoreOption {
	return func(s *AssetStore) {
		if fn != nil {
			s.newUploadID = fn
		}
	}
}

// NewAssetStore constructs an asset store on top of the given uploader.
func NewAssetStore(uploader Uploader, cfg AssetStoreConfig, opts ...AssetStoreOption) (*AssetStore, error) {
	if uploader == nil {
		return nil, errors.New("storage: uploader is required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, errInvalidBucket
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/")
	if base == "" {
		base = "https://storage.googleapis.com/" + bucket
	}
	allowed := cfg.AllowedContentTypes
	if len(allowed) == 0 {
		allowed = defaultImageContentTypes
	}
	maxSize := cfg.MaxSize
	if maxSize <= 0 {
		maxSize = defaultMaxUploadSize
	}

	store := &AssetStore{
		uploader: uploader,
		bucket:   bucket,
		baseURL:  base,
		allowed:  allowed,
		maxSize:  maxSize,
		newUploadID: func() string {
			return ulid.Make().String()
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store, nil
}

// StoreOrderItemImage implements services.AssetStore.
func (s *AssetStore) StoreOrderItemImage(ctx context.Context, orderID, itemID string, upload services.ImageUpload) (string, error) {
	contentType := strings.TrimSpace(upload.ContentType)
	if contentType == "" {
		return "", errContentTypeMissing
	}
	if !contentTypeAllowed(contentType, s.allowed) {
		return "", fmt.Errorf("%w: %s", ErrContentTypeDenied, contentType)
	}
	if upload.Size > s.maxSize {
		return "", fmt.Errorf("%w: %d bytes", ErrUploadTooLarge, upload.Size)
	}
	if upload.Content == nil {
		return "", errors.New("storage: upload content is required")
	}

	object, err := OrderItemImageObject(orderID, itemID, s.newUploadID(), upload.FileName)
	if err != nil {
		return "", err
	}

	body := &limitedReader{r: upload.Content, remaining: s.maxSize}
	if err := s.uploader.Upload(ctx, s.bucket, object, contentType, body); err != nil {
		if body.exceeded {
			return "", fmt.Errorf("%w: more than %d bytes", ErrUploadTooLarge, s.maxSize)
		}
		return "", fmt.Errorf("storage: upload %s: %w", object, err)
	}
	return s.baseURL + "/" + escapeObjectPath(object), nil
}

// limitedReader fails the read once more than remaining bytes have been consumed, so a writer
// aborts instead of silently truncating.
type limitedReader struct {
	r         io.Reader
	remaining int64
	exceeded  bool
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if int64(len(p)) > l.remaining+1 {
		p = p[:l.remaining+1]
	}
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		l.exceeded = true
		return 0, ErrUploadTooLarge
	}
	return n, err
}

func escapeObjectPath(object string) string {
	segments := strings.Split(object, "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return strings.Join(segments, "/")
}

func contentTypeAllowed(contentType string, allowed []string) bool {
	normalized := strings.ToLower(strings.TrimSpace(contentType))
	if idx := strings.Index(normalized, ";"); idx >= 0 {
		normalized = strings.TrimSpace(normalized[:idx])
	}
	for _, candidate := range allowed {
		candidate = strings.ToLower(strings.TrimSpace(candidate))
		if candidate == "" {
			continue
		}
		if candidate == "*" {
			return true
		}
		if strings.HasSuffix(candidate, "/*") {
			if strings.HasPrefix(normalized, strings.TrimSuffix(candidate, "*")) {
				return true
			}
			continue
		}
		if normalized == candidate {
			return true
		}
	}
	return false
}

// GCSUploader writes objects through a Cloud Storage client.
type GCSUploader struct {
	client *gcs.Client
}

// NewGCSUploader constructs an uploader backed by the provided Cloud Storage client.
func NewGCSUploader(client *gcs.Client) (*GCSUploader, error) {
	if client == nil {
		return nil, errors.New("storage uploader: client is required")
	}
	return &GCSUploader{client: client}, nil
}

// Upload streams body into bucket/object. A failed copy cancels the write so no partial object is
// finalised.
func (u *GCSUploader) Upload(ctx context.Context, bucket, object, contentType string, body io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := u.client.Bucket(bucket).Object(object).NewWriter(ctx)
	w.ContentType = contentType
	w.CacheControl = assetCacheControl
	if _, err := io.Copy(w, body); err != nil {
		cancel()
		_ = w.Close()
		return err
	}
	return w.Close()
}

var (
	_ services.AssetStore = (*AssetStore)(nil)
	_ Uploader            = (*GCSUploader)(nil)
)
