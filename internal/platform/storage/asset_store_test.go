package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/hanko-field/marketplace/internal/services"
)

type recordingUploader struct {
	bucket      string
	object      string
	contentType string
	body        []byte
	err         error
}

func (u *recordingUploader) Upload(_ context.Context, bucket, object, contentType string, body io.Reader) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	u.bucket, u.object, u.contentType, u.body = bucket, object, contentType, data
	return u.err
}

func newTestAssetStore(t *testing.T, uploader Uploader, cfg AssetStoreConfig) *AssetStore {
	t.Helper()
	if cfg.Bucket == "" {
		cfg.Bucket = "marketplace-assets"
	}
	store, err := NewAssetStore(uploader, cfg, WithUploadIDGenerator(func() string { return "up1" }))
	if err != nil {
		t.Fatalf("NewAssetStore: %v", err)
	}
	return store
}

func TestStoreOrderItemImage(t *testing.T) {
	uploader := &recordingUploader{}
	store := newTestAssetStore(t, uploader, AssetStoreConfig{})

	url, err := store.StoreOrderItemImage(context.Background(), "ord_1", "oi_1", services.ImageUpload{
		FileName:    "front view.png",
		ContentType: "image/png",
		Size:        4,
		Content:     strings.NewReader("\x89PNG"),
	})
	if err != nil {
		t.Fatalf("StoreOrderItemImage: %v", err)
	}
	if uploader.bucket != "marketplace-assets" || uploader.object != "orders/ord_1/items/oi_1/up1-front_view.png" {
		t.Fatalf("unexpected destination %s/%s", uploader.bucket, uploader.object)
	}
	if uploader.contentType != "image/png" || !bytes.Equal(uploader.body, []byte("\x89PNG")) {
		t.Fatalf("unexpected upload %q %q", uploader.contentType, uploader.body)
	}
	if url != "https://storage.googleapis.com/marketplace-assets/orders/ord_1/items/oi_1/up1-front_view.png" {
		t.Fatalf("unexpected url %s", url)
	}
}

func TestStoreOrderItemImageUsesPublicBaseURL(t *testing.T) {
	store := newTestAssetStore(t, &recordingUploader{}, AssetStoreConfig{PublicBaseURL: "https://cdn.example.com/"})
	url, err := store.StoreOrderItemImage(context.Background(), "ord_1", "oi_1", services.ImageUpload{
		FileName: "a.jpg", ContentType: "image/jpeg; charset=binary", Content: strings.NewReader("x"),
	})
	if err != nil {
		t.Fatalf("StoreOrderItemImage: %v", err)
	}
	if url != "https://cdn.example.com/orders/ord_1/items/oi_1/up1-a.jpg" {
		t.Fatalf("unexpected url %s", url)
	}
}

func TestStoreOrderItemImageRejectsContent(t *testing.T) {
	store := newTestAssetStore(t, &recordingUploader{}, AssetStoreConfig{MaxSize: 4})
	ctx := context.Background()

	_, err := store.StoreOrderItemImage(ctx, "ord_1", "oi_1", services.ImageUpload{FileName: "a.pdf", ContentType: "application/pdf", Content: strings.NewReader("x")})
	if !errors.Is(err, ErrContentTypeDenied) {
		t.Fatalf("expected ErrContentTypeDenied, got %v", err)
	}
	_, err = store.StoreOrderItemImage(ctx, "ord_1", "oi_1", services.ImageUpload{FileName: "a.png", ContentType: "image/png", Size: 10, Content: strings.NewReader("x")})
	if !errors.Is(err, ErrUploadTooLarge) {
		t.Fatalf("expected declared size to be rejected, got %v", err)
	}
	_, err = store.StoreOrderItemImage(ctx, "ord_1", "oi_1", services.ImageUpload{FileName: "a.png", ContentType: "image/png", Content: strings.NewReader("123456789")})
	if !errors.Is(err, ErrUploadTooLarge) {
		t.Fatalf("expected streamed size to be rejected, got %v", err)
	}
	_, err = store.StoreOrderItemImage(ctx, "../x", "oi_1", services.ImageUpload{FileName: "a.png", ContentType: "image/png", Content: strings.NewReader("1")})
	if err == nil {
		t.Fatalf("expected traversal to be rejected")
	}
}

func TestContentTypeAllowedWildcard(t *testing.T) {
	if !contentTypeAllowed("image/avif", []string{"image/*"}) {
		t.Fatalf("expected wildcard match")
	}
	if contentTypeAllowed("imagex/avif", []string{"image/*"}) {
		t.Fatalf("wildcard must match the full type segment")
	}
}
