package assets

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	_ "image/png"  // Register PNG decoder
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bbrks/go-blurhash"
	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/crypto/blake2b"
	_ "golang.org/x/image/webp" // Register WebP decoder

	apperr "github.com/tappedai/event-crawler/internal/errors"
)

const (
	// maxFlierSize limits download size to prevent memory exhaustion.
	maxFlierSize = 10 * 1024 * 1024 // 10MB

	// downloadTimeout is the maximum time for a flier download.
	downloadTimeout = 30 * time.Second

	// blurHashSize is the thumbnail edge used for BlurHash computation.
	blurHashSize = 64

	keyPrefix = "bookings/"
)

// ErrNotImage is returned when the downloaded bytes are not an image.
var ErrNotImage = errors.New("not an image")

// Image is a downloaded and inspected image.
type Image struct {
	Data        []byte
	ContentType string
	Extension   string
	BlurHash    string
	Width       int
	Height      int
}

// Asset is a stored copy of a remote image.
type Asset struct {
	URL      string
	Key      string
	BlurHash string
	Width    int
	Height   int
}

// Downloader fetches remote images and copies them into storage.
type Downloader struct {
	httpClient *http.Client
	storage    Storage
	logger     *slog.Logger
}

// NewDownloader creates a new flier downloader.
func NewDownloader(storage Storage, logger *slog.Logger) *Downloader {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Downloader{
		httpClient: &http.Client{
			Timeout: downloadTimeout,
		},
		storage: storage,
		logger:  logger,
	}
}

// Fetch downloads url and checks that it is an image. Failures are
// FETCH-coded so callers can continue without the image.
func (d *Downloader) Fetch(ctx context.Context, url string) (*Image, error) {
	if url == "" {
		return nil, apperr.Wrap(errors.New("empty flier URL"), apperr.CodeFetch, "fetch flier")
	}

	downloadCtx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(downloadCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, apperr.Wrap(fmt.Errorf("create request: %w", err), apperr.CodeFetch, "fetch flier")
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, apperr.Wrap(fmt.Errorf("download: %w", err), apperr.CodeFetch, "fetch flier")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperr.Wrap(fmt.Errorf("download failed: status %d", resp.StatusCode), apperr.CodeFetch, "fetch flier")
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFlierSize))
	if err != nil {
		return nil, apperr.Wrap(fmt.Errorf("read data: %w", err), apperr.CodeFetch, "fetch flier")
	}

	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return nil, apperr.Wrap(fmt.Errorf("%w: %s", ErrNotImage, mt.String()), apperr.CodeFetch, "fetch flier")
	}

	img := &Image{
		Data:        data,
		ContentType: mt.String(),
		Extension:   mt.Extension(),
	}

	// Dimensions and BlurHash are best effort; SVG and odd encodings still store.
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		img.Width, img.Height = cfg.Width, cfg.Height
	}
	if hash, err := computeBlurHash(data); err == nil {
		img.BlurHash = hash
	} else {
		d.logger.Debug("blurhash skipped", "url", url, "error", err)
	}

	return img, nil
}

// Copy fetches url and stores it under a content-addressed key, so the same
// flier found on several pages is stored once.
func (d *Downloader) Copy(ctx context.Context, url string) (*Asset, error) {
	img, err := d.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	key := ContentKey(img.Data, img.Extension)
	signed, err := d.storage.Put(ctx, key, img.Data, img.ContentType)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeMaterialize, "store flier")
	}

	d.logger.Info("stored flier",
		"url", url,
		"key", key,
		"size", len(img.Data),
		"width", img.Width,
		"height", img.Height,
	)

	return &Asset{
		URL:      signed,
		Key:      key,
		BlurHash: img.BlurHash,
		Width:    img.Width,
		Height:   img.Height,
	}, nil
}

// ContentKey derives the storage key for data.
func ContentKey(data []byte, ext string) string {
	sum := blake2b.Sum256(data)
	return keyPrefix + hex.EncodeToString(sum[:16]) + ext
}

// computeBlurHash generates a BlurHash string from encoded image bytes.
// Uses 4x3 components on a small thumbnail.
func computeBlurHash(data []byte) (string, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}

	hash, err := blurhash.Encode(4, 3, resizeForBlurHash(img))
	if err != nil {
		return "", fmt.Errorf("encode blurhash: %w", err)
	}
	return hash, nil
}

// resizeForBlurHash creates a small nearest-neighbor thumbnail.
func resizeForBlurHash(img image.Image) image.Image {
	bounds := img.Bounds()
	srcWidth := bounds.Dx()
	srcHeight := bounds.Dy()

	if srcWidth <= blurHashSize && srcHeight <= blurHashSize {
		return img
	}

	var dstWidth, dstHeight int
	if srcWidth > srcHeight {
		dstWidth = blurHashSize
		dstHeight = max(1, (srcHeight*blurHashSize)/srcWidth)
	} else {
		dstHeight = blurHashSize
		dstWidth = max(1, (srcWidth*blurHashSize)/srcHeight)
	}

	dst := image.NewRGBA(image.Rect(0, 0, dstWidth, dstHeight))
	xRatio := float64(srcWidth) / float64(dstWidth)
	yRatio := float64(srcHeight) / float64(dstHeight)

	for y := range dstHeight {
		for x := range dstWidth {
			srcX := int(float64(x) * xRatio)
			srcY := int(float64(y) * yRatio)
			dst.Set(x, y, img.At(bounds.Min.X+srcX, bounds.Min.Y+srcY))
		}
	}

	return dst
}
