package core

// images.go downloads product images and stages them in the attachment store.
//
// Downloads run before the row's transaction is opened so slow hosts never
// hold database locks. A staged object whose row later fails is deleted
// again by the row importer.

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/JonMunkholm/catalogimport/internal/metrics"
)

// Image fetch defaults.
const (
	DefaultImageTimeout  = 15 * time.Second
	DefaultImageMaxBytes = 10 << 20
)

// AllowedImageTypes are the sniffed content types accepted as product images.
var AllowedImageTypes = []string{"image/jpeg", "image/png", "image/gif", "image/webp"}

// AttachmentStore persists binary objects under opaque keys.
type AttachmentStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// FetchedImage is a downloaded image held in memory.
type FetchedImage struct {
	URL         string
	FileName    string
	ContentType string
	Data        []byte
}

// ImageFetcher downloads the image behind a URL.
type ImageFetcher interface {
	Fetch(ctx context.Context, rawURL string) (*FetchedImage, error)
}

// HTTPImageFetcher fetches images over HTTP(S).
type HTTPImageFetcher struct {
	client   *http.Client
	timeout  time.Duration
	maxBytes int64
}

// NewHTTPImageFetcher creates a fetcher. Zero values fall back to the
// package defaults; a nil client uses a fresh http.Client.
func NewHTTPImageFetcher(client *http.Client, timeout time.Duration, maxBytes int64) *HTTPImageFetcher {
	if client == nil {
		client = &http.Client{}
	}
	if timeout <= 0 {
		timeout = DefaultImageTimeout
	}
	if maxBytes <= 0 {
		maxBytes = DefaultImageMaxBytes
	}
	return &HTTPImageFetcher{client: client, timeout: timeout, maxBytes: maxBytes}
}

// Fetch downloads rawURL. Every failure is returned as a *FetchError.
func (f *HTTPImageFetcher) Fetch(ctx context.Context, rawURL string) (img *FetchedImage, err error) {
	start := time.Now()
	defer func() { metrics.ObserveImageFetch(time.Since(start), err) }()

	rawURL = strings.TrimSpace(rawURL)
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, &FetchError{URL: rawURL, Err: fmt.Errorf("unsupported scheme %q", u.Scheme)}
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}
	req.Header.Set("Accept", "image/*")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchError{URL: rawURL, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}
	if int64(len(data)) > f.maxBytes {
		return nil, &FetchError{URL: rawURL, Err: fmt.Errorf("image exceeds %d bytes", f.maxBytes)}
	}
	if len(data) == 0 {
		return nil, &FetchError{URL: rawURL, Err: errors.New("empty body")}
	}

	mt := mimetype.Detect(data)
	contentType, ok := allowedImageType(mt)
	if !ok {
		return nil, &FetchError{URL: rawURL, Err: fmt.Errorf("not an image: %s", mt.String())}
	}

	return &FetchedImage{
		URL:         rawURL,
		FileName:    imageFileName(resp.Header.Get("Content-Disposition"), u, mt.Extension()),
		ContentType: contentType,
		Data:        data,
	}, nil
}

func allowedImageType(mt *mimetype.MIME) (string, bool) {
	for _, t := range AllowedImageTypes {
		if mt.Is(t) {
			return t, true
		}
	}
	return "", false
}

// imageFileName picks the attachment file name: Content-Disposition first,
// then the last URL path segment, then "image" plus the sniffed extension.
func imageFileName(disposition string, u *url.URL, ext string) string {
	if disposition != "" {
		if _, params, err := mime.ParseMediaType(disposition); err == nil {
			if name := path.Base(params["filename"]); name != "" && name != "." && name != "/" {
				return name
			}
		}
	}
	if base := path.Base(u.Path); base != "" && base != "." && base != "/" {
		return base
	}
	return "image" + ext
}

// stagedImage is an image written to the attachment store but not yet linked
// to a product.
type stagedImage struct {
	params ImageParams
	store  AttachmentStore
}

// discard removes the staged object. Used when the row's transaction fails.
func (s *stagedImage) discard(ctx context.Context) error {
	if s == nil {
		return nil
	}
	return s.store.Delete(context.WithoutCancel(ctx), s.params.StorageKey)
}

// stageImage fetches rawURL and writes the bytes to the attachment store.
// An empty URL is not an error and yields nil.
func stageImage(ctx context.Context, f ImageFetcher, store AttachmentStore, rawURL string) (*stagedImage, error) {
	if strings.TrimSpace(rawURL) == "" {
		return nil, nil
	}

	img, err := f.Fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	key := ImageKey(img.FileName)
	if err := store.Put(ctx, key, bytes.NewReader(img.Data), int64(len(img.Data)), img.ContentType); err != nil {
		return nil, &FetchError{URL: rawURL, Err: fmt.Errorf("store image: %w", err)}
	}

	return &stagedImage{
		params: ImageParams{
			StorageKey:  key,
			FileName:    img.FileName,
			ContentType: img.ContentType,
			Size:        int64(len(img.Data)),
			SourceURL:   img.URL,
		},
		store: store,
	}, nil
}

// ImageKey returns a fresh attachment key for an image file.
func ImageKey(fileName string) string {
	return "images/" + uuid.NewString() + strings.ToLower(path.Ext(fileName))
}

// ImportFileKey returns a fresh attachment key for an import file.
func ImportFileKey(fileName string) string {
	return "imports/" + uuid.NewString() + strings.ToLower(path.Ext(fileName))
}
