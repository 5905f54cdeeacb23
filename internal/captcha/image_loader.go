package captcha

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"verifykit/internal/domain"
)

// ImageLoader fetches and decodes a background image.
type ImageLoader interface {
	Load(ctx context.Context, src string) (image.Image, error)
}

// HTTPImageLoader loads data URLs, local files and http(s) URLs. Every load
// is bounded by Timeout.
type HTTPImageLoader struct {
	Client  *http.Client
	Timeout time.Duration
	// MaxBytes caps the decoded payload; zero means 10 MiB.
	MaxBytes int64
}

// NewHTTPImageLoader uses http.DefaultClient and the default timeout when
// timeout is zero.
func NewHTTPImageLoader(timeout time.Duration) *HTTPImageLoader {
	if timeout <= 0 {
		timeout = DefaultImageTimeout
	}
	return &HTTPImageLoader{Client: http.DefaultClient, Timeout: timeout}
}

func (l *HTTPImageLoader) Load(ctx context.Context, src string) (image.Image, error) {
	if strings.HasPrefix(src, "data:") {
		return decodeDataURL(src)
	}

	timeout := l.Timeout
	if timeout <= 0 {
		timeout = DefaultImageTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := l.open(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrImageLoad, src, err)
	}
	defer body.Close()

	img, err := decodeWithContext(ctx, io.LimitReader(body, l.maxBytes()))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrImageLoad, src, err)
	}
	return img, nil
}

func (l *HTTPImageLoader) open(ctx context.Context, src string) (io.ReadCloser, error) {
	if !strings.HasPrefix(src, "http://") && !strings.HasPrefix(src, "https://") {
		return os.Open(strings.TrimPrefix(src, "file://"))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, err
	}
	client := l.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

func (l *HTTPImageLoader) maxBytes() int64 {
	if l.MaxBytes > 0 {
		return l.MaxBytes
	}
	return 10 << 20
}

// decodeWithContext gives up when ctx expires even if the reader stalls.
func decodeWithContext(ctx context.Context, r io.Reader) (image.Image, error) {
	type result struct {
		img image.Image
		err error
	}
	done := make(chan result, 1)
	go func() {
		img, _, err := image.Decode(r)
		done <- result{img, err}
	}()
	select {
	case res := <-done:
		return res.img, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func decodeDataURL(src string) (image.Image, error) {
	comma := strings.IndexByte(src, ',')
	if comma < 0 {
		return nil, fmt.Errorf("%w: malformed data url", domain.ErrImageLoad)
	}
	meta, payload := src[len("data:"):comma], src[comma+1:]
	var raw []byte
	if strings.HasSuffix(meta, ";base64") {
		var err error
		raw, err = base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: data url: %v", domain.ErrImageLoad, err)
		}
	} else {
		raw = []byte(payload)
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: data url: %v", domain.ErrImageLoad, err)
	}
	return img, nil
}
