package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog/log"
)

const viewPath = "/api/view"

var (
	// ErrInvalidReference is returned for image references that can never
	// resolve: empty, malformed data URLs or paths outside the photo root.
	ErrInvalidReference = errors.New("invalid image reference")
	// ErrSourceNotFound is returned when the referenced image does not exist.
	ErrSourceNotFound = errors.New("image not found")
	// ErrSourceUnavailable is returned when a remote image could not be fetched.
	ErrSourceUnavailable = errors.New("image unavailable")
)

// SourceLoader resolves image references handed in by the UI: data URLs,
// http(s) URLs, gallery view URLs and paths under the photo root.
type SourceLoader struct {
	RootDir string
	Client  *http.Client
}

// NewSourceLoader returns a loader for photos under rootDir.
func NewSourceLoader(rootDir string) *SourceLoader {
	return &SourceLoader{
		RootDir: rootDir,
		Client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Open returns a reader over the encoded image bytes behind ref.
func (l *SourceLoader) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	ref = strings.TrimSpace(ref)
	switch {
	case ref == "":
		return nil, fmt.Errorf("%w: empty", ErrInvalidReference)
	case strings.HasPrefix(ref, "data:"):
		data, err := decodeDataURL(ref)
		if err != nil {
			return nil, err
		}
		return io.NopCloser(bytes.NewReader(data)), nil
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		return l.fetch(ctx, ref)
	case strings.HasPrefix(ref, viewPath+"?"):
		u, err := url.Parse(ref)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to parse view url: %w", ErrInvalidReference, err)
		}
		return l.openFile(u.Query().Get("file"))
	default:
		return l.openFile(ref)
	}
}

// NaturalSize decodes the image the same way the exporter does and
// reports its oriented pixel size.
func (l *SourceLoader) NaturalSize(ctx context.Context, ref string) (Size, error) {
	rc, err := l.Open(ctx, ref)
	if err != nil {
		return Size{}, err
	}
	defer rc.Close()

	img, err := imaging.Decode(rc, imaging.AutoOrientation(true))
	if err != nil {
		return Size{}, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	b := img.Bounds()
	return Size{W: float64(b.Dx()), H: float64(b.Dy())}, nil
}

func (l *SourceLoader) fetch(ctx context.Context, ref string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %w", ErrInvalidReference, err)
	}
	client := l.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound, http.StatusGone:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, ref)
	default:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: unexpected status %s", ErrSourceUnavailable, resp.Status)
	}
	log.Ctx(ctx).Debug().Str("url", ref).Msg("fetched remote image")
	return resp.Body, nil
}

func (l *SourceLoader) openFile(name string) (io.ReadCloser, error) {
	if l.RootDir == "" {
		return nil, fmt.Errorf("%w: no photo root configured for %q", ErrInvalidReference, name)
	}
	clean := filepath.Clean(filepath.FromSlash("/" + name))
	path := filepath.Join(l.RootDir, clean)
	rel, err := filepath.Rel(l.RootDir, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return nil, fmt.Errorf("%w: path %q", ErrInvalidReference, name)
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", name, err)
	}
	return f, nil
}

func decodeDataURL(ref string) ([]byte, error) {
	meta, payload, ok := strings.Cut(strings.TrimPrefix(ref, "data:"), ",")
	if !ok {
		return nil, fmt.Errorf("%w: malformed data url", ErrInvalidReference)
	}
	if !strings.HasSuffix(meta, ";base64") {
		data, err := url.PathUnescape(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to unescape data url: %w", ErrInvalidReference, err)
		}
		return []byte(data), nil
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode data url: %w", ErrInvalidReference, err)
	}
	return data, nil
}
