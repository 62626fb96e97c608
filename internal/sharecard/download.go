package sharecard

import (
	"context"
	"fmt"
	"image/png"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

const maxImageBytes = 20 << 20

var (
	whitespacePattern = regexp.MustCompile(`\s+`)
	separatorReplacer = strings.NewReplacer("/", "_", "\\", "_")
)

// FileName derives the download name "<author>-<image base name>.png"; whitespace becomes "_".
func FileName(author, signatureURL string) string {
	base := "preview"
	if parsed, err := url.Parse(signatureURL); err == nil && parsed.Path != "" {
		name := path.Base(parsed.Path)
		name = strings.TrimSuffix(name, path.Ext(name))
		if name != "" && name != "." && name != "/" {
			base = name
		}
	}
	name := fmt.Sprintf("%s-%s.png", strings.TrimSpace(author), base)
	return separatorReplacer.Replace(whitespacePattern.ReplaceAllString(name, "_"))
}

// Download renders the card and writes it as PNG into dir. Nothing is written when the
// signature image is unavailable.
func (r *Renderer) Download(ctx context.Context, card Card, fileName, dir string) (string, error) {
	img, err := r.Render(ctx, card)
	if err != nil {
		return "", err
	}
	if fileName == "" {
		fileName = FileName(card.AuthorName, card.SignatureURL)
	}
	target := filepath.Join(dir, filepath.Base(fileName))

	file, err := os.CreateTemp(dir, ".sharecard-*.png")
	if err != nil {
		return "", fmt.Errorf("sharecard: create file: %w", err)
	}
	tempName := file.Name()
	if err := png.Encode(file, img); err != nil {
		file.Close()
		os.Remove(tempName)
		return "", fmt.Errorf("sharecard: encode png: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tempName)
		return "", fmt.Errorf("sharecard: close file: %w", err)
	}
	if err := os.Rename(tempName, target); err != nil {
		os.Remove(tempName)
		return "", fmt.Errorf("sharecard: save file: %w", err)
	}
	return target, nil
}

// HTTPFetcher loads images straight from their URL.
type HTTPFetcher struct {
	Client *http.Client
}

// NewHTTPFetcher returns a fetcher bounded by timeout.
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{Client: &http.Client{Timeout: timeout}}
}

func (f *HTTPFetcher) FetchImage(ctx context.Context, rawURL string) ([]byte, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, err
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	response, err := client.Do(request)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d", response.StatusCode)
	}
	return io.ReadAll(io.LimitReader(response.Body, maxImageBytes))
}
