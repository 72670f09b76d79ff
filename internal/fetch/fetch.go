// Package fetch downloads missing artifacts such as model weights.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/Brownie44l1/car-classifier/internal/domain"
)

// Fetcher downloads an artifact once when it is missing locally. Failures
// are not retried.
type Fetcher struct {
	HTTPClient *http.Client
	Logger     *slog.Logger
}

func NewFetcher(logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	jar, _ := cookiejar.New(nil)
	return &Fetcher{
		HTTPClient: &http.Client{
			Timeout: 10 * time.Minute,
			Jar:     jar,
		},
		Logger: logger,
	}
}

// EnsureFile makes sure path exists, downloading it from rawURL when it
// does not. The download lands in a temporary file beside path and is
// renamed into place only when complete.
func (f *Fetcher) EnsureFile(ctx context.Context, path, rawURL string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return domain.WrapError(domain.ErrArtifactUnavailable, "stat "+path, err)
	}
	if rawURL == "" {
		return domain.WrapError(domain.ErrArtifactUnavailable, "ensure "+path,
			errors.New("file is missing and no download URL is configured"))
	}

	f.Logger.Info("Downloading artifact", "path", path, "url", rawURL)
	start := time.Now()
	n, err := f.download(ctx, path, rawURL)
	if err != nil {
		return domain.WrapError(domain.ErrArtifactUnavailable, "download "+path, err)
	}
	f.Logger.Info("Downloaded artifact", "path", path, "bytes", n, "duration_ms", time.Since(start).Milliseconds())
	return nil
}

func (f *Fetcher) download(ctx context.Context, path, rawURL string) (int64, error) {
	resp, err := f.get(ctx, rawURL)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if isHTML(resp) {
		// Large Google Drive files answer with a virus-scan warning page
		// whose form carries the token for the real download.
		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return 0, fmt.Errorf("read confirm page: %w", err)
		}
		next, ok := confirmURL(rawURL, string(body))
		if !ok {
			return 0, errors.New("server returned an HTML page instead of the file")
		}
		resp.Body.Close()

		resp, err = f.get(ctx, next)
		if err != nil {
			return 0, err
		}
		defer resp.Body.Close()
		if isHTML(resp) {
			return 0, errors.New("server returned an HTML page instead of the file")
		}
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return 0, fmt.Errorf("create dir: %w", err)
		}
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.part")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, resp.Body)
	if err != nil {
		tmp.Close()
		return 0, fmt.Errorf("write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return 0, fmt.Errorf("rename into place: %w", err)
	}
	return n, nil
}

func (f *Fetcher) get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := f.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("server returned status %d", resp.StatusCode)
	}
	return resp, nil
}

func isHTML(resp *http.Response) bool {
	return strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html")
}

var (
	confirmParam = regexp.MustCompile(`confirm=([0-9A-Za-z_\-]+)`)
	hiddenInput  = regexp.MustCompile(`<input[^>]+name="([a-z_]+)"[^>]+value="([^"]*)"`)
	formAction   = regexp.MustCompile(`<form[^>]+action="([^"]+)"`)
)

// confirmURL extracts the follow-up download URL from a Google Drive
// warning page.
func confirmURL(original, page string) (string, bool) {
	if action := formAction.FindStringSubmatch(page); action != nil {
		target, err := url.Parse(strings.ReplaceAll(action[1], "&amp;", "&"))
		if err == nil {
			q := target.Query()
			for _, m := range hiddenInput.FindAllStringSubmatch(page, -1) {
				q.Set(m[1], m[2])
			}
			if q.Get("confirm") != "" {
				target.RawQuery = q.Encode()
				return target.String(), true
			}
		}
	}
	if m := confirmParam.FindStringSubmatch(page); m != nil {
		u, err := url.Parse(original)
		if err != nil {
			return "", false
		}
		q := u.Query()
		q.Set("confirm", m[1])
		u.RawQuery = q.Encode()
		return u.String(), true
	}
	return "", false
}
