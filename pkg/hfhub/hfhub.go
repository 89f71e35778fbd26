// Package hfhub is a small client for the Hugging Face Hub: repository file
// catalogs and streamed artifact downloads with optional bearer auth.
package hfhub

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"
)

// DefaultUserAgent is sent with every request.
const DefaultUserAgent = "ocr-screenshot/1.0"

// chunkSize is the streaming buffer used for downloads.
const chunkSize = 1 << 20

// catalogTimeout bounds a single catalog lookup.
const catalogTimeout = 30 * time.Second

// StatusError is returned when the hub answers with an unexpected status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.Code)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// UnauthorizedError is returned when a catalog lookup answers 401. WithToken
// tells whether a credential was sent, which decides the remedy: accepting the
// model license versus providing a token at all.
type UnauthorizedError struct {
	Repository string
	WithToken  bool
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("repo lookup unauthorized for %s: %s", e.Repository, e.Hint())
}

// Hint returns the actionable remedy for the failed lookup.
func (e *UnauthorizedError) Hint() string {
	if e.WithToken {
		return "accept the model license on Hugging Face"
	}
	return "set HUGGINGFACE_TOKEN or login with huggingface-cli"
}

// ChecksumError is returned when downloaded bytes do not hash to the
// published digest.
type ChecksumError struct {
	Want string
	Got  string
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("sha256 mismatch: want %s, got %s", e.Want, e.Got)
}

// File is one entry of a repository catalog. SHA256 is empty for files not
// stored through LFS.
type File struct {
	Name   string
	Size   int64
	SHA256 string
}

// Client talks to a hub endpoint. The zero value is not usable; use New.
type Client struct {
	BaseURL   string       // Hub base URL (no trailing slash).
	Token     string       // Optional bearer token.
	UserAgent string       // Defaults to DefaultUserAgent.
	Client    *http.Client // HTTP client; falls back to a client without an overall timeout.

	clientOnce    sync.Once
	defaultClient *http.Client
}

// New creates a Client. A nil client falls back to a default at call time.
func New(baseURL, token string, client *http.Client) *Client {
	return &Client{
		BaseURL:   strings.TrimSuffix(baseURL, "/"),
		Token:     token,
		UserAgent: DefaultUserAgent,
		Client:    client,
	}
}

// httpClient returns the configured client or a cached default. Downloads of
// multi-gigabyte artifacts must not be cut by a client-wide timeout, so the
// default has none and callers bound requests through their context.
func (c *Client) httpClient() *http.Client {
	if c.Client != nil {
		return c.Client
	}

	c.clientOnce.Do(func() {
		c.defaultClient = &http.Client{}
	})

	return c.defaultClient
}

// NewRequest builds a GET request for rawURL with the user agent and bearer
// token applied.
func (c *Client) NewRequest(ctx context.Context, rawURL string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}

	ua := c.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	req.Header.Set("User-Agent", ua)

	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	return req, nil
}

// CatalogURL returns the model metadata endpoint for repo.
func (c *Client) CatalogURL(repo string) string {
	return c.BaseURL + "/api/models/" + repo + "?blobs=true"
}

// ResolveURL returns the download endpoint for file in repo's main revision.
func (c *Client) ResolveURL(repo, file string) string {
	return c.BaseURL + "/" + repo + "/resolve/main/" + file
}

type catalogResponse struct {
	Siblings []struct {
		RFilename string `json:"rfilename"`
		Size      int64  `json:"size"`
		LFS       *struct {
			SHA256 string `json:"sha256"`
			Size   int64  `json:"size"`
		} `json:"lfs"`
	} `json:"siblings"`
}

// ListFiles returns the file catalog of repo. A 401 answer yields an
// *UnauthorizedError.
func (c *Client) ListFiles(ctx context.Context, repo string) ([]File, error) {
	ctx, cancel := context.WithTimeout(ctx, catalogTimeout)
	defer cancel()

	req, err := c.NewRequest(ctx, c.CatalogURL(repo))
	if err != nil {
		return nil, fmt.Errorf("hfhub: build request: %w", err)
	}

	resp, err := c.httpClient().Do(req) //nolint:gosec // URL is built from the configured hub endpoint
	if err != nil {
		return nil, fmt.Errorf("hfhub: list %s: %w", repo, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, &UnauthorizedError{Repository: repo, WithToken: c.Token != ""}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("hfhub: list %s: %w", repo, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))})
	}

	var payload catalogResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("hfhub: list %s: decode response: %w", repo, err)
	}

	files := make([]File, 0, len(payload.Siblings))
	for _, s := range payload.Siblings {
		f := File{Name: s.RFilename, Size: s.Size}
		if s.LFS != nil {
			f.SHA256 = strings.ToLower(s.LFS.SHA256)
			if f.Size == 0 {
				f.Size = s.LFS.Size
			}
		}
		files = append(files, f)
	}

	return files, nil
}

// Download streams rawURL into staging and renames it onto dst once the body
// has been fully written. When wantSHA256 is non-empty the staged bytes must
// hash to it. On any failure the staging file is removed (errors from the
// removal are ignored) and the returned error wraps the cause.
func (c *Client) Download(ctx context.Context, rawURL, dst, staging, wantSHA256 string) (err error) {
	if staging == "" || staging == dst {
		return fmt.Errorf("hfhub: download: staging path must differ from destination")
	}

	defer func() {
		if err != nil {
			_ = os.Remove(staging)
			err = fmt.Errorf("hfhub: download %s: %w", redact(rawURL), err)
		}
	}()

	req, err := c.NewRequest(ctx, rawURL)
	if err != nil {
		return err
	}

	resp, err := c.httpClient().Do(req) //nolint:gosec // URL comes from configuration or the hub endpoint
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	out, err := os.OpenFile(staging, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o640) //nolint:gosec // staging path is derived from the cache dir
	if err != nil {
		return err
	}

	hash := sha256.New()
	buf := make([]byte, chunkSize)

	if _, err := io.CopyBuffer(io.MultiWriter(out, hash), resp.Body, buf); err != nil {
		_ = out.Close()
		return err
	}

	if err := out.Sync(); err != nil {
		_ = out.Close()
		return err
	}

	if err := out.Close(); err != nil {
		return err
	}

	if wantSHA256 != "" {
		got := hex.EncodeToString(hash.Sum(nil))
		if !strings.EqualFold(got, wantSHA256) {
			return &ChecksumError{Want: wantSHA256, Got: got}
		}
	}

	return os.Rename(staging, dst)
}

// redact drops the query string, which may carry signed credentials.
func redact(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	u.RawQuery = ""

	return u.String()
}

// IsUnauthorized reports whether err is or wraps an *UnauthorizedError.
func IsUnauthorized(err error) bool {
	var ue *UnauthorizedError
	return errors.As(err, &ue)
}
