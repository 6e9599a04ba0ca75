// Package imagestore is the HTTP client for the image-storage collaborator:
// multipart upload and delete, each call carrying a freshly obtained bearer
// token. It implements attach.Store.
package imagestore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/tablewire/tablechat-sdk/attach"
	"github.com/tablewire/tablechat-sdk/token"
)

var (
	ErrUploadFailed = errors.New("image upload failed")
	ErrDeleteFailed = errors.New("image delete failed")
)

// Client talks to the image store.
type Client struct {
	base   string
	client *http.Client
	tokens token.Provider
	log    *zerolog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.client = c }
}

// New builds an image-store client for the given base URL.
func New(base string, tokens token.Provider, logger *zerolog.Logger, opts ...Option) *Client {
	c := &Client{
		base:   base,
		client: &http.Client{Timeout: 60 * time.Second},
		tokens: tokens,
		log:    logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type uploadResponse struct {
	Success  bool   `json:"success"`
	ImageURL string `json:"imageUrl"`
	FileName string `json:"fileName"`
	Error    string `json:"error,omitempty"`
}

// Upload posts the file as multipart form data and returns the stored
// object's URL and path. Progress is reported as the body is consumed.
func (c *Client) Upload(ctx context.Context, file attach.File, progress func(done, total int64)) (attach.Result, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("image", file.Name)
	if err != nil {
		return attach.Result{}, fmt.Errorf("build multipart: %w", err)
	}
	if _, err := part.Write(file.Data); err != nil {
		return attach.Result{}, fmt.Errorf("build multipart: %w", err)
	}
	if err := w.Close(); err != nil {
		return attach.Result{}, fmt.Errorf("build multipart: %w", err)
	}

	total := int64(buf.Len())
	body := &progressReader{r: &buf, total: total, report: progress}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/upload", body)
	if err != nil {
		return attach.Result{}, fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.ContentLength = total
	if err := c.authorize(ctx, req); err != nil {
		return attach.Result{}, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return attach.Result{}, fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return attach.Result{}, fmt.Errorf("%w: status %d", ErrUploadFailed, resp.StatusCode)
	}

	var parsed uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return attach.Result{}, fmt.Errorf("%w: decode response: %v", ErrUploadFailed, err)
	}
	if !parsed.Success {
		return attach.Result{}, fmt.Errorf("%w: %s", ErrUploadFailed, parsed.Error)
	}

	c.log.Debug().Str("file", file.Name).Str("path", parsed.FileName).Msg("image uploaded")
	return attach.Result{URL: parsed.ImageURL, Path: parsed.FileName}, nil
}

// Delete removes a stored object by path. Logged and non-fatal for callers:
// they decide whether a failed delete matters.
func (c *Client) Delete(ctx context.Context, path string) error {
	payload, err := json.Marshal(map[string]string{"filePath": path})
	if err != nil {
		return fmt.Errorf("build delete request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.base+"/delete", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build delete request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if err := c.authorize(ctx, req); err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeleteFailed, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: status %d", ErrDeleteFailed, resp.StatusCode)
	}
	return nil
}

// authorize attaches a freshly obtained bearer token. Tokens are fetched
// per call and never cached here.
func (c *Client) authorize(ctx context.Context, req *http.Request) error {
	tok, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("obtain token: %w", err)
	}
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	return nil
}

// progressReader reports bytes consumed from the request body.
type progressReader struct {
	r      io.Reader
	done   int64
	total  int64
	report func(done, total int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.done += int64(n)
		if p.report != nil {
			p.report(p.done, p.total)
		}
	}
	return n, err
}
