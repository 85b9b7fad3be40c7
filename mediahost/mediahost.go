// Package mediahost stores images on a Cloudinary compatible host using
// signed upload and destroy calls.
package mediahost

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	market "github.com/goliatone/go-market"
)

var ErrNotConfigured = errors.New("media host is not configured")

// Config holds the media host credentials. URL is the account base, for
// example https://api.cloudinary.com/v1_1/<cloud>.
type Config struct {
	URL        string
	APIKey     string
	APISecret  string
	HTTPClient *http.Client
	Clock      func() time.Time
}

type Client struct {
	config     Config
	httpClient *http.Client
	now        func() time.Time
}

var _ market.MediaHost = (*Client)(nil)

func New(cfg Config) *Client {
	cfg.URL = strings.TrimRight(cfg.URL, "/")

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &Client{config: cfg, httpClient: client, now: now}
}

type uploadReply struct {
	SecureURL string `json:"secure_url"`
	URL       string `json:"url"`
	PublicID  string `json:"public_id"`
	Error     *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type destroyReply struct {
	Result string `json:"result"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Upload stores file under folder
func (c *Client) Upload(ctx context.Context, folder string, file market.Upload) (market.MediaAsset, error) {
	if c.config.URL == "" {
		return market.MediaAsset{}, ErrNotConfigured
	}

	params := c.signed(map[string]string{"folder": folder})

	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	for _, k := range sortedKeys(params) {
		if err := w.WriteField(k, params[k]); err != nil {
			return market.MediaAsset{}, err
		}
	}
	part, err := w.CreateFormFile("file", file.Filename)
	if err != nil {
		return market.MediaAsset{}, err
	}
	if _, err := part.Write(file.Data); err != nil {
		return market.MediaAsset{}, err
	}
	if err := w.Close(); err != nil {
		return market.MediaAsset{}, err
	}

	var reply uploadReply
	if err := c.post(ctx, "/image/upload", w.FormDataContentType(), body, &reply); err != nil {
		return market.MediaAsset{}, err
	}
	if reply.Error != nil {
		return market.MediaAsset{}, fmt.Errorf("mediahost: upload rejected: %s", reply.Error.Message)
	}

	asset := market.MediaAsset{URL: reply.SecureURL, Handle: reply.PublicID}
	if asset.URL == "" {
		asset.URL = reply.URL
	}
	if asset.URL == "" || asset.Handle == "" {
		return market.MediaAsset{}, errors.New("mediahost: upload reply without url or public id")
	}
	return asset, nil
}

// Delete removes the asset identified by handle. Missing assets are not an
// error.
func (c *Client) Delete(ctx context.Context, handle string) error {
	if c.config.URL == "" {
		return ErrNotConfigured
	}

	params := c.signed(map[string]string{"public_id": handle})
	form := url.Values{}
	for k, v := range params {
		form.Set(k, v)
	}

	var reply destroyReply
	if err := c.post(ctx, "/image/destroy", "application/x-www-form-urlencoded", strings.NewReader(form.Encode()), &reply); err != nil {
		return err
	}
	if reply.Error != nil {
		return fmt.Errorf("mediahost: destroy rejected: %s", reply.Error.Message)
	}
	switch reply.Result {
	case "ok", "not found":
		return nil
	default:
		return fmt.Errorf("mediahost: destroy %s: %s", handle, reply.Result)
	}
}

func (c *Client) post(ctx context.Context, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.URL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("mediahost: %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("mediahost: read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("mediahost: %s returned status %d", path, resp.StatusCode)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("mediahost: %s returned status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return nil
}

// signed adds api_key, timestamp and signature to params
func (c *Client) signed(params map[string]string) map[string]string {
	out := make(map[string]string, len(params)+3)
	for k, v := range params {
		if v != "" {
			out[k] = v
		}
	}
	out["timestamp"] = strconv.FormatInt(c.now().Unix(), 10)
	out["signature"] = Sign(out, c.config.APISecret)
	out["api_key"] = c.config.APIKey
	return out
}

// Sign returns the hex sha1 of the sorted key=value pairs joined with & and
// followed by secret.
func Sign(params map[string]string, secret string) string {
	pairs := make([]string, 0, len(params))
	for _, k := range sortedKeys(params) {
		switch k {
		case "api_key", "signature", "file":
			continue
		}
		pairs = append(pairs, k+"="+params[k])
	}
	sum := sha1.Sum([]byte(strings.Join(pairs, "&") + secret))
	return hex.EncodeToString(sum[:])
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
