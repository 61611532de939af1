package manifest

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/fleetconsole/pkg/log"
	"github.com/cuemby/fleetconsole/pkg/metrics"
	"github.com/cuemby/fleetconsole/pkg/types"
)

const (
	// maxDocumentSize bounds the manifest body read into memory
	maxDocumentSize = 16 << 20

	defaultTimeout = 30 * time.Second
)

var (
	// ErrFetchFailed wraps transport errors and non-2xx responses
	ErrFetchFailed = errors.New("manifest fetch failed")

	// ErrInvalidManifest wraps documents that cannot be decoded
	ErrInvalidManifest = errors.New("invalid manifest")
)

// Fetcher retrieves manifests over HTTP. It performs no retries; the caller
// decides what a failure means.
type Fetcher struct {
	// BaseURL is the server root, e.g. "https://images.example.com"
	BaseURL string

	// Client is the HTTP client to use (allows custom configuration)
	Client *http.Client

	logger zerolog.Logger
}

// NewFetcher creates a fetcher for the server at baseURL. tlsConfig may be nil.
func NewFetcher(baseURL string, tlsConfig *tls.Config) *Fetcher {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if tlsConfig != nil {
		transport.TLSClientConfig = tlsConfig
	}

	return &Fetcher{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client: &http.Client{
			Timeout:   defaultTimeout,
			Transport: transport,
		},
		logger: log.WithComponent("manifest"),
	}
}

// URL returns the manifest document location for imageType
func (f *Fetcher) URL(imageType string) string {
	return fmt.Sprintf("%s/image/%s/manifest.json", f.BaseURL, url.PathEscape(imageType))
}

// Fetch downloads and decodes the manifest of imageType
func (f *Fetcher) Fetch(ctx context.Context, imageType string) (*types.Manifest, error) {
	timer := metrics.NewTimer()
	m, err := f.fetch(ctx, imageType)
	timer.ObserveDuration(metrics.ManifestFetchDuration)

	if err != nil {
		metrics.ManifestFetchesTotal.WithLabelValues("failure").Inc()
		return nil, err
	}
	metrics.ManifestFetchesTotal.WithLabelValues("success").Inc()

	f.logger.Debug().
		Str("image_type", imageType).
		Int("builds", len(m.Builds)).
		Dur("duration", timer.Duration()).
		Msg("Fetched manifest")
	return m, nil
}

func (f *Fetcher) fetch(ctx context.Context, imageType string) (*types.Manifest, error) {
	target := f.URL(imageType)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %v", ErrFetchFailed, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrFetchFailed, target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %s: HTTP %d %s", ErrFetchFailed, target, resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: failed to read body: %v", ErrFetchFailed, target, err)
	}
	if len(body) > maxDocumentSize {
		return nil, fmt.Errorf("%w: %s: document larger than %d bytes", ErrFetchFailed, target, maxDocumentSize)
	}

	return Decode(body)
}

// wrapped is the outer document. The manifest itself travels as a JSON string
// in Inner and has to be decoded a second time.
type wrapped struct {
	Inner *string `json:"inner"`

	// Signature material, not verified by the console
	Cert       string   `json:"cert,omitempty"`
	OtherCerts []string `json:"other_certs,omitempty"`
	Sig        string   `json:"sig,omitempty"`
}

type document struct {
	Timestamp flexInt  `json:"timestamp"`
	Images    *[]image `json:"images"`
}

type image struct {
	Timestamp flexInt `json:"timestamp"`
	VolumeID  *string `json:"volume_id"`
	Hash      string  `json:"hash"`
	Rollout   flexInt `json:"rollout_‱"`
}

// Decode parses a wrapped manifest document
func Decode(body []byte) (*types.Manifest, error) {
	var outer wrapped
	if err := json.Unmarshal(body, &outer); err != nil {
		return nil, fmt.Errorf("%w: outer document: %v", ErrInvalidManifest, err)
	}
	if outer.Inner == nil {
		return nil, fmt.Errorf("%w: missing inner", ErrInvalidManifest)
	}

	var doc document
	if err := json.Unmarshal([]byte(*outer.Inner), &doc); err != nil {
		return nil, fmt.Errorf("%w: inner document: %v", ErrInvalidManifest, err)
	}
	if doc.Images == nil {
		return nil, fmt.Errorf("%w: missing images", ErrInvalidManifest)
	}

	m := &types.Manifest{
		Timestamp: int64(doc.Timestamp),
		Builds:    make([]types.Build, 0, len(*doc.Images)),
	}
	for _, img := range *doc.Images {
		build := types.Build{
			Timestamp:          int64(img.Timestamp),
			Hash:               img.Hash,
			RolloutBasisPoints: int(img.Rollout),
		}
		if img.VolumeID != nil {
			build.VolumeID = *img.VolumeID
		}
		m.Builds = append(m.Builds, build)
	}
	return m, nil
}

// flexInt accepts a JSON number or a numeric string
type flexInt int64

func (f *flexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if string(data) == "null" {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		data = []byte(s)
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		fl, ferr := strconv.ParseFloat(string(data), 64)
		if ferr != nil {
			return fmt.Errorf("not an integer: %s", data)
		}
		n = int64(fl)
	}
	*f = flexInt(n)
	return nil
}
