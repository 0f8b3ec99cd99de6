package feedstore

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/beamapp/autoupdate/internal/httputil"
	"github.com/beamapp/autoupdate/internal/logging"
)

var log = logging.L("feedstore")

// HTTP fetches the feed document from a plain HTTPS endpoint.
type HTTP struct {
	URL    string
	Client *http.Client
	Retry  httputil.RetryConfig
}

// NewHTTP creates an HTTP feed store with default retry policy.
func NewHTTP(url string) *HTTP {
	return &HTTP{
		URL:    url,
		Client: &http.Client{Timeout: 30 * time.Second},
		Retry:  httputil.DefaultRetryConfig(),
	}
}

// Fetch downloads the feed document.
func (h *HTTP) Fetch(ctx context.Context) ([]byte, error) {
	if h.URL == "" {
		return nil, fmt.Errorf("feed URL is required")
	}

	log.Debug("fetching feed", "url", h.URL)
	data, err := httputil.GetBytes(ctx, h.Client, h.URL, h.Retry)
	if err != nil {
		return nil, fmt.Errorf("fetch feed from %s: %w", h.URL, err)
	}
	return data, nil
}
