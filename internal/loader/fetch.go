package loader

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

var errRemoteDisabled = errors.New("remote artifacts are disabled")

// Fetcher downloads a remote artifact into memory before the strategy
// chain runs. Retries cover transient transport failures only; HTTP error
// statuses are final.
type Fetcher struct {
	client *resty.Client
}

// NewFetcher builds a fetcher with the given per-request timeout.
func NewFetcher(timeout time.Duration) *Fetcher {
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond)
	return &Fetcher{client: client}
}

// Fetch downloads the artifact bytes.
func (f *Fetcher) Fetch(url string) ([]byte, error) {
	resp, err := f.client.R().Get(url)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode())
	}
	log.Debug().Str("url", url).Int("bytes", len(resp.Body())).Msg("artifact fetched")
	return resp.Body(), nil
}
