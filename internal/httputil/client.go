package httputil

import (
	"fmt"
	"io"
	"net/http"
	"time"
)

// MaxErrorBody bounds how much of an upstream error body is kept for logs.
const MaxErrorBody = 4 << 10

// NewClient creates an HTTP client with the given timeout and a transport tuned
// for repeated calls to the same few upstream hosts.
func NewClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// ReadBody reads at most limit bytes of resp.Body and closes it.
// It fails if the body is larger than limit.
func ReadBody(resp *http.Response, limit int64) ([]byte, error) {
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("response body exceeds %d bytes", limit)
	}
	return data, nil
}

// ErrorSnippet returns a truncated copy of an upstream error body for logging.
func ErrorSnippet(body []byte) string {
	if len(body) > 512 {
		return string(body[:512]) + "..."
	}
	return string(body)
}
