package checkout

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/lucidlens/server/internal/httputil"
)

// Entitlement is one snapshot of the signed-in user's entitlement.
type Entitlement struct {
	UserID  string `json:"userId"`
	HasPaid bool   `json:"hasPaid"`
}

// WatchEntitlement subscribes to the server's entitlement stream. The
// returned channel yields every snapshot and is closed when ctx ends or the
// stream drops. Reconnecting is up to the caller.
func (o *Orchestrator) WatchEntitlement(ctx context.Context) (<-chan Entitlement, error) {
	token, err := o.token(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.cfg.BaseURL+"/entitlement/stream", nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "text/event-stream")

	// The stream outlives any per-request timeout.
	client := *o.http
	client.Timeout = 0

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := httputil.ReadBody(resp, maxResponseBody)
		return nil, decodeAPIError(resp.StatusCode, data)
	}

	out := make(chan Entitlement, 1)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		o.readEvents(ctx, resp, out)
	}()
	return out, nil
}

func (o *Orchestrator) readEvents(ctx context.Context, resp *http.Response, out chan<- Entitlement) {
	scanner := bufio.NewScanner(resp.Body)
	var event, data string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if event == "entitlement" && data != "" {
				var e Entitlement
				if err := json.Unmarshal([]byte(data), &e); err != nil {
					o.log.Warn().Err(err).Msg("checkout.stream.bad_event")
				} else {
					select {
					case out <- e:
					case <-ctx.Done():
						return
					}
				}
			}
			event, data = "", ""
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data += strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		o.log.Debug().Err(err).Msg("checkout.stream.closed")
	}
}
