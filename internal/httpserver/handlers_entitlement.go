package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/lucidlens/server/internal/entitlement"
	apierrors "github.com/lucidlens/server/internal/errors"
	"github.com/lucidlens/server/internal/identity"
	"github.com/lucidlens/server/internal/logger"
)

const streamHeartbeat = 25 * time.Second

type entitlementResponse struct {
	UserID  string `json:"userId"`
	HasPaid bool   `json:"hasPaid"`
}

func toEntitlementResponse(rec entitlement.Record) entitlementResponse {
	return entitlementResponse{UserID: rec.UserID, HasPaid: rec.HasPaid}
}

// getEntitlement handles GET /entitlement.
func (h *handlers) getEntitlement(w http.ResponseWriter, r *http.Request) {
	user, _ := identity.UserFromContext(r.Context())

	rec, err := h.entitlements.Get(r.Context(), user.UID)
	if err != nil {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Msg("entitlement.get.failed")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeDatabaseError, msgInternal)
		return
	}
	writeJSON(w, http.StatusOK, toEntitlementResponse(rec))
}

// streamEntitlement handles GET /entitlement/stream. Every snapshot of the
// caller's record is pushed as an "entitlement" server-sent event until the
// client disconnects.
func (h *handlers) streamEntitlement(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)
	user, _ := identity.UserFromContext(ctx)

	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		log.Debug().Err(err).Msg("entitlement.stream.deadline_unsupported")
	}

	updates, err := h.entitlements.Subscribe(ctx, user.UID)
	if err != nil {
		log.Error().Err(err).Msg("entitlement.stream.subscribe_failed")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeUnavailable, "Entitlement updates are unavailable.")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		log.Error().Err(err).Msg("entitlement.stream.flush_unsupported")
		return
	}

	h.metrics.StreamOpened()
	defer h.metrics.StreamClosed()
	log.Debug().Msg("entitlement.stream.opened")

	heartbeat := time.NewTicker(streamHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("entitlement.stream.closed")
			return
		case rec, ok := <-updates:
			if !ok {
				return
			}
			data, err := json.Marshal(toEntitlementResponse(rec))
			if err != nil {
				log.Error().Err(err).Msg("entitlement.stream.encode_failed")
				return
			}
			if _, err := fmt.Fprintf(w, "event: entitlement\ndata: %s\n\n", data); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}
