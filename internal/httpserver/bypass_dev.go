//go:build devbypass

package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lucidlens/server/internal/callbacks"
	"github.com/lucidlens/server/internal/config"
	"github.com/lucidlens/server/internal/entitlement"
	apierrors "github.com/lucidlens/server/internal/errors"
	"github.com/lucidlens/server/internal/identity"
	"github.com/lucidlens/server/internal/logger"
)

// mountDevBypass adds POST /dev/bypassPayment outside production.
func mountDevBypass(r chi.Router, cfg *config.Config, prefix string, h handlers) {
	if !devBypassMounted(cfg) {
		return
	}
	h.logger.Warn().Msg("dev_bypass.mounted")
	r.Post(prefix+"/dev/bypassPayment", h.devBypassPayment)
}

func devBypassMounted(cfg *config.Config) bool {
	return !cfg.Logging.IsProduction()
}

// devBypassPayment unlocks the caller without a payment.
func (h *handlers) devBypassPayment(w http.ResponseWriter, r *http.Request) {
	user, _ := identity.UserFromContext(r.Context())
	log := logger.FromContext(r.Context())

	if err := h.entitlements.MergeSet(r.Context(), user.UID, map[string]any{entitlement.FieldHasPaid: true}); err != nil {
		log.Error().Err(err).Msg("dev_bypass.store_failed")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInternalError, msgInternal)
		return
	}

	log.Warn().Msg("dev_bypass.granted")
	h.metrics.ObserveBypassGrant()
	h.notifier.EntitlementGranted(r.Context(), callbacks.EntitlementEvent{
		UserID:    user.UID,
		Source:    callbacks.SourceDevBypass,
		GrantedAt: time.Now().UTC(),
	})
	writeJSON(w, http.StatusOK, verifyPaymentResponse{Success: true})
}
