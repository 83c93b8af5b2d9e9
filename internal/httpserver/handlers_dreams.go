package httpserver

import (
	"net/http"

	"github.com/lucidlens/server/internal/dream"
	apierrors "github.com/lucidlens/server/internal/errors"
	"github.com/lucidlens/server/internal/identity"
)

// Saved dreams carry their images as data URLs.
const maxDreamBodyBytes = 32 << 20

type visualizeRequest struct {
	Text string `json:"text"`
}

type listDreamsResponse struct {
	Dreams []dream.Dream `json:"dreams"`
}

// visualizeDream handles POST /dreams/visualize.
func (h *handlers) visualizeDream(w http.ResponseWriter, r *http.Request) {
	user, _ := identity.UserFromContext(r.Context())

	var req visualizeRequest
	if err := decodeBody(w, r, maxBodyBytes, &req); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidBody, "Request body must be {\"text\": string}.")
		return
	}

	v, err := h.dreams.Visualize(r.Context(), user, req.Text)
	if err != nil {
		dreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// saveDream handles POST /dreams.
func (h *handlers) saveDream(w http.ResponseWriter, r *http.Request) {
	user, _ := identity.UserFromContext(r.Context())

	var req dream.Visualization
	if err := decodeBody(w, r, maxDreamBodyBytes, &req); err != nil {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInvalidBody, "Invalid dream.")
		return
	}

	d, err := h.dreams.Save(r.Context(), user, req)
	if err != nil {
		dreamError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

// listDreams handles GET /dreams.
func (h *handlers) listDreams(w http.ResponseWriter, r *http.Request) {
	user, _ := identity.UserFromContext(r.Context())

	dreams, err := h.dreams.List(r.Context(), user)
	if err != nil {
		dreamError(w, err)
		return
	}
	if dreams == nil {
		dreams = []dream.Dream{}
	}
	writeJSON(w, http.StatusOK, listDreamsResponse{Dreams: dreams})
}
