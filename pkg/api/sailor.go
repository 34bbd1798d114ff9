package api

import (
	"errors"
	"net/http"

	"github.com/cuemby/captain/pkg/sailor"
	"github.com/cuemby/captain/pkg/types"
	"github.com/gorilla/mux"
)

// NewSailorRouter builds the Sailor's inbound HTTP surface (§6): the
// Captain-facing endpoints used to dispatch and cancel chores.
func NewSailorRouter(agent *sailor.Agent) http.Handler {
	h := &sailorHandlers{agent: agent}

	r := mux.NewRouter()
	r.Use(withRequestID)
	r.Use(instrumentRoute)

	r.HandleFunc("/captain_request", h.launch).Methods(http.MethodPost)
	r.HandleFunc("/captain_cancel", h.cancel).Methods(http.MethodPost)
	r.HandleFunc("/captain_cancels", h.cancel).Methods(http.MethodPost)
	r.HandleFunc("/captain_cancels/", h.cancel).Methods(http.MethodPost)

	return r
}

type sailorHandlers struct {
	agent *sailor.Agent
}

func (h *sailorHandlers) launch(w http.ResponseWriter, r *http.Request) {
	var req types.LaunchRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if _, err := h.agent.Launch(req); err != nil {
		if errors.Is(err, sailor.ErrForbidden) {
			writeError(w, http.StatusForbidden, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, types.OKResponse{OK: true})
}

func (h *sailorHandlers) cancel(w http.ResponseWriter, r *http.Request) {
	var req types.CancelRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.agent.Cancel(req.ChoreID); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, types.OKResponse{OK: true})
}
