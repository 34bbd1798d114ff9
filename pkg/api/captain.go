// Package api wires the Captain's and Sailor's HTTP surfaces (§6) on top
// of gorilla/mux: request decoding and validation, calling into
// pkg/captain's core logic, triggering the scheduler's assignment pass
// where the ordering guarantee in §5 requires it, and encoding the
// response. It imports captain and scheduler; neither of them imports
// api, so the handlers can call both without an import cycle.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/cuemby/captain/pkg/captain"
	"github.com/cuemby/captain/pkg/log"
	"github.com/cuemby/captain/pkg/metrics"
	"github.com/cuemby/captain/pkg/scheduler"
	"github.com/cuemby/captain/pkg/types"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

type contextKey string

const requestIDKey contextKey = "request_id"

// requestID returns the correlation ID attached by withRequestID, or ""
// if the request predates that middleware (e.g. in a unit test that
// calls a handler directly).
func requestID(r *http.Request) string {
	id, _ := r.Context().Value(requestIDKey).(string)
	return id
}

// withRequestID stamps every inbound request with a uuid, echoed back in
// the X-Request-Id response header and attached to the log lines this
// package writes for that request (a failed assignment pass, a failed
// async cancel notification). The id is not forwarded to sailors.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.New().String()
		w.Header().Set("X-Request-Id", id)
		r = r.WithContext(context.WithValue(r.Context(), requestIDKey, id))
		next.ServeHTTP(w, r)
	})
}

var validate = validator.New()

// NewCaptainRouter builds the Captain's HTTP surface (§6).
func NewCaptainRouter(cap *captain.Captain, sched *scheduler.Scheduler) http.Handler {
	h := &captainHandlers{cap: cap, sched: sched}

	r := mux.NewRouter()
	r.Use(withRequestID)
	r.Use(instrumentRoute)

	r.HandleFunc("/prereg", h.prereg).Methods(http.MethodPost)
	r.HandleFunc("/sailor_register", h.register).Methods(http.MethodPost)
	r.HandleFunc("/sailor_awake", h.awake).Methods(http.MethodPost)
	r.HandleFunc("/sailor_report", h.report).Methods(http.MethodPost)
	r.HandleFunc("/user_chore", h.submit).Methods(http.MethodPost)
	r.HandleFunc("/user_cancel", h.cancel).Methods(http.MethodPost)
	r.HandleFunc("/user_consult", h.consult).Methods(http.MethodGet)
	r.HandleFunc("/crew", h.crew).Methods(http.MethodGet)
	r.HandleFunc("/users", h.users).Methods(http.MethodGet)
	r.HandleFunc("/user_upsert", h.upsert).Methods(http.MethodPost)
	r.HandleFunc("/login", h.login).Methods(http.MethodPost)
	r.HandleFunc("/me/chores", h.auth(h.meChores)).Methods(http.MethodGet)
	r.HandleFunc("/me/cancel", h.auth(h.meCancel)).Methods(http.MethodPost)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	return r
}

type captainHandlers struct {
	cap   *captain.Captain
	sched *scheduler.Scheduler
}

func instrumentRoute(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		route := r.URL.Path
		timer.ObserveDurationVec(metrics.APIRequestDuration, route)
		metrics.APIRequestsTotal.WithLabelValues(route, strconv.Itoa(sw.status)).Inc()
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func decodeAndValidate(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return err
	}
	return validate.Struct(v)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, types.OKResponse{OK: false, Error: err.Error()})
}

func (h *captainHandlers) prereg(w http.ResponseWriter, r *http.Request) {
	var req types.PreregRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.cap.Prereg(req.Name, req.IP, req.Services, req.MaxTime); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, types.OKResponse{OK: true})
}

func (h *captainHandlers) register(w http.ResponseWriter, r *http.Request) {
	var req types.RegisterRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.cap.Register(req.Name, req.IP, req.Port, req.CPUs, req.GPUs, req.RAM); err != nil {
		if errors.Is(err, captain.ErrNotPreregistered) {
			writeError(w, http.StatusForbidden, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.triggerAssignment(r)
	writeJSON(w, http.StatusOK, types.OKResponse{OK: true})
}

func (h *captainHandlers) awake(w http.ResponseWriter, r *http.Request) {
	var req types.AwakeRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.cap.Awake(req.Name); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	h.triggerAssignment(r)
	writeJSON(w, http.StatusOK, types.OKResponse{OK: true})
}

func (h *captainHandlers) report(w http.ResponseWriter, r *http.Request) {
	var req types.ReportRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.cap.Report(req.Name, req.ChoreID, req.Status, req.ExitCode); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, types.OKResponse{OK: true})
}

func (h *captainHandlers) submit(w http.ResponseWriter, r *http.Request) {
	var req types.SubmitChoreRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	choreID, err := h.cap.Submit(captain.SubmitRequest{
		Script:    req.Script,
		Service:   req.Service,
		Resources: req.Resources,
		Owner:     req.Owner.Int(),
	})
	if err != nil {
		if errors.Is(err, captain.ErrChoresLimit) {
			metrics.ChoresRejectedTotal.WithLabelValues("chores_limit").Inc()
			writeError(w, http.StatusForbidden, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	metrics.ChoresSubmittedTotal.Inc()

	h.triggerAssignment(r)
	writeJSON(w, http.StatusOK, types.SubmitChoreResponse{OK: true, ChoreID: choreID})
}

func (h *captainHandlers) cancel(w http.ResponseWriter, r *http.Request) {
	var req types.CancelChoreRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	h.doCancel(w, r, req.ChoreID, req.Reason)
}

func (h *captainHandlers) doCancel(w http.ResponseWriter, r *http.Request, choreID, reason string) {
	sailorName, alreadyTerminal, err := h.cap.Cancel(choreID, reason)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if !alreadyTerminal && sailorName != "" {
		go h.notifySailorCancel(sailorName, choreID, requestID(r))
	}
	writeJSON(w, http.StatusOK, types.OKResponse{OK: true})
}

func (h *captainHandlers) notifySailorCancel(sailorName, choreID, reqID string) {
	crew, err := h.cap.Crew.Read()
	if err != nil {
		return
	}
	s, ok := crew[sailorName]
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), h.cap.Config().DispatchTimeout)
	defer cancel()
	if err := h.cap.Sailor.Cancel(ctx, s, types.CancelRequest{ChoreID: choreID}); err != nil {
		log.WithRequestID(reqID).Debug().Err(err).Str("sailor", sailorName).Str("chore_id", choreID).Msg("cancel notification failed")
	}
}

func (h *captainHandlers) consult(w http.ResponseWriter, r *http.Request) {
	owner := 0
	if v := r.URL.Query().Get("owner"); v != "" {
		owner, _ = strconv.Atoi(v)
	}
	all := r.URL.Query().Get("all") == "true" || r.URL.Query().Get("all") == "1"

	chores, err := h.cap.ListChores(owner, all)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, chores)
}

func (h *captainHandlers) crew(w http.ResponseWriter, r *http.Request) {
	view, err := h.cap.ListCrew()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *captainHandlers) users(w http.ResponseWriter, r *http.Request) {
	list, err := h.cap.ListUsers()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *captainHandlers) upsert(w http.ResponseWriter, r *http.Request) {
	var req types.UpsertUserRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var choresLimit *int
	if req.ChoresLimit != nil {
		n := req.ChoresLimit.Int()
		choresLimit = &n
	}
	if err := h.cap.UpsertUser(req.UID.Int(), req.Name, req.TimeLimit, choresLimit, req.Notes); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, types.OKResponse{OK: true})
}

func (h *captainHandlers) login(w http.ResponseWriter, r *http.Request) {
	var req types.LoginRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	uid, err := h.cap.Auth.Authenticate(req.Username, req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	tok, err := h.cap.Tokens.Issue(uid, req.Username, h.cap.Config().TokenTTL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, types.LoginResponse{Token: tok.Token, ExpiresAt: tok.ExpiresAt.Unix()})
}

// auth wraps a handler requiring a valid bearer token, passing the
// resolved uid to the wrapped handler as an argument for /me/* routes (§6).
func (h *captainHandlers) auth(next func(w http.ResponseWriter, r *http.Request, uid int)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hdr := r.Header.Get("Authorization")
		if !strings.HasPrefix(hdr, "Bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}
		tok, err := h.cap.Tokens.Validate(strings.TrimPrefix(hdr, "Bearer "))
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		next(w, r, tok.UID)
	}
}

func (h *captainHandlers) meChores(w http.ResponseWriter, r *http.Request, uid int) {
	chores, err := h.cap.ListChores(uid, false)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, chores)
}

func (h *captainHandlers) meCancel(w http.ResponseWriter, r *http.Request, uid int) {
	var req types.CancelChoreRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	chores, err := h.cap.ListChores(uid, false)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	owns := false
	for _, ch := range chores {
		if ch.ChoreID == req.ChoreID {
			owns = true
			break
		}
	}
	if !owns {
		writeError(w, http.StatusForbidden, errors.New("chore not owned by this user"))
		return
	}

	h.doCancel(w, r, req.ChoreID, req.Reason)
}

// triggerAssignment runs an assignment pass synchronously, satisfying the
// §5 ordering guarantee that submission/registration/heartbeat endpoints
// give pending chores at least one placement attempt before responding.
func (h *captainHandlers) triggerAssignment(r *http.Request) {
	if err := h.sched.Assign(r.Context()); err != nil {
		log.WithRequestID(requestID(r)).Error().Err(err).Msg("assignment pass failed")
	}
}
