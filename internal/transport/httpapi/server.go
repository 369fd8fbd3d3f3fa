// Package httpapi is the JSON API over the orchestration services.
//
// Routes (all under /api/v1 need a bearer token):
//
//	POST   /api/v1/users
//	GET    /api/v1/operations?window=daily|weekly|monthly
//	POST   /api/v1/operations
//	GET    /api/v1/operations/{id}
//	PUT    /api/v1/operations/{id}
//	DELETE /api/v1/operations/{id}
//	POST   /api/v1/operations/{id}/reminders
//	PUT    /api/v1/operations/{id}/reminders/{rid}
//	DELETE /api/v1/operations/{id}/reminders/{rid}
//	GET    /api/v1/notifications/stream   (WebSocket)
//	GET    /healthz
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"reglament/internal/service"
	logx "reglament/pkg/logx"
)

type Deps struct {
	Services *service.Services
	Auth     *Auth
	// Stream serves the notification WebSocket; nil leaves the route out.
	Stream http.Handler
	// Health reports component state on /healthz.
	Health func() any
	Log    logx.Logger
}

type Server struct {
	svc    *service.Services
	auth   *Auth
	stream http.Handler
	health func() any
	log    logx.Logger
}

func New(d Deps) *Server {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	return &Server{svc: d.Services, auth: d.Auth, stream: d.Stream, health: d.Health, log: d.Log}
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(s.auth.Middleware)
	api.HandleFunc("/users", s.handleRegister).Methods(http.MethodPost)
	api.HandleFunc("/operations", s.handleListOperations).Methods(http.MethodGet)
	api.HandleFunc("/operations", s.handleCreateOperation).Methods(http.MethodPost)
	api.HandleFunc("/operations/{id:[0-9]+}", s.handleGetOperation).Methods(http.MethodGet)
	api.HandleFunc("/operations/{id:[0-9]+}", s.handleUpdateOperation).Methods(http.MethodPut)
	api.HandleFunc("/operations/{id:[0-9]+}", s.handleDeleteOperation).Methods(http.MethodDelete)
	api.HandleFunc("/operations/{id:[0-9]+}/reminders", s.handleAddReminder).Methods(http.MethodPost)
	api.HandleFunc("/operations/{id:[0-9]+}/reminders/{rid:[0-9]+}", s.handleUpdateReminder).Methods(http.MethodPut)
	api.HandleFunc("/operations/{id:[0-9]+}/reminders/{rid:[0-9]+}", s.handleDeleteReminder).Methods(http.MethodDelete)
	if s.stream != nil {
		api.Handle("/notifications/stream", s.stream).Methods(http.MethodGet)
	}
	return r
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// fail maps service error kinds onto HTTP statuses.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, service.ErrValidation), errors.Is(err, service.ErrInvalidSchedule):
		status = http.StatusBadRequest
	}
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", logx.String("method", r.Method), logx.String("path", r.URL.Path), logx.Err(err))
		msg = "internal error"
	}
	writeJSON(w, status, errorBody{Error: msg})
}

func pathID(r *http.Request, name string) int64 {
	id, _ := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	return id
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body: " + err.Error()})
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{"status": "ok"}
	if s.health != nil {
		body["components"] = s.health()
	}
	writeJSON(w, http.StatusOK, body)
}
