package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"reglament/internal/ledger"
	"reglament/internal/occurrence"
	"reglament/internal/service"
)

type operationRequest struct {
	Theme       string                 `json:"theme"`
	Description string                 `json:"description"`
	StartDate   time.Time              `json:"start_date"`
	Granularity occurrence.Granularity `json:"granularity"`
	Reminders   []reminderRequest      `json:"reminders,omitempty"`
}

// reminderRequest takes the lead time either as a Go duration string or as a
// granularity name ("hourly" means one hour before).
type reminderRequest struct {
	Message           string                  `json:"message"`
	Offset            string                  `json:"offset,omitempty"`
	OffsetGranularity *occurrence.Granularity `json:"offset_granularity,omitempty"`
}

func (r reminderRequest) input() (service.ReminderInput, error) {
	in := service.ReminderInput{Message: r.Message}
	switch {
	case r.Offset != "":
		d, err := time.ParseDuration(r.Offset)
		if err != nil {
			return in, fmt.Errorf("%w: offset: %v", service.ErrValidation, err)
		}
		in.Offset = d
	case r.OffsetGranularity != nil:
		in.Offset = occurrence.OffsetFor(*r.OffsetGranularity)
	}
	return in, nil
}

func (o operationRequest) input() (service.OperationInput, error) {
	in := service.OperationInput{
		Theme:       o.Theme,
		Description: o.Description,
		StartDate:   o.StartDate,
		Granularity: o.Granularity,
	}
	for _, r := range o.Reminders {
		ri, err := r.input()
		if err != nil {
			return in, err
		}
		in.Reminders = append(in.Reminders, ri)
	}
	return in, nil
}

type instanceView struct {
	ID          int64      `json:"id"`
	ScheduledAt time.Time  `json:"scheduled_at"`
	Result      string     `json:"result,omitempty"`
	ExecutedAt  *time.Time `json:"executed_at,omitempty"`
}

type reminderView struct {
	ID          int64      `json:"id"`
	OperationID int64      `json:"operation_id"`
	Message     string     `json:"message"`
	Offset      string     `json:"offset"`
	FireAt      *time.Time `json:"fire_at,omitempty"`
}

type operationView struct {
	ID                int64                  `json:"id"`
	Theme             string                 `json:"theme"`
	Description       string                 `json:"description"`
	StartDate         time.Time              `json:"start_date"`
	Granularity       occurrence.Granularity `json:"granularity"`
	Recurrence        string                 `json:"recurrence,omitempty"`
	OwnerID           int64                  `json:"owner_id"`
	PendingInstanceID *int64                 `json:"pending_instance_id,omitempty"`
	History           []instanceView         `json:"history"`
	Reminders         []reminderView         `json:"reminders,omitempty"`
}

func viewReminder(op *ledger.Operation, r *ledger.Reminder) reminderView {
	v := reminderView{ID: r.ID, OperationID: r.OperationID, Message: r.MessageTemplate, Offset: r.Offset.String()}
	if op != nil {
		at := ledger.FireAt(op, r)
		v.FireAt = &at
	}
	return v
}

func viewOperation(op *ledger.Operation, rs []*ledger.Reminder) operationView {
	v := operationView{
		ID:                op.ID,
		Theme:             op.Theme,
		Description:       op.Description,
		StartDate:         op.StartDate,
		Granularity:       op.Granularity(),
		Recurrence:        op.Recurrence,
		OwnerID:           op.OwnerID,
		PendingInstanceID: op.PendingInstanceID,
		History:           make([]instanceView, 0, len(op.History)),
	}
	for _, in := range op.History {
		v.History = append(v.History, instanceView{ID: in.ID, ScheduledAt: in.ScheduledAt, Result: in.Result, ExecutedAt: in.ExecutedAt})
	}
	for _, r := range rs {
		v.Reminders = append(v.Reminders, viewReminder(op, r))
	}
	return v
}

func owner(r *http.Request) int64 {
	id, _ := OwnerFrom(r.Context())
	return id
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	u, created, err := s.svc.Users.Register(r.Context(), owner(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{"id": u.ID, "telegram_id": u.TelegramID, "created": created})
}

func (s *Server) handleListOperations(w http.ResponseWriter, r *http.Request) {
	window := occurrence.None
	if q := r.URL.Query().Get("window"); q != "" {
		g, err := occurrence.ParseGranularity(q)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
			return
		}
		window = g
	}
	ops, err := s.svc.Operations.List(r.Context(), owner(r), window)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]operationView, 0, len(ops))
	for _, op := range ops {
		out = append(out, viewOperation(op, nil))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetOperation(w http.ResponseWriter, r *http.Request) {
	op, rs, err := s.svc.Operations.Get(r.Context(), owner(r), pathID(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOperation(op, rs))
}

func (s *Server) handleCreateOperation(w http.ResponseWriter, r *http.Request) {
	var req operationRequest
	if !decode(w, r, &req) {
		return
	}
	in, err := req.input()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	op, rs, err := s.svc.Operations.Create(r.Context(), owner(r), in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewOperation(op, rs))
}

func (s *Server) handleUpdateOperation(w http.ResponseWriter, r *http.Request) {
	var req operationRequest
	if !decode(w, r, &req) {
		return
	}
	in, err := req.input()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	op, err := s.svc.Operations.Update(r.Context(), owner(r), pathID(r, "id"), in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOperation(op, nil))
}

func (s *Server) handleDeleteOperation(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Operations.Delete(r.Context(), owner(r), pathID(r, "id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAddReminder(w http.ResponseWriter, r *http.Request) {
	var req reminderRequest
	if !decode(w, r, &req) {
		return
	}
	in, err := req.input()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	rem, err := s.svc.Reminders.Add(r.Context(), owner(r), pathID(r, "id"), in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewReminder(nil, rem))
}

func (s *Server) handleUpdateReminder(w http.ResponseWriter, r *http.Request) {
	var req reminderRequest
	if !decode(w, r, &req) {
		return
	}
	in, err := req.input()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	rem, err := s.svc.Reminders.Update(r.Context(), owner(r), pathID(r, "id"), pathID(r, "rid"), in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewReminder(nil, rem))
}

func (s *Server) handleDeleteReminder(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Reminders.Delete(r.Context(), owner(r), pathID(r, "id"), pathID(r, "rid")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
