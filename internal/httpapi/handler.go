package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"qme/internal/checkin"
	"qme/internal/eta"
	"qme/internal/models"
	"qme/internal/queue"
	"qme/internal/store"
	"qme/internal/verify"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Queues is the queue registry surface the handler needs.
type Queues interface {
	Create(ctx context.Context, input queue.CreateQueueInput) (models.Queue, error)
	Get(ctx context.Context, queueID string) (models.Queue, error)
	List(ctx context.Context, branchID string) ([]models.Queue, error)
	Close(ctx context.Context, queueID string) (int, error)
}

// Lines is the queue engine surface the handler needs.
type Lines interface {
	Enqueue(ctx context.Context, queueID, guestID string) (models.Ticket, error)
	Serve(ctx context.Context, queueID string) (models.Ticket, error)
	Dequeue(ctx context.Context, queueID string) (models.Ticket, error)
	Snapshot(queueID string) (queue.View, error)
}

type Estimator interface {
	Status(queueID, guestID string) (eta.Status, error)
}

// CheckIns resolves check-in codes; staff bind and unbind them.
type CheckIns interface {
	checkin.Resolver
	Bind(ctx context.Context, code string, target checkin.CheckIn, ttl time.Duration) error
	Unbind(ctx context.Context, code string) error
}

type Verifier interface {
	Register(ctx context.Context, name, phone string) (models.Guest, error)
	IssueChallenge(ctx context.Context, guestID string) (string, error)
	CheckChallenge(ctx context.Context, guestID, code string) (bool, error)
}

type Handler struct {
	queues     Queues
	lines      Lines
	estimator  Estimator
	verifier   Verifier
	sessions   store.SessionStore
	checkIns   CheckIns
	sessionTTL time.Duration
	now        func() time.Time
}

type Options struct {
	Queues     Queues
	Lines      Lines
	Estimator  Estimator
	Verifier   Verifier
	Sessions   store.SessionStore
	CheckIns   CheckIns
	SessionTTL time.Duration
}

type registerGuestRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

type verifyRequest struct {
	Code string `json:"code"`
}

type createQueueRequest struct {
	BranchID               string `json:"branch_id"`
	Name                   string `json:"name"`
	ServiceDurationSeconds int64  `json:"service_duration_seconds"`
}

type bindCheckInRequest struct {
	QueueID    string `json:"queue_id"`
	TTLSeconds int64  `json:"ttl_seconds"`
}

type registerGuestResponse struct {
	Guest         models.Guest `json:"guest"`
	ChallengeSent bool         `json:"challenge_sent"`
}

type sessionResponse struct {
	SessionID string    `json:"session_id"`
	GuestID   string    `json:"guest_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

type closeResponse struct {
	QueueID string `json:"queue_id"`
	Evicted int    `json:"evicted"`
}

type checkInResponse struct {
	CheckIn checkin.CheckIn `json:"check_in"`
	Ticket  models.Ticket   `json:"ticket"`
}

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewHandler(options Options) *Handler {
	ttl := options.SessionTTL
	if ttl <= 0 {
		ttl = 8 * time.Hour
	}
	return &Handler{
		queues:     options.Queues,
		lines:      options.Lines,
		estimator:  options.Estimator,
		verifier:   options.Verifier,
		sessions:   options.Sessions,
		checkIns:   options.CheckIns,
		sessionTTL: ttl,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/guests", h.handleGuests)
	mux.HandleFunc("/api/guests/", h.handleGuestActions)
	mux.HandleFunc("/api/queues", h.handleQueues)
	mux.HandleFunc("/api/queues/", h.handleQueue)
	mux.HandleFunc("/api/checkin/", h.handleCheckIn)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleGuests(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	requestID := requestIDFromRequest(r)

	var req registerGuestRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	guest, err := h.verifier.Register(r.Context(), req.Name, req.Phone)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, requestID, status, code, msg)
		return
	}
	if _, err := h.verifier.IssueChallenge(r.Context(), guest.GuestID); err != nil {
		status, code, msg := mapError(err)
		writeError(w, requestID, status, code, msg)
		return
	}

	writeJSON(w, http.StatusCreated, registerGuestResponse{Guest: guest, ChallengeSent: true})
}

func (h *Handler) handleGuestActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/guests/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 2 {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	guestID := parts[0]
	if !isValidUUID(guestID) {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "guest_id must be a UUID")
		return
	}

	switch parts[1] {
	case "challenge":
		h.handleIssueChallenge(w, r, guestID)
	case "verify":
		h.handleVerify(w, r, guestID)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleIssueChallenge(w http.ResponseWriter, r *http.Request, guestID string) {
	if _, err := h.verifier.IssueChallenge(r.Context(), guestID); err != nil {
		status, code, msg := mapError(err)
		writeError(w, requestIDFromRequest(r), status, code, msg)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"guest_id": guestID, "challenge_sent": true})
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request, guestID string) {
	requestID := requestIDFromRequest(r)

	var req verifyRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if req.Code == "" {
		writeError(w, requestID, http.StatusBadRequest, "invalid_request", "code is required")
		return
	}

	ok, err := h.verifier.CheckChallenge(r.Context(), guestID, req.Code)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, requestID, status, code, msg)
		return
	}
	if !ok {
		writeError(w, requestID, http.StatusUnauthorized, "invalid_code", "passcode invalid or expired")
		return
	}

	session, err := h.sessions.CreateSession(r.Context(), guestID, h.now().Add(h.sessionTTL))
	if err != nil {
		log.Error().Err(err).Str("guest_id", guestID).Msg("create session")
		writeError(w, requestID, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{SessionID: session.SessionID, GuestID: session.GuestID, ExpiresAt: session.ExpiresAt})
}

func (h *Handler) handleQueues(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleListQueues(w, r)
	case http.MethodPost:
		h.handleCreateQueue(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleListQueues(w http.ResponseWriter, r *http.Request) {
	branchID := strings.TrimSpace(r.URL.Query().Get("branch_id"))
	queues, err := h.queues.List(r.Context(), branchID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, requestIDFromRequest(r), status, code, msg)
		return
	}
	if queues == nil {
		queues = []models.Queue{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"queues": queues})
}

func (h *Handler) handleCreateQueue(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFromRequest(r)

	var req createQueueRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	req.BranchID = strings.TrimSpace(req.BranchID)
	if !isValidUUID(req.BranchID) {
		writeError(w, requestID, http.StatusBadRequest, "invalid_request", "branch_id must be a UUID")
		return
	}

	created, err := h.queues.Create(r.Context(), queue.CreateQueueInput{
		BranchID:        req.BranchID,
		Name:            req.Name,
		ServiceDuration: time.Duration(req.ServiceDurationSeconds) * time.Second,
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, requestID, status, code, msg)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) handleQueue(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/queues/")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	queueID := parts[0]
	if !isValidUUID(queueID) {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_request", "queue_id must be a UUID")
		return
	}

	switch {
	case len(parts) == 1:
		h.requireMethod(w, r, http.MethodGet, func() { h.handleGetQueue(w, r, queueID) })
	case len(parts) == 2 && parts[1] == "snapshot":
		h.requireMethod(w, r, http.MethodGet, func() { h.handleSnapshot(w, r, queueID) })
	case len(parts) == 2 && parts[1] == "status":
		h.requireMethod(w, r, http.MethodGet, func() { h.handleStatus(w, r, queueID) })
	case len(parts) == 2 && parts[1] == "enqueue":
		h.requireMethod(w, r, http.MethodPost, func() { h.handleEnqueue(w, r, queueID) })
	case len(parts) == 3 && parts[1] == "actions":
		h.requireMethod(w, r, http.MethodPost, func() { h.handleQueueAction(w, r, queueID, parts[2]) })
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) requireMethod(w http.ResponseWriter, r *http.Request, method string, next func()) {
	if r.Method != method {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	next()
}

func (h *Handler) handleGetQueue(w http.ResponseWriter, r *http.Request, queueID string) {
	found, err := h.queues.Get(r.Context(), queueID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, requestIDFromRequest(r), status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, found)
}

func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request, queueID string) {
	view, err := h.lines.Snapshot(queueID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, requestIDFromRequest(r), status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request, queueID string) {
	requestID := requestIDFromRequest(r)
	guestID := strings.TrimSpace(r.URL.Query().Get("guest_id"))
	if guestID == "" {
		if session, ok := sessionFromContext(r.Context()); ok {
			guestID = session.GuestID
		}
	}
	if !isValidUUID(guestID) {
		writeError(w, requestID, http.StatusBadRequest, "invalid_request", "guest_id must be a UUID")
		return
	}

	status, err := h.estimator.Status(queueID, guestID)
	if err != nil {
		code, errCode, msg := mapError(err)
		writeError(w, requestID, code, errCode, msg)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) handleEnqueue(w http.ResponseWriter, r *http.Request, queueID string) {
	session, ok := sessionFromContext(r.Context())
	if !ok {
		writeError(w, requestIDFromRequest(r), http.StatusUnauthorized, "unauthorized", "missing session")
		return
	}
	ticket, err := h.lines.Enqueue(r.Context(), queueID, session.GuestID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, requestIDFromRequest(r), status, code, msg)
		return
	}
	writeJSON(w, http.StatusCreated, ticket)
}

func (h *Handler) handleQueueAction(w http.ResponseWriter, r *http.Request, queueID, action string) {
	requestID := requestIDFromRequest(r)
	switch action {
	case "serve":
		ticket, err := h.lines.Serve(r.Context(), queueID)
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, requestID, status, code, msg)
			return
		}
		writeJSON(w, http.StatusOK, ticket)
	case "dequeue":
		ticket, err := h.lines.Dequeue(r.Context(), queueID)
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, requestID, status, code, msg)
			return
		}
		writeJSON(w, http.StatusOK, ticket)
	case "close":
		evicted, err := h.queues.Close(r.Context(), queueID)
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, requestID, status, code, msg)
			return
		}
		writeJSON(w, http.StatusOK, closeResponse{QueueID: queueID, Evicted: evicted})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleCheckIn(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFromRequest(r)

	code := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/checkin/"), "/")
	if code == "" || strings.Contains(code, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if h.checkIns == nil {
		writeError(w, requestID, http.StatusServiceUnavailable, "checkin_unavailable", "check-in is not configured")
		return
	}

	switch r.Method {
	case http.MethodPost:
		h.handleJoinByCode(w, r, code)
	case http.MethodPut:
		h.handleBindCode(w, r, code)
	case http.MethodDelete:
		if err := h.checkIns.Unbind(r.Context(), code); err != nil {
			status, errCode, msg := mapError(err)
			writeError(w, requestID, status, errCode, msg)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleJoinByCode(w http.ResponseWriter, r *http.Request, code string) {
	requestID := requestIDFromRequest(r)
	session, ok := sessionFromContext(r.Context())
	if !ok {
		writeError(w, requestID, http.StatusUnauthorized, "unauthorized", "missing session")
		return
	}

	target, err := h.checkIns.Resolve(r.Context(), code)
	if err != nil {
		status, errCode, msg := mapError(err)
		writeError(w, requestID, status, errCode, msg)
		return
	}
	ticket, err := h.lines.Enqueue(r.Context(), target.QueueID, session.GuestID)
	if err != nil {
		status, errCode, msg := mapError(err)
		writeError(w, requestID, status, errCode, msg)
		return
	}
	writeJSON(w, http.StatusCreated, checkInResponse{CheckIn: target, Ticket: ticket})
}

func (h *Handler) handleBindCode(w http.ResponseWriter, r *http.Request, code string) {
	requestID := requestIDFromRequest(r)

	var req bindCheckInRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if !isValidUUID(req.QueueID) || req.TTLSeconds < 0 {
		writeError(w, requestID, http.StatusBadRequest, "invalid_request", "queue_id must be a UUID and ttl_seconds non-negative")
		return
	}
	target, err := h.queues.Get(r.Context(), req.QueueID)
	if err != nil {
		status, errCode, msg := mapError(err)
		writeError(w, requestID, status, errCode, msg)
		return
	}
	if target.Closed {
		writeError(w, requestID, http.StatusConflict, "queue_closed", "queue is closed")
		return
	}

	binding := checkin.CheckIn{BranchID: target.BranchID, QueueID: target.QueueID}
	if err := h.checkIns.Bind(r.Context(), code, binding, time.Duration(req.TTLSeconds)*time.Second); err != nil {
		status, errCode, msg := mapError(err)
		writeError(w, requestID, status, errCode, msg)
		return
	}
	writeJSON(w, http.StatusOK, binding)
}

func isValidUUID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}

func decodeRequest(w http.ResponseWriter, r *http.Request, target any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return false
	}
	switch t := target.(type) {
	case *registerGuestRequest:
		t.Name = strings.TrimSpace(t.Name)
		t.Phone = strings.TrimSpace(t.Phone)
	case *verifyRequest:
		t.Code = strings.TrimSpace(t.Code)
	case *createQueueRequest:
		t.BranchID = strings.TrimSpace(t.BranchID)
		t.Name = strings.TrimSpace(t.Name)
	case *bindCheckInRequest:
		t.QueueID = strings.TrimSpace(t.QueueID)
	}
	return true
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, queue.ErrQueueNotFound):
		return http.StatusNotFound, "queue_not_found", "queue not found"
	case errors.Is(err, queue.ErrTicketNotFound):
		return http.StatusNotFound, "ticket_not_found", "guest has no active ticket in this queue"
	case errors.Is(err, store.ErrGuestNotFound):
		return http.StatusNotFound, "guest_not_found", "guest not found"
	case errors.Is(err, checkin.ErrCheckInNotFound):
		return http.StatusNotFound, "checkin_not_found", "check-in code not found"
	case errors.Is(err, queue.ErrQueueClosed):
		return http.StatusConflict, "queue_closed", "queue is closed"
	case errors.Is(err, queue.ErrAlreadyEnqueued):
		return http.StatusConflict, "already_enqueued", "guest already holds a ticket in this queue"
	case errors.Is(err, queue.ErrAlreadyServing):
		return http.StatusConflict, "already_serving", "a guest is already being served"
	case errors.Is(err, queue.ErrQueueEmpty):
		return http.StatusConflict, "queue_empty", "no guest is waiting"
	case errors.Is(err, queue.ErrNothingServing):
		return http.StatusConflict, "nothing_serving", "no guest is being served"
	case errors.Is(err, queue.ErrInvalidState):
		return http.StatusConflict, "invalid_state", "ticket state does not allow this action"
	case errors.Is(err, queue.ErrInvalidInput), errors.Is(err, verify.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_request", err.Error()
	case errors.Is(err, store.ErrSessionNotFound):
		return http.StatusUnauthorized, "unauthorized", "invalid session"
	case errors.Is(err, store.ErrStorage):
		log.Error().Err(err).Msg("storage failure")
		return http.StatusInternalServerError, "storage_error", "storage unavailable"
	default:
		log.Error().Err(err).Msg("unhandled error")
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
