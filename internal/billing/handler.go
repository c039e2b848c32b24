package billing

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/sessionledger/sessionledger/internal/platform/httpx"
)

const dateLayout = "2006-01-02"

// Handler exposes the billing engine to its collaborators as a JSON API.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// MountRoutes registers billing routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/sessions", h.createSession)
	r.Get("/sessions/{id}", h.getSession)
	r.Put("/sessions/{id}", h.updateSession)
	r.Delete("/sessions/{id}", h.deleteSession)
	r.Post("/sessions/{id}/evidence", h.attachEvidence)

	r.Get("/due/{accountID}/{date}", h.getDailyDue)
	r.Post("/materialize", h.materialize)
	r.Post("/advances", h.recordAdvance)
}

type createSessionRequest struct {
	AccountID   int64  `json:"account_id" validate:"required,gt=0"`
	Date        string `json:"date" validate:"required"`
	MemberCount int    `json:"member_count" validate:"required,gt=0"`
	MemberClass string `json:"member_class" validate:"omitempty,oneof=standard foreign premium"`
	Attended    bool   `json:"attended"`
	EvidenceRef string `json:"evidence_ref"`
	Status      string `json:"status" validate:"omitempty,oneof=active cancelled invalid_credentials not_live"`
}

type sessionResponse struct {
	ID               int64  `json:"id"`
	AccountID        int64  `json:"account_id"`
	TemplateID       *int64 `json:"template_id,omitempty"`
	CascadeAccountID *int64 `json:"cascade_account_id,omitempty"`
	Date             string `json:"date"`
	MemberCount      int    `json:"member_count"`
	MemberClass      string `json:"member_class"`
	Attended         bool   `json:"attended"`
	EvidenceRef      string `json:"evidence_ref,omitempty"`
	Status           string `json:"status"`
}

func toSessionResponse(s *SessionInstance) sessionResponse {
	return sessionResponse{
		ID:               s.ID,
		AccountID:        s.AccountID,
		TemplateID:       s.TemplateID,
		CascadeAccountID: s.CascadeAccountID,
		Date:             s.Date.Format(dateLayout),
		MemberCount:      s.MemberCount,
		MemberClass:      string(s.MemberClass),
		Attended:         s.Attended,
		EvidenceRef:      s.EvidenceRef,
		Status:           string(s.Status),
	}
}

func (h *Handler) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	date, err := time.Parse(dateLayout, req.Date)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Date", "date must be YYYY-MM-DD")
		return
	}

	created, err := h.service.CreateSession(r.Context(), SessionInstanceInput{
		AccountID:   req.AccountID,
		Date:        date,
		MemberCount: req.MemberCount,
		MemberClass: MemberClass(req.MemberClass),
		Attended:    req.Attended,
		EvidenceRef: req.EvidenceRef,
		Status:      InstanceStatus(req.Status),
	})
	if err != nil {
		h.respondError(w, "create session", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toSessionResponse(created))
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "session id must be numeric")
		return
	}
	instance, err := h.service.GetSession(r.Context(), id)
	if err != nil {
		h.respondError(w, "get session", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toSessionResponse(instance))
}

type updateSessionRequest struct {
	Date        string `json:"date" validate:"required"`
	MemberCount int    `json:"member_count" validate:"required,gt=0"`
	MemberClass string `json:"member_class" validate:"required,oneof=standard foreign premium"`
	Attended    bool   `json:"attended"`
	EvidenceRef string `json:"evidence_ref"`
	Status      string `json:"status" validate:"required,oneof=active cancelled invalid_credentials not_live"`
}

func (h *Handler) updateSession(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "session id must be numeric")
		return
	}
	var req updateSessionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	date, err := time.Parse(dateLayout, req.Date)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Date", "date must be YYYY-MM-DD")
		return
	}

	updated, err := h.service.UpdateSession(r.Context(), &SessionInstance{
		ID:          id,
		Date:        date,
		MemberCount: req.MemberCount,
		MemberClass: MemberClass(req.MemberClass),
		Attended:    req.Attended,
		EvidenceRef: req.EvidenceRef,
		Status:      InstanceStatus(req.Status),
	})
	if err != nil {
		h.respondError(w, "update session", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toSessionResponse(updated))
}

func (h *Handler) deleteSession(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "session id must be numeric")
		return
	}
	if err := h.service.DeleteSession(r.Context(), id); err != nil {
		h.respondError(w, "delete session", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type attachEvidenceRequest struct {
	EvidenceRef string `json:"evidence_ref"`
}

func (h *Handler) attachEvidence(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "session id must be numeric")
		return
	}
	var req attachEvidenceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	updated, err := h.service.AttachEvidence(r.Context(), id, req.EvidenceRef)
	if err != nil {
		h.respondError(w, "attach evidence", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toSessionResponse(updated))
}

type dailyDueResponse struct {
	AccountID        int64  `json:"account_id"`
	Date             string `json:"date"`
	Gross            string `json:"gross"`
	AdvanceAmortized string `json:"advance_amortized"`
	Net              string `json:"net"`
	SessionCount     int    `json:"session_count"`
}

func (h *Handler) getDailyDue(w http.ResponseWriter, r *http.Request) {
	accountID, err := strconv.ParseInt(chi.URLParam(r, "accountID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", "account id must be numeric")
		return
	}
	date, err := time.Parse(dateLayout, chi.URLParam(r, "date"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Date", "date must be YYYY-MM-DD")
		return
	}
	entry, err := h.service.GetDailyDue(r.Context(), accountID, date)
	if err != nil {
		h.respondError(w, "get daily due", err)
		return
	}
	httpx.JSON(w, http.StatusOK, dailyDueResponse{
		AccountID:        entry.AccountID,
		Date:             entry.Date.Format(dateLayout),
		Gross:            entry.Gross.String(),
		AdvanceAmortized: entry.AdvanceAmortized.String(),
		Net:              entry.Net.String(),
		SessionCount:     entry.SessionCount,
	})
}

type materializeRequest struct {
	AsOf      string `json:"as_of"`
	AccountID *int64 `json:"account_id"`
}

type materializeResponse struct {
	CreatedCount int               `json:"created_count"`
	Created      []sessionResponse `json:"created"`
	FailedCount  int               `json:"failed_count"`
}

func (h *Handler) materialize(w http.ResponseWriter, r *http.Request) {
	var req materializeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	asOf := time.Now()
	if req.AsOf != "" {
		parsed, err := time.Parse(dateLayout, req.AsOf)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Date", "as_of must be YYYY-MM-DD")
			return
		}
		asOf = parsed
	}

	result, err := h.service.MaterializeRecurring(r.Context(), asOf, req.AccountID)
	if err != nil {
		h.respondError(w, "materialize", err)
		return
	}
	resp := materializeResponse{
		CreatedCount: len(result.Created),
		Created:      make([]sessionResponse, 0, len(result.Created)),
		FailedCount:  len(result.Errors),
	}
	for i := range result.Created {
		resp.Created = append(resp.Created, toSessionResponse(&result.Created[i]))
	}
	httpx.JSON(w, http.StatusOK, resp)
}

type recordAdvanceRequest struct {
	AccountID     int64  `json:"account_id" validate:"required,gt=0"`
	Amount        string `json:"amount" validate:"required"`
	EffectiveFrom string `json:"effective_from" validate:"required"`
}

func (h *Handler) recordAdvance(w http.ResponseWriter, r *http.Request) {
	var req recordAdvanceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Amount", "amount must be a decimal string")
		return
	}
	effectiveFrom, err := time.Parse(dateLayout, req.EffectiveFrom)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Date", "effective_from must be YYYY-MM-DD")
		return
	}

	adv, err := h.service.RecordAdvance(r.Context(), req.AccountID, amount, effectiveFrom)
	if err != nil {
		h.respondError(w, "record advance", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"id":             adv.ID,
		"account_id":     adv.AccountID,
		"remaining":      adv.Remaining.String(),
		"effective_from": adv.EffectiveFrom.Format(dateLayout),
		"active":         adv.Active,
	})
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	h.logger.Error(op, slog.Any("error", err))
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrRateNotConfigured):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Rate Not Configured", err.Error())
	case errors.Is(err, ErrConcurrencyConflict), errors.Is(err, ErrDuplicateInstance):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidWeekday):
		httpx.Problem(w, http.StatusBadRequest, "Invalid Input", err.Error())
	default:
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
