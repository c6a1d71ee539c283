// Package http exposes the operational surface: session projections,
// connection statistics and the interactive auth endpoints.
package http

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/fasthttp/router"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"

	"github.com/Hwoarang91/afrodita-sub000/internal/domain"
	"github.com/Hwoarang91/afrodita-sub000/internal/infrastructure/telegram"
	"github.com/Hwoarang91/afrodita-sub000/internal/utils"
	pkgerrors "github.com/Hwoarang91/afrodita-sub000/pkg/errors"
)

// SessionView is the read-only projection of a session record
type SessionView struct {
	ID            string     `json:"id"`
	OwnerID       string     `json:"owner_id"`
	PhoneNumber   string     `json:"phone_number,omitempty"`
	Status        string     `json:"status"`
	IsActive      bool       `json:"is_active"`
	InvalidReason string     `json:"invalid_reason,omitempty"`
	DatacenterID  int        `json:"datacenter_id,omitempty"`
	Probe         string     `json:"probe"`
	LastUsedAt    *time.Time `json:"last_used_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// AuthFlowView is the wire form of an auth flow snapshot
type AuthFlowView struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"session_id"`
	Status       string    `json:"status"`
	PhoneNumber  string    `json:"phone_number,omitempty"`
	QRURL        string    `json:"qr_url,omitempty"`
	QRCodeBase64 string    `json:"qr_code_base64,omitempty"`
	Error        string    `json:"error,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Handler serves the session management API
type Handler struct {
	repo      domain.SessionRepository
	manager   *telegram.SessionManager
	monitor   *telegram.HealthMonitor
	phoneAuth *telegram.PhoneAuthManager
	qrAuth    *telegram.QRAuthManager
	mapper    *pkgerrors.Mapper
	logger    zerolog.Logger
}

// NewHandler creates the API handler
func NewHandler(
	repo domain.SessionRepository,
	manager *telegram.SessionManager,
	monitor *telegram.HealthMonitor,
	phoneAuth *telegram.PhoneAuthManager,
	qrAuth *telegram.QRAuthManager,
	logger zerolog.Logger,
) *Handler {
	return &Handler{
		repo:      repo,
		manager:   manager,
		monitor:   monitor,
		phoneAuth: phoneAuth,
		qrAuth:    qrAuth,
		mapper:    pkgerrors.NewMapper(logger),
		logger:    logger.With().Str("component", "http_handler").Logger(),
	}
}

// Register attaches all routes to the router
func (h *Handler) Register(r *router.Router) {
	r.GET("/api/v1/sessions", h.ListSessions)
	r.GET("/api/v1/sessions/stats", h.ConnectionStats)
	r.DELETE("/api/v1/sessions/{id}", h.RemoveSession)

	r.POST("/api/v1/auth/phone", h.StartPhoneAuth)
	r.GET("/api/v1/auth/phone/{id}", h.PhoneAuthStatus)
	r.POST("/api/v1/auth/phone/{id}/code", h.SubmitCode)
	r.POST("/api/v1/auth/phone/{id}/password", h.SubmitPhonePassword)
	r.DELETE("/api/v1/auth/phone/{id}", h.CancelPhoneAuth)

	r.POST("/api/v1/auth/qr", h.StartQRAuth)
	r.GET("/api/v1/auth/qr/{id}", h.QRAuthStatus)
	r.POST("/api/v1/auth/qr/{id}/password", h.SubmitQRPassword)
	r.DELETE("/api/v1/auth/qr/{id}", h.CancelQRAuth)
}

// ListSessions returns session projections for one owner, or for everyone
// when all=true is passed (admin surface)
func (h *Handler) ListSessions(ctx *fasthttp.RequestCtx) {
	var (
		records []*domain.Session
		err     error
	)

	if string(ctx.QueryArgs().Peek("all")) == "true" {
		records, err = h.repo.ListAll(ctx)
	} else {
		ownerID := string(ctx.QueryArgs().Peek("owner_id"))
		if ownerID == "" {
			h.writeError(ctx, pkgerrors.NewValidationError("owner_id is required"))
			return
		}
		records, err = h.repo.ListByOwner(ctx, ownerID)
	}
	if err != nil {
		h.writeError(ctx, err)
		return
	}

	views := make([]SessionView, len(records))
	for i, record := range records {
		views[i] = h.toView(record)
	}
	h.writeJSON(ctx, fasthttp.StatusOK, views)
}

// ConnectionStats returns the health monitor's summary
func (h *Handler) ConnectionStats(ctx *fasthttp.RequestCtx) {
	h.writeJSON(ctx, fasthttp.StatusOK, h.monitor.Stats())
}

// RemoveSession disconnects and retires one session
func (h *Handler) RemoveSession(ctx *fasthttp.RequestCtx) {
	sessionID := ctx.UserValue("id").(string)
	if err := h.manager.RemoveSession(ctx, sessionID); err != nil {
		h.writeError(ctx, err)
		return
	}
	ctx.SetStatusCode(fasthttp.StatusNoContent)
}

type startPhoneAuthRequest struct {
	OwnerID     string `json:"owner_id"`
	PhoneNumber string `json:"phone_number"`
	APIID       int    `json:"api_id,omitempty"`
	APIHash     string `json:"api_hash,omitempty"`
}

// StartPhoneAuth begins a phone-code login flow
func (h *Handler) StartPhoneAuth(ctx *fasthttp.RequestCtx) {
	var req startPhoneAuthRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		h.writeError(ctx, pkgerrors.NewValidationError("invalid request body"))
		return
	}
	if req.OwnerID == "" {
		h.writeError(ctx, pkgerrors.NewValidationError("owner_id is required"))
		return
	}

	flowID, err := h.phoneAuth.Start(ctx, req.OwnerID, req.PhoneNumber, req.APIID, req.APIHash)
	if err != nil {
		h.writeError(ctx, err)
		return
	}

	h.logger.Info().
		Str("owner_id", req.OwnerID).
		Str("phone", utils.MaskPhoneNumber(req.PhoneNumber)).
		Msg("Phone auth requested")
	h.writeJSON(ctx, fasthttp.StatusAccepted, map[string]string{"flow_id": flowID})
}

// PhoneAuthStatus returns the flow snapshot
func (h *Handler) PhoneAuthStatus(ctx *fasthttp.RequestCtx) {
	state, err := h.phoneAuth.Status(ctx.UserValue("id").(string))
	if err != nil {
		h.writeError(ctx, err)
		return
	}
	h.writeJSON(ctx, fasthttp.StatusOK, toFlowView(state))
}

type codeRequest struct {
	Code string `json:"code"`
}

// SubmitCode submits the confirmation code
func (h *Handler) SubmitCode(ctx *fasthttp.RequestCtx) {
	var req codeRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil || req.Code == "" {
		h.writeError(ctx, pkgerrors.NewValidationError("code is required"))
		return
	}

	state, err := h.phoneAuth.SubmitCode(ctx, ctx.UserValue("id").(string), req.Code)
	if err != nil {
		h.writeError(ctx, err)
		return
	}
	h.writeJSON(ctx, fasthttp.StatusOK, toFlowView(state))
}

type passwordRequest struct {
	Password string `json:"password"`
}

// SubmitPhonePassword submits the 2FA password for a phone flow
func (h *Handler) SubmitPhonePassword(ctx *fasthttp.RequestCtx) {
	var req passwordRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil || req.Password == "" {
		h.writeError(ctx, pkgerrors.NewValidationError("password is required"))
		return
	}

	state, err := h.phoneAuth.SubmitPassword(ctx, ctx.UserValue("id").(string), req.Password)
	if err != nil {
		h.writeError(ctx, err)
		return
	}
	h.writeJSON(ctx, fasthttp.StatusOK, toFlowView(state))
}

// CancelPhoneAuth abandons a phone flow
func (h *Handler) CancelPhoneAuth(ctx *fasthttp.RequestCtx) {
	if err := h.phoneAuth.Cancel(ctx, ctx.UserValue("id").(string)); err != nil {
		h.writeError(ctx, err)
		return
	}
	ctx.SetStatusCode(fasthttp.StatusNoContent)
}

type startQRAuthRequest struct {
	OwnerID string `json:"owner_id"`
	APIID   int    `json:"api_id,omitempty"`
	APIHash string `json:"api_hash,omitempty"`
}

// StartQRAuth begins a QR login flow and returns the QR code
func (h *Handler) StartQRAuth(ctx *fasthttp.RequestCtx) {
	var req startQRAuthRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		h.writeError(ctx, pkgerrors.NewValidationError("invalid request body"))
		return
	}
	if req.OwnerID == "" {
		h.writeError(ctx, pkgerrors.NewValidationError("owner_id is required"))
		return
	}

	state, err := h.qrAuth.Start(ctx, req.OwnerID, req.APIID, req.APIHash)
	if err != nil {
		h.writeError(ctx, err)
		return
	}
	h.writeJSON(ctx, fasthttp.StatusAccepted, toFlowView(state))
}

// QRAuthStatus returns the flow snapshot
func (h *Handler) QRAuthStatus(ctx *fasthttp.RequestCtx) {
	state, err := h.qrAuth.Status(ctx.UserValue("id").(string))
	if err != nil {
		h.writeError(ctx, err)
		return
	}
	h.writeJSON(ctx, fasthttp.StatusOK, toFlowView(state))
}

// SubmitQRPassword submits the 2FA password for a QR flow
func (h *Handler) SubmitQRPassword(ctx *fasthttp.RequestCtx) {
	var req passwordRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil || req.Password == "" {
		h.writeError(ctx, pkgerrors.NewValidationError("password is required"))
		return
	}

	state, err := h.qrAuth.SubmitPassword(ctx, ctx.UserValue("id").(string), req.Password)
	if err != nil {
		h.writeError(ctx, err)
		return
	}
	h.writeJSON(ctx, fasthttp.StatusOK, toFlowView(state))
}

// CancelQRAuth abandons a QR flow
func (h *Handler) CancelQRAuth(ctx *fasthttp.RequestCtx) {
	if err := h.qrAuth.Cancel(ctx, ctx.UserValue("id").(string)); err != nil {
		h.writeError(ctx, err)
		return
	}
	ctx.SetStatusCode(fasthttp.StatusNoContent)
}

func (h *Handler) toView(record *domain.Session) SessionView {
	view := SessionView{
		ID:         record.ID,
		OwnerID:    record.OwnerID,
		Status:     string(record.Status),
		IsActive:   record.IsActive,
		Probe:      string(h.monitor.State(record.ID)),
		LastUsedAt: record.LastUsedAt,
		CreatedAt:  record.CreatedAt,
		UpdatedAt:  record.UpdatedAt,
	}
	if record.PhoneNumber != nil {
		view.PhoneNumber = utils.MaskPhoneNumber(*record.PhoneNumber)
	}
	if record.InvalidReason != nil {
		view.InvalidReason = *record.InvalidReason
	}
	if record.DatacenterID != nil {
		view.DatacenterID = *record.DatacenterID
	}
	return view
}

func toFlowView(state domain.AuthFlowState) AuthFlowView {
	view := AuthFlowView{
		ID:           state.ID,
		SessionID:    state.SessionID,
		Status:       string(state.Status),
		QRURL:        state.QRURL,
		QRCodeBase64: state.QRCodeBase64,
		Error:        state.Error,
		ExpiresAt:    state.ExpiresAt,
	}
	if state.PhoneNumber != "" {
		view.PhoneNumber = utils.MaskPhoneNumber(state.PhoneNumber)
	}
	return view
}

func (h *Handler) writeJSON(ctx *fasthttp.RequestCtx, status int, body any) {
	payload, err := json.Marshal(body)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode response")
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	ctx.SetBody(payload)
}

func (h *Handler) writeError(ctx *fasthttp.RequestCtx, err error) {
	status, message, retryAfter := h.mapper.MapErrorToHTTP(err)
	if retryAfter > 0 {
		ctx.Response.Header.Set("Retry-After", strconv.Itoa(retryAfter))
	}
	h.writeJSON(ctx, status, map[string]string{"error": message})
}
