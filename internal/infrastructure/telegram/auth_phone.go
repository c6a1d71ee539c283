package telegram

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
	"github.com/rs/zerolog"

	"github.com/Hwoarang91/afrodita-sub000/internal/domain"
	"github.com/Hwoarang91/afrodita-sub000/internal/infrastructure/metrics"
	"github.com/Hwoarang91/afrodita-sub000/internal/utils"
	pkgerrors "github.com/Hwoarang91/afrodita-sub000/pkg/errors"
)

// PhoneAuthManager runs the phone-code login flow: send code, submit code,
// optionally submit the 2FA password, then finalize through the lifecycle
// manager.
type PhoneAuthManager struct {
	manager *SessionManager
	flows   *PendingAuthStore
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// NewPhoneAuthManager creates the phone auth flow manager
func NewPhoneAuthManager(manager *SessionManager, flows *PendingAuthStore, logger zerolog.Logger) *PhoneAuthManager {
	return &PhoneAuthManager{
		manager: manager,
		flows:   flows,
		logger:  logger.With().Str("component", "phone_auth").Logger(),
		metrics: metrics.GetDefaultMetrics(),
	}
}

// Start opens a session for the owner and asks Telegram to send a
// confirmation code to the phone. Returns the flow id used for the
// follow-up submissions.
func (a *PhoneAuthManager) Start(ctx context.Context, ownerID, phoneNumber string, apiID int, apiHash string) (string, error) {
	if phoneNumber == "" {
		return "", pkgerrors.NewValidationError("phone number is required")
	}

	conn, sessionID, err := a.manager.CreateForAuth(ctx, ownerID, apiID, apiHash)
	if err != nil {
		return "", err
	}

	client, ok := conn.(*ClientConn)
	if !ok {
		return "", pkgerrors.NewInternalError("connection does not support interactive auth")
	}

	sent, err := client.Auth().SendCode(ctx, phoneNumber, auth.SendCodeOptions{})
	if err != nil {
		cls := Classify(err)
		a.logger.Warn().
			Err(err).
			Str("phone", utils.MaskPhoneNumber(phoneNumber)).
			Str("action", cls.Action.String()).
			Msg("Failed to send confirmation code")
		return "", cls.ToError(err)
	}

	sentCode, ok := sent.(*tg.AuthSentCode)
	if !ok {
		return "", pkgerrors.NewInternalError("unexpected response to code request")
	}

	now := time.Now()
	flow := &PendingAuth{
		AuthFlowState: domain.AuthFlowState{
			ID:          uuid.New().String(),
			SessionID:   sessionID,
			OwnerID:     ownerID,
			PhoneNumber: phoneNumber,
			Status:      domain.AuthPending,
			CreatedAt:   now,
			ExpiresAt:   now.Add(a.flows.TTL()),
			UpdatedAt:   now,
		},
		Conn: client,
	}
	flow.SetCodeHash(sentCode.PhoneCodeHash)

	if err := a.flows.Store(flow); err != nil {
		return "", err
	}

	a.metrics.AuthFlowsStarted.WithLabelValues("phone").Inc()
	a.logger.Info().
		Str("flow_id", flow.ID).
		Str("session_id", sessionID).
		Str("phone", utils.MaskPhoneNumber(phoneNumber)).
		Msg("Phone auth flow started")
	return flow.ID, nil
}

// SubmitCode exchanges the confirmation code. A wrong or expired code leaves
// the flow pending for resubmission; a 2FA-protected account moves the flow
// to waiting_password.
func (a *PhoneAuthManager) SubmitCode(ctx context.Context, flowID, code string) (domain.AuthFlowState, error) {
	flow, err := a.flows.Load(flowID)
	if err != nil {
		return domain.AuthFlowState{}, err
	}
	if flow.Snapshot().Status != domain.AuthPending {
		return flow.Snapshot(), domain.ErrAuthFlowState
	}

	_, err = flow.Conn.Auth().SignIn(ctx, flow.PhoneNumber, code, flow.GetCodeHash())
	if errors.Is(err, auth.ErrPasswordAuthNeeded) {
		flow.UpdateStatus(domain.AuthWaitingPassword)
		a.logger.Info().Str("flow_id", flowID).Msg("2FA password required")
		return flow.Snapshot(), nil
	}
	if err != nil {
		return a.handleFailure(ctx, flow, err)
	}

	return a.finalize(ctx, flow)
}

// SubmitPassword completes a 2FA-protected login. A wrong password keeps the
// flow in waiting_password.
func (a *PhoneAuthManager) SubmitPassword(ctx context.Context, flowID, password string) (domain.AuthFlowState, error) {
	flow, err := a.flows.Load(flowID)
	if err != nil {
		return domain.AuthFlowState{}, err
	}
	if flow.Snapshot().Status != domain.AuthWaitingPassword {
		return flow.Snapshot(), domain.ErrAuthFlowState
	}

	if _, err := flow.Conn.Auth().Password(ctx, password); err != nil {
		cls := Classify(err)
		if cls.Kind == KindTwoFactorRequired {
			a.logger.Warn().Str("flow_id", flowID).Msg("2FA password rejected")
			return flow.Snapshot(), cls.ToError(err)
		}
		return a.handleFailure(ctx, flow, err)
	}

	return a.finalize(ctx, flow)
}

// Status returns the current flow snapshot
func (a *PhoneAuthManager) Status(flowID string) (domain.AuthFlowState, error) {
	flow, err := a.flows.Load(flowID)
	if err != nil {
		return domain.AuthFlowState{}, err
	}
	return flow.Snapshot(), nil
}

// Cancel abandons a flow and retires its initializing session
func (a *PhoneAuthManager) Cancel(ctx context.Context, flowID string) error {
	flow, err := a.flows.Load(flowID)
	if err != nil {
		return err
	}

	flow.UpdateStatus(domain.AuthCancelled)
	if err := a.manager.RemoveSession(ctx, flow.SessionID); err != nil {
		a.logger.Warn().Err(err).Str("flow_id", flowID).Msg("Failed to retire cancelled session")
	}
	a.flows.Delete(flowID)
	a.metrics.AuthFlowsCompleted.WithLabelValues("phone", "cancelled").Inc()
	return nil
}

func (a *PhoneAuthManager) finalize(ctx context.Context, flow *PendingAuth) (domain.AuthFlowState, error) {
	if err := a.manager.SaveSession(ctx, flow.OwnerID, flow.Conn, flow.SessionID, flow.PhoneNumber); err != nil {
		flow.SetError(err)
		a.metrics.AuthFlowsCompleted.WithLabelValues("phone", "failed").Inc()
		return flow.Snapshot(), err
	}

	flow.SetSuccess(flow.PhoneNumber)
	a.metrics.AuthFlowsCompleted.WithLabelValues("phone", "success").Inc()
	a.logger.Info().
		Str("flow_id", flow.ID).
		Str("session_id", flow.SessionID).
		Msg("Phone auth completed")
	return flow.Snapshot(), nil
}

// handleFailure routes a sign-in error. Resubmission-class errors keep the
// flow alive; everything else ends it.
func (a *PhoneAuthManager) handleFailure(ctx context.Context, flow *PendingAuth, err error) (domain.AuthFlowState, error) {
	cls := Classify(err)
	if cls.Kind == KindResubmission {
		a.logger.Warn().
			Str("flow_id", flow.ID).
			Str("reason", cls.Reason).
			Msg("Auth input rejected, awaiting resubmission")
		return flow.Snapshot(), pkgerrors.NewValidationError(cls.Message)
	}

	flow.SetError(err)
	a.metrics.AuthFlowsCompleted.WithLabelValues("phone", "failed").Inc()
	if cls.Fatal() {
		if rmErr := a.manager.RemoveSession(ctx, flow.SessionID); rmErr != nil {
			a.logger.Warn().Err(rmErr).Str("flow_id", flow.ID).Msg("Failed to retire failed session")
		}
	}
	return flow.Snapshot(), cls.ToError(err)
}
