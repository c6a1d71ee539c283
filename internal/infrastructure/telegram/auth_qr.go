package telegram

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gotd/td/telegram/auth/qrlogin"
	"github.com/gotd/td/tgerr"
	"github.com/rs/zerolog"
	"rsc.io/qr"

	"github.com/Hwoarang91/afrodita-sub000/internal/domain"
	"github.com/Hwoarang91/afrodita-sub000/internal/infrastructure/metrics"
	"github.com/Hwoarang91/afrodita-sub000/internal/utils"
	pkgerrors "github.com/Hwoarang91/afrodita-sub000/pkg/errors"
)

const qrGenerationTimeout = 30 * time.Second

// QRAuthManager implements QR code login. The flow runs against the same
// session-bound connection that SaveSession later finalizes, so the auth key
// lands directly in the encrypted session row.
type QRAuthManager struct {
	manager *SessionManager
	flows   *PendingAuthStore
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// NewQRAuthManager creates the QR auth flow manager
func NewQRAuthManager(manager *SessionManager, flows *PendingAuthStore, logger zerolog.Logger) *QRAuthManager {
	return &QRAuthManager{
		manager: manager,
		flows:   flows,
		logger:  logger.With().Str("component", "qr_auth").Logger(),
		metrics: metrics.GetDefaultMetrics(),
	}
}

// Start opens a session for the owner, exports a login token and returns the
// flow snapshot carrying the QR code
func (a *QRAuthManager) Start(ctx context.Context, ownerID string, apiID int, apiHash string) (domain.AuthFlowState, error) {
	conn, sessionID, err := a.manager.CreateForAuth(ctx, ownerID, apiID, apiHash)
	if err != nil {
		return domain.AuthFlowState{}, err
	}

	client, ok := conn.(*ClientConn)
	if !ok {
		return domain.AuthFlowState{}, pkgerrors.NewInternalError("connection does not support interactive auth")
	}

	now := time.Now()
	flow := &PendingAuth{
		AuthFlowState: domain.AuthFlowState{
			ID:        uuid.New().String(),
			SessionID: sessionID,
			OwnerID:   ownerID,
			Status:    domain.AuthPending,
			CreatedAt: now,
			ExpiresAt: now.Add(a.flows.TTL()),
			UpdatedAt: now,
		},
		Conn:         client,
		PasswordChan: make(chan string, 1),
	}

	if err := a.flows.Store(flow); err != nil {
		return domain.AuthFlowState{}, err
	}

	qrReady := make(chan error, 1)
	go a.runQRAuth(flow, qrReady)

	select {
	case err := <-qrReady:
		if err != nil {
			a.abandon(ctx, flow)
			return domain.AuthFlowState{}, err
		}
	case <-time.After(qrGenerationTimeout):
		flow.SetError(fmt.Errorf("timeout waiting for QR code generation"))
		a.abandon(ctx, flow)
		return domain.AuthFlowState{}, pkgerrors.NewServiceUnavailableError("QR code generation timed out")
	case <-ctx.Done():
		flow.SetError(ctx.Err())
		a.abandon(ctx, flow)
		return domain.AuthFlowState{}, ctx.Err()
	}

	a.metrics.AuthFlowsStarted.WithLabelValues("qr").Inc()
	a.logger.Info().
		Str("flow_id", flow.ID).
		Str("session_id", sessionID).
		Msg("QR auth flow started")
	return flow.Snapshot(), nil
}

// Status returns the current flow snapshot
func (a *QRAuthManager) Status(flowID string) (domain.AuthFlowState, error) {
	flow, err := a.flows.Load(flowID)
	if err != nil {
		return domain.AuthFlowState{}, err
	}
	return flow.Snapshot(), nil
}

// SubmitPassword hands the 2FA password to the waiting scan loop
func (a *QRAuthManager) SubmitPassword(ctx context.Context, flowID, password string) (domain.AuthFlowState, error) {
	flow, err := a.flows.Load(flowID)
	if err != nil {
		return domain.AuthFlowState{}, err
	}

	if flow.Snapshot().Status != domain.AuthWaitingPassword {
		return flow.Snapshot(), domain.ErrAuthFlowState
	}

	select {
	case flow.PasswordChan <- password:
		a.logger.Debug().Str("flow_id", flowID).Msg("Password submitted")
	default:
		return flow.Snapshot(), domain.ErrAuthFlowState
	}

	// Give the scan loop a moment to verify before snapshotting
	time.Sleep(500 * time.Millisecond)

	return flow.Snapshot(), nil
}

// Cancel abandons a flow and retires its initializing session
func (a *QRAuthManager) Cancel(ctx context.Context, flowID string) error {
	flow, err := a.flows.Load(flowID)
	if err != nil {
		return err
	}

	flow.UpdateStatus(domain.AuthCancelled)
	if flow.CancelFunc != nil {
		flow.CancelFunc()
	}
	if err := a.manager.RemoveSession(ctx, flow.SessionID); err != nil {
		a.logger.Warn().Err(err).Str("flow_id", flowID).Msg("Failed to retire cancelled session")
	}
	a.flows.Delete(flowID)
	a.metrics.AuthFlowsCompleted.WithLabelValues("qr", "cancelled").Inc()
	a.logger.Info().Str("flow_id", flowID).Msg("QR auth cancelled")
	return nil
}

// runQRAuth drives the export/scan/accept loop until login, failure or expiry
func (a *QRAuthManager) runQRAuth(flow *PendingAuth, qrReady chan<- error) {
	ctx, cancel := context.WithTimeout(context.Background(), a.flows.TTL())
	flow.CancelFunc = cancel
	defer cancel()

	client := flow.Conn
	api := client.API()
	if api == nil {
		qrReady <- pkgerrors.NewInternalError("connection is not ready")
		return
	}

	qrLogin := qrlogin.NewQR(api, client.apiID, client.apiHash, qrlogin.Options{})

	token, err := qrLogin.Export(ctx)
	if err != nil {
		qrReady <- fmt.Errorf("export token: %w", err)
		return
	}

	if err := a.setQRCode(flow, token.URL()); err != nil {
		qrReady <- err
		return
	}
	qrReady <- nil

	for {
		a.logger.Debug().Str("flow_id", flow.ID).Msg("Waiting for QR scan")
		_, err := qrLogin.Accept(ctx, token)
		if err != nil {
			if tgerr.Is(err, "AUTH_TOKEN_EXPIRED") {
				a.logger.Info().Str("flow_id", flow.ID).Msg("QR token expired, regenerating")

				token, err = qrLogin.Export(ctx)
				if err != nil {
					flow.SetError(err)
					a.finish(flow, "failed")
					return
				}
				if err := a.setQRCode(flow, token.URL()); err != nil {
					flow.SetError(err)
					a.finish(flow, "failed")
					return
				}
				continue
			}

			// Key not propagated on the server side yet, accept again
			if tgerr.Is(err, "AUTH_KEY_UNREGISTERED") {
				time.Sleep(1 * time.Second)
				continue
			}

			// Scanned and accepted from another device while we were waiting
			if tgerr.Is(err, "AUTH_TOKEN_ALREADY_ACCEPTED") {
				a.finalize(ctx, flow)
				return
			}

			if tgerr.Is(err, "SESSION_PASSWORD_NEEDED") {
				flow.UpdateStatus(domain.AuthWaitingPassword)
				a.logger.Info().Str("flow_id", flow.ID).Msg("2FA password required")

				select {
				case password := <-flow.PasswordChan:
					if _, err := client.Auth().Password(ctx, password); err != nil {
						cls := Classify(err)
						flow.SetError(cls.ToError(err))
						a.finish(flow, "failed")
						return
					}
					a.finalize(ctx, flow)
					return
				case <-ctx.Done():
					flow.SetError(ctx.Err())
					a.finish(flow, "failed")
					return
				}
			}

			cls := Classify(err)
			flow.SetError(cls.ToError(err))
			a.finish(flow, "failed")
			return
		}

		a.finalize(ctx, flow)
		return
	}
}

func (a *QRAuthManager) setQRCode(flow *PendingAuth, url string) error {
	code, err := qr.Encode(url, qr.L)
	if err != nil {
		return fmt.Errorf("encode QR: %w", err)
	}
	flow.SetQRCode(url, base64.StdEncoding.EncodeToString(code.PNG()))
	return nil
}

func (a *QRAuthManager) finalize(ctx context.Context, flow *PendingAuth) {
	user, err := flow.Conn.Self(ctx)
	if err != nil {
		flow.SetError(err)
		a.finish(flow, "failed")
		return
	}

	phoneNumber := user.Phone
	if phoneNumber == "" {
		phoneNumber = fmt.Sprintf("user_%d", user.ID)
	}

	if err := a.manager.SaveSession(ctx, flow.OwnerID, flow.Conn, flow.SessionID, phoneNumber); err != nil {
		flow.SetError(err)
		a.finish(flow, "failed")
		return
	}

	flow.SetSuccess(phoneNumber)
	a.finish(flow, "success")
	a.logger.Info().
		Str("flow_id", flow.ID).
		Str("session_id", flow.SessionID).
		Str("phone", utils.MaskPhoneNumber(phoneNumber)).
		Msg("QR auth completed")
}

func (a *QRAuthManager) finish(flow *PendingAuth, outcome string) {
	a.metrics.AuthFlowsCompleted.WithLabelValues("qr", outcome).Inc()
}

func (a *QRAuthManager) abandon(ctx context.Context, flow *PendingAuth) {
	if err := a.manager.RemoveSession(ctx, flow.SessionID); err != nil {
		a.logger.Warn().Err(err).Str("flow_id", flow.ID).Msg("Failed to retire abandoned session")
	}
	a.flows.Delete(flow.ID)
}
