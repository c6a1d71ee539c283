package telegram

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gotd/contrib/middleware/floodwait"
	"github.com/gotd/td/bin"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/Hwoarang91/afrodita-sub000/internal/domain"
	"github.com/Hwoarang91/afrodita-sub000/internal/infrastructure/events"
	"github.com/Hwoarang91/afrodita-sub000/internal/infrastructure/metrics"
	"github.com/Hwoarang91/afrodita-sub000/internal/utils"
)

// Conn is the live-connection surface the lifecycle manager works with.
// ClientConn is the production implementation; tests substitute their own.
type Conn interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Connected() bool
	Self(ctx context.Context) (*tg.User, error)
	Invoke(ctx context.Context, input bin.Encoder, output bin.Decoder) error
	SessionID() string
	Storage() *SessionBlobStorage
}

// ClientConn wraps one gotd client bound to one session row. It owns the
// client's run loop, publishes lifecycle events, and rate-limits outgoing
// requests.
type ClientConn struct {
	sessionID string
	ownerID   string
	apiID     int
	apiHash   string

	client  *telegram.Client
	storage *SessionBlobStorage

	// api issues requests through the retry wrapper
	api *tg.Client

	connected     bool
	disconnecting bool
	mu            sync.RWMutex
	cancelFunc    context.CancelFunc
	runDone       chan struct{}

	logger zerolog.Logger
	bus    *events.Bus

	rateLimiter *rate.Limiter
	metrics     *metrics.Metrics
}

// ClientConnConfig holds everything needed to build a connection
type ClientConnConfig struct {
	SessionID string
	OwnerID   string
	APIID     int
	APIHash   string
	Storage   *SessionBlobStorage
	Bus       *events.Bus
	Logger    zerolog.Logger
}

// NewClientConn creates a connection for one session. It does not dial;
// call Connect.
func NewClientConn(cfg ClientConnConfig) (*ClientConn, error) {
	if cfg.APIID == 0 {
		return nil, fmt.Errorf("APIID is required")
	}
	if cfg.APIHash == "" {
		return nil, fmt.Errorf("APIHash is required")
	}
	if cfg.SessionID == "" {
		return nil, fmt.Errorf("SessionID is required")
	}
	if cfg.Storage == nil {
		return nil, fmt.Errorf("Storage is required")
	}

	return &ClientConn{
		sessionID:   cfg.SessionID,
		ownerID:     cfg.OwnerID,
		apiID:       cfg.APIID,
		apiHash:     cfg.APIHash,
		storage:     cfg.Storage,
		bus:         cfg.Bus,
		logger:      cfg.Logger.With().Str("component", "client_conn").Str("session_id", cfg.SessionID).Logger(),
		rateLimiter: rate.NewLimiter(rate.Every(time.Second), 10), // 10 requests per second
		metrics:     metrics.GetDefaultMetrics(),
	}, nil
}

// Connect dials Telegram and keeps the run loop alive until Disconnect or
// context cancellation. The caller should provide a context with timeout.
func (c *ClientConn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		c.logger.Debug().Msg("already connected")
		return nil
	}
	if c.disconnecting {
		c.mu.Unlock()
		return fmt.Errorf("disconnect in progress, cannot connect")
	}
	// Keep the lock to prevent concurrent connection attempts
	defer c.mu.Unlock()

	c.logger.Info().Str("api_hash", utils.MaskAPIHash(c.apiHash)).Msg("connecting to Telegram")

	c.client = telegram.NewClient(c.apiID, c.apiHash, telegram.Options{
		SessionStorage: c.storage,
		Middlewares: []telegram.Middleware{
			floodwait.NewSimpleWaiter(),
		},
	})

	runCtx, cancel := context.WithCancel(context.Background())
	c.cancelFunc = cancel

	readyChan := make(chan struct{})
	errChan := make(chan error, 1)
	started := make(chan struct{})
	c.runDone = make(chan struct{})

	go func() {
		defer close(c.runDone)
		close(started)
		err := c.client.Run(runCtx, func(ctx context.Context) error {
			// Connect still holds c.mu until readyChan closes, so these
			// writes are ordered before any other goroutine can see the
			// connection.
			c.api = tg.NewClient(newRetryInvoker(c, c.logger))

			c.connected = true
			c.logger.Info().Msg("connected to Telegram")
			c.publish(events.Event{Kind: events.KindConnect})
			close(readyChan)

			<-ctx.Done()
			return ctx.Err()
		})
		select {
		case errChan <- err:
		default:
		}
		// Run can also return on its own (transport loss, server-side
		// close). Clear the connected state so probes and reconnects see a
		// dead connection instead of waiting for the next Disconnect.
		c.mu.Lock()
		if !c.disconnecting {
			c.connected = false
			c.api = nil
		}
		c.mu.Unlock()
	}()

	<-started

	select {
	case <-readyChan:
		return nil
	case err := <-errChan:
		cancel()
		if err != nil {
			return fmt.Errorf("failed to connect: %w", err)
		}
		return nil
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
}

// Disconnect stops the run loop and waits for it to finish. Safe to call
// concurrently and repeatedly.
func (c *ClientConn) Disconnect(ctx context.Context) error {
	c.mu.Lock()

	if c.disconnecting {
		c.mu.Unlock()
		c.logger.Debug().Msg("disconnect already in progress")
		return nil
	}
	if !c.connected {
		c.mu.Unlock()
		c.logger.Debug().Msg("already disconnected")
		return nil
	}

	c.logger.Info().Msg("disconnecting from Telegram")

	c.disconnecting = true
	cancelFunc := c.cancelFunc
	runDone := c.runDone
	c.mu.Unlock()

	if cancelFunc != nil {
		cancelFunc()

		if runDone != nil {
			select {
			case <-runDone:
				c.logger.Debug().Msg("client stopped gracefully")
			case <-ctx.Done():
				c.logger.Warn().Msg("disconnect timeout reached while waiting for client shutdown")
			}
		}
	}

	c.mu.Lock()
	c.client = nil
	c.api = nil
	c.connected = false
	c.cancelFunc = nil
	c.runDone = nil
	c.disconnecting = false
	c.mu.Unlock()

	c.publish(events.Event{Kind: events.KindDisconnect})
	c.logger.Info().Msg("disconnected from Telegram")
	return nil
}

// Connected reports the run loop state
func (c *ClientConn) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// SessionID returns the session row this connection is bound to
func (c *ClientConn) SessionID() string {
	return c.sessionID
}

// OwnerID returns the owning user, empty when built from a bare session row
func (c *ClientConn) OwnerID() string {
	return c.ownerID
}

// Storage returns the storage bound to this connection's session row
func (c *ClientConn) Storage() *SessionBlobStorage {
	return c.storage
}

// Invoke sends one raw request. It applies the rate limiter, records timing
// and publishes invoke/flood-wait events. Implements tg.Invoker, so the
// retry wrapper and derived API clients stack on top of it.
func (c *ClientConn) Invoke(ctx context.Context, input bin.Encoder, output bin.Decoder) error {
	c.mu.RLock()
	client := c.client
	connected := c.connected
	c.mu.RUnlock()

	if !connected || client == nil {
		return domain.ErrNotConnected
	}

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait cancelled: %w", err)
	}

	start := time.Now()
	err := client.Invoke(ctx, input, output)
	elapsed := time.Since(start)

	c.metrics.RecordInvoke(elapsed.Seconds())
	c.publish(events.Event{Kind: events.KindInvoke, Duration: elapsed})

	if err != nil {
		cls := Classify(err)
		c.metrics.RecordInvokeError(cls.Action.String())
		if cls.Kind == KindRateLimited {
			c.metrics.FloodWaits.Inc()
			c.publish(events.Event{Kind: events.KindFloodWait, Seconds: cls.RetryAfter, Error: err.Error()})
		} else {
			c.publish(events.Event{Kind: events.KindError, Error: err.Error()})
		}
	}
	return err
}

// API returns a typed client whose calls go through retry and the limiter
func (c *ClientConn) API() *tg.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.api
}

// Auth exposes the underlying auth client for login flows
func (c *ClientConn) Auth() *auth.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.client == nil {
		return nil
	}
	return c.client.Auth()
}

// Client exposes the underlying gotd client for QR login
func (c *ClientConn) Client() *telegram.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client
}

// Self performs the cheap "who am I" call used for live validation
func (c *ClientConn) Self(ctx context.Context) (*tg.User, error) {
	c.mu.RLock()
	client := c.client
	connected := c.connected
	c.mu.RUnlock()

	if !connected || client == nil {
		return nil, domain.ErrNotConnected
	}

	user, err := client.Self(ctx)
	if err != nil {
		return nil, err
	}
	if user.Phone != "" {
		c.logger.Debug().Str("phone", utils.MaskPhoneNumber(user.Phone)).Msg("validated session identity")
	}
	return user, nil
}

func (c *ClientConn) publish(event events.Event) {
	if c.bus == nil {
		return
	}
	event.SessionID = c.sessionID
	event.OwnerID = c.ownerID
	event.At = time.Now()
	c.bus.Publish(event)
}

var _ Conn = (*ClientConn)(nil)
