package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"campus/cmd/identity"
	"campus/cmd/internal/clock"
	"campus/cmd/internal/directory"
	"campus/cmd/internal/media"
	"campus/cmd/internal/metrics"
	"campus/cmd/internal/thread"
	v1 "campus/shared/contracts/realtime/v1"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"
)

const (
	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32

	wsDefaultWriteTimeout = 5 * time.Second
	wsDefaultReadIdle     = 2 * time.Minute
	wsCloseGrace          = 1 * time.Second

	wsMaxPingFailures = 3

	// Origin is required by default and only localhost is allowed.
	wsDefaultOriginRequired = true
)

var wsDefaultAllowedOrigins = []string{"http://localhost", "http://127.0.0.1"}

// Config holds the gateway policy knobs (CAMPUS_WS_*, capture and playback policy).
type Config struct {
	// DevInsecure disables websocket.Accept's own origin verification (dev only).
	DevInsecure    bool
	OriginRequired bool
	AllowedOrigins []string

	RequireAuth bool

	WriteTimeout    time.Duration
	ReadIdleTimeout time.Duration
	SendQueueSize   int

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	RateEvents int
	RateWindow time.Duration

	// MediaPath is the URL prefix artifacts are served under.
	MediaPath string

	CaptureMinSeconds int
	CaptureMaxSeconds int
	// CaptureMaxBytes fails a recording whose buffered audio outgrows it.
	CaptureMaxBytes int64

	PlaybackExclusive      bool
	PlaybackSampleInterval time.Duration
}

// DefaultConfig returns the secure defaults.
func DefaultConfig() Config {
	return Config{
		OriginRequired:         wsDefaultOriginRequired,
		AllowedOrigins:         append([]string(nil), wsDefaultAllowedOrigins...),
		WriteTimeout:           wsDefaultWriteTimeout,
		ReadIdleTimeout:        wsDefaultReadIdle,
		SendQueueSize:          wsDefaultSendQueueSize,
		HeartbeatInterval:      heartbeatInterval,
		HeartbeatTimeout:       heartbeatTimeout,
		RateEvents:             rateLimitEvents,
		RateWindow:             rateLimitWindow,
		MediaPath:              "/media/",
		PlaybackExclusive:      true,
		PlaybackSampleInterval: 250 * time.Millisecond,
	}
}

// TokenVerifier establishes the user behind an access token.
type TokenVerifier interface {
	Verify(token string, now time.Time) (identity.Claims, error)
}

// Deps are the collaborators the gateway routes to. Nil fields fall back to in-memory
// development implementations.
type Deps struct {
	Hub       *Hub
	Store     thread.Store
	Media     *media.Store
	Directory directory.Directory
	Tokens    TokenVerifier
	Metrics   *metrics.Metrics
	Clock     clock.Clock
}

// WSGateway is the WebSocket presentation layer.
//
// It enforces origin policy, subprotocol selection, authentication, rate limits and
// heartbeats, and routes validated envelopes to a per-connection Composer, the thread
// store, and per-connection playback sessions.
type WSGateway struct {
	log *slog.Logger
	cfg Config

	hub     *Hub
	store   thread.Store
	media   *media.Store
	dir     directory.Directory
	tokens  TokenVerifier
	metrics *metrics.Metrics
	clock   clock.Clock

	// Derived for websocket.Accept origin checks: Accept authorizes same-host origins by
	// default, but cross-origin requests need OriginPatterns.
	originPatterns []string
}

// NewWSGateway constructs a gateway.
func NewWSGateway(log *slog.Logger, cfg Config, deps Deps) *WSGateway {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if deps.Hub == nil {
		deps.Hub = NewHub(log)
	}
	if deps.Store == nil {
		deps.Store = thread.NewInMemoryStore(log)
	}
	if deps.Media == nil {
		deps.Media = media.NewStore(media.Options{Logger: log})
	}
	if deps.Directory == nil {
		deps.Directory = directory.NewMemory(true)
	}
	if deps.Clock == nil {
		deps.Clock = clock.System()
	}

	if cfg.SendQueueSize < wsMinSendQueueSize {
		cfg.SendQueueSize = wsMinSendQueueSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = wsDefaultWriteTimeout
	}
	if cfg.ReadIdleTimeout <= 0 {
		cfg.ReadIdleTimeout = wsDefaultReadIdle
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = heartbeatInterval
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = heartbeatTimeout
	}
	if cfg.MediaPath == "" {
		cfg.MediaPath = "/media/"
	}

	return &WSGateway{
		log:            log,
		cfg:            cfg,
		hub:            deps.Hub,
		store:          deps.Store,
		media:          deps.Media,
		dir:            deps.Directory,
		tokens:         deps.Tokens,
		metrics:        deps.Metrics,
		clock:          deps.Clock,
		originPatterns: deriveOriginPatterns(cfg.AllowedOrigins),
	}
}

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades an HTTP request to a WebSocket session and runs the realtime loop.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	user, authed, err := g.authenticateHandshake(r)
	if err != nil {
		g.log.Info("ws.reject.auth", "err", err, "remote", r.RemoteAddr)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{v1.Subprotocol},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.cfg.DevInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != v1.Subprotocol {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", v1.Subprotocol)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	sessionID, err := NewSessionID(g.clock.Now())
	if err != nil {
		g.log.Error("ws.session_id.fail", "err", err)
		_ = conn.Close(websocket.StatusInternalError, "internal error")
		return
	}
	if !authed {
		user = identity.User{ID: "guest:" + sessionID, DisplayName: "Guest"}
	}

	g.metrics.WSConnected()
	defer g.metrics.WSDisconnected()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := newWSConn(ctx, g, sessionID, user, authed)
	log := c.log
	log.Info("ws.connect", "user_id", user.ID, "authenticated", authed)

	shutdown := func(code websocket.StatusCode, reason string) {
		c.closeOnce.Do(func() {
			c.client.Close()
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	grp, gctx := errgroup.WithContext(ctx)

	grp.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-c.client.Done():
				return nil
			case env := <-c.client.Send:
				if err := writeEnvelope(gctx, conn, env, g.cfg.WriteTimeout); err != nil {
					log.Info("ws.write.fail", "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return err
				}
			}
		}
	})

	grp.Go(func() error {
		t := time.NewTicker(g.cfg.HeartbeatInterval)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-c.client.Done():
				return nil
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(gctx, g.cfg.HeartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					log.Info("ws.ping.fail", "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return nil
					}
					continue
				}
				failures = 0
			}
		}
	})

	rl := NewRateLimiter(g.cfg.RateEvents, g.cfg.RateWindow)

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(gctx, g.cfg.ReadIdleTimeout)
		mt, data, err := conn.Read(readCtx)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
			default:
				log.Info("ws.read.fail", "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
			}
			break readLoop
		}

		if mt == websocket.MessageBinary {
			c.onAudioFrame(data)
			continue readLoop
		}

		now := g.clock.Now()
		if !rl.Allow(now) {
			c.sendErrorNow(gctx, conn, "rate_limited", "too many events")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		var env v1.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.sendError("bad_json", "invalid JSON")
			continue readLoop
		}
		if err := env.Validate(); err != nil {
			c.sendError("bad_envelope", err.Error())
			continue readLoop
		}

		if err := c.dispatch(env); err != nil {
			var fatal fatalError
			if errors.As(err, &fatal) {
				c.sendErrorNow(gctx, conn, fatal.code, fatal.Error())
				shutdown(websocket.StatusPolicyViolation, fatal.code)
				break readLoop
			}
			var ce codedError
			if errors.As(err, &ce) {
				c.sendError(ce.code, ce.Error())
			} else {
				c.sendError("internal", err.Error())
			}
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	c.teardown()

	waited := make(chan struct{})
	go func() {
		_ = grp.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(wsCloseGrace):
	}
	log.Info("ws.disconnect")
}

// authenticateHandshake verifies a token presented at upgrade time (Authorization bearer
// header or access_token query parameter). A presented token must be valid. Without one,
// the upgrade is refused when auth is required; otherwise the session may still
// authenticate in hello.
func (g *WSGateway) authenticateHandshake(r *http.Request) (identity.User, bool, error) {
	tok := bearerToken(r)
	if tok == "" {
		if g.cfg.RequireAuth {
			return identity.User{}, false, identity.OpError{Op: "ws.auth", Kind: identity.ErrUnauthenticated}
		}
		return identity.User{}, false, nil
	}
	u, err := g.verify(tok)
	if err != nil {
		return identity.User{}, false, err
	}
	return u, true, nil
}

func (g *WSGateway) verify(tok string) (identity.User, error) {
	if g.tokens == nil {
		return identity.User{}, identity.OpError{Op: "ws.auth", Kind: identity.ErrInvalidToken, Msg: "no verifier configured"}
	}
	claims, err := g.tokens.Verify(tok, g.clock.Now())
	if err != nil {
		return identity.User{}, err
	}
	return claims.User, nil
}

func bearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return strings.TrimSpace(r.URL.Query().Get("access_token"))
}

// ---- envelope IO ----

func newEnvelope(typ string, payload any, ts time.Time) (v1.Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return v1.Envelope{}, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      NewEnvelopeID(ts),
		TS:      ts,
		Payload: raw,
	}, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *WSGateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.cfg.OriginRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.cfg.AllowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)

	for _, a := range g.cfg.AllowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			return nil
		}
		if origin == a {
			return nil
		}
		// Host match ignores scheme and port.
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

// deriveOriginPatterns turns the allowlist into websocket.Accept host patterns so both
// origin checks agree.
func deriveOriginPatterns(allowed []string) []string {
	seen := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		if strings.TrimSpace(a) == "*" {
			return []string{"*"}
		}
		h := originHostOnly(a)
		if h == "" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}
