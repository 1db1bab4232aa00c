/**
 * @description
 * This package serves the realtime websocket endpoint. The handshake is
 * authenticated before the upgrade; only a verified, known user is upgraded and
 * registered in the presence registry. The server only pushes: inbound frames
 * are read and discarded so that a disconnect is noticed promptly.
 *
 * @dependencies
 * - golang.org/x/net/websocket: The websocket transport.
 * - internal/auth: Handshake credential verification.
 * - internal/presence: The registry of live connections.
 */

package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/wallet-service/internal/auth"
	"github.com/transfa/wallet-service/internal/domain"
	"github.com/transfa/wallet-service/internal/presence"
	"golang.org/x/net/websocket"
)

const (
	writeTimeout       = 5 * time.Second
	maxInboundFrameLen = 4 << 10
)

type handshakeIdentityKey struct{}

// Handler upgrades authenticated requests and manages the connection lifecycle.
type Handler struct {
	gate     *auth.Gate
	registry *presence.Registry
	ws       websocket.Server
}

func NewHandler(gate *auth.Gate, registry *presence.Registry) *Handler {
	h := &Handler{gate: gate, registry: registry}
	h.ws = websocket.Server{Handler: h.serveConn}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	token, err := auth.HandshakeToken(r)
	if err != nil {
		log.Printf("level=warn component=realtime msg=\"handshake rejected\" reason=missing_token remote=%s", r.RemoteAddr)
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}
	user, err := h.gate.Authenticate(r.Context(), token)
	if err != nil {
		if !auth.IsCredentialError(err) {
			log.Printf("level=error component=realtime msg=\"handshake identity lookup failed\" remote=%s err=%v", r.RemoteAddr, err)
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
		log.Printf("level=warn component=realtime msg=\"handshake rejected\" reason=auth_failed remote=%s err=%v", r.RemoteAddr, err)
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	ctx := context.WithValue(auth.WithUserID(r.Context(), user.ID), handshakeIdentityKey{}, *user)
	h.ws.ServeHTTP(w, r.WithContext(ctx))
}

func (h *Handler) serveConn(ws *websocket.Conn) {
	conn := newWSConn(ws)
	defer conn.Close()

	identity, ok := identityFromRequest(ws.Request())
	if !ok {
		log.Printf("level=error component=realtime msg=\"upgraded connection without identity\"")
		return
	}

	h.registry.Register(identity.ID, conn, identity)
	log.Printf("level=info component=realtime msg=\"client connected\" user_id=%s connections=%d", identity.ID, h.registry.Count())
	defer func() {
		if h.registry.UnregisterConn(identity.ID, conn) {
			log.Printf("level=info component=realtime msg=\"client disconnected\" user_id=%s connections=%d", identity.ID, h.registry.Count())
		}
	}()

	if err := conn.Send(domain.Event{
		Type:    domain.EventConnected,
		Payload: domain.ConnectedPayload{UserID: identity.ID.String(), Timestamp: time.Now().UTC()},
	}); err != nil {
		log.Printf("level=warn component=realtime msg=\"greeting failed\" user_id=%s err=%v", identity.ID, err)
		return
	}

	readUntilClosed(ws, identity.ID)
}

// readUntilClosed drains inbound frames until the peer goes away.
func readUntilClosed(ws *websocket.Conn, userID uuid.UUID) {
	ws.MaxPayloadBytes = maxInboundFrameLen
	for {
		var frame []byte
		if err := websocket.Message.Receive(ws, &frame); err != nil {
			if !errors.Is(err, io.EOF) {
				log.Printf("level=debug component=realtime msg=\"read loop ended\" user_id=%s err=%v", userID, err)
			}
			return
		}
	}
}

// wsConn adapts a websocket connection to presence.Conn. Writes are serialized.
type wsConn struct {
	mu        sync.Mutex
	ws        *websocket.Conn
	encoder   *json.Encoder
	closeOnce sync.Once
	closeErr  error
}

func newWSConn(ws *websocket.Conn) *wsConn {
	return &wsConn{ws: ws, encoder: json.NewEncoder(ws)}
}

func (c *wsConn) Send(event domain.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.encoder.Encode(event)
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

func identityFromRequest(r *http.Request) (domain.User, bool) {
	if r == nil {
		return domain.User{}, false
	}
	user, ok := r.Context().Value(handshakeIdentityKey{}).(domain.User)
	return user, ok
}
