// Package ws owns the /connect upgrade endpoint and the per-connection
// driver: the authenticator (spec §4.3) and the frame read/dispatch loop
// (spec §4.4).
package ws

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"clipsync/internal/filetransfer"
	"clipsync/internal/protocol"
	"clipsync/internal/relay"
	"clipsync/internal/session"
)

const (
	writeTimeout = 5 * time.Second
	// readLimit comfortably covers a base64-inflated chunk (default 64 KiB
	// chunk size) plus JSON envelope overhead.
	readLimit  = 1 << 20
	sendBuffer = 64
)

// Handler upgrades authenticated /connect requests and runs each resulting
// connection until it closes.
type Handler struct {
	registry *session.Registry
	engine   *filetransfer.Engine
	upgrader websocket.Upgrader
}

// NewHandler builds a Handler bound to the process-wide registry and
// file-transfer engine.
func NewHandler(reg *session.Registry, engine *filetransfer.Engine) *Handler {
	return &Handler{
		registry: reg,
		engine:   engine,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
	}
}

// Register binds the upgrade route on an Echo router.
func (h *Handler) Register(e *echo.Echo) {
	e.GET("/connect", h.HandleConnect)
}

// HandleConnect validates the upgrade request's credentials before ever
// calling Upgrade, so a rejected request never completes the handshake.
// A rejected request gets an ordinary HTTP 403 response; the underlying
// TCP connection is not closed by this handler.
func (h *Handler) HandleConnect(c echo.Context) error {
	req := c.Request()
	q := req.URL.Query()
	pairID := q.Get("pairId")
	token := q.Get("token")
	roleParam := q.Get("type")
	deviceName := q.Get("deviceName")
	if deviceName == "" {
		deviceName = "Unknown"
	}

	sess, ok := h.authenticate(pairID, token, roleParam)
	if !ok {
		slog.Debug("connect rejected", "pair_id", pairID, "type", roleParam, "remote", c.RealIP())
		return echo.NewHTTPError(http.StatusForbidden)
	}

	conn, err := h.upgrader.Upgrade(c.Response(), req, nil)
	if err != nil {
		slog.Debug("connect upgrade failed", "pair_id", pairID, "err", err)
		return nil
	}

	h.bindAndServe(sess, session.Role(roleParam), deviceName, uuid.NewString(), conn)
	return nil
}

func (h *Handler) authenticate(pairID, token, roleParam string) (*session.Session, bool) {
	if pairID == "" || token == "" || roleParam == "" || !session.ValidRole(roleParam) {
		return nil, false
	}
	sess, ok := h.registry.Get(pairID)
	if !ok || sess.Token() != token {
		return nil, false
	}
	return sess, true
}

// bindAndServe performs the steps of spec §4.3 after a successful upgrade,
// then drives the connection (spec §4.4) until it closes.
func (h *Handler) bindAndServe(sess *session.Session, role session.Role, deviceName, connID string, conn *websocket.Conn) {
	defer conn.Close()
	conn.SetReadLimit(readLimit)

	var closeOnce sync.Once
	terminate := func(reason string) {
		closeOnce.Do(func() {
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason))
			conn.Close()
		})
	}
	ping := func() error {
		return conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
	}

	peer := session.NewPeer(role, deviceName, connID, sendBuffer, terminate, ping)
	peer.MarkAlive()
	conn.SetPongHandler(func(string) error {
		peer.MarkAlive()
		return nil
	})

	if old, hadOld := sess.Bind(role, peer); hadOld {
		slog.Info("connection replaced", "pair_id", sess.PairID(), "role", role, "conn_id", connID)
		old.Terminate("replaced")
	}
	slog.Info("connection bound", "pair_id", sess.PairID(), "role", role, "device", deviceName, "conn_id", connID)

	go h.writeLoop(conn, peer)

	h.onBind(sess, peer, role)

	h.readLoop(sess, peer, role, conn)

	h.onUnbind(sess, peer, role)
	terminate("closed")
}

// writeLoop drains peer.Send onto the socket until the channel is closed or
// a write fails.
func (h *Handler) writeLoop(conn *websocket.Conn, peer *session.Peer) {
	for msg := range peer.Send {
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(msg); err != nil {
			slog.Debug("ws write failed", "conn_id", peer.ConnID, "type", msg.Type, "err", err)
			return
		}
	}
}

// onBind performs the post-upgrade replay sequence: registration status,
// clipboard history, in-flight file state, mutual connect notices, and
// missing-chunk recovery for paused transfers.
func (h *Handler) onBind(sess *session.Session, peer *session.Peer, role session.Role) {
	peer.SafeSend(protocol.Message{Type: protocol.TypeStatus, Message: fmt.Sprintf("%s registered.", role)})

	relay.ReplayHistory(sess, peer)

	for _, rec := range sess.Files() {
		switch {
		case rec.ReceiverRole() == role:
			peer.SafeSend(protocol.Message{
				Type:        protocol.TypeFileMeta,
				FileID:      rec.FileID,
				FileName:    rec.Name,
				TotalChunks: rec.TotalChunks,
				TotalSize:   rec.TotalSize,
			})
		case rec.SenderRole == role:
			peer.SafeSend(protocol.Message{
				Type:           protocol.TypeFileProgress,
				FileID:         rec.FileID,
				ReceivedChunks: rec.ReceivedChunks(),
				TotalChunks:    rec.TotalChunks,
			})
		}
	}

	if sess.BothBound() {
		if pc, ok := sess.Peer(session.RolePC); ok {
			pc.SafeSend(protocol.Message{Type: protocol.TypeStatus, Message: "Mobile connected"})
		}
		if app, ok := sess.Peer(session.RoleApp); ok {
			app.SafeSend(protocol.Message{Type: protocol.TypeStatus, Message: "PC connected"})
		}
	}

	for _, rec := range sess.Files() {
		if rec.Status() != session.StatusPaused {
			continue
		}
		if sender, ok := sess.Peer(rec.SenderRole); ok {
			sender.SafeSend(filetransfer.MissingChunksMessage(rec))
		}
	}
}

// onUnbind releases role's slot (only if it still references peer) and, if
// it did, pauses that side's in-flight sends and notifies the other side.
func (h *Handler) onUnbind(sess *session.Session, peer *session.Peer, role session.Role) {
	if !sess.Unbind(role, peer) {
		return
	}
	slog.Info("connection unbound", "pair_id", sess.PairID(), "role", role, "conn_id", peer.ConnID)

	h.engine.HandleSenderDisconnect(sess, role)

	if other, ok := sess.Peer(session.OtherRole(role)); ok {
		other.SafeSend(protocol.Message{
			Type:    protocol.TypePeerDisconnected,
			Side:    string(role),
			Message: fmt.Sprintf("%s disconnected", role),
		})
	}
}

// readLoop reads one JSON frame at a time and dispatches it, per spec §4.4:
// parse failures are logged and dropped, never closing the connection;
// transport-level errors end the loop.
func (h *Handler) readLoop(sess *session.Session, peer *session.Peer, role session.Role, conn *websocket.Conn) {
	for {
		var msg protocol.Message
		if err := conn.ReadJSON(&msg); err != nil {
			if isTransportErr(err) {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					slog.Debug("ws unexpected close", "pair_id", sess.PairID(), "role", role, "err", err)
				}
				return
			}
			slog.Debug("malformed frame dropped", "pair_id", sess.PairID(), "role", role, "err", err)
			continue
		}

		peer.MarkAlive()
		sess.Touch()
		h.dispatch(sess, peer, msg)
	}
}

func (h *Handler) dispatch(sess *session.Session, peer *session.Peer, msg protocol.Message) {
	switch msg.Type {
	case protocol.TypeClipboard:
		relay.HandleClipboard(sess, peer, msg.Content)
	case protocol.TypeFileMeta:
		h.engine.HandleFileMeta(sess, peer, msg)
	case protocol.TypeFileChunk:
		h.engine.HandleFileChunk(sess, peer, msg)
	case protocol.TypeFileChunkAck:
		h.engine.HandleFileChunkAck(sess, peer, msg)
	case protocol.TypeFileComplete:
		h.engine.HandleFileComplete(sess, peer, msg)
	case protocol.TypePauseFile:
		h.engine.HandlePauseFile(sess, peer, msg)
	case protocol.TypeResumeFile:
		h.engine.HandleResumeFile(sess, peer, msg)
	case protocol.TypeRequestChunks:
		h.engine.HandleRequestChunks(sess, peer, msg)
	case protocol.TypeFileMissingChunks:
		h.engine.HandleFileMissingChunks(sess, peer, msg)
	default:
		slog.Debug("unknown message type dropped", "pair_id", sess.PairID(), "type", msg.Type)
	}
}

// isTransportErr reports whether err ended the connection (as opposed to a
// single malformed frame that ReadJSON still consumed cleanly).
func isTransportErr(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
		websocket.CloseNoStatusReceived, websocket.CloseProtocolError) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
