// Package relay implements the clipboard forwarding half of the relay
// state machine (spec §4.5): history retention plus best-effort forwarding
// to the other side of a pair.
package relay

import (
	"log/slog"

	"clipsync/internal/protocol"
	"clipsync/internal/session"
)

// HandleClipboard appends content to sess's replay history and forwards it
// to the other role. A missing or unbound peer on the other side simply
// drops the forward; history retention still occurs either way.
func HandleClipboard(sess *session.Session, from *session.Peer, content string) {
	entry := sess.AppendClipboard(from.DeviceName, content)

	other, ok := sess.Peer(session.OtherRole(from.Role))
	if !ok {
		slog.Debug("clipboard forward dropped: peer unbound", "pair_id", sess.PairID(), "from", from.Role)
		return
	}
	sent := other.SafeSend(protocol.Message{
		Type:    protocol.TypeClipboard,
		From:    entry.From,
		Content: entry.Content,
	})
	slog.Debug("clipboard forwarded", "pair_id", sess.PairID(), "from", from.Role, "delivered", sent)
}

// ReplayHistory sends every stored clipboard entry to peer, in insertion
// order, as individual clipboard frames. Used when a side (re)connects.
func ReplayHistory(sess *session.Session, peer *session.Peer) {
	for _, entry := range sess.ClipboardHistory() {
		peer.SafeSend(protocol.Message{
			Type:    protocol.TypeClipboard,
			From:    entry.From,
			Content: entry.Content,
		})
	}
}
