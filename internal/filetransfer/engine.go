// Package filetransfer implements the chunked file-transfer engine (spec
// §4.6): per-file records, chunk forwarding with bounded retry, acknowledgement
// accounting, pause/resume, missing-chunk recovery, and completion.
package filetransfer

import (
	"fmt"
	"log/slog"
	"time"

	"clipsync/internal/metrics"
	"clipsync/internal/protocol"
	"clipsync/internal/session"
)

// Engine holds the transfer limits every handler enforces. It carries no
// session state of its own — every file's state lives on its FileRecord,
// reached through the Session passed into each handler.
type Engine struct {
	ChunkSize            int64
	MaxFileSize          int64
	MaxSimultaneousFiles int
	ChunkRetryLimit      int

	// Metrics is optional; nil disables counter reporting (e.g. in tests
	// that don't care to construct a registry).
	Metrics *metrics.Metrics
}

// New builds an Engine from the server's configured limits. m may be nil.
func New(chunkSize, maxFileSize int64, maxSimultaneousFiles, chunkRetryLimit int, m *metrics.Metrics) *Engine {
	return &Engine{
		ChunkSize:            chunkSize,
		MaxFileSize:          maxFileSize,
		MaxSimultaneousFiles: maxSimultaneousFiles,
		ChunkRetryLimit:      chunkRetryLimit,
		Metrics:              m,
	}
}

func broadcastBoth(sess *session.Session, msg protocol.Message) {
	for _, role := range [...]session.Role{session.RolePC, session.RoleApp} {
		if p, ok := sess.Peer(role); ok {
			p.SafeSend(msg)
		}
	}
}

// MissingChunksMessage builds the file_missing_chunks frame sent to a file's
// sender, whose chunks is exactly {0..TotalChunks-1} \ receivedMap. Exported
// so the authenticator can replay it on reconnect (spec §4.3 step 8) without
// duplicating the "recompute from receivedMap" logic.
func MissingChunksMessage(rec *session.FileRecord) protocol.Message {
	return protocol.Message{
		Type:   protocol.TypeFileMissingChunks,
		FileID: rec.FileID,
		Chunks: protocol.EncodeIndices(rec.MissingChunks()),
	}
}

// HandleFileMeta registers a new transfer, designating from's role as the
// sender, and mirrors the metadata to the other side.
func (e *Engine) HandleFileMeta(sess *session.Session, from *session.Peer, msg protocol.Message) {
	if msg.FileID == "" || msg.FileName == "" || msg.TotalChunks <= 0 {
		from.SafeSend(protocol.Message{Type: protocol.TypeError, Message: "Invalid file meta"})
		return
	}

	if sess.NonCompletedFileCount() >= e.MaxSimultaneousFiles {
		from.SafeSend(protocol.Message{
			Type:    protocol.TypeError,
			Message: fmt.Sprintf("Too many simultaneous file transfers. Maximum is %d", e.MaxSimultaneousFiles),
		})
		return
	}

	effectiveSize := int64(msg.TotalChunks) * e.ChunkSize
	if msg.TotalSize != nil && *msg.TotalSize > 0 {
		effectiveSize = *msg.TotalSize
	}
	if effectiveSize > e.MaxFileSize {
		from.SafeSend(protocol.Message{
			Type:    protocol.TypeError,
			Message: fmt.Sprintf("File too large. Maximum size is %dMB", e.MaxFileSize/(1024*1024)),
		})
		return
	}

	rec := session.NewFileRecord(msg.FileID, msg.FileName, msg.TotalChunks, msg.TotalSize, from.Role)
	if !sess.CreateFile(rec) {
		from.SafeSend(protocol.Message{Type: protocol.TypeError, Message: "Invalid file meta"})
		return
	}

	slog.Info("file transfer started", "pair_id", sess.PairID(), "file_id", rec.FileID, "name", rec.Name,
		"total_chunks", rec.TotalChunks, "sender", from.Role)

	go e.runForwarder(sess, rec)

	if other, ok := sess.Peer(session.OtherRole(from.Role)); ok {
		other.SafeSend(protocol.Message{
			Type:        protocol.TypeFileMeta,
			FileID:      rec.FileID,
			FileName:    rec.Name,
			TotalChunks: rec.TotalChunks,
			TotalSize:   rec.TotalSize,
		})
	}
}

// HandleFileChunk is called on a chunk arriving from the sender. It performs
// every precondition check synchronously (none of them block), then hands
// the chunk to the file's forwarder goroutine for the actual (possibly
// retried) relay.
func (e *Engine) HandleFileChunk(sess *session.Session, from *session.Peer, msg protocol.Message) {
	rec, ok := sess.File(msg.FileID)
	if !ok {
		slog.Debug("file_chunk for unknown file dropped", "pair_id", sess.PairID(), "file_id", msg.FileID)
		return
	}
	if rec.Status() == session.StatusPaused {
		return
	}
	if msg.ChunkIndex == nil {
		return
	}
	index := *msg.ChunkIndex

	if _, ok := sess.Peer(rec.ReceiverRole()); !ok {
		e.pauseAndNotify(sess, rec, "Receiver unavailable")
		return
	}

	if rec.HasReceived(index) {
		return
	}

	rec.Touch()
	select {
	case rec.Forward <- session.ChunkForward{Index: index, Data: msg.Data}:
	default:
		// Forwarder is saturated; treat like any other transient relay
		// failure rather than blocking the reader goroutine indefinitely.
		e.pauseAndNotify(sess, rec, "Relay failed")
	}
}

// runForwarder drains rec.Forward in arrival order, relaying each chunk to
// the receiver with bounded retry. One goroutine per file keeps per-(sender,
// file) ordering while letting concurrent files interleave freely.
func (e *Engine) runForwarder(sess *session.Session, rec *session.FileRecord) {
	for cf := range rec.Forward {
		if rec.Status() == session.StatusPaused {
			continue
		}
		e.relayChunk(sess, rec, cf)
	}
}

func (e *Engine) relayChunk(sess *session.Session, rec *session.FileRecord, cf session.ChunkForward) {
	limit := e.ChunkRetryLimit
	if limit <= 0 {
		limit = 1
	}
	for attempt := 1; attempt <= limit; attempt++ {
		receiver, ok := sess.Peer(rec.ReceiverRole())
		if ok && receiver.SafeSend(protocol.Message{
			Type:        protocol.TypeFileChunk,
			FileID:      rec.FileID,
			ChunkIndex:  protocol.IntPtr(cf.Index),
			TotalChunks: rec.TotalChunks,
			Data:        cf.Data,
		}) {
			if e.Metrics != nil {
				e.Metrics.ChunksForwarded.Inc()
			}
			return
		}
		if attempt < limit {
			if e.Metrics != nil {
				e.Metrics.ChunksRetried.Inc()
			}
			time.Sleep(time.Duration(attempt) * 100 * time.Millisecond)
		}
	}
	slog.Warn("chunk relay exhausted retries", "pair_id", sess.PairID(), "file_id", rec.FileID, "chunk", cf.Index)
	if e.Metrics != nil {
		e.Metrics.ChunksDropped.Inc()
	}
	e.pauseAndNotify(sess, rec, "Relay failed")
}

func (e *Engine) pauseAndNotify(sess *session.Session, rec *session.FileRecord, reason string) {
	if !rec.Pause() {
		return
	}
	broadcastBoth(sess, protocol.Message{Type: protocol.TypeFilePaused, FileID: rec.FileID, Reason: reason})
}

// HandleSenderDisconnect pauses every non-completed transfer whose sender
// was role, notifying both sides. Called by the driver's cleanup path; the
// receiver-disconnect case needs no equivalent handling here, since the
// next file_chunk from a still-present sender already finds the receiver
// slot empty and takes the ordinary "Receiver unavailable" path.
func (e *Engine) HandleSenderDisconnect(sess *session.Session, role session.Role) {
	for _, rec := range sess.Files() {
		if rec.SenderRole != role {
			continue
		}
		if rec.Pause() {
			broadcastBoth(sess, protocol.Message{Type: protocol.TypeFilePaused, FileID: rec.FileID, Reason: "Sender disconnected"})
		}
	}
}

// HandleFileChunkAck records a receiver's acknowledgement, unblocks the
// sender's window, and drives completion — the single source of truth for
// transfer progress.
func (e *Engine) HandleFileChunkAck(sess *session.Session, from *session.Peer, msg protocol.Message) {
	rec, ok := sess.File(msg.FileID)
	if !ok || msg.ChunkIndex == nil {
		return
	}
	index := *msg.ChunkIndex

	receivedChunks, completed := rec.MarkReceived(index)

	if sender, ok := sess.Peer(rec.SenderRole); ok {
		sender.SafeSend(protocol.Message{Type: protocol.TypeFileChunkAck, FileID: rec.FileID, ChunkIndex: protocol.IntPtr(index)})
	}
	from.SafeSend(protocol.Message{
		Type:           protocol.TypeFileProgress,
		FileID:         rec.FileID,
		ReceivedChunks: receivedChunks,
		TotalChunks:    rec.TotalChunks,
	})

	if completed {
		slog.Info("file transfer completed", "pair_id", sess.PairID(), "file_id", rec.FileID)
		broadcastBoth(sess, protocol.Message{Type: protocol.TypeFileComplete, FileID: rec.FileID})
	}
}

// HandleFileComplete forwards a sender's informational completion notice;
// authoritative completion is driven by acks, not this message.
func (e *Engine) HandleFileComplete(sess *session.Session, from *session.Peer, msg protocol.Message) {
	if other, ok := sess.Peer(session.OtherRole(from.Role)); ok {
		other.SafeSend(protocol.Message{Type: protocol.TypeFileComplete, FileID: msg.FileID})
	}
}

// HandlePauseFile pauses a transfer by explicit request from either side.
func (e *Engine) HandlePauseFile(sess *session.Session, from *session.Peer, msg protocol.Message) {
	rec, ok := sess.File(msg.FileID)
	if !ok {
		return
	}
	if !rec.Pause() {
		return
	}
	broadcastBoth(sess, protocol.Message{Type: protocol.TypeFilePaused, FileID: rec.FileID})
}

// HandleResumeFile resumes a non-completed transfer and immediately
// re-requests its missing chunks from the sender (spec's resume law).
func (e *Engine) HandleResumeFile(sess *session.Session, from *session.Peer, msg protocol.Message) {
	rec, ok := sess.File(msg.FileID)
	if !ok {
		return
	}
	if !rec.Resume() {
		return
	}
	broadcastBoth(sess, protocol.Message{Type: protocol.TypeFileResumed, FileID: rec.FileID})
	if sender, ok := sess.Peer(rec.SenderRole); ok {
		sender.SafeSend(MissingChunksMessage(rec))
	}
}

// HandleRequestChunks forwards a receiver's explicit re-request straight to
// the sender.
func (e *Engine) HandleRequestChunks(sess *session.Session, from *session.Peer, msg protocol.Message) {
	rec, ok := sess.File(msg.FileID)
	if !ok {
		return
	}
	if sender, ok := sess.Peer(rec.SenderRole); ok {
		sender.SafeSend(protocol.Message{Type: protocol.TypeFileMissingChunks, FileID: rec.FileID, Chunks: msg.Chunks})
	}
}

// HandleFileMissingChunks re-enqueues the sender's replayed chunks for
// relay to the receiver. Bare integer elements are ignored — the sender is
// expected to follow up with ordinary file_chunk frames for those on its
// own initiative (spec's open question (a)).
func (e *Engine) HandleFileMissingChunks(sess *session.Session, from *session.Peer, msg protocol.Message) {
	rec, ok := sess.File(msg.FileID)
	if !ok {
		return
	}
	if rec.Status() == session.StatusPaused {
		return
	}
	for _, elem := range protocol.ParseMissingChunks(msg.Chunks) {
		index := *elem.ChunkIndex
		if rec.HasReceived(index) {
			continue
		}
		select {
		case rec.Forward <- session.ChunkForward{Index: index, Data: elem.Data}:
		default:
			e.pauseAndNotify(sess, rec, "Relay failed")
			return
		}
	}
}
