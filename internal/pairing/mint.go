// Package pairing issues pairing credentials: a short pair identifier and a
// one-time bearer token, seeding a new, empty session and arming its
// mint-TTL expiry.
package pairing

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"clipsync/internal/protocol"
	"clipsync/internal/session"
)

const maxPairIDAttempts = 20

// Credentials is the body of a successful mint.
type Credentials struct {
	PairID string `json:"pairId"`
	Token  string `json:"token"`
}

// Mint generates a new pair identifier and token, registers an empty
// session for it, and arms a timer that reaps the pair if it never becomes
// fully bound within ttl.
func Mint(reg *session.Registry, ttl time.Duration) (Credentials, error) {
	pairID, err := uniquePairID(reg)
	if err != nil {
		return Credentials{}, err
	}

	token, err := randomHex(16)
	if err != nil {
		return Credentials{}, fmt.Errorf("pairing: generate token: %w", err)
	}

	sess := session.New(pairID, token)
	reg.Insert(sess)
	slog.Info("pair minted", "pair_id", pairID)

	time.AfterFunc(ttl, func() { expireIfUnbound(reg, sess) })

	return Credentials{PairID: pairID, Token: token}, nil
}

// expireIfUnbound removes sess if it never became fully bound within the
// mint TTL, notifying whichever single side connected that it expired.
// Once a pair has been fully bound even briefly, the TTL no longer applies.
func expireIfUnbound(reg *session.Registry, sess *session.Session) {
	if sess.EverFullyBound() {
		return
	}
	if !reg.Has(sess.PairID()) {
		return
	}

	for _, role := range [...]session.Role{session.RolePC, session.RoleApp} {
		if peer, ok := sess.Peer(role); ok {
			peer.SafeSend(protocol.Message{Type: protocol.TypeExpired})
			peer.Terminate("expired")
		}
	}
	reg.Remove(sess.PairID())
	slog.Info("pair expired before pairing completed", "pair_id", sess.PairID())
}

func uniquePairID(reg *session.Registry) (string, error) {
	for i := 0; i < maxPairIDAttempts; i++ {
		id, err := randomHex(3)
		if err != nil {
			return "", fmt.Errorf("pairing: generate pair id: %w", err)
		}
		if !reg.Has(id) {
			return id, nil
		}
	}
	return "", fmt.Errorf("pairing: could not find a free pair id after %d attempts", maxPairIDAttempts)
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
