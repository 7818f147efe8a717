// Package token derives and resolves the opaque tracking tokens embedded
// in open pixels, click redirects, and unsubscribe links.
package token

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"

	"github.com/idoneo/emailer/internal/domain"
)

// Index is the persisted token → delivery reverse lookup. The token is
// written alongside the delivery at creation time, so resolution is a
// single indexed read instead of rehashing every delivery.
type Index interface {
	DeliveryIDByToken(ctx context.Context, token string) (uuid.UUID, error)
}

// Codec derives deterministic per-delivery tokens from a process secret.
// Derivation is a keyed hash of the delivery id: the same (secret, id)
// pair always yields the same token, so tokens stay valid for the
// lifetime of the delivery, and the id never appears in the token.
type Codec struct {
	secret []byte
	index  Index
}

// New creates a Codec with the given signing secret and reverse index.
func New(secret string, index Index) *Codec {
	return &Codec{secret: []byte(secret), index: index}
}

// Derive returns the tracking token for a delivery id.
func (c *Codec) Derive(id uuid.UUID) string {
	h := hmac.New(sha256.New, c.secret)
	h.Write([]byte(id.String()))
	return hex.EncodeToString(h.Sum(nil))
}

// Resolve maps a token back to its delivery id via the reverse index.
// The stored mapping is re-verified against the derivation so a corrupted
// or tampered index row can never redirect tracking to the wrong delivery.
// Unknown or malformed tokens return domain.ErrNotFound.
func (c *Codec) Resolve(ctx context.Context, token string) (uuid.UUID, error) {
	if len(token) != sha256.Size*2 {
		return uuid.Nil, domain.ErrNotFound
	}
	if _, err := hex.DecodeString(token); err != nil {
		return uuid.Nil, domain.ErrNotFound
	}

	id, err := c.index.DeliveryIDByToken(ctx, token)
	if err != nil {
		if err == domain.ErrNotFound {
			return uuid.Nil, domain.ErrNotFound
		}
		return uuid.Nil, fmt.Errorf("resolve token: %w", err)
	}

	if !hmac.Equal([]byte(c.Derive(id)), []byte(token)) {
		return uuid.Nil, domain.ErrNotFound
	}
	return id, nil
}
