package token

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/idoneo/emailer/internal/domain"
)

type mapIndex map[string]uuid.UUID

func (m mapIndex) DeliveryIDByToken(_ context.Context, token string) (uuid.UUID, error) {
	id, ok := m[token]
	if !ok {
		return uuid.Nil, domain.ErrNotFound
	}
	return id, nil
}

func TestDeriveIsDeterministic(t *testing.T) {
	codec := New("test-signing-key", mapIndex{})
	id := uuid.New()

	if codec.Derive(id) != codec.Derive(id) {
		t.Error("Derive() must be deterministic for the same id")
	}
	if codec.Derive(id) == codec.Derive(uuid.New()) {
		t.Error("Derive() must differ across ids")
	}
	if len(codec.Derive(id)) != 64 {
		t.Errorf("Derive() length = %d, want 64 hex chars", len(codec.Derive(id)))
	}
}

func TestDeriveDependsOnSecret(t *testing.T) {
	id := uuid.New()
	a := New("key-a", mapIndex{}).Derive(id)
	b := New("key-b", mapIndex{}).Derive(id)
	if a == b {
		t.Error("Derive() must depend on the signing secret")
	}
}

func TestResolveRoundTrip(t *testing.T) {
	idx := mapIndex{}
	codec := New("test-signing-key", idx)
	ctx := context.Background()

	for range 10 {
		id := uuid.New()
		idx[codec.Derive(id)] = id
		got, err := codec.Resolve(ctx, codec.Derive(id))
		if err != nil {
			t.Fatalf("Resolve(Derive(%s)) error: %v", id, err)
		}
		if got != id {
			t.Errorf("Resolve(Derive(%s)) = %s", id, got)
		}
	}
}

func TestResolveUnknownToken(t *testing.T) {
	codec := New("test-signing-key", mapIndex{})

	unknown := codec.Derive(uuid.New()) // valid shape, not in index
	if _, err := codec.Resolve(context.Background(), unknown); err != domain.ErrNotFound {
		t.Errorf("Resolve(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestResolveMalformedToken(t *testing.T) {
	codec := New("test-signing-key", mapIndex{})

	for _, tok := range []string{"", "short", "zz" + string(make([]byte, 62))} {
		if _, err := codec.Resolve(context.Background(), tok); err != domain.ErrNotFound {
			t.Errorf("Resolve(%q) error = %v, want ErrNotFound", tok, err)
		}
	}
}

func TestResolveRejectsTamperedIndexRow(t *testing.T) {
	idx := mapIndex{}
	codec := New("test-signing-key", idx)

	victim := uuid.New()
	attacker := uuid.New()
	// Index row points a valid token at the wrong delivery.
	idx[codec.Derive(victim)] = attacker

	if _, err := codec.Resolve(context.Background(), codec.Derive(victim)); err != domain.ErrNotFound {
		t.Errorf("Resolve() with mismatched index row = %v, want ErrNotFound", err)
	}
}
