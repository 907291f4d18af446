package rooms

import (
	"context"
	"crypto/subtle"
	"errors"
)

// ErrNoRegistry is returned by the gate when a key can only be checked
// against a registry and none is configured.
var ErrNoRegistry = errors.New("room registry not configured")

// Gate decides whether a bearer token may write to a room.
type Gate struct {
	registry    *Registry
	defaultRoom string
	bridgeKey   string
}

// NewGate creates a gate. registry may be nil (proxy mode without a SQL
// registry). bridgeKey, when set, is accepted for defaultRoom in addition
// to that room's own key.
func NewGate(registry *Registry, defaultRoom, bridgeKey string) *Gate {
	return &Gate{registry: registry, defaultRoom: defaultRoom, bridgeKey: bridgeKey}
}

// ValidateRoomAPIKey reports whether token is the API key of roomID.
// An empty token and an unknown room are both rejected.
func (g *Gate) ValidateRoomAPIKey(ctx context.Context, roomID, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	if roomID == g.defaultRoom && g.IsBridgeKey(token) {
		return true, nil
	}
	if g.registry == nil {
		return false, ErrNoRegistry
	}

	room, err := g.registry.GetRoomConfig(ctx, roomID)
	if err != nil {
		return false, err
	}
	if room == nil || room.APIKey == "" {
		return false, nil
	}
	return tokensEqual(room.APIKey, token), nil
}

// IsBridgeKey reports whether token is the configured bridge key.
func (g *Gate) IsBridgeKey(token string) bool {
	return g.bridgeKey != "" && tokensEqual(g.bridgeKey, token)
}

// ValidateMasterKey reports whether token matches the master key. An
// unset master key rejects everything.
func ValidateMasterKey(masterKey, token string) bool {
	return masterKey != "" && token != "" && tokensEqual(masterKey, token)
}

func tokensEqual(want, got string) bool {
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}
