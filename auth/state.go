package auth

import (
	"time"

	"github.com/google/uuid"
)

// State is the ephemeral record of one authorization attempt. It is created
// when the authorization URL is built and consumed exactly once by the
// matching callback.
type State struct {
	Nonce     string
	ServerID  string
	PKCE      *PKCE
	StartedAt time.Time
}

// NewState generates a fresh state nonce, plus a PKCE pair when requested.
func NewState(serverID string, usePKCE bool) (*State, error) {
	ret := &State{
		Nonce:     uuid.NewString(),
		ServerID:  serverID,
		StartedAt: time.Now(),
	}
	if usePKCE {
		pkce, err := NewPKCE()
		if err != nil {
			return nil, err
		}
		ret.PKCE = pkce
	}
	return ret, nil
}
