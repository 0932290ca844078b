package domain

import (
	"time"

	"github.com/louisbranch/gathering.space/internal/platform/id"
)

// PublicSessionInfo is the public presence record for one anonymous session,
// independent of any resource. It is created lazily the first time a
// resource-scoped grant needs to reference the session and is never deleted,
// only mutated. AccountID is set once the session authenticates.
type PublicSessionInfo struct {
	ID           string
	SessionID    string
	AccountID    string
	Online       bool
	LastOnlineAt time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewPublicSessionInfo builds a session info record with a generated id.
func NewPublicSessionInfo(sessionID string, now func() time.Time, idGenerator func() (string, error)) (PublicSessionInfo, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}
	infoID, err := idGenerator()
	if err != nil {
		return PublicSessionInfo{}, err
	}
	createdAt := now().UTC()
	return PublicSessionInfo{
		ID:        infoID,
		SessionID: sessionID,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}, nil
}
