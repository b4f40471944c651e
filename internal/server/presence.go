package server

import (
	"context"
	"fmt"

	"github.com/npezzotti/chat-gateway/internal/database"
	"github.com/npezzotti/chat-gateway/internal/types"
)

// PresenceChecker reports whether a user has a live announced connection.
type PresenceChecker interface {
	IsOnline(userId int) bool
}

// VerifyPresence returns the participants of a conversation that are
// currently online. A directory failure is returned as an error rather than
// an empty result.
func VerifyPresence(ctx context.Context, dir database.Directory, presence PresenceChecker, conversationId int) ([]types.Participant, error) {
	participants, err := dir.ParticipantsOf(ctx, conversationId)
	if err != nil {
		return nil, fmt.Errorf("%w: participants of %d: %v", ErrDirectoryUnavailable, conversationId, err)
	}

	online := make([]types.Participant, 0, len(participants))
	for _, p := range participants {
		if presence.IsOnline(p.UserId) {
			online = append(online, toParticipant(p))
		}
	}

	return online, nil
}

func toParticipant(p database.Participant) types.Participant {
	return types.Participant{
		Id:             p.Id,
		UserId:         p.UserId,
		ConversationId: p.ConversationId,
		User: types.User{
			Id:        p.User.Id,
			Username:  p.User.Username,
			FirstName: p.User.FirstName,
			LastName:  p.User.LastName,
			Email:     p.User.Email,
		},
	}
}
