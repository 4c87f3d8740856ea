package notify

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Pusher fans a stored notification out to connected clients over Redis
// pub/sub. Delivery is best-effort; the stored row is the source of truth.
type Pusher struct {
	Client *redis.Client
	Logger zerolog.Logger
}

func userChannel(userID uuid.UUID) string {
	return "notify:user:" + userID.String()
}

// Push publishes the notification to the user's channel. Errors are logged
// and swallowed.
func (p *Pusher) Push(ctx context.Context, n Notification) {
	if p == nil || p.Client == nil {
		return
	}
	payload, err := json.Marshal(n)
	if err != nil {
		p.Logger.Error().Err(err).Msg("encode push payload")
		return
	}
	if err := p.Client.Publish(ctx, userChannel(n.UserID), payload).Err(); err != nil {
		p.Logger.Warn().Err(err).
			Str("user_id", n.UserID.String()).
			Msg("push publish failed")
	}
}
