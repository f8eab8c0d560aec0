package redis

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"crowdplay-room-service/internal/domain"
)

// Publisher fans room events out over Redis pub/sub, one channel per room.
// Cross-instance subscribers rely on the event's version tag, never on
// delivery order.
type Publisher struct {
	client *redis.Client
	logger *zap.Logger
}

func NewPublisher(client *redis.Client, logger *zap.Logger) *Publisher {
	return &Publisher{client: client, logger: logger}
}

func (p *Publisher) Publish(ctx context.Context, event domain.StateEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("marshal state event", zap.Error(err), zap.String("roomId", event.RoomID))
		return
	}
	if err := p.client.Publish(ctx, ChannelFor(event.RoomID), payload).Err(); err != nil {
		p.logger.Warn("publish state event", zap.Error(err), zap.String("roomId", event.RoomID))
	}
}

// ChannelFor names the pub/sub channel carrying a room's events.
func ChannelFor(roomID string) string {
	return "room:events:" + roomID
}
