package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/totegamma/aswan/internal/domain"
)

const usageChannelPrefix = "aswan:usage:"

type SignalService struct {
	rdb *redis.Client
}

func NewSignalService(redisClient *redis.Client) *SignalService {
	return &SignalService{
		rdb: redisClient,
	}
}

func usageChannel(owner string) string {
	return usageChannelPrefix + owner
}

// PublishUsage broadcasts a usage event on the owner's channel.
func (s *SignalService) PublishUsage(ctx context.Context, event domain.UsageEvent) error {

	jsonstr, err := json.Marshal(event)
	if err != nil {
		return err
	}

	err = s.rdb.Publish(ctx, usageChannel(event.Owner), jsonstr).Err()
	if err != nil {
		return err
	}

	return nil
}

// Realtime forwards the owner's usage events to output until ctx is done.
// ready is closed once the subscription is active.
func (s *SignalService) Realtime(ctx context.Context, owner string, output chan<- domain.UsageEvent, ready chan<- struct{}) error {
	pubsub := s.rdb.Subscribe(ctx, usageChannel(owner))
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	if ready != nil {
		close(ready)
	}

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			var event domain.UsageEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				slog.ErrorContext(
					ctx, "malformed usage event",
					slog.String("error", err.Error()),
					slog.String("module", domain.ModuleSignal),
				)
				continue
			}
			select {
			case output <- event:
			case <-ctx.Done():
				return nil
			}
		}
	}
}
