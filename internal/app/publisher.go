package app

import (
	"context"

	"crowdplay-room-service/internal/domain"
)

// MultiPublisher fans each event out to every configured publisher, e.g. the
// in-process hub plus redis pub/sub for other instances.
type MultiPublisher []StatePublisher

func (m MultiPublisher) Publish(ctx context.Context, event domain.StateEvent) {
	for _, p := range m {
		p.Publish(ctx, event)
	}
}
