package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/regardsoss/dataprovider/internal/domain/acquisition"
	"github.com/regardsoss/dataprovider/internal/pkg/logger"
	"github.com/regardsoss/dataprovider/internal/realtime"
	"github.com/regardsoss/dataprovider/internal/realtime/bus"
)

// Publisher emits acquisition state notifications. A nil bus turns every call into a no-op.
// Publishing is best effort: failures are logged and never reach the caller.
type Publisher struct {
	bus bus.Bus
	log *logger.Logger
}

func NewPublisher(b bus.Bus, baseLog *logger.Logger) *Publisher {
	return &Publisher{bus: b, log: baseLog.With("service", "EventPublisher")}
}

func (p *Publisher) publish(ctx context.Context, channel string, ev realtime.Event, data map[string]any) {
	if p == nil || p.bus == nil {
		return
	}
	msg := realtime.Message{Channel: channel, Event: ev, At: time.Now().UTC(), Data: data}
	if err := p.bus.Publish(ctx, msg); err != nil && p.log != nil {
		p.log.Warn("publish event failed", "event", ev, "channel", channel, "error", err)
	}
}

// ProductState is emitted only when the state moved forward.
func (p *Publisher) ProductState(ctx context.Context, chainLabel string, product *acquisition.Product, previous acquisition.ProductState) {
	if product == nil || previous == product.State || previous.AtLeast(product.State) {
		return
	}
	p.publish(ctx, chainLabel, realtime.EventProductState, map[string]any{
		"product":  product.Name,
		"session":  product.Session,
		"state":    product.State,
		"previous": previous,
	})
}

func (p *Publisher) SIPState(ctx context.Context, chainLabel string, product *acquisition.Product, state acquisition.SIPState, message string) {
	if product == nil {
		return
	}
	data := map[string]any{
		"product":   product.Name,
		"session":   product.Session,
		"sip_state": state,
	}
	if message != "" {
		data["error"] = message
	}
	p.publish(ctx, chainLabel, realtime.EventSIPState, data)
}

func (p *Publisher) ChainStarted(ctx context.Context, chain *acquisition.Chain, session string, jobID uuid.UUID) {
	if chain == nil {
		return
	}
	p.publish(ctx, chain.Label, realtime.EventChainStarted, map[string]any{
		"chain_id": chain.ID,
		"session":  session,
		"job_id":   jobID,
	})
}

func (p *Publisher) ChainFinished(ctx context.Context, chainLabel string, session string, runErr error) {
	data := map[string]any{"session": session}
	if runErr != nil {
		data["error"] = runErr.Error()
	}
	p.publish(ctx, chainLabel, realtime.EventChainFinished, data)
}
