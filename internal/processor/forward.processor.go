package processor

import (
	"context"

	"github.com/google/uuid"
	"github.com/nimasrn/sms-forwarder/internal/classifier"
	gateway "github.com/nimasrn/sms-forwarder/internal/gateways"
	"github.com/nimasrn/sms-forwarder/internal/model"
	"github.com/nimasrn/sms-forwarder/internal/queue"
	"github.com/nimasrn/sms-forwarder/pkg/apperror"
	"github.com/nimasrn/sms-forwarder/pkg/logger"
	"github.com/nimasrn/sms-forwarder/pkg/prom"
	"github.com/pkg/errors"
)

type MessageStore interface {
	Get(ctx context.Context, id uuid.UUID) (*model.Message, error)
	MarkForwarded(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
}

type DeviceStore interface {
	Get(ctx context.Context, deviceID string) (*model.DeviceView, error)
	RecordForwarded(ctx context.Context, deviceID string) error
}

type Relay interface {
	Forward(ctx context.Context, req *gateway.RelayRequest) (*gateway.RelayResult, error)
}

type Locker interface {
	Acquire(ctx context.Context, messageID string) (*Lease, error)
	Settle(ctx context.Context, l *Lease) error
	Release(ctx context.Context, l *Lease) error
}

// ForwardProcessor relays one queued message, honouring the settings of the
// device that received it.
type ForwardProcessor struct {
	messages MessageStore
	devices  DeviceStore
	relay    Relay
	locks    Locker
	log      logger.Logger
}

func NewForwardProcessor(messages MessageStore, devices DeviceStore, relay Relay, locks Locker, l logger.Logger) *ForwardProcessor {
	return &ForwardProcessor{messages: messages, devices: devices, relay: relay, locks: locks, log: l}
}

func (p *ForwardProcessor) GetType() string {
	return "forward"
}

// Process returns nil when the entry should be acked, and an error when the
// queue should redeliver it.
func (p *ForwardProcessor) Process(ctx context.Context, qm *queue.Message) error {
	var job model.ForwardJob
	if err := qm.Decode(&job); err != nil {
		p.log.Error("[forward] undecodable job dropped", "queue_id", qm.ID, "error", err)
		return nil
	}
	id, err := uuid.Parse(job.MessageID)
	if err != nil {
		p.log.Error("[forward] job with invalid message id dropped", "queue_id", qm.ID, "message_id", job.MessageID)
		return nil
	}

	lease, err := p.locks.Acquire(ctx, job.MessageID)
	switch {
	case errors.Is(err, ErrAlreadyProcessed):
		p.log.Debug("[forward] already settled", "message_id", job.MessageID)
		return nil
	case err != nil:
		return err
	}
	defer func() {
		if err := p.locks.Release(context.Background(), lease); err != nil {
			p.log.Warn("[forward] lock release failed", "message_id", job.MessageID, "error", err)
		}
	}()

	msg, err := p.messages.Get(ctx, id)
	if apperror.Is(err, apperror.CodeNotFound) {
		p.log.Info("[forward] message deleted before forwarding", "message_id", job.MessageID)
		p.settle(ctx, lease)
		return nil
	}
	if err != nil {
		return err
	}
	if msg.Status == model.MessageStatusForwarded {
		p.settle(ctx, lease)
		return nil
	}

	settings, err := p.settingsFor(ctx, msg.DeviceID)
	if err != nil {
		return err
	}
	if ok, reason := settings.ShouldForward(msg.Content); !ok {
		p.log.Info("[forward] skipped", "message_id", job.MessageID, "device_id", msg.DeviceID, "reason", reason)
		prom.IncForwardOutcome(prom.OutcomeSkipped)
		p.settle(ctx, lease)
		return nil
	}

	res, err := p.relay.Forward(ctx, newRelayRequest(msg))
	if err != nil {
		if markErr := p.messages.MarkFailed(ctx, id, err.Error()); markErr != nil {
			p.log.Error("[forward] mark failed", "message_id", job.MessageID, "error", markErr)
		}
		prom.IncForwardOutcome(prom.OutcomeFailed)
		return errors.Wrapf(err, "forward %s", job.MessageID)
	}

	// the relay accepted the message, so it must not be sent again even if
	// the bookkeeping below fails
	p.settle(ctx, lease)
	prom.IncForwardOutcome(prom.OutcomeForwarded)

	if err := p.messages.MarkForwarded(ctx, id); err != nil {
		p.log.Error("[forward] mark forwarded", "message_id", job.MessageID, "error", err)
	}
	if err := p.devices.RecordForwarded(ctx, msg.DeviceID); err != nil {
		p.log.Error("[forward] device counter", "device_id", msg.DeviceID, "error", err)
	}

	p.log.Info("[forward] forwarded", "message_id", job.MessageID, "device_id", msg.DeviceID, "endpoint", res.Endpoint, "latency_ms", res.LatencyMs)
	return nil
}

// settingsFor falls back to defaults for a device that no longer exists.
func (p *ForwardProcessor) settingsFor(ctx context.Context, deviceID string) (model.DeviceSettings, error) {
	d, err := p.devices.Get(ctx, deviceID)
	if apperror.Is(err, apperror.CodeNotFound) {
		return model.DefaultDeviceSettings(), nil
	}
	if err != nil {
		return model.DeviceSettings{}, err
	}
	return d.Settings, nil
}

func (p *ForwardProcessor) settle(ctx context.Context, l *Lease) {
	if err := p.locks.Settle(ctx, l); err != nil {
		p.log.Warn("[forward] settle failed", "message_id", l.MessageID, "error", err)
	}
}

func newRelayRequest(m *model.Message) *gateway.RelayRequest {
	otp, _ := classifier.ExtractOTP(m.Content)
	return &gateway.RelayRequest{
		MessageID: m.ID.String(),
		DeviceID:  m.DeviceID,
		Sender:    m.Sender,
		Content:   m.Content,
		Timestamp: m.Timestamp,
		IsOTP:     m.IsOTP(),
		OTP:       otp,
	}
}
