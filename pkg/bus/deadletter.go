package bus

import (
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/bdpgmbv/rtve/pkg/types"
)

// DeadLetterPublisher publishes unprocessable records to the DLQ
// stream. Offer never blocks the caller and never returns an error; a
// failed publish is logged and the record dropped (the DLQ is lossy by
// contract, same as the tick stream it shadows).
type DeadLetterPublisher struct {
	client  *Client
	logger  *logrus.Entry
	onOffer func(kind types.ErrorKind)
}

// NewDeadLetterPublisher creates a DLQ publisher. onOffer, if set, is
// called once per offer with the record's kind.
func NewDeadLetterPublisher(client *Client, onOffer func(kind types.ErrorKind)) *DeadLetterPublisher {
	return &DeadLetterPublisher{
		client:  client,
		logger:  logrus.WithField("component", "dlq"),
		onOffer: onOffer,
	}
}

// Offer publishes one dead letter for the given topic
func (p *DeadLetterPublisher) Offer(topic, key string, payload []byte, cause error, kind types.ErrorKind) {
	dl := types.DeadLetter{
		ID:            uuid.NewString(),
		OriginalTopic: topic,
		Key:           key,
		Payload:       payload,
		ErrorMessage:  cause.Error(),
		ErrorKind:     kind,
		Timestamp:     time.Now().UTC(),
	}

	if err := p.client.Publish(DLQSubject(topic), dl); err != nil {
		p.logger.WithFields(logrus.Fields{
			"topic": topic,
			"key":   key,
			"kind":  kind,
		}).Errorf("Failed to publish dead letter: %v", err)
	}
	if p.onOffer != nil {
		p.onOffer(kind)
	}
}

// ValuationPublisher emits conflated valuation batches to each
// account's topic
type ValuationPublisher struct {
	client *Client
	logger *logrus.Entry
}

// NewValuationPublisher creates a publisher for conflated batches
func NewValuationPublisher(client *Client) *ValuationPublisher {
	return &ValuationPublisher{
		client: client,
		logger: logrus.WithField("component", "valuation-publisher"),
	}
}

// Emit publishes one batch to the account's subscriber topic
func (p *ValuationPublisher) Emit(accountID int64, batch []types.Valuation) error {
	if len(batch) == 0 {
		return nil
	}
	return p.client.Publish(AccountSubject(accountID), batch)
}
