package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/smilequote/api/internal/services"
)

// PubSubQuoteEmailPublisher hands rendered quote emails to the mail
// worker through a Pub/Sub topic.
type PubSubQuoteEmailPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

var _ services.QuoteEmailPublisher = (*PubSubQuoteEmailPublisher)(nil)

// NewPubSubQuoteEmailPublisher constructs a publisher bound to topic.
func NewPubSubQuoteEmailPublisher(topic *pubsub.Topic) (*PubSubQuoteEmailPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub quote email publisher: topic is required")
	}
	return &PubSubQuoteEmailPublisher{topic: topic, marshal: json.Marshal}, nil
}

// PublishQuoteEmail enqueues message and waits for the server id.
func (p *PubSubQuoteEmailPublisher) PublishQuoteEmail(ctx context.Context, message services.QuoteEmailMessage) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub quote email publisher: not initialised")
	}

	data, err := p.marshal(message)
	if err != nil {
		return "", fmt.Errorf("marshal quote email: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "quoteId", message.QuoteID)
	setAttr(attrs, "reference", message.Reference)
	setAttr(attrs, "clinicId", message.ClinicID)
	setAttr(attrs, "signature", message.Signature)
	if key := strings.TrimSpace(message.IdempotencyKey); key != "" {
		attrs["idempotencyKey"] = key
	}

	result := p.topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish quote email: %w", err)
	}
	return id, nil
}

func setAttr(attrs map[string]string, key, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
