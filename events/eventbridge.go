package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"

	"github.com/cloudretail/saga"
)

// DefaultSource is the EventBridge source of saga events.
const DefaultSource = "cloudretail.saga"

// EventBridgeAPI is the part of the EventBridge client used here.
type EventBridgeAPI interface {
	PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// EventBridgePublisher puts events on an EventBridge bus with the event type
// as detail type.
type EventBridgePublisher struct {
	client EventBridgeAPI
	bus    string
	source string
}

func NewEventBridgePublisher(client EventBridgeAPI, bus, source string) *EventBridgePublisher {
	if bus == "" {
		bus = "default"
	}
	if source == "" {
		source = DefaultSource
	}
	return &EventBridgePublisher{client: client, bus: bus, source: source}
}

// NewEventBridgeClient loads the default AWS configuration for region. A
// non-empty endpoint overrides the service endpoint, e.g. for LocalStack.
func NewEventBridgeClient(ctx context.Context, region, endpoint string) (*eventbridge.Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return eventbridge.NewFromConfig(cfg, func(o *eventbridge.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

func (p *EventBridgePublisher) Publish(ctx context.Context, ev saga.Event) error {
	detail, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", ev.Type, err)
	}

	out, err := p.client.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []types.PutEventsRequestEntry{
			{
				EventBusName: aws.String(p.bus),
				Source:       aws.String(p.source),
				DetailType:   aws.String(string(ev.Type)),
				Detail:       aws.String(string(detail)),
				Time:         aws.Time(ev.OccurredAt),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("put %s event: %w", ev.Type, err)
	}

	if out.FailedEntryCount > 0 {
		for _, e := range out.Entries {
			if e.ErrorCode != nil {
				return fmt.Errorf("put %s event: %s: %s", ev.Type, aws.ToString(e.ErrorCode), aws.ToString(e.ErrorMessage))
			}
		}
		return fmt.Errorf("put %s event: %d entries failed", ev.Type, out.FailedEntryCount)
	}

	return nil
}
