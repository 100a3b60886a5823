package kafka

import (
	"context"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

const contentTypeJSON = "application/json"

// producerCarrier adapts outgoing record headers to the otel propagator.
type producerCarrier struct {
	headers *[]sarama.RecordHeader
}

func (c producerCarrier) Get(key string) string {
	for _, h := range *c.headers {
		if string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c producerCarrier) Set(key, value string) {
	for i, h := range *c.headers {
		if string(h.Key) == key {
			(*c.headers)[i].Value = []byte(value)
			return
		}
	}
	*c.headers = append(*c.headers, sarama.RecordHeader{Key: []byte(key), Value: []byte(value)})
}

func (c producerCarrier) Keys() []string {
	keys := make([]string, 0, len(*c.headers))
	for _, h := range *c.headers {
		keys = append(keys, string(h.Key))
	}
	return keys
}

// consumerCarrier is read-only; Set is a no-op.
type consumerCarrier []*sarama.RecordHeader

func (c consumerCarrier) Get(key string) string {
	for _, h := range c {
		if h != nil && string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c consumerCarrier) Set(string, string) {}

func (c consumerCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for _, h := range c {
		if h != nil {
			keys = append(keys, string(h.Key))
		}
	}
	return keys
}

func outgoingHeaders(ctx context.Context) []sarama.RecordHeader {
	headers := []sarama.RecordHeader{{Key: []byte("content-type"), Value: []byte(contentTypeJSON)}}
	otel.GetTextMapPropagator().Inject(ctx, producerCarrier{headers: &headers})
	return headers
}

// contextFromMessage continues the producer's trace, if any, on ctx.
func contextFromMessage(ctx context.Context, msg *sarama.ConsumerMessage) context.Context {
	if msg == nil {
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, consumerCarrier(msg.Headers))
}

var (
	_ propagation.TextMapCarrier = producerCarrier{}
	_ propagation.TextMapCarrier = consumerCarrier(nil)
)
