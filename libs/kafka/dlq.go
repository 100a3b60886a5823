package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
)

// Dead letters are written at two stages: after a consumed message exhausts
// its handler, and after a publish is refused by the broker.
const (
	StageConsume = "consume"
	StagePublish = "publish"
)

// DLQError marks a handler failure as poison: the consumer skips retries and
// dead-letters the message immediately.
type DLQError struct {
	Err    error
	Reason string
}

func (e *DLQError) Error() string {
	if e == nil {
		return ""
	}
	if e.Reason == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *DLQError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func DLQ(err error, reason string) error {
	if err == nil {
		return nil
	}
	return &DLQError{Err: err, Reason: reason}
}

// ReasonOf returns the DLQ reason carried by err, or "" when err is not
// marked for the dead letter topic.
func ReasonOf(err error) string {
	var dlqErr *DLQError
	if errors.As(err, &dlqErr) {
		return dlqErr.Reason
	}
	return ""
}

// DeadLetter is the record written to the dead letter topic. Payload holds the
// original bytes and is base64 encoded by encoding/json.
type DeadLetter struct {
	Stage     string    `json:"stage"`
	Topic     string    `json:"topic"`
	Partition int32     `json:"partition"`
	Offset    int64     `json:"offset"`
	Key       string    `json:"key,omitempty"`
	Error     string    `json:"error"`
	Reason    string    `json:"reason,omitempty"`
	Attempts  int       `json:"attempts"`
	Payload   []byte    `json:"payload,omitempty"`
	FailedAt  time.Time `json:"failed_at"`
}

func deadLetterFromMessage(msg *sarama.ConsumerMessage, cause *DLQError, attempts int) DeadLetter {
	dl := DeadLetter{
		Stage:    StageConsume,
		Attempts: attempts,
		FailedAt: time.Now().UTC(),
	}
	if msg != nil {
		dl.Topic = msg.Topic
		dl.Partition = msg.Partition
		dl.Offset = msg.Offset
		dl.Key = string(msg.Key)
		dl.Payload = msg.Value
	}
	if cause != nil {
		dl.Reason = cause.Reason
		if cause.Err != nil {
			dl.Error = cause.Err.Error()
		}
	}
	return dl
}

// deadLetterFromPublish records a value the broker refused. Partition and
// offset are -1 since the record was never assigned a position.
func deadLetterFromPublish(topic, key string, value any, cause error) DeadLetter {
	dl := DeadLetter{
		Stage:     StagePublish,
		Topic:     topic,
		Partition: -1,
		Offset:    -1,
		Key:       key,
		Reason:    "publish_failed",
		Attempts:  1,
		FailedAt:  time.Now().UTC(),
	}
	if cause != nil {
		dl.Error = cause.Error()
	}
	if raw, err := json.Marshal(value); err == nil {
		dl.Payload = raw
	} else {
		dl.Payload = []byte(fmt.Sprintf("%v", value))
	}
	return dl
}
