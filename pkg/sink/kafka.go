package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/itohio/gochiller/pkg/acquire"
	"github.com/itohio/gochiller/pkg/frame"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// DefaultWriteTimeout bounds a single publish.
const DefaultWriteTimeout = 5 * time.Second

// messageWriter is the part of kafka.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes every event as a JSON message keyed by event kind.
// Publishing is synchronous; put it behind Async to keep it off the
// polling path.
type Kafka struct {
	w       messageWriter
	timeout time.Duration
	log     zerolog.Logger

	now   func() time.Time
	newID func() uuid.UUID
}

var (
	_ acquire.Sink      = (*Kafka)(nil)
	_ acquire.EventSink = (*Kafka)(nil)
)

// NewKafka creates a sink writing to topic on brokers.
func NewKafka(brokers []string, topic string, logger zerolog.Logger) (*Kafka, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, fmt.Errorf("broker or topic is empty")
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
	}
	return newKafka(w, logger.With().Str("sink", "kafka").Str("topic", topic).Logger()), nil
}

func newKafka(w messageWriter, logger zerolog.Logger) *Kafka {
	return &Kafka{
		w:       w,
		timeout: DefaultWriteTimeout,
		log:     logger,
		now:     time.Now,
		newID:   uuid.New,
	}
}

// OnEvent publishes ev with the loop's sequence number and ID.
func (k *Kafka) OnEvent(ev acquire.Event) {
	k.publish(ev)
}

func (k *Kafka) OnReading(r frame.Reading) {
	k.publish(acquire.Event{Kind: acquire.EventReading, Reading: r})
}

func (k *Kafka) OnFailure(f acquire.TransportFailure) {
	k.publish(acquire.Event{Kind: acquire.EventFailure, Failure: f})
}

func (k *Kafka) OnDecodeError(e frame.DecodeError) {
	k.publish(acquire.Event{Kind: acquire.EventDecodeError, DecodeErr: e})
}

// Close flushes pending messages and closes the writer.
func (k *Kafka) Close() error {
	return k.w.Close()
}

// publish sends ev. Events that did not come from a loop get an ID and a
// timestamp here and keep a zero sequence number.
func (k *Kafka) publish(ev acquire.Event) {
	if ev.ID == uuid.Nil {
		ev.ID = k.newID()
	}
	if ev.At.IsZero() {
		ev.At = k.now()
	}

	msg, err := message(ev)
	if err != nil {
		k.log.Error().Err(err).Msg("failed to encode event")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), k.timeout)
	defer cancel()
	if err := k.w.WriteMessages(ctx, msg); err != nil {
		k.log.Warn().Err(err).Stringer("kind", ev.Kind).Msg("failed to publish event")
	}
}

// message encodes ev as a Kafka message.
func message(ev acquire.Event) (kafka.Message, error) {
	value, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(ev.Kind.String()),
		Value: value,
		Time:  ev.At,
		Headers: []kafka.Header{
			{Key: "event-id", Value: []byte(ev.ID.String())},
			{Key: "event-seq", Value: strconv.AppendUint(nil, ev.Seq, 10)},
		},
	}, nil
}
