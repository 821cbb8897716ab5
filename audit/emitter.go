package audit

import (
	"context"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/bytedance/sonic"
	"go.uber.org/zap"
)

const topic = "turn.decisions"

// Sink persists decision records.
type Sink interface {
	RecordTurn(ctx context.Context, rec Record) error
}

// Emitter logs every record and hands it to the sink asynchronously. Nothing
// it does can fail a turn.
type Emitter struct {
	pubSub *gochannel.GoChannel
	sink   Sink
	log    *zap.Logger

	wg   sync.WaitGroup
	once sync.Once
}

func NewEmitter(sink Sink, log *zap.Logger) *Emitter {
	log = log.Named("audit")
	return &Emitter{
		pubSub: gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, NewWatermillLogger(log)),
		sink:   sink,
		log:    log,
	}
}

// Start subscribes the sink consumer. Records emitted before Start are only
// logged.
func (e *Emitter) Start(ctx context.Context) error {
	msgs, err := e.pubSub.Subscribe(ctx, topic)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for msg := range msgs {
			e.consume(msg)
		}
	}()
	return nil
}

// Emit writes the structured decision log line and publishes the record.
func (e *Emitter) Emit(_ context.Context, rec Record) {
	e.log.Info("turn decision", rec.fields()...)

	payload, err := sonic.Marshal(rec)
	if err != nil {
		e.log.Warn("encode decision record", zap.Error(err))
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := e.pubSub.Publish(topic, msg); err != nil {
		e.log.Warn("publish decision record", zap.Error(err), zap.String("conversation_id", rec.ConversationID))
	}
}

func (e *Emitter) consume(msg *message.Message) {
	// Records are never redelivered; a failed write is logged and dropped.
	defer msg.Ack()

	var rec Record
	if err := sonic.Unmarshal(msg.Payload, &rec); err != nil {
		e.log.Warn("decode decision record", zap.Error(err), zap.String("uuid", msg.UUID))
		return
	}
	if e.sink == nil {
		return
	}
	if err := e.sink.RecordTurn(msg.Context(), rec); err != nil {
		e.log.Warn("persist decision record",
			zap.Error(err),
			zap.String("conversation_id", rec.ConversationID),
			zap.Int("turn", rec.Turn),
		)
	}
}

// Close stops delivery and waits for the consumer to drain.
func (e *Emitter) Close() error {
	var err error
	e.once.Do(func() {
		err = e.pubSub.Close()
		e.wg.Wait()
	})
	return err
}
