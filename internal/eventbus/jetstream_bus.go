package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	nats "github.com/nats-io/nats.go"
)

// JetStreamBus реализует EventBus поверх NATS JetStream.
// Subject события: terrain.<EventType>.
type JetStreamBus struct {
	nc        *nats.Conn
	js        nats.JetStreamContext
	stream    string
	published atomic.Uint64
	consumed  atomic.Uint64
	dropped   atomic.Uint64
}

const subjectPrefix = "terrain"

// NewJetStreamBus подключается к NATS и гарантирует наличие стрима.
// url: nats://127.0.0.1:4222, stream: "TERRAIN".
func NewJetStreamBus(url, stream string, retention time.Duration) (*JetStreamBus, error) {
	if stream == "" {
		stream = "TERRAIN"
	}

	nc, err := nats.Connect(url, nats.Name(SourceTerrain))
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	if _, err = js.StreamInfo(stream); err != nil {
		_, err = js.AddStream(&nats.StreamConfig{
			Name:      stream,
			Subjects:  []string{subjectPrefix + ".*"},
			Retention: nats.LimitsPolicy,
			MaxAge:    retention,
			Storage:   nats.FileStorage,
		})
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("add stream: %w", err)
		}
	}

	return &JetStreamBus{nc: nc, js: js, stream: stream}, nil
}

func subjectFor(eventType string) string {
	return subjectPrefix + "." + eventType
}

// Publish сериализует Envelope в JSON и публикует в terrain.<type>.
// ID события передаётся как MsgId для дедупликации JetStream.
func (jb *JetStreamBus) Publish(ctx context.Context, ev *Envelope) error {
	data, err := json.Marshal(ev)
	if err != nil {
		jb.dropped.Add(1)
		return err
	}
	if _, err = jb.js.Publish(subjectFor(ev.EventType), data, nats.Context(ctx), nats.MsgId(ev.ID)); err != nil {
		jb.dropped.Add(1)
		return fmt.Errorf("jetstream publish %s: %w", ev.EventType, err)
	}
	jb.published.Add(1)
	return nil
}

// Subscribe создаёт эфемерного потребителя и вызывает handler для подходящих событий.
func (jb *JetStreamBus) Subscribe(ctx context.Context, f Filter, h Handler) (Subscription, error) {
	subj := subjectPrefix + ".*"
	if len(f.Types) == 1 {
		subj = subjectFor(f.Types[0])
	}

	natSub, err := jb.js.Subscribe(subj, func(msg *nats.Msg) {
		var ev Envelope
		if err := json.Unmarshal(msg.Data, &ev); err == nil && matchFilter(&ev, f) {
			h(ctx, &ev)
			jb.consumed.Add(1)
		}
		_ = msg.Ack()
	}, nats.ManualAck(), nats.DeliverNew(), nats.AckWait(30*time.Second))
	if err != nil {
		return nil, fmt.Errorf("jetstream subscribe %s: %w", subj, err)
	}
	return &jetSub{natSub}, nil
}

type jetSub struct {
	s *nats.Subscription
}

func (j *jetSub) Unsubscribe() {
	_ = j.s.Unsubscribe()
}

// Metrics возвращает текущие счётчики.
func (jb *JetStreamBus) Metrics() Stats {
	return Stats{
		Published: jb.published.Load(),
		Consumed:  jb.consumed.Load(),
		Dropped:   jb.dropped.Load(),
	}
}

// Close дожидается отправки буферов и закрывает соединение.
func (jb *JetStreamBus) Close() error {
	return jb.nc.Drain()
}
