// Package amqp implements the remote log repository for AMQP compliant brokers (ie RabbitMQ).
package amqp

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
	"github.com/streadway/amqp"

	"github.com/tarancss/satp/lib/log"
	"github.com/tarancss/satp/lib/msg/types"
)

// errBuffer is the number of consumer errors held for a slow reader.
const errBuffer = 16

// Amqp implements a connection to a broker and a channel for reuse.
type Amqp struct {
	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
	log  log.Logger
}

// New instantiates a new amqp broker.
func New(uri string, l log.Logger) (*Amqp, error) {
	conn, err := amqp.Dial(uri)
	if err != nil {
		return nil, errors.Wrap(err, "cannot connect to amqp broker")
	}

	l = l.Module("amqp")
	l.Info().Msg("connected to broker")

	return &Amqp{conn: conn, log: l}, nil
}

// Setup declares the "satp" topic exchange on a one-use channel.
func (r *Amqp) Setup() error {
	channel, err := r.conn.Channel()
	if err != nil {
		return errors.Wrap(err, "cannot open amqp channel")
	}
	defer channel.Close()

	return channel.ExchangeDeclare(types.Exchange, amqp.ExchangeTopic, true, false, false, false, nil)
}

// Close terminates gracefully the connection to the AMQP message broker.
func (r *Amqp) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ch != nil {
		if err := r.ch.Close(); err != nil {
			r.log.Error().Err(err).Msg("error closing amqp channel")
		}

		r.ch = nil
	}

	return r.conn.Close()
}

// PublishLog publishes a log proof under <gateway>.log.<session>.
func (r *Amqp) PublishLog(gateway string, l types.RemoteLog) error {
	return r.publish(types.RoutingKey(gateway, types.KindLog, l.SessionID), "x-log-key", l.Key, l)
}

// PublishRollback publishes a rollback notice under <gateway>.rollback.<session>.
func (r *Amqp) PublishRollback(gateway string, n types.RollbackNotice) error {
	return r.publish(types.RoutingKey(gateway, types.KindRollback, n.SessionID), "x-rollback-session", n.SessionID, n)
}

func (r *Amqp) publish(key, header, value string, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "cannot marshal message")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ch == nil {
		if r.ch, err = r.conn.Channel(); err != nil {
			return errors.Wrap(err, "cannot open amqp channel")
		}
	}

	msg := amqp.Publishing{
		Headers:     amqp.Table{header: value},
		Body:        body,
		ContentType: "application/json",
	}

	if err = r.ch.Publish(types.Exchange, key, false, false, msg); err != nil {
		// the channel is closed by the broker on error
		r.ch = nil

		return errors.Wrapf(err, "cannot publish %s", key)
	}

	return nil
}

// GetLogs consumes the log proofs of gateway from its own durable queue until ctx is done. The Mutex pointer is
// provided to ensure the consumed message has been fully dealt with, so it is only acknowledged when the mutex is
// unlocked. Both returned channels are closed once consumption stops.
func (r *Amqp) GetLogs(ctx context.Context, gateway string, mut *sync.Mutex,
) (<-chan types.RemoteLog, <-chan error, error) {
	ch, err := r.conn.Channel()
	if err != nil {
		return nil, nil, errors.Wrap(err, "cannot open amqp channel")
	}

	queue := types.Exchange + "." + gateway + "." + types.KindLog
	if _, err = ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		ch.Close()

		return nil, nil, errors.Wrap(err, "cannot declare queue")
	}

	if err = ch.QueueBind(queue, types.RoutingKey(gateway, types.KindLog, "*"), types.Exchange, false, nil); err != nil {
		ch.Close()

		return nil, nil, errors.Wrap(err, "cannot bind queue")
	}

	msgs, err := ch.Consume(queue, "satp-"+gateway, false, false, false, false, nil)
	if err != nil {
		ch.Close()

		return nil, nil, errors.Wrap(err, "cannot consume queue")
	}

	logs := make(chan types.RemoteLog)
	errs := make(chan error, errBuffer)

	go func() {
		<-ctx.Done()
		// closing the channel ends msgs
		ch.Close()
	}()

	go func() {
		defer close(errs)
		defer close(logs)

		for m := range msgs {
			var l types.RemoteLog
			if err := json.Unmarshal(m.Body, &l); err != nil {
				r.report(errs, errors.Wrapf(err, "decoding log proof from %s", gateway))
				_ = m.Nack(false, false)

				continue
			}

			select {
			case logs <- l:
			case <-ctx.Done():
				_ = m.Nack(false, true)

				return
			}

			mut.Lock() // wait for the consumer to finish processing the log
			_ = m.Ack(false)
		}
	}()

	return logs, errs, nil
}

// report hands err to the consumer, dropping it when the consumer is behind.
func (r *Amqp) report(errs chan<- error, err error) {
	select {
	case errs <- err:
	default:
		r.log.Error().Err(err).Msg("dropped consumer error")
	}
}
