package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	// Packages
	uuid "github.com/google/uuid"
	relaypacs "github.com/mutablelogic/go-relaypacs"
	schema "github.com/mutablelogic/go-relaypacs/pkg/schema"
	httpresponse "github.com/mutablelogic/go-server/pkg/httpresponse"
	amqp091 "github.com/rabbitmq/amqp091-go"
)

////////////////////////////////////////////////////////////////////////////////
// TYPES

// AMQP publishes events as persistent JSON messages to a durable queue on the
// default exchange.
type AMQP struct {
	sync.Mutex
	url   string
	queue string
	conn  *amqp091.Connection
	ch    *amqp091.Channel
}

var _ relaypacs.Notifier = (*AMQP)(nil)

////////////////////////////////////////////////////////////////////////////////
// GLOBALS

const (
	DefaultQueue = schema.SchemaName + ".events"
	contentType  = "application/json"
)

////////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// NewAMQP connects to the broker and declares the queue
func NewAMQP(url, queue string) (*AMQP, error) {
	self := new(AMQP)
	if url == "" {
		return nil, httpresponse.ErrBadRequest.With("missing amqp url")
	}
	if queue == "" {
		queue = DefaultQueue
	}
	self.url, self.queue = url, queue

	// Connect
	if err := self.connect(); err != nil {
		return nil, err
	}

	// Return success
	return self, nil
}

// Close the channel and connection
func (a *AMQP) Close() error {
	a.Lock()
	defer a.Unlock()
	return a.close()
}

////////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Queue returns the name of the queue events are published to
func (a *AMQP) Queue() string {
	return a.queue
}

// Notify publishes the event. A dropped connection is re-established once.
func (a *AMQP) Notify(ctx context.Context, event schema.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	msg := amqp091.Publishing{
		ContentType:  contentType,
		DeliveryMode: amqp091.Persistent,
		MessageId:    uuid.NewString(),
		Type:         event.Type,
		Timestamp:    event.Time,
		Body:         body,
	}

	a.Lock()
	defer a.Unlock()
	if a.conn == nil || a.conn.IsClosed() {
		if err := a.connect(); err != nil {
			return err
		}
	}
	if err := a.ch.PublishWithContext(ctx, "", a.queue, false, false, msg); err == nil {
		return nil
	} else if !errors.Is(err, amqp091.ErrClosed) {
		return err
	}

	// Reconnect and retry once
	if err := a.connect(); err != nil {
		return err
	}
	return a.ch.PublishWithContext(ctx, "", a.queue, false, false, msg)
}

////////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

func (a *AMQP) connect() error {
	// Drop any existing connection
	a.close()

	conn, err := amqp091.Dial(a.url)
	if err != nil {
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		return errors.Join(err, conn.Close())
	}
	if _, err := ch.QueueDeclare(a.queue, true, false, false, false, nil); err != nil {
		return errors.Join(err, ch.Close(), conn.Close())
	}
	a.conn, a.ch = conn, ch
	return nil
}

func (a *AMQP) close() error {
	var result error
	if a.ch != nil && !a.ch.IsClosed() {
		result = errors.Join(result, a.ch.Close())
	}
	if a.conn != nil && !a.conn.IsClosed() {
		result = errors.Join(result, a.conn.Close())
	}
	a.ch, a.conn = nil, nil
	return result
}
