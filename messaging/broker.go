package messaging

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3"
	"github.com/go-stomp/stomp/v3/frame"
)

// Delivery is one received message plus the broker-specific token needed
// to acknowledge it.
type Delivery struct {
	Message Message

	// Destination is the queue or topic the message arrived on.
	Destination string

	tag interface{}
}

// Broker abstracts the STOMP connection so the dispatcher can be tested
// against an in-memory implementation.
type Broker interface {
	// Connect establishes the broker connection.
	Connect() error

	// Subscribe opens a client-individual-ack subscription. The returned
	// channel closes when the connection is lost.
	Subscribe(destination string) (<-chan Delivery, error)

	// Send publishes a message to the destination.
	Send(destination string, msg Message) error

	// Ack acknowledges one delivery.
	Ack(d Delivery) error

	// Disconnect closes the connection and every subscription channel.
	Disconnect() error
}

// STOMPConfig configures the broker connection.
type STOMPConfig struct {
	// Server is the host:port of the STOMP listener.
	Server string

	Login    string
	Passcode string

	// Heartbeat is the send and receive heart-beat interval; zero disables
	// heart-beating.
	Heartbeat time.Duration
}

// STOMPBroker implements Broker on a go-stomp connection.
type STOMPBroker struct {
	cfg STOMPConfig

	mu   sync.Mutex
	conn *stomp.Conn
}

var _ Broker = (*STOMPBroker)(nil)

// NewSTOMPBroker returns an unconnected broker.
func NewSTOMPBroker(cfg STOMPConfig) *STOMPBroker {
	return &STOMPBroker{cfg: cfg}
}

// Connect implements Broker.
func (b *STOMPBroker) Connect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		return nil
	}

	opts := []func(*stomp.Conn) error{
		stomp.ConnOpt.HeartBeat(b.cfg.Heartbeat, b.cfg.Heartbeat),
	}
	if b.cfg.Login != "" {
		opts = append(opts, stomp.ConnOpt.Login(b.cfg.Login, b.cfg.Passcode))
	}

	conn, err := stomp.Dial("tcp", b.cfg.Server, opts...)
	if err != nil {
		return fmt.Errorf("failed to connect to broker %s: %w", b.cfg.Server, err)
	}
	b.conn = conn
	return nil
}

// Subscribe implements Broker.
func (b *STOMPBroker) Subscribe(destination string) (<-chan Delivery, error) {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return nil, fmt.Errorf("not connected to broker")
	}

	sub, err := conn.Subscribe(destination, stomp.AckClientIndividual)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", destination, err)
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		for msg := range sub.C {
			if msg.Err != nil {
				return
			}
			out <- Delivery{
				Message:     fromStompMessage(msg),
				Destination: msg.Destination,
				tag:         msg,
			}
		}
	}()
	return out, nil
}

// Send implements Broker. Every header of the message is carried on the
// frame; the content type defaults to text/plain.
func (b *STOMPBroker) Send(destination string, msg Message) error {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected to broker")
	}

	contentType := msg.ContentType()
	if contentType == "" {
		contentType = "text/plain"
	}
	var opts []func(*frame.Frame) error
	for _, h := range msg.Headers {
		if h.Name == headerContentType {
			continue
		}
		opts = append(opts, stomp.SendOpt.Header(h.Name, h.Value))
	}
	if err := conn.Send(destination, contentType, msg.Body, opts...); err != nil {
		return fmt.Errorf("failed to send to %s: %w", destination, err)
	}
	return nil
}

// Ack implements Broker.
func (b *STOMPBroker) Ack(d Delivery) error {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected to broker")
	}
	msg, ok := d.tag.(*stomp.Message)
	if !ok {
		return fmt.Errorf("delivery does not belong to this broker")
	}
	return conn.Ack(msg)
}

// Disconnect implements Broker.
func (b *STOMPBroker) Disconnect() error {
	b.mu.Lock()
	conn := b.conn
	b.conn = nil
	b.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Disconnect()
}

// fromStompMessage converts a wire message, carrying over every header in
// arrival order.
func fromStompMessage(msg *stomp.Message) Message {
	var m Message
	if msg.Header != nil {
		for i := 0; i < msg.Header.Len(); i++ {
			name, value := msg.Header.GetAt(i)
			m.Headers = append(m.Headers, Header{Name: name, Value: value})
		}
	}
	m.Body = msg.Body
	return m
}
