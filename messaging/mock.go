package messaging

import (
	"fmt"
	"sync"
)

// MockBroker is an in-memory Broker for testing. Tests deliver messages
// into subscriptions with Deliver and inspect everything the dispatcher
// sent through the exported accessors.
type MockBroker struct {
	mu sync.Mutex

	// Errors to inject.
	ConnectErr error
	SendErr    error

	// FailSends makes the next n Send calls fail with SendErr (or a
	// generic error) before succeeding again.
	FailSends int

	connected bool
	connects  int
	sent      map[string][]Message
	acked     []Delivery
	subs      map[string][]chan Delivery
}

var _ Broker = (*MockBroker)(nil)

// NewMockBroker returns a ready mock.
func NewMockBroker() *MockBroker {
	return &MockBroker{
		sent: make(map[string][]Message),
		subs: make(map[string][]chan Delivery),
	}
}

// Connect implements Broker.
func (m *MockBroker) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ConnectErr != nil {
		return m.ConnectErr
	}
	m.connected = true
	m.connects++
	return nil
}

// Subscribe implements Broker.
func (m *MockBroker) Subscribe(destination string) (<-chan Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return nil, fmt.Errorf("not connected to broker")
	}
	ch := make(chan Delivery, 16)
	m.subs[destination] = append(m.subs[destination], ch)
	return ch, nil
}

// Send implements Broker.
func (m *MockBroker) Send(destination string, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return fmt.Errorf("not connected to broker")
	}
	if m.FailSends > 0 {
		m.FailSends--
		if m.SendErr != nil {
			return m.SendErr
		}
		return fmt.Errorf("injected send failure")
	}
	if m.SendErr != nil {
		return m.SendErr
	}
	m.sent[destination] = append(m.sent[destination], msg)
	return nil
}

// Ack implements Broker.
func (m *MockBroker) Ack(d Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acked = append(m.acked, d)
	return nil
}

// Disconnect implements Broker.
func (m *MockBroker) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return nil
	}
	m.connected = false
	for _, chans := range m.subs {
		for _, ch := range chans {
			close(ch)
		}
	}
	m.subs = make(map[string][]chan Delivery)
	return nil
}

// Deliver pushes a message into every subscription on the destination.
func (m *MockBroker) Deliver(destination string, msg Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.subs[destination] {
		ch <- Delivery{Message: msg, Destination: destination, tag: msg.JobID()}
	}
}

// Sent returns the messages sent to the destination, in order.
func (m *MockBroker) Sent(destination string) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.sent[destination]))
	copy(out, m.sent[destination])
	return out
}

// AckedCount returns the number of acknowledged deliveries.
func (m *MockBroker) AckedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.acked)
}

// Connects returns how many times Connect succeeded.
func (m *MockBroker) Connects() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connects
}
