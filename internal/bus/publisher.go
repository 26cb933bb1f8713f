package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Publisher sends frames on the worker.event socket, dialing lazily and
// redialing on any write failure. It owns a single connection — spec.md §5
// requires the publisher socket be owned by exactly one task.
type Publisher struct {
	dialURL string
	logger  *zap.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewPublisher builds a Publisher targeting the events endpoint.
func NewPublisher(dialURL string, logger *zap.Logger) *Publisher {
	return &Publisher{
		dialURL: dialURL,
		logger:  logger.Named("bus.publisher"),
	}
}

// Publish sends frame, dialing a fresh connection first if none is open or
// the previous one failed.
func (p *Publisher) Publish(ctx context.Context, frame Frame) error {
	conn, err := p.ensureConn(ctx)
	if err != nil {
		return fmt.Errorf("bus: publisher dial: %w", err)
	}

	if err := conn.WriteJSON(frame); err != nil {
		p.reset()
		return fmt.Errorf("bus: publisher write: %w", err)
	}
	return nil
}

// Close releases the underlying connection, if any.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn = nil
	return err
}

func (p *Publisher) ensureConn(ctx context.Context) (*websocket.Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn != nil {
		return p.conn, nil
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, p.dialURL, nil)
	if err != nil {
		return nil, err
	}
	p.logger.Info("publisher connected")
	p.conn = conn
	return p.conn, nil
}

func (p *Publisher) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}
