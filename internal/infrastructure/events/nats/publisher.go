package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/sci-librarian/internal/core/domain"
	"github.com/kirillkom/sci-librarian/internal/infrastructure/resilience"
)

// Publisher emits document status transitions on a NATS subject. The
// pipeline treats publishing as best-effort; failures are surfaced to the
// caller, which logs and moves on.
type Publisher struct {
	conn     *nats.Conn
	subject  string
	runID    string
	executor *resilience.Executor
}

type Options struct {
	ConnectTimeout     time.Duration
	ReconnectWait      time.Duration
	MaxReconnects      int
	ResilienceExecutor *resilience.Executor
}

func New(url, subject, runID string, options Options) (*Publisher, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}

	conn, err := nats.Connect(
		url,
		nats.Name("sci-librarian"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("nats disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("nats reconnected: %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Publisher{
		conn:     conn,
		subject:  subject,
		runID:    runID,
		executor: options.ResilienceExecutor,
	}, nil
}

func (p *Publisher) Close() {
	if p.conn != nil {
		p.conn.Close()
	}
}

type statusEvent struct {
	RunID  string `json:"run_id"`
	ID     string `json:"id"`
	Status string `json:"status"`
	At     string `json:"at"`
}

func (p *Publisher) PublishStatus(ctx context.Context, id domain.RemoteID, status domain.Status) error {
	payload, err := json.Marshal(statusEvent{
		RunID:  p.runID,
		ID:     string(id),
		Status: string(status),
		At:     time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("marshal status event: %w", err)
	}

	call := func(_ context.Context) error {
		if err := p.conn.Publish(p.subject, payload); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	if p.executor != nil {
		return p.executor.Execute(ctx, "nats.publish", call, classifyNATSError)
	}
	return call(ctx)
}
