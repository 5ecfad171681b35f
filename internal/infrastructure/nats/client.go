package nats

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	natsio "github.com/nats-io/nats.go"

	"github.com/nerrad567/gray-logic-mqttbridge/internal/infrastructure/config"
)

// Default settings for bus operations.
const (
	defaultConnectTimeout = 5 * time.Second
	defaultDrainTimeout   = 5 * time.Second
)

// Logger is the subset of a structured logger the package writes to.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// CommandHandler applies one command received on the channel subject.
type CommandHandler func(data []byte) error

// commandReply is sent to the reply inbox of a command request.
type commandReply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Bus publishes fan-out events to groups and receives bridge commands.
//
// Thread Safety: All methods are safe for concurrent use.
type Bus struct {
	conn   *natsio.Conn
	prefix string
	logger Logger

	mu   sync.Mutex
	subs []*natsio.Subscription

	closed chan struct{}
}

// Connect dials the NATS server. nats.go reconnects on its own after the
// first connection succeeds; state changes are logged.
func Connect(cfg config.NATSConfig, logger Logger) (*Bus, error) {
	b := &Bus{
		prefix: cfg.GroupPrefix,
		logger: logger,
		closed: make(chan struct{}),
	}

	opts := []natsio.Option{
		natsio.Name(cfg.Name),
		natsio.Timeout(defaultConnectTimeout),
		natsio.MaxReconnects(-1),
		natsio.DisconnectErrHandler(func(_ *natsio.Conn, err error) {
			if err != nil {
				logger.Warn("bus connection lost", "error", err)
			}
		}),
		natsio.ReconnectHandler(func(nc *natsio.Conn) {
			logger.Info("bus reconnected", "url", nc.ConnectedUrlRedacted())
		}),
		natsio.ClosedHandler(func(_ *natsio.Conn) {
			close(b.closed)
		}),
		natsio.ErrorHandler(func(_ *natsio.Conn, sub *natsio.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			logger.Error("bus async error", "subject", subject, "error", err)
		}),
	}
	if cfg.ReconnectWait > 0 {
		opts = append(opts, natsio.ReconnectWait(cfg.ReconnectWait))
	}
	if cfg.Username != "" {
		opts = append(opts, natsio.UserInfo(cfg.Username, cfg.Password))
	}

	conn, err := natsio.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	b.conn = conn

	logger.Info("connected to bus", "url", conn.ConnectedUrlRedacted())
	return b, nil
}

// SendToGroup publishes event on the group's subject and waits for the
// server to acknowledge the flush when ctx carries a deadline.
func (b *Bus) SendToGroup(ctx context.Context, group string, event []byte) error {
	subject, err := GroupSubject(b.prefix, group)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if !b.conn.IsConnected() {
		return fmt.Errorf("%w: %s", ErrNotConnected, b.conn.Status())
	}

	if err := b.conn.Publish(subject, event); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSendFailed, subject, err)
	}

	if _, ok := ctx.Deadline(); ok {
		if err := b.conn.FlushWithContext(ctx); err != nil {
			return fmt.Errorf("%w: flushing %s: %w", ErrSendFailed, subject, err)
		}
	}
	return nil
}

// SubscribeCommands delivers every message on subject to handler. Commands
// are handled one at a time in arrival order. When the sender set a reply
// inbox, the outcome is sent back as {"ok": bool, "error": string}.
func (b *Bus) SubscribeCommands(subject string, handler CommandHandler) error {
	if err := validateSubjectPart(subject); err != nil {
		return fmt.Errorf("%w: command subject %q %s", ErrInvalidGroup, subject, err.Error())
	}

	sub, err := b.conn.Subscribe(subject, func(msg *natsio.Msg) {
		herr := handler(msg.Data)
		if herr != nil {
			b.logger.Warn("bus command rejected", "subject", msg.Subject, "error", herr)
		}
		b.reply(msg, herr)
	})
	if err != nil {
		return fmt.Errorf("subscribing %s: %w", subject, err)
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	b.logger.Info("listening for bridge commands", "subject", subject)
	return nil
}

// reply answers a command request. Messages without a reply inbox are
// fire-and-forget.
func (b *Bus) reply(msg *natsio.Msg, herr error) {
	if msg.Reply == "" {
		return
	}

	r := commandReply{OK: herr == nil}
	if herr != nil {
		r.Error = herr.Error()
	}

	data, err := json.Marshal(r)
	if err != nil {
		b.logger.Error("encoding command reply failed", "error", err)
		return
	}
	if err := msg.Respond(data); err != nil {
		b.logger.Warn("sending command reply failed", "reply", msg.Reply, "error", err)
	}
}

// IsConnected reports whether the bus connection is currently up.
func (b *Bus) IsConnected() bool {
	return b.conn != nil && b.conn.IsConnected()
}

// HealthCheck round-trips a flush to the server.
func (b *Bus) HealthCheck(ctx context.Context) error {
	if !b.IsConnected() {
		return ErrNotConnected
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultConnectTimeout)
		defer cancel()
	}
	if err := b.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("bus health check failed: %w", err)
	}
	return nil
}

// Close drains subscriptions and pending publishes, then closes the
// connection. In-progress command handlers finish first.
func (b *Bus) Close() error {
	if b.conn == nil || b.conn.IsClosed() {
		return nil
	}

	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
		return fmt.Errorf("draining bus connection: %w", err)
	}

	select {
	case <-b.closed:
	case <-time.After(defaultDrainTimeout):
		b.logger.Warn("bus drain did not finish in time", "timeout", defaultDrainTimeout)
		b.conn.Close()
	}
	return nil
}
