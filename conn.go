package tablechat

import (
	"context"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/tablewire/tablechat-sdk/internal/proto"
)

// wireConn is one framed bidirectional connection to the chat server.
type wireConn interface {
	ReadEnvelope(ctx context.Context) (proto.Envelope, error)
	WriteEnvelope(ctx context.Context, env proto.Envelope) error
	Close() error
}

// dialFunc opens a wireConn. Swapped out in tests.
type dialFunc func(ctx context.Context, url string) (wireConn, error)

// wsConn adapts a websocket connection to wireConn.
type wsConn struct {
	conn *websocket.Conn
}

func dialWebsocket(ctx context.Context, url string) (wireConn, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return &wsConn{conn: conn}, nil
}

func (c *wsConn) ReadEnvelope(ctx context.Context) (proto.Envelope, error) {
	var env proto.Envelope
	if err := wsjson.Read(ctx, c.conn, &env); err != nil {
		return proto.Envelope{}, err
	}
	return env, nil
}

func (c *wsConn) WriteEnvelope(ctx context.Context, env proto.Envelope) error {
	return wsjson.Write(ctx, c.conn, env)
}

func (c *wsConn) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "closing")
}

// connNote is what the connection manager reports back to the session loop.
type connNoteKind int

const (
	noteConnUp connNoteKind = iota
	noteConnDown
	noteConnFailed
	noteFrame
)

type connNote struct {
	kind connNoteKind
	env  proto.Envelope
	err  error
}

// connManager owns the single physical connection: it dials with bounded,
// capped exponential backoff, pumps inbound frames to the session loop and
// drains the outbox. Reconnection is transparent to the session except for
// the up/down notes.
type connManager struct {
	url    string
	cfg    Config
	dial   dialFunc
	log    *zerolog.Logger
	outbox chan proto.Envelope
	notify func(connNote)

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newConnManager(url string, cfg Config, dial dialFunc, logger *zerolog.Logger, notify func(connNote)) *connManager {
	return &connManager{
		url:    url,
		cfg:    cfg,
		dial:   dial,
		log:    logger,
		outbox: make(chan proto.Envelope, cfg.OutboxBuffer),
		notify: notify,
	}
}

func (m *connManager) start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	m.cancel = cancel
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run(ctx)
	}()
}

func (m *connManager) stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// send queues a frame without blocking the caller. Frames are dropped when
// the outbox is full; sends are fire-and-forget by contract.
func (m *connManager) send(env proto.Envelope) {
	select {
	case m.outbox <- env:
	default:
		m.log.Warn().Str("frame", env.Type).Msg("outbox full, dropping frame")
	}
}

func (m *connManager) run(ctx context.Context) {
	attempt := 0
	delay := m.cfg.ReconnectInitialDelay

	for {
		if ctx.Err() != nil {
			return
		}

		dialCtx, cancel := context.WithTimeout(ctx, m.cfg.DialTimeout)
		conn, err := m.dial(dialCtx, m.url)
		cancel()
		if err != nil {
			attempt++
			m.log.Warn().Err(err).Int("attempt", attempt).Msg("dial failed")
			if attempt >= m.cfg.ReconnectAttempts {
				m.notify(connNote{kind: noteConnFailed, err: err})
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay = min(delay*2, m.cfg.ReconnectMaxDelay)
			continue
		}

		attempt = 0
		delay = m.cfg.ReconnectInitialDelay
		m.drainOutbox()
		m.notify(connNote{kind: noteConnUp})

		readErr := m.pump(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return
		}
		m.log.Warn().Err(readErr).Msg("connection lost, reconnecting")
		m.notify(connNote{kind: noteConnDown, err: readErr})
	}
}

// pump runs the read and write loops for one live connection and returns
// when either fails.
func (m *connManager) pump(ctx context.Context, conn wireConn) error {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- m.readLoop(connCtx, conn)
	}()
	go func() {
		errCh <- m.writeLoop(connCtx, conn)
	}()

	err := <-errCh
	cancel() // stop the other goroutine
	<-errCh
	return err
}

func (m *connManager) readLoop(ctx context.Context, conn wireConn) error {
	for {
		env, err := conn.ReadEnvelope(ctx)
		if err != nil {
			return err
		}
		m.notify(connNote{kind: noteFrame, env: env})
	}
}

func (m *connManager) writeLoop(ctx context.Context, conn wireConn) error {
	for {
		select {
		case env := <-m.outbox:
			if err := conn.WriteEnvelope(ctx, env); err != nil {
				m.log.Error().Err(err).Str("frame", env.Type).Msg("write frame")
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// drainOutbox discards frames queued for a previous connection. Register
// and join frames are re-issued by the session on reconnect, and stale
// sends must not slip out ahead of registration.
func (m *connManager) drainOutbox() {
	for {
		select {
		case <-m.outbox:
		default:
			return
		}
	}
}
