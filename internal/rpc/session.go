// Package rpc manages one logical JSON-RPC session to a chain node
// over a persistent WebSocket connection: request/response correlation,
// subscriptions, and keepalive. A session that loses its connection
// stays down; reconnection is the caller's decision so missed
// subscription events are never masked.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Config tunes session behavior.
type Config struct {
	// HandshakeTimeout bounds the WebSocket dial.
	HandshakeTimeout time.Duration
	// CallTimeout is the default per-call deadline when the caller's
	// context carries none.
	CallTimeout time.Duration
	// WriteTimeout bounds each socket write.
	WriteTimeout time.Duration
	// PingInterval is the keepalive ping period.
	PingInterval time.Duration
	// MaxMissedPongs is the number of consecutive unanswered pings
	// after which the session is forced down.
	MaxMissedPongs int
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: 10 * time.Second,
		CallTimeout:      30 * time.Second,
		WriteTimeout:     10 * time.Second,
		PingInterval:     20 * time.Second,
		MaxMissedPongs:   3,
	}
}

// Session is one connection to a chain node. Concurrent callers may
// interleave requests; writes are serialized, responses are routed to
// pending calls by correlation id.
type Session struct {
	endpoint string
	cfg      Config
	log      zerolog.Logger

	conn    *websocket.Conn
	writeMu sync.Mutex

	reqID     atomic.Uint64
	pendingMu sync.Mutex
	pending   map[uint64]chan *inbound

	subsMu sync.Mutex
	subs   map[string]*Subscription
	// early buffers notifications that arrive between a subscribe
	// response and the subscription registering.
	early map[string][]json.RawMessage

	missedPongs atomic.Int32

	// disconnected is closed exactly once when the connection drops,
	// whether by peer, keepalive failure, or explicit Close.
	disconnected chan struct{}
	dropOnce     sync.Once
	closed       atomic.Bool
	wg           sync.WaitGroup
}

// Connect dials the endpoint and starts the session's reader and
// keepalive loops.
func Connect(ctx context.Context, endpoint string, cfg Config, log zerolog.Logger) (*Session, error) {
	dialer := websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, &ConnectionError{Endpoint: endpoint, Err: err}
	}

	s := &Session{
		endpoint:     endpoint,
		cfg:          cfg,
		log:          log.With().Str("component", "rpc").Str("endpoint", endpoint).Logger(),
		conn:         conn,
		pending:      make(map[uint64]chan *inbound),
		subs:         make(map[string]*Subscription),
		early:        make(map[string][]json.RawMessage),
		disconnected: make(chan struct{}),
	}

	conn.SetPongHandler(func(string) error {
		s.missedPongs.Store(0)
		return conn.SetReadDeadline(time.Now().Add(s.readDeadline()))
	})

	s.wg.Add(2)
	go s.readLoop()
	go s.pingLoop()

	return s, nil
}

// Alive reports whether the session connection is still up.
func (s *Session) Alive() bool {
	select {
	case <-s.disconnected:
		return false
	default:
		return true
	}
}

// Call issues a JSON-RPC request and unmarshals the result into result
// (ignored when nil). Fails with ErrTimeout, ErrDisconnected, or a
// *RemoteError from the node.
func (s *Session) Call(ctx context.Context, method string, params []any, result any) error {
	raw, err := s.call(ctx, method, params)
	if err != nil {
		return err
	}
	if result != nil && raw != nil {
		if err := json.Unmarshal(raw, result); err != nil {
			return fmt.Errorf("%s: decode result: %w", method, err)
		}
	}
	return nil
}

func (s *Session) call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if !s.Alive() {
		return nil, fmt.Errorf("%s: %w", method, ErrDisconnected)
	}

	id := s.reqID.Add(1)
	ch := make(chan *inbound, 1)
	s.pendingMu.Lock()
	s.pending[id] = ch
	s.pendingMu.Unlock()
	defer func() {
		s.pendingMu.Lock()
		delete(s.pending, id)
		s.pendingMu.Unlock()
	}()

	req := outbound{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	if err := s.write(req); err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}

	timeout := s.cfg.CallTimeout
	if dl, ok := ctx.Deadline(); ok {
		timeout = time.Until(dl)
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return nil, resp.Error.toRemoteError()
		}
		return resp.Result, nil
	case <-timer.C:
		return nil, fmt.Errorf("%s after %s: %w", method, timeout, ErrTimeout)
	case <-s.disconnected:
		if s.closed.Load() {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("%s: %w", method, ErrDisconnected)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Subscribe issues a subscription request and returns a Subscription
// producing raw notification payloads until it is cancelled or the
// connection drops. unsubMethod is invoked on Unsubscribe.
func (s *Session) Subscribe(ctx context.Context, method string, params []any, unsubMethod string) (*Subscription, error) {
	raw, err := s.call(ctx, method, params)
	if err != nil {
		return nil, err
	}
	id, err := subscriptionID(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}

	sub := &Subscription{
		id:          id,
		unsubMethod: unsubMethod,
		session:     s,
		ch:          make(chan json.RawMessage, 64),
	}
	s.subsMu.Lock()
	// Notifications may have raced ahead of this registration; replay
	// them first so the stream stays ordered.
	for _, payload := range s.early[id] {
		sub.deliver(payload)
	}
	delete(s.early, id)
	s.subs[id] = sub
	s.subsMu.Unlock()

	// Connection may have dropped between the call returning and the
	// subscription being registered.
	if !s.Alive() {
		s.removeSub(id)
		sub.finish()
		return nil, fmt.Errorf("%s: %w", method, ErrDisconnected)
	}
	return sub, nil
}

// Close shuts the session down. All pending calls fail and all
// subscriptions end.
func (s *Session) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.writeMu.Lock()
	s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.writeMu.Unlock()
	s.drop(ErrClosed)
	s.wg.Wait()
	return nil
}

// write serializes one request onto the socket.
func (s *Session) write(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	select {
	case <-s.disconnected:
		return ErrDisconnected
	default:
	}
	s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	if err := s.conn.WriteJSON(v); err != nil {
		s.drop(err)
		return ErrDisconnected
	}
	return nil
}

func (s *Session) readDeadline() time.Duration {
	return s.cfg.PingInterval * time.Duration(s.cfg.MaxMissedPongs+1)
}

// readLoop reads messages and routes them to pending calls or
// subscriptions until the connection fails.
func (s *Session) readLoop() {
	defer s.wg.Done()
	for {
		s.conn.SetReadDeadline(time.Now().Add(s.readDeadline()))
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			s.drop(err)
			return
		}
		s.route(message)
	}
}

// pingLoop sends keepalive pings. MaxMissedPongs consecutive
// unanswered pings force the session down.
func (s *Session) pingLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.disconnected:
			return
		case <-ticker.C:
			missed := s.missedPongs.Add(1)
			if missed > int32(s.cfg.MaxMissedPongs) {
				s.drop(fmt.Errorf("%d consecutive missed pongs", missed-1))
				return
			}
			s.writeMu.Lock()
			s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			err := s.conn.WriteMessage(websocket.PingMessage, nil)
			s.writeMu.Unlock()
			if err != nil {
				s.drop(err)
				return
			}
		}
	}
}

// route dispatches one inbound message.
func (s *Session) route(message []byte) {
	var in inbound
	if err := json.Unmarshal(message, &in); err != nil {
		s.log.Warn().Err(err).Msg("discarding unparseable message")
		return
	}

	if in.ID != nil {
		s.pendingMu.Lock()
		ch, ok := s.pending[*in.ID]
		s.pendingMu.Unlock()
		if ok {
			select {
			case ch <- &in:
			default:
			}
		}
		return
	}

	if in.Params != nil {
		id, err := subscriptionID(in.Params.Subscription)
		if err != nil {
			return
		}
		s.subsMu.Lock()
		sub, ok := s.subs[id]
		if !ok {
			// Possibly a notification for a subscribe call whose
			// response is still in flight. Hold on to it, bounded.
			if len(s.early[id]) < 64 {
				s.early[id] = append(s.early[id], in.Params.Result)
			}
			s.subsMu.Unlock()
			return
		}
		s.subsMu.Unlock()
		if !sub.deliver(in.Params.Result) {
			s.log.Warn().Str("subscription", id).Msg("dropping notification for finished or lagging subscription")
		}
	}
}

// drop tears the session down exactly once: pending calls observe the
// disconnect and all subscription streams end.
func (s *Session) drop(reason error) {
	s.dropOnce.Do(func() {
		if !s.closed.Load() {
			s.log.Warn().Err(reason).Msg("session disconnected")
		}
		close(s.disconnected)
		s.conn.Close()

		s.subsMu.Lock()
		subs := make([]*Subscription, 0, len(s.subs))
		for id, sub := range s.subs {
			subs = append(subs, sub)
			delete(s.subs, id)
		}
		clear(s.early)
		s.subsMu.Unlock()
		for _, sub := range subs {
			sub.finish()
		}
	})
}

func (s *Session) removeSub(id string) {
	s.subsMu.Lock()
	delete(s.subs, id)
	s.subsMu.Unlock()
}

// Subscription is a lazy stream of notification payloads for one
// server-side subscription. The channel closes when the subscription
// is cancelled or the session drops.
type Subscription struct {
	id          string
	unsubMethod string
	session     *Session

	mu     sync.Mutex // guards ch sends against close
	ch     chan json.RawMessage
	closed bool
}

// ID returns the server-assigned subscription id.
func (sub *Subscription) ID() string { return sub.id }

// Events returns the notification stream. It is closed on cancel or
// disconnect. The stream is buffered; a consumer that stops reading
// without unsubscribing loses notifications past the buffer.
func (sub *Subscription) Events() <-chan json.RawMessage { return sub.ch }

// Unsubscribe cancels the subscription. Cancellation stops local
// observation only; it retracts nothing already sent to the chain.
func (sub *Subscription) Unsubscribe(ctx context.Context) error {
	sub.session.removeSub(sub.id)
	sub.finish()
	if !sub.session.Alive() {
		return nil
	}
	// Best effort: the server drops the subscription with the session
	// anyway if this fails.
	return sub.session.Call(ctx, sub.unsubMethod, []any{sub.id}, nil)
}

// deliver hands one notification to the consumer. It never blocks the
// read loop: a finished subscription or a full buffer reports false
// and the payload is discarded.
func (sub *Subscription) deliver(payload json.RawMessage) bool {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed {
		return false
	}
	select {
	case sub.ch <- payload:
		return true
	default:
		return false
	}
}

func (sub *Subscription) finish() {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if !sub.closed {
		sub.closed = true
		close(sub.ch)
	}
}

// Wire types.

type outbound struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

type inbound struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *uint64         `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *wireError      `json:"error"`
	Method  string          `json:"method"`
	Params  *notifyParams   `json:"params"`
}

type notifyParams struct {
	Subscription json.RawMessage `json:"subscription"`
	Result       json.RawMessage `json:"result"`
}

type wireError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (e *wireError) toRemoteError() *RemoteError {
	re := &RemoteError{Code: e.Code, Message: e.Message}
	if len(e.Data) > 0 {
		var s string
		if err := json.Unmarshal(e.Data, &s); err == nil {
			re.Data = s
		} else {
			re.Data = string(e.Data)
		}
	}
	return re
}

// subscriptionID normalizes a subscription id that may arrive as a
// JSON string or number.
func subscriptionID(raw json.RawMessage) (string, error) {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString, nil
	}
	var asNumber int64
	if err := json.Unmarshal(raw, &asNumber); err == nil {
		return strconv.FormatInt(asNumber, 10), nil
	}
	return "", fmt.Errorf("invalid subscription id %s", string(raw))
}
