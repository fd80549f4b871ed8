package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	DefaultURL              = "wss://server.test.com:9000"
	DefaultPayload          = "something"
	DefaultHandshakeTimeout = 45 * time.Second
)

// Handlers - необязательные наблюдатели событий соединения.
// Вызываются после встроенного логирования из единственной горутины клиента,
// поэтому никогда не выполняются параллельно.
type Handlers struct {
	OnOpen    func()
	OnMessage func(messageType int, data []byte)
	OnClose   func(code int, text string)
	OnError   func(err error)
}

type Config struct {
	URL                string
	Payload            string  // единственный текстовый фрейм после открытия
	Credentials        *Bundle // клиентский сертификат, ключ и CA
	ServerName         string  // SNI, по умолчанию хост из URL
	ExpectedServerName string  // ожидаемое имя в сертификате сервера (опционально)
	HandshakeTimeout   time.Duration
	Deadline           time.Duration // 0 - без ограничения
	Logger             *slog.Logger
	Metrics            *Metrics
	Handlers           Handlers
}

func DefaultConfig(wsURL string, creds *Bundle) Config {
	return Config{
		URL:              wsURL,
		Payload:          DefaultPayload,
		Credentials:      creds,
		HandshakeTimeout: DefaultHandshakeTimeout,
		Logger:           slog.Default(),
	}
}

// Client - одноразовый mTLS WebSocket клиент: одно соединение,
// один отправленный фрейм, без переподключений.
type Client struct {
	cfg     Config
	url     *url.URL
	dialer  websocket.Dialer
	logger  *slog.Logger
	metrics *Metrics

	mu      sync.Mutex
	fsm     stateMachine
	conn    *websocket.Conn
	cancel  context.CancelFunc
	err     error
	sent    int
	started bool
	reason  string // причина локального закрытия

	closing atomic.Bool
	done    chan struct{}
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}

	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}

	if u.Scheme != "wss" || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, cfg.URL)
	}

	serverName := cfg.ServerName
	if serverName == "" {
		serverName = u.Hostname()
	}

	tlsConfig, err := cfg.Credentials.ClientTLSConfig(serverName, cfg.ExpectedServerName)
	if err != nil {
		return nil, err
	}

	return &Client{
		cfg: cfg,
		url: u,
		// Прокси из окружения игнорируется: соединение идёт напрямую к серверу
		dialer: websocket.Dialer{
			Proxy:            nil,
			HandshakeTimeout: cfg.HandshakeTimeout,
			TLSClientConfig:  tlsConfig,
		},
		logger:  cfg.Logger.With("conn_id", uuid.NewString(), "url", u.String()),
		metrics: cfg.Metrics,
		fsm:     newStateMachine(),
		done:    make(chan struct{}),
	}, nil
}

// Start запускает соединение и сразу возвращает управление.
// Завершение - через Done.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}

	c.started = true

	var cancel context.CancelFunc
	if c.cfg.Deadline > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Deadline)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}

	c.cancel = cancel
	c.mu.Unlock()

	go c.run(ctx)

	return nil
}

// Run - Start и ожидание конечного состояния.
func (c *Client) Run(ctx context.Context) error {
	if err := c.Start(ctx); err != nil {
		return err
	}

	<-c.done

	return c.Err()
}

func (c *Client) run(ctx context.Context) {
	defer close(c.done)
	defer c.cancel()

	c.setState(StateConnecting)

	if c.closing.Load() {
		c.terminate(StateFailed, &Error{Kind: KindNetwork, Op: "dial", Err: ErrClientClosed}, 0, "")
		return
	}

	c.logger.Info("connecting to server")

	start := time.Now()

	conn, resp, err := c.dialer.DialContext(ctx, c.url.String(), nil)
	if err != nil {
		cerr := classifyDialError(err)
		if resp != nil {
			c.logger.Debug("upgrade rejected", "status", resp.StatusCode)
		}

		c.terminate(StateFailed, cerr, 0, "")

		return
	}
	defer conn.Close()

	c.metrics.recordHandshake(time.Since(start))

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	if c.closing.Load() {
		shutdown(conn, c.closeReason())
	}

	stop := context.AfterFunc(ctx, func() {
		reason := "client closing"
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			reason = "deadline reached"
		}

		c.closeConn(reason)
	})
	defer stop()

	c.setState(StateOpen)
	c.logger.Info("connected to server")

	if h := c.cfg.Handlers.OnOpen; h != nil {
		h()
	}

	if err := c.send(conn); err != nil {
		if c.closing.Load() {
			c.terminate(StateClosed, nil, websocket.CloseNormalClosure, c.closeReason())
		} else {
			c.terminate(StateClosed, writeError(err), websocket.CloseAbnormalClosure, "")
		}

		return
	}

	c.readLoop(conn)
}

func (c *Client) send(conn *websocket.Conn) error {
	if err := conn.WriteMessage(websocket.TextMessage, []byte(c.cfg.Payload)); err != nil {
		return err
	}

	c.mu.Lock()
	c.sent++
	c.mu.Unlock()

	c.metrics.recordFrameSent()
	c.logger.Debug("payload sent", "bytes", len(c.cfg.Payload))

	return nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if c.closing.Load() {
				c.terminate(StateClosed, nil, websocket.CloseNormalClosure, c.closeReason())
				return
			}

			code, text := websocket.CloseAbnormalClosure, ""

			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				code, text = closeErr.Code, closeErr.Text
			}

			state, cerr := classifyReadError(err)
			c.terminate(state, cerr, code, text)

			return
		}

		c.metrics.recordMessage(messageType)

		if messageType == websocket.TextMessage {
			c.logger.Info("received message", "type", messageTypeName(messageType), "data", string(data))
		} else {
			c.logger.Info("received message", "type", messageTypeName(messageType), "data", data)
		}

		if h := c.cfg.Handlers.OnMessage; h != nil {
			h(messageType, data)
		}
	}
}

// terminate переводит клиент в конечное состояние. Для Closed пишет
// единственное сообщение об отключении.
func (c *Client) terminate(to State, err *Error, code int, text string) {
	if err != nil {
		c.reportError(err)
	}

	c.setState(to)

	if to != StateClosed {
		return
	}

	c.logger.Info("disconnected", "code", code, "reason", text)

	if h := c.cfg.Handlers.OnClose; h != nil {
		h(code, text)
	}
}

func (c *Client) reportError(err *Error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.mu.Unlock()

	c.metrics.recordError(err.Kind)
	c.logger.Error("connection error", "kind", string(err.Kind), "error", err)

	if h := c.cfg.Handlers.OnError; h != nil {
		h(err)
	}
}

func (c *Client) setState(to State) {
	c.mu.Lock()
	from := c.fsm.current
	err := c.fsm.transition(to)
	c.mu.Unlock()

	if err != nil {
		c.logger.Warn("state transition rejected", "error", err)
		return
	}

	c.metrics.recordTransition(from, to)
	c.logger.Debug("state changed", "from", from.String(), "to", to.String())
}

// Close закрывает соединение со стороны клиента.
// До установки соединения прерывает dial, до Start - отменяет его:
// клиент завершится в Failed с ErrClientClosed без подключения.
func (c *Client) Close() error {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()

	c.closeConn("client closing")

	if cancel != nil {
		cancel()
	}

	return nil
}

func (c *Client) closeConn(reason string) {
	c.mu.Lock()
	if c.closing.Load() {
		c.mu.Unlock()
		return
	}

	c.reason = reason
	c.closing.Store(true)
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		shutdown(conn, reason)
	}
}

func (c *Client) closeReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

func shutdown(conn *websocket.Conn, reason string) {
	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	_ = conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second))
	_ = conn.Close()
}

func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fsm.current
}

// Trace возвращает историю состояний, начиная с Idle.
func (c *Client) Trace() []State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]State(nil), c.fsm.trace...)
}

// Err возвращает первую зафиксированную ошибку соединения.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Sent - количество отправленных фреймов (0 или 1).
func (c *Client) Sent() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sent
}

func messageTypeName(messageType int) string {
	switch messageType {
	case websocket.TextMessage:
		return "text"
	case websocket.BinaryMessage:
		return "binary"
	default:
		return fmt.Sprintf("type_%d", messageType)
	}
}
