package wstest

import (
	"io"
	"log"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type Options struct {
	Echo            bool   // отправить полученный фрейм обратно
	Reply           []byte // текстовый ответ на каждый фрейм
	CloseAfterFirst bool   // close-фрейм после первого сообщения
	DropAfterFirst  bool   // разорвать TCP без close-фрейма после первого сообщения
	Logger          *slog.Logger
}

// Server - mTLS WebSocket сервер, записывающий все полученные фреймы.
type Server struct {
	URL string // wss://127.0.0.1:port

	ts       *httptest.Server
	upgrader websocket.Upgrader
	opts     Options
	logger   *slog.Logger

	mu       sync.Mutex
	received [][]byte
	upgrades int
}

// NewServer запускает сервер, требующий клиентский сертификат,
// подписанный CA из pki. Сервер останавливается в t.Cleanup.
func NewServer(t testing.TB, pki *PKI, opts Options) *Server {
	t.Helper()

	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	s := &Server{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		opts:   opts,
		logger: opts.Logger,
	}

	ts := httptest.NewUnstartedServer(s)
	ts.TLS = pki.serverTLSConfig(t)
	// ошибки TLS рукопожатия ожидаемы в негативных тестах
	ts.Config.ErrorLog = log.New(io.Discard, "", 0)
	ts.StartTLS()

	s.ts = ts
	s.URL = "wss" + strings.TrimPrefix(ts.URL, "https")

	t.Cleanup(ts.Close)

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("failed to upgrade connection", "error", err)
		return
	}
	defer conn.Close()

	s.mu.Lock()
	s.upgrades++
	s.mu.Unlock()

	s.logger.Info("client connected", "remote_addr", conn.RemoteAddr())
	defer s.logger.Info("client disconnected", "remote_addr", conn.RemoteAddr())

	s.handleConnection(conn)
}

func (s *Server) handleConnection(conn *websocket.Conn) {
	for count := 1; ; count++ {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(
				err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
			) {
				s.logger.Error("read error", "error", err)
			}

			return
		}

		s.mu.Lock()
		s.received = append(s.received, append([]byte(nil), data...))
		s.mu.Unlock()

		if s.opts.Echo {
			if err := conn.WriteMessage(messageType, data); err != nil {
				s.logger.Error("failed to write echo", "error", err)
				return
			}
		}

		if s.opts.Reply != nil {
			if err := conn.WriteMessage(websocket.TextMessage, s.opts.Reply); err != nil {
				s.logger.Error("failed to write reply", "error", err)
				return
			}
		}

		if count > 1 {
			continue
		}

		if s.opts.DropAfterFirst {
			return
		}

		if s.opts.CloseAfterFirst {
			closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "server closing")
			_ = conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second))
		}
	}
}

// Received возвращает копию всех полученных фреймов.
func (s *Server) Received() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([][]byte, len(s.received))
	copy(out, s.received)

	return out
}

// Upgrades - количество успешных WebSocket upgrade (после mTLS).
func (s *Server) Upgrades() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upgrades
}

func (s *Server) Close() {
	s.ts.Close()
}
