package ws

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/gorilla/websocket"
)

var (
	ErrCredentialLoad   = errors.New("credential load failed")
	ErrTLSHandshake     = errors.New("tls handshake failed")
	ErrTLSValidation    = errors.New("peer certificate not trusted")
	ErrNetwork          = errors.New("network error")
	ErrProtocol         = errors.New("protocol error")
	ErrAlreadyStarted   = errors.New("client already started")
	ErrInvalidURL       = errors.New("url must use wss scheme")
	ErrInvalidState     = errors.New("invalid state transition")
	ErrPeerNameMismatch = errors.New("peer certificate name does not match expected")
	ErrClientClosed     = errors.New("client closed before connecting")
)

type ErrorKind string

const (
	KindCredentialLoad ErrorKind = "credential_load"
	KindTLSHandshake   ErrorKind = "tls_handshake"
	KindTLSValidation  ErrorKind = "tls_validation"
	KindNetwork        ErrorKind = "network"
	KindProtocol       ErrorKind = "protocol"
)

// Error - ошибка клиента с категорией.
// errors.Is(err, ErrCredentialLoad) и т.п. сравнивает по Kind.
type Error struct {
	Kind ErrorKind
	Op   string
	Path string // файл, для credential_load
	Err  error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg += ": " + e.Op
	}

	if e.Path != "" {
		msg += " " + e.Path
	}

	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return kindSentinel(e.Kind) == target
}

func kindSentinel(kind ErrorKind) error {
	switch kind {
	case KindCredentialLoad:
		return ErrCredentialLoad
	case KindTLSHandshake:
		return ErrTLSHandshake
	case KindTLSValidation:
		return ErrTLSValidation
	case KindNetwork:
		return ErrNetwork
	case KindProtocol:
		return ErrProtocol
	default:
		return nil
	}
}

// KindOf возвращает категорию ошибки или пустую строку.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return ""
}

func credentialError(op, path string, err error) *Error {
	return &Error{Kind: KindCredentialLoad, Op: op, Path: path, Err: err}
}

// classifyDialError разбирает ошибку установки соединения (TLS + upgrade).
func classifyDialError(err error) *Error {
	var (
		verifyErr  *tls.CertificateVerificationError
		unknownCA  x509.UnknownAuthorityError
		hostErr    x509.HostnameError
		invalidErr x509.CertificateInvalidError
		alertErr   tls.AlertError
		recordErr  tls.RecordHeaderError
	)

	switch {
	case errors.Is(err, ErrPeerNameMismatch),
		errors.As(err, &verifyErr),
		errors.As(err, &unknownCA),
		errors.As(err, &hostErr),
		errors.As(err, &invalidErr):
		return &Error{Kind: KindTLSValidation, Op: "dial", Err: err}

	case isRemoteAlert(err),
		errors.As(err, &alertErr),
		errors.As(err, &recordErr),
		errors.Is(err, websocket.ErrBadHandshake):
		return &Error{Kind: KindTLSHandshake, Op: "dial", Err: err}

	default:
		return &Error{Kind: KindNetwork, Op: "dial", Err: err}
	}
}

// isRemoteAlert - alert от партнёра по TLS поверх TCP. crypto/tls отдаёт его
// как *net.OpError{Op: "remote error"}, tls.AlertError бывает только у QUIC.
func isRemoteAlert(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "remote error"
}

// classifyReadError решает, чем закончилось открытое соединение.
// Close-фрейм от партнёра - штатное закрытие (ошибки нет),
// обрыв сети - Closed с ошибкой network, остальное - Failed.
func classifyReadError(err error) (State, *Error) {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		if closeErr.Code == websocket.CloseAbnormalClosure {
			return StateClosed, &Error{Kind: KindNetwork, Op: "read", Err: err}
		}

		return StateClosed, nil
	}

	var netErr net.Error
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.As(err, &netErr) {
		return StateClosed, &Error{Kind: KindNetwork, Op: "read", Err: err}
	}

	return StateFailed, &Error{Kind: KindProtocol, Op: "read", Err: err}
}

func writeError(err error) *Error {
	return &Error{Kind: KindNetwork, Op: "write", Err: fmt.Errorf("send payload: %w", err)}
}
