package protocol

import (
	"errors"
	"fmt"
)

// ErrNeedMoreBytes возвращается декодером, пока кадр не получен целиком.
// Это не ошибка протокола: буфер не тронут.
var ErrNeedMoreBytes = errors.New("protocol: need more bytes")

// ErrorKind классифицирует нарушения протокола
type ErrorKind int

const (
	KindVarIntTooLong ErrorKind = iota + 1
	KindFrameTooLarge
	KindUnknownPacket
	KindMalformed
	KindBadCompression
)

func (k ErrorKind) String() string {
	switch k {
	case KindVarIntTooLong:
		return "varint too long"
	case KindFrameTooLarge:
		return "frame too large"
	case KindUnknownPacket:
		return "unknown packet"
	case KindMalformed:
		return "malformed packet"
	case KindBadCompression:
		return "bad compression"
	default:
		return "protocol error"
	}
}

// Error - нарушение протокола. Сессия, получившая такую ошибку, закрывается.
type Error struct {
	Kind  ErrorKind
	Phase Phase
	ID    int32 // -1 если id ещё не прочитан
	Msg   string
	Err   error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.ID >= 0 {
		msg = fmt.Sprintf("%s (phase %s, id 0x%02X)", msg, e.Phase, e.ID)
	}
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return "protocol: " + msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is сравнивает по Kind, что позволяет писать errors.Is(err, ErrMalformed)
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// Ошибки-образцы для errors.Is
var (
	ErrVarIntTooLong  = &Error{Kind: KindVarIntTooLong, ID: -1}
	ErrFrameTooLarge  = &Error{Kind: KindFrameTooLarge, ID: -1}
	ErrUnknownPacket  = &Error{Kind: KindUnknownPacket, ID: -1}
	ErrMalformed      = &Error{Kind: KindMalformed, ID: -1}
	ErrBadCompression = &Error{Kind: KindBadCompression, ID: -1}
)

func newError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, ID: -1, Msg: fmt.Sprintf(format, args...)}
}

// IsProtocolError сообщает, является ли err нарушением протокола
func IsProtocolError(err error) bool {
	var pe *Error
	return errors.As(err, &pe)
}
