package protocol

import "fmt"

// Phase - фаза соединения. Набор допустимых пакетов зависит от фазы.
type Phase int32

const (
	PhaseHandshaking Phase = iota
	PhaseStatus
	PhaseLogin
	PhaseConfiguration
	PhasePlay
	PhaseClosing
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseHandshaking:
		return "handshaking"
	case PhaseStatus:
		return "status"
	case PhaseLogin:
		return "login"
	case PhaseConfiguration:
		return "configuration"
	case PhasePlay:
		return "play"
	case PhaseClosing:
		return "closing"
	case PhaseClosed:
		return "closed"
	default:
		return fmt.Sprintf("phase(%d)", int32(p))
	}
}

// SupportsDisconnect сообщает, есть ли в фазе пакет Disconnect с причиной
func (p Phase) SupportsDisconnect() bool {
	return p == PhaseLogin || p == PhaseConfiguration || p == PhasePlay
}

// Direction - направление пакета
type Direction uint8

const (
	Serverbound Direction = iota // клиент -> сервер
	Clientbound                  // сервер -> клиент
)

func (d Direction) String() string {
	if d == Serverbound {
		return "serverbound"
	}
	return "clientbound"
}

// Opposite возвращает встречное направление
func (d Direction) Opposite() Direction {
	if d == Serverbound {
		return Clientbound
	}
	return Serverbound
}

// Значения NextState в Handshake
const (
	IntentStatus   int32 = 1
	IntentLogin    int32 = 2
	IntentTransfer int32 = 3
)
