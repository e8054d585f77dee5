package tick

import (
	"github.com/annel0/blockverse/internal/auth"
	"github.com/annel0/blockverse/internal/protocol"
	"github.com/annel0/blockverse/internal/vec"
)

// Client - сторона сессии, видимая тик-циклу. Send только ставит пакет в
// очередь отправки и не блокируется на сети.
type Client interface {
	ID() uint64
	Send(p protocol.Packet) error
	Disconnect(reason string)
}

// Header - общие поля намерения
type Header struct {
	Session uint64
	Seq     uint64 // порядковый номер внутри сессии
}

func (h *Header) header() *Header { return h }

// Intent - действие игрока, принятое сессией и ожидающее тика
type Intent interface {
	header() *Header
}

// Join добавляет игрока в мир после фазы Configuration
type Join struct {
	Header
	Client       Client
	Identity     auth.Identity
	ViewDistance int
}

// Leave убирает игрока из мира (сессия закрыта)
type Leave struct {
	Header
	Reason string
}

// Move - перемещение и/или поворот
type Move struct {
	Header
	Pos        vec.Vec3
	Yaw, Pitch float32
	OnGround   bool
	HasPos     bool
	HasRot     bool
}

// BreakBlock - завершённое копание блока
type BreakBlock struct {
	Header
	Pos      vec.BlockPos
	Sequence int32
}

// Interact - использование предмета на блоке (в том числе установка)
type Interact struct {
	Header
	Pos      vec.BlockPos
	Face     int32
	Sequence int32
}

// Chat - сообщение в чат
type Chat struct {
	Header
	Text string
}

// ViewDistance - клиент сменил дальность прорисовки
type ViewDistance struct {
	Header
	Radius int
}
