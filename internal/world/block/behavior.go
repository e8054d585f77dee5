package block

import (
	"errors"

	"github.com/annel0/blockverse/internal/chunk"
	"github.com/annel0/blockverse/internal/vec"
)

// StateID - глобальный идентификатор состояния блока протокола 767
type StateID = chunk.StateID

// Состояния блоков, которые использует сервер
const (
	Air          StateID = 0
	Stone        StateID = 1
	GrassBlock   StateID = 9 // snowy=false
	Dirt         StateID = 10
	CoarseDirt   StateID = 11
	Cobblestone  StateID = 14
	OakPlanks    StateID = 15
	Bedrock      StateID = 79
	Water        StateID = 80 // level=0, источник
	WaterFalling StateID = 88 // level=8
	WaterMax     StateID = 95
	Sand         StateID = 112
)

// Event - событие, на которое может реагировать поведение
type Event uint8

const (
	EventInteract Event = iota
	EventBreak
	EventTick
)

func (e Event) String() string {
	switch e {
	case EventInteract:
		return "interact"
	case EventBreak:
		return "break"
	case EventTick:
		return "tick"
	default:
		return "unknown"
	}
}

// ErrUnbreakable - блок нельзя сломать
var ErrUnbreakable = errors.New("block is unbreakable")

// API определяет доступ поведения блока к миру
type API interface {
	// Block возвращает состояние блока; ok=false, если чанк не загружен
	Block(pos vec.BlockPos) (StateID, bool)
	// SetBlock меняет блок (изменение рассылается наблюдателям)
	SetBlock(pos vec.BlockPos, state StateID) error
	// ScheduleTick планирует событие EventTick через delay тиков
	ScheduleTick(pos vec.BlockPos, delay int)
	// CurrentTick возвращает номер текущего тика
	CurrentTick() uint64
}

// Context - аргументы вызова поведения
type Context struct {
	API   API
	Pos   vec.BlockPos
	State StateID
	Actor int32 // entity id игрока, 0 - сам мир
	Face  int32 // грань для EventInteract
}

// Callback - разрешённый обработчик события
type Callback func(ctx Context) error

// Behavior - поведение типа блока. Реакции на события задаются
// интерфейсами Interactor, Breaker и Ticker.
type Behavior interface {
	Name() string
}

// Interactor обрабатывает использование предмета на блоке
type Interactor interface {
	OnInteract(ctx Context) error
}

// Breaker обрабатывает разрушение блока. Реализация сама решает, вызывать
// ли BaseBreak.
type Breaker interface {
	OnBreak(ctx Context) error
}

// Ticker обрабатывает запланированное обновление блока
type Ticker interface {
	OnTick(ctx Context) error
}

// BaseBreak - общее поведение разрушения: блок заменяется воздухом,
// соседи получают обновление
func BaseBreak(ctx Context) error {
	if err := ctx.API.SetBlock(ctx.Pos, Air); err != nil {
		return err
	}
	for _, n := range ctx.Pos.Neighbors() {
		ctx.API.ScheduleTick(n, 1)
	}
	return nil
}

// IsWater сообщает, является ли состояние водой любого уровня
func IsWater(s StateID) bool {
	return s >= Water && s <= WaterMax
}
