package protocol

import (
	"github.com/annel0/blockverse/internal/vec"
	"github.com/google/uuid"
)

// Статусы Player Action
const (
	ActionStartDigging    int32 = 0
	ActionCancelDigging   int32 = 1
	ActionFinishedDigging int32 = 2
)

// События Game Event
const (
	GameEventStartWaitingChunks uint8 = 13
)

// LoginPlay - первый пакет фазы Play
type LoginPlay struct {
	EntityID            int32
	Hardcore            bool
	DimensionNames      []string
	MaxPlayers          int32
	ViewDistance        int32
	SimulationDistance  int32
	ReducedDebugInfo    bool
	EnableRespawnScreen bool
	DoLimitedCrafting   bool
	DimensionType       int32
	DimensionName       string
	HashedSeed          int64
	GameMode            uint8
	PreviousGameMode    int8
	Debug               bool
	Flat                bool
	PortalCooldown      int32
	EnforcesSecureChat  bool
}

func (p *LoginPlay) Encode(w *Writer) {
	w.Int32(p.EntityID)
	w.Bool(p.Hardcore)
	w.VarInt(int32(len(p.DimensionNames)))
	for _, d := range p.DimensionNames {
		w.String(d)
	}
	w.VarInt(p.MaxPlayers)
	w.VarInt(p.ViewDistance)
	w.VarInt(p.SimulationDistance)
	w.Bool(p.ReducedDebugInfo)
	w.Bool(p.EnableRespawnScreen)
	w.Bool(p.DoLimitedCrafting)
	w.VarInt(p.DimensionType)
	w.String(p.DimensionName)
	w.Int64(p.HashedSeed)
	w.Uint8(p.GameMode)
	w.Int8(p.PreviousGameMode)
	w.Bool(p.Debug)
	w.Bool(p.Flat)
	w.Bool(false) // нет точки смерти
	w.VarInt(p.PortalCooldown)
	w.Bool(p.EnforcesSecureChat)
}

func (p *LoginPlay) Decode(r *Reader) error {
	p.EntityID = r.Int32()
	p.Hardcore = r.Bool()
	n := r.VarInt()
	if n < 0 || int(n) > r.Remaining() {
		return r.errorf("bad dimension count %d", n)
	}
	p.DimensionNames = make([]string, 0, n)
	for i := int32(0); i < n && r.Err() == nil; i++ {
		p.DimensionNames = append(p.DimensionNames, r.String(DefaultMaxString))
	}
	p.MaxPlayers = r.VarInt()
	p.ViewDistance = r.VarInt()
	p.SimulationDistance = r.VarInt()
	p.ReducedDebugInfo = r.Bool()
	p.EnableRespawnScreen = r.Bool()
	p.DoLimitedCrafting = r.Bool()
	p.DimensionType = r.VarInt()
	p.DimensionName = r.String(DefaultMaxString)
	p.HashedSeed = r.Int64()
	p.GameMode = r.Uint8()
	p.PreviousGameMode = r.Int8()
	p.Debug = r.Bool()
	p.Flat = r.Bool()
	if r.Bool() {
		r.String(DefaultMaxString)
		r.Position()
	}
	p.PortalCooldown = r.VarInt()
	p.EnforcesSecureChat = r.Bool()
	return r.Err()
}

// SyncPlayerPosition телепортирует игрока; клиент подтверждает TeleportID
type SyncPlayerPosition struct {
	X, Y, Z    float64
	Yaw, Pitch float32
	Flags      uint8
	TeleportID int32
}

func (p *SyncPlayerPosition) Encode(w *Writer) {
	w.Float64(p.X)
	w.Float64(p.Y)
	w.Float64(p.Z)
	w.Float32(p.Yaw)
	w.Float32(p.Pitch)
	w.Uint8(p.Flags)
	w.VarInt(p.TeleportID)
}

func (p *SyncPlayerPosition) Decode(r *Reader) error {
	p.X = r.Float64()
	p.Y = r.Float64()
	p.Z = r.Float64()
	p.Yaw = r.Float32()
	p.Pitch = r.Float32()
	p.Flags = r.Uint8()
	p.TeleportID = r.VarInt()
	return r.Err()
}

// SetCenterChunk задаёт центр окна загруженных чанков клиента
type SetCenterChunk struct {
	X, Z int32
}

func (p *SetCenterChunk) Encode(w *Writer) {
	w.VarInt(p.X)
	w.VarInt(p.Z)
}

func (p *SetCenterChunk) Decode(r *Reader) error {
	p.X = r.VarInt()
	p.Z = r.VarInt()
	return r.Err()
}

// LightData - данные освещения, передаваемые вместе с чанком
type LightData struct {
	SkyLightMask        []int64
	BlockLightMask      []int64
	EmptySkyLightMask   []int64
	EmptyBlockLightMask []int64
	SkyLight            [][]byte
	BlockLight          [][]byte
}

// FullSkyLight возвращает максимальный свет неба для sections секций
// (включая две секции за пределами мира)
func FullSkyLight(sections int) LightData {
	mask := make([]int64, (sections+63)/64)
	arrays := make([][]byte, sections)
	full := make([]byte, 2048)
	for i := range full {
		full[i] = 0xFF
	}
	for i := 0; i < sections; i++ {
		mask[i/64] |= 1 << uint(i%64)
		arrays[i] = full
	}
	return LightData{
		SkyLightMask:        mask,
		BlockLightMask:      []int64{},
		EmptySkyLightMask:   []int64{},
		EmptyBlockLightMask: mask,
		SkyLight:            arrays,
		BlockLight:          [][]byte{},
	}
}

func (l *LightData) encode(w *Writer) {
	w.Longs(l.SkyLightMask)
	w.Longs(l.BlockLightMask)
	w.Longs(l.EmptySkyLightMask)
	w.Longs(l.EmptyBlockLightMask)
	w.VarInt(int32(len(l.SkyLight)))
	for _, a := range l.SkyLight {
		w.ByteArray(a)
	}
	w.VarInt(int32(len(l.BlockLight)))
	for _, a := range l.BlockLight {
		w.ByteArray(a)
	}
}

func (r *Reader) longs(max int) []int64 {
	n := r.VarInt()
	if n < 0 || int(n) > max || int(n)*8 > r.Remaining() {
		r.fail("bad long array length %d", n)
		return nil
	}
	out := make([]int64, n)
	for i := range out {
		out[i] = r.Int64()
	}
	return out
}

func (l *LightData) decode(r *Reader) {
	l.SkyLightMask = r.longs(64)
	l.BlockLightMask = r.longs(64)
	l.EmptySkyLightMask = r.longs(64)
	l.EmptyBlockLightMask = r.longs(64)
	readArrays := func() [][]byte {
		n := r.VarInt()
		if n < 0 || n > 4096 {
			r.fail("bad light array count %d", n)
			return nil
		}
		out := make([][]byte, 0, n)
		for i := int32(0); i < n && r.Err() == nil; i++ {
			out = append(out, r.ByteArray(2048))
		}
		return out
	}
	l.SkyLight = readArrays()
	l.BlockLight = readArrays()
}

// ChunkData передаёт столбец чанка целиком вместе с освещением.
// Data - уже сериализованные секции (палитры и индексы).
type ChunkData struct {
	X, Z           int32
	MotionBlocking []int64
	Data           []byte
	Light          LightData
}

func (p *ChunkData) Encode(w *Writer) {
	w.Int32(p.X)
	w.Int32(p.Z)
	if p.MotionBlocking != nil {
		w.LongArrayCompound("MOTION_BLOCKING", p.MotionBlocking)
	} else {
		w.LongArrayCompound("", nil)
	}
	w.ByteArray(p.Data)
	w.VarInt(0) // блок-сущностей нет
	p.Light.encode(w)
}

func (p *ChunkData) Decode(r *Reader) error {
	p.X = r.Int32()
	p.Z = r.Int32()
	p.MotionBlocking = r.LongArrayCompound()["MOTION_BLOCKING"]
	p.Data = r.ByteArray(MaxFrameSize)
	if n := r.VarInt(); n != 0 && r.Err() == nil {
		return r.errorf("block entities are not supported (%d)", n)
	}
	p.Light.decode(r)
	return r.Err()
}

// Pos возвращает координаты чанка
func (p *ChunkData) Pos() vec.ChunkPos { return vec.ChunkPos{X: p.X, Z: p.Z} }

// UnloadChunk сообщает клиенту, что чанк больше не отслеживается.
// На проводе сначала Z, затем X.
type UnloadChunk struct {
	X, Z int32
}

func (p *UnloadChunk) Encode(w *Writer) {
	w.Int32(p.Z)
	w.Int32(p.X)
}

func (p *UnloadChunk) Decode(r *Reader) error {
	p.Z = r.Int32()
	p.X = r.Int32()
	return r.Err()
}

// Pos возвращает координаты чанка
func (p *UnloadChunk) Pos() vec.ChunkPos { return vec.ChunkPos{X: p.X, Z: p.Z} }

// BlockUpdate - смена состояния одного блока
type BlockUpdate struct {
	Position vec.BlockPos
	StateID  int32
}

func (p *BlockUpdate) Encode(w *Writer) {
	w.Position(p.Position)
	w.VarInt(p.StateID)
}

func (p *BlockUpdate) Decode(r *Reader) error {
	p.Position = r.Position()
	p.StateID = r.VarInt()
	return r.Err()
}

// AcknowledgeBlockChange подтверждает обработку действия с номером Sequence
type AcknowledgeBlockChange struct {
	Sequence int32
}

func (p *AcknowledgeBlockChange) Encode(w *Writer) { w.VarInt(p.Sequence) }

func (p *AcknowledgeBlockChange) Decode(r *Reader) error {
	p.Sequence = r.VarInt()
	return r.Err()
}

// GameEvent - событие игры (смена режима, ожидание чанков и т.п.)
type GameEvent struct {
	Event uint8
	Value float32
}

func (p *GameEvent) Encode(w *Writer) {
	w.Uint8(p.Event)
	w.Float32(p.Value)
}

func (p *GameEvent) Decode(r *Reader) error {
	p.Event = r.Uint8()
	p.Value = r.Float32()
	return r.Err()
}

// SpawnEntity показывает сущность клиенту
type SpawnEntity struct {
	EntityID   int32
	UUID       uuid.UUID
	Type       int32
	X, Y, Z    float64
	Pitch, Yaw float32
	HeadYaw    float32
	Data       int32
	VelocityX  int16
	VelocityY  int16
	VelocityZ  int16
}

func (p *SpawnEntity) Encode(w *Writer) {
	w.VarInt(p.EntityID)
	w.UUID(p.UUID)
	w.VarInt(p.Type)
	w.Float64(p.X)
	w.Float64(p.Y)
	w.Float64(p.Z)
	w.Angle(p.Pitch)
	w.Angle(p.Yaw)
	w.Angle(p.HeadYaw)
	w.VarInt(p.Data)
	w.Int16(p.VelocityX)
	w.Int16(p.VelocityY)
	w.Int16(p.VelocityZ)
}

func (p *SpawnEntity) Decode(r *Reader) error {
	p.EntityID = r.VarInt()
	p.UUID = r.UUID()
	p.Type = r.VarInt()
	p.X = r.Float64()
	p.Y = r.Float64()
	p.Z = r.Float64()
	p.Pitch = r.Angle()
	p.Yaw = r.Angle()
	p.HeadYaw = r.Angle()
	p.Data = r.VarInt()
	p.VelocityX = r.Int16()
	p.VelocityY = r.Int16()
	p.VelocityZ = r.Int16()
	return r.Err()
}

// TeleportEntity передаёт абсолютную позицию сущности
type TeleportEntity struct {
	EntityID   int32
	X, Y, Z    float64
	Yaw, Pitch float32
	OnGround   bool
}

func (p *TeleportEntity) Encode(w *Writer) {
	w.VarInt(p.EntityID)
	w.Float64(p.X)
	w.Float64(p.Y)
	w.Float64(p.Z)
	w.Angle(p.Yaw)
	w.Angle(p.Pitch)
	w.Bool(p.OnGround)
}

func (p *TeleportEntity) Decode(r *Reader) error {
	p.EntityID = r.VarInt()
	p.X = r.Float64()
	p.Y = r.Float64()
	p.Z = r.Float64()
	p.Yaw = r.Angle()
	p.Pitch = r.Angle()
	p.OnGround = r.Bool()
	return r.Err()
}

// RemoveEntities убирает сущности у клиента
type RemoveEntities struct {
	EntityIDs []int32
}

func (p *RemoveEntities) Encode(w *Writer) {
	w.VarInt(int32(len(p.EntityIDs)))
	for _, id := range p.EntityIDs {
		w.VarInt(id)
	}
}

func (p *RemoveEntities) Decode(r *Reader) error {
	n := r.VarInt()
	if n < 0 || int(n) > r.Remaining() {
		return r.errorf("bad entity count %d", n)
	}
	p.EntityIDs = make([]int32, 0, n)
	for i := int32(0); i < n && r.Err() == nil; i++ {
		p.EntityIDs = append(p.EntityIDs, r.VarInt())
	}
	return r.Err()
}

// SystemChat - сообщение сервера в чат (или над хотбаром при Overlay)
type SystemChat struct {
	Content string
	Overlay bool
}

func (p *SystemChat) Encode(w *Writer) {
	w.TextComponent(p.Content)
	w.Bool(p.Overlay)
}

func (p *SystemChat) Decode(r *Reader) error {
	p.Content = r.TextComponent()
	p.Overlay = r.Bool()
	return r.Err()
}

// ConfirmTeleport подтверждает SyncPlayerPosition
type ConfirmTeleport struct {
	TeleportID int32
}

func (p *ConfirmTeleport) Encode(w *Writer) { w.VarInt(p.TeleportID) }

func (p *ConfirmTeleport) Decode(r *Reader) error {
	p.TeleportID = r.VarInt()
	return r.Err()
}

// ChatMessage - сообщение игрока. Подпись принимается, но не проверяется.
type ChatMessage struct {
	Message      string
	Timestamp    int64
	Salt         int64
	Signature    []byte // 256 байт или nil
	MessageCount int32
	Acknowledged [3]byte
}

func (p *ChatMessage) Encode(w *Writer) {
	w.String(p.Message)
	w.Int64(p.Timestamp)
	w.Int64(p.Salt)
	w.Bool(p.Signature != nil)
	if p.Signature != nil {
		w.Raw(p.Signature)
	}
	w.VarInt(p.MessageCount)
	w.Raw(p.Acknowledged[:])
}

func (p *ChatMessage) Decode(r *Reader) error {
	p.Message = r.String(256)
	p.Timestamp = r.Int64()
	p.Salt = r.Int64()
	if r.Bool() {
		p.Signature = r.Bytes(256)
	}
	p.MessageCount = r.VarInt()
	copy(p.Acknowledged[:], r.Bytes(3))
	return r.Err()
}

// SetPlayerPosition - перемещение без поворота
type SetPlayerPosition struct {
	X, Y, Z  float64
	OnGround bool
}

func (p *SetPlayerPosition) Encode(w *Writer) {
	w.Float64(p.X)
	w.Float64(p.Y)
	w.Float64(p.Z)
	w.Bool(p.OnGround)
}

func (p *SetPlayerPosition) Decode(r *Reader) error {
	p.X = r.Float64()
	p.Y = r.Float64()
	p.Z = r.Float64()
	p.OnGround = r.Bool()
	return r.Err()
}

// SetPlayerPositionAndRotation - перемещение с поворотом
type SetPlayerPositionAndRotation struct {
	X, Y, Z    float64
	Yaw, Pitch float32
	OnGround   bool
}

func (p *SetPlayerPositionAndRotation) Encode(w *Writer) {
	w.Float64(p.X)
	w.Float64(p.Y)
	w.Float64(p.Z)
	w.Float32(p.Yaw)
	w.Float32(p.Pitch)
	w.Bool(p.OnGround)
}

func (p *SetPlayerPositionAndRotation) Decode(r *Reader) error {
	p.X = r.Float64()
	p.Y = r.Float64()
	p.Z = r.Float64()
	p.Yaw = r.Float32()
	p.Pitch = r.Float32()
	p.OnGround = r.Bool()
	return r.Err()
}

// SetPlayerRotation - только поворот
type SetPlayerRotation struct {
	Yaw, Pitch float32
	OnGround   bool
}

func (p *SetPlayerRotation) Encode(w *Writer) {
	w.Float32(p.Yaw)
	w.Float32(p.Pitch)
	w.Bool(p.OnGround)
}

func (p *SetPlayerRotation) Decode(r *Reader) error {
	p.Yaw = r.Float32()
	p.Pitch = r.Float32()
	p.OnGround = r.Bool()
	return r.Err()
}

// PlayerAction - копание блока
type PlayerAction struct {
	Status   int32
	Position vec.BlockPos
	Face     int8
	Sequence int32
}

func (p *PlayerAction) Encode(w *Writer) {
	w.VarInt(p.Status)
	w.Position(p.Position)
	w.Int8(p.Face)
	w.VarInt(p.Sequence)
}

func (p *PlayerAction) Decode(r *Reader) error {
	p.Status = r.VarInt()
	p.Position = r.Position()
	p.Face = r.Int8()
	p.Sequence = r.VarInt()
	return r.Err()
}

// UseItemOn - взаимодействие с блоком (в том числе установка)
type UseItemOn struct {
	Hand                      int32
	Position                  vec.BlockPos
	Face                      int32
	CursorX, CursorY, CursorZ float32
	InsideBlock               bool
	Sequence                  int32
}

func (p *UseItemOn) Encode(w *Writer) {
	w.VarInt(p.Hand)
	w.Position(p.Position)
	w.VarInt(p.Face)
	w.Float32(p.CursorX)
	w.Float32(p.CursorY)
	w.Float32(p.CursorZ)
	w.Bool(p.InsideBlock)
	w.VarInt(p.Sequence)
}

func (p *UseItemOn) Decode(r *Reader) error {
	p.Hand = r.VarInt()
	p.Position = r.Position()
	p.Face = r.VarInt()
	p.CursorX = r.Float32()
	p.CursorY = r.Float32()
	p.CursorZ = r.Float32()
	p.InsideBlock = r.Bool()
	p.Sequence = r.VarInt()
	return r.Err()
}

// FaceOffset возвращает смещение к соседнему блоку по грани (0..5: низ, верх, север, юг, запад, восток)
func FaceOffset(face int32) (dx, dy, dz int32, ok bool) {
	switch face {
	case 0:
		return 0, -1, 0, true
	case 1:
		return 0, 1, 0, true
	case 2:
		return 0, 0, -1, true
	case 3:
		return 0, 0, 1, true
	case 4:
		return -1, 0, 0, true
	case 5:
		return 1, 0, 0, true
	default:
		return 0, 0, 0, false
	}
}
