package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
)

const (
	// MaxFrameSize - максимальная длина кадра и распакованного тела
	MaxFrameSize = 2 << 20

	// CompressionDisabled - порог, при котором сжатие выключено
	CompressionDisabled = -1
)

// Frame - декодированный кадр
type Frame struct {
	Phase  Phase
	ID     int32
	Body   []byte // тело пакета без id (после распаковки)
	Packet Packet
}

// Decoder разбирает поток байт в пакеты. Не потокобезопасен: им владеет
// читающая горутина сессии.
type Decoder struct {
	schema    *Schema
	dir       Direction
	buf       []byte
	threshold int
	maxFrame  int
	zr        io.ReadCloser
}

// NewDecoder создаёт декодер пакетов направления dir
func NewDecoder(schema *Schema, dir Direction) *Decoder {
	return &Decoder{
		schema:    schema,
		dir:       dir,
		threshold: CompressionDisabled,
		maxFrame:  MaxFrameSize,
	}
}

// SetCompression включает сжатие (threshold >= 0) или выключает его
func (d *Decoder) SetCompression(threshold int) {
	d.threshold = threshold
}

// Feed добавляет прочитанные из сокета байты
func (d *Decoder) Feed(p []byte) {
	d.buf = append(d.buf, p...)
}

// Buffered возвращает число байт, ожидающих разбора
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Next извлекает следующий кадр для фазы phase. Пока кадр не получен
// целиком, возвращает ErrNeedMoreBytes и не изменяет буфер.
func (d *Decoder) Next(phase Phase) (Frame, error) {
	length, n, err := ReadVarInt(d.buf)
	if err != nil {
		if err == ErrNeedMoreBytes {
			return Frame{}, err
		}
		return Frame{}, withPhase(err, phase, -1)
	}
	if int(length) > d.maxFrame {
		return Frame{}, &Error{Kind: KindFrameTooLarge, Phase: phase, ID: -1,
			Msg: fmt.Sprintf("declared length %d exceeds %d", length, d.maxFrame)}
	}
	if length <= 0 {
		return Frame{}, &Error{Kind: KindMalformed, Phase: phase, ID: -1,
			Msg: fmt.Sprintf("invalid frame length %d", length)}
	}
	if len(d.buf)-n < int(length) {
		return Frame{}, ErrNeedMoreBytes
	}

	payload := make([]byte, length)
	copy(payload, d.buf[n:n+int(length)])
	rest := copy(d.buf, d.buf[n+int(length):])
	d.buf = d.buf[:rest]

	if d.threshold >= 0 {
		payload, err = d.inflate(payload)
		if err != nil {
			return Frame{}, withPhase(err, phase, -1)
		}
	}

	id, k, err := ReadVarInt(payload)
	if err != nil {
		return Frame{}, &Error{Kind: KindMalformed, Phase: phase, ID: -1, Msg: "bad packet id", Err: err}
	}
	body := payload[k:]

	pkt, ok := d.schema.New(phase, d.dir, id)
	if !ok {
		return Frame{Phase: phase, ID: id, Body: body}, &Error{Kind: KindUnknownPacket, Phase: phase, ID: id}
	}

	r := NewReader(body)
	err = pkt.Decode(r)
	if err == nil {
		err = r.Finish()
	}
	frame := Frame{Phase: phase, ID: id, Body: body, Packet: pkt}
	if err != nil {
		return frame, withPhase(err, phase, id)
	}
	return frame, nil
}

func (d *Decoder) inflate(payload []byte) ([]byte, error) {
	dataLen, m, err := ReadVarInt(payload)
	if err != nil {
		return nil, newError(KindMalformed, "bad data length")
	}
	payload = payload[m:]
	if dataLen == 0 {
		return payload, nil
	}
	if int(dataLen) < d.threshold {
		return nil, newError(KindBadCompression, "compressed size %d below threshold %d", dataLen, d.threshold)
	}
	if int(dataLen) > d.maxFrame {
		return nil, newError(KindBadCompression, "uncompressed size %d exceeds %d", dataLen, d.maxFrame)
	}

	src := bytes.NewReader(payload)
	if d.zr == nil {
		d.zr, err = zlib.NewReader(src)
	} else {
		err = d.zr.(zlib.Resetter).Reset(src, nil)
	}
	if err != nil {
		return nil, &Error{Kind: KindBadCompression, ID: -1, Err: err}
	}

	out := make([]byte, dataLen)
	if _, err := io.ReadFull(d.zr, out); err != nil {
		return nil, &Error{Kind: KindBadCompression, ID: -1, Msg: "short inflate", Err: err}
	}
	var probe [1]byte
	if n, _ := d.zr.Read(probe[:]); n != 0 {
		return nil, newError(KindBadCompression, "inflated data longer than declared %d", dataLen)
	}
	return out, nil
}

func withPhase(err error, phase Phase, id int32) error {
	var pe *Error
	if errors.As(err, &pe) {
		cp := *pe
		cp.Phase = phase
		if cp.ID < 0 {
			cp.ID = id
		}
		return &cp
	}
	return &Error{Kind: KindMalformed, Phase: phase, ID: id, Err: err}
}

// Encoder кодирует пакеты в кадры. Не потокобезопасен: им владеет пишущая
// горутина сессии.
type Encoder struct {
	schema    *Schema
	dir       Direction
	threshold int
	body      Writer
	zbuf      bytes.Buffer
	zw        *zlib.Writer
}

// NewEncoder создаёт кодировщик пакетов направления dir
func NewEncoder(schema *Schema, dir Direction) *Encoder {
	return &Encoder{
		schema:    schema,
		dir:       dir,
		threshold: CompressionDisabled,
	}
}

// SetCompression включает сжатие (threshold >= 0) или выключает его
func (e *Encoder) SetCompression(threshold int) {
	e.threshold = threshold
}

// Compression возвращает текущий порог
func (e *Encoder) Compression() int {
	return e.threshold
}

// Encode возвращает готовый кадр. Пакет должен быть допустим в фазе phase.
func (e *Encoder) Encode(phase Phase, p Packet) ([]byte, error) {
	id, ok := e.schema.ID(phase, e.dir, p)
	if !ok {
		return nil, &Error{Kind: KindUnknownPacket, Phase: phase, ID: -1,
			Msg: fmt.Sprintf("%T is not a %s %s packet", p, phase, e.dir)}
	}

	e.body.Reset()
	e.body.VarInt(id)
	p.Encode(&e.body)
	payload := e.body.Bytes()
	if len(payload) > MaxFrameSize {
		return nil, &Error{Kind: KindFrameTooLarge, Phase: phase, ID: id,
			Msg: fmt.Sprintf("packet body of %d bytes", len(payload))}
	}

	if e.threshold < 0 {
		frame := make([]byte, 0, len(payload)+MaxVarIntLen)
		frame = AppendVarInt(frame, int32(len(payload)))
		return append(frame, payload...), nil
	}

	if len(payload) < e.threshold {
		inner := len(payload) + 1
		frame := make([]byte, 0, inner+MaxVarIntLen)
		frame = AppendVarInt(frame, int32(inner))
		frame = append(frame, 0)
		return append(frame, payload...), nil
	}

	compressed, err := e.deflate(payload)
	if err != nil {
		return nil, fmt.Errorf("compress packet 0x%02X: %w", id, err)
	}
	inner := VarIntSize(int32(len(payload))) + len(compressed)
	frame := make([]byte, 0, inner+MaxVarIntLen)
	frame = AppendVarInt(frame, int32(inner))
	frame = AppendVarInt(frame, int32(len(payload)))
	return append(frame, compressed...), nil
}

func (e *Encoder) deflate(p []byte) ([]byte, error) {
	e.zbuf.Reset()
	if e.zw == nil {
		e.zw = zlib.NewWriter(&e.zbuf)
	} else {
		e.zw.Reset(&e.zbuf)
	}
	if _, err := e.zw.Write(p); err != nil {
		return nil, err
	}
	if err := e.zw.Close(); err != nil {
		return nil, err
	}
	return e.zbuf.Bytes(), nil
}
