package protocol

import (
	"encoding/binary"
	"math"
	"unicode/utf8"

	"github.com/annel0/blockverse/internal/vec"
	"github.com/google/uuid"
)

// DefaultMaxString - максимальная длина строки в символах, если поле не задаёт свою
const DefaultMaxString = 32767

// Writer накапливает тело пакета
type Writer struct {
	buf []byte
}

// NewWriter создаёт Writer с заданной начальной ёмкостью
func NewWriter(capacity int) *Writer {
	return &Writer{buf: make([]byte, 0, capacity)}
}

// Bytes возвращает накопленные байты. Срез действителен до следующей записи.
func (w *Writer) Bytes() []byte { return w.buf }

// Len возвращает число накопленных байт
func (w *Writer) Len() int { return len(w.buf) }

// Reset очищает буфер, сохраняя ёмкость
func (w *Writer) Reset() { w.buf = w.buf[:0] }

func (w *Writer) VarInt(v int32)  { w.buf = AppendVarInt(w.buf, v) }
func (w *Writer) VarLong(v int64) { w.buf = AppendVarLong(w.buf, v) }

// ZigZagVarInt пишет знаковое значение в zig-zag VarInt
func (w *Writer) ZigZagVarInt(v int32) { w.buf = AppendVarInt(w.buf, int32(ZigZag32(v))) }

func (w *Writer) Uint8(v uint8) { w.buf = append(w.buf, v) }
func (w *Writer) Int8(v int8)   { w.buf = append(w.buf, byte(v)) }

func (w *Writer) Bool(v bool) {
	if v {
		w.buf = append(w.buf, 1)
	} else {
		w.buf = append(w.buf, 0)
	}
}

func (w *Writer) Uint16(v uint16)   { w.buf = binary.BigEndian.AppendUint16(w.buf, v) }
func (w *Writer) Int16(v int16)     { w.Uint16(uint16(v)) }
func (w *Writer) Int32(v int32)     { w.buf = binary.BigEndian.AppendUint32(w.buf, uint32(v)) }
func (w *Writer) Int64(v int64)     { w.buf = binary.BigEndian.AppendUint64(w.buf, uint64(v)) }
func (w *Writer) Float32(v float32) { w.Int32(int32(math.Float32bits(v))) }
func (w *Writer) Float64(v float64) { w.Int64(int64(math.Float64bits(v))) }

// String пишет строку с VarInt-префиксом длины в байтах
func (w *Writer) String(s string) {
	w.VarInt(int32(len(s)))
	w.buf = append(w.buf, s...)
}

// UUID пишет 16 байт UUID
func (w *Writer) UUID(id uuid.UUID) { w.buf = append(w.buf, id[:]...) }

// Raw дописывает байты без префикса
func (w *Writer) Raw(p []byte) { w.buf = append(w.buf, p...) }

// ByteArray пишет байты с VarInt-префиксом длины
func (w *Writer) ByteArray(p []byte) {
	w.VarInt(int32(len(p)))
	w.buf = append(w.buf, p...)
}

// Longs пишет массив int64 с VarInt-префиксом длины
func (w *Writer) Longs(v []int64) {
	w.VarInt(int32(len(v)))
	for _, x := range v {
		w.Int64(x)
	}
}

// Position пишет координаты блока упакованными в int64 (x:26, z:26, y:12)
func (w *Writer) Position(p vec.BlockPos) {
	w.Int64(PackPosition(p))
}

// Angle пишет угол в градусах как долю полного оборота (1/256)
func (w *Writer) Angle(deg float32) {
	w.Uint8(uint8(int32(deg*256/360) & 0xFF))
}

// PackPosition упаковывает координаты блока
func PackPosition(p vec.BlockPos) int64 {
	return (int64(p.X)&0x3FFFFFF)<<38 | (int64(p.Z)&0x3FFFFFF)<<12 | int64(p.Y)&0xFFF
}

// UnpackPosition распаковывает координаты блока
func UnpackPosition(v int64) vec.BlockPos {
	return vec.BlockPos{
		X: int32(v >> 38),
		Y: int32(v << 52 >> 52),
		Z: int32(v << 26 >> 38),
	}
}

// Reader читает тело пакета. Первая ошибка запоминается, последующие
// чтения возвращают нулевые значения; её возвращает Err.
type Reader struct {
	buf []byte
	off int
	err error
}

// NewReader создаёт Reader поверх buf
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Err возвращает первую ошибку чтения
func (r *Reader) Err() error { return r.err }

// Remaining возвращает число непрочитанных байт
func (r *Reader) Remaining() int { return len(r.buf) - r.off }

func (r *Reader) fail(format string, args ...interface{}) {
	if r.err == nil {
		r.err = newError(KindMalformed, format, args...)
	}
}

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.Remaining() < n {
		r.fail("unexpected end of packet: need %d bytes, have %d", n, r.Remaining())
		return nil
	}
	p := r.buf[r.off : r.off+n]
	r.off += n
	return p
}

func (r *Reader) VarInt() int32 {
	if r.err != nil {
		return 0
	}
	v, n, err := ReadVarInt(r.buf[r.off:])
	if err != nil {
		if err == ErrNeedMoreBytes {
			r.fail("truncated varint")
		} else {
			r.err = err
		}
		return 0
	}
	r.off += n
	return v
}

func (r *Reader) VarLong() int64 {
	if r.err != nil {
		return 0
	}
	v, n, err := ReadVarLong(r.buf[r.off:])
	if err != nil {
		if err == ErrNeedMoreBytes {
			r.fail("truncated varlong")
		} else {
			r.err = err
		}
		return 0
	}
	r.off += n
	return v
}

// ZigZagVarInt читает zig-zag VarInt
func (r *Reader) ZigZagVarInt() int32 {
	return UnZigZag32(uint32(r.VarInt()))
}

func (r *Reader) Uint8() uint8 {
	p := r.take(1)
	if p == nil {
		return 0
	}
	return p[0]
}

func (r *Reader) Int8() int8 { return int8(r.Uint8()) }

func (r *Reader) Bool() bool {
	p := r.take(1)
	if p == nil {
		return false
	}
	switch p[0] {
	case 0:
		return false
	case 1:
		return true
	default:
		r.fail("invalid boolean 0x%02X", p[0])
		return false
	}
}

func (r *Reader) Uint16() uint16 {
	p := r.take(2)
	if p == nil {
		return 0
	}
	return binary.BigEndian.Uint16(p)
}

func (r *Reader) Int16() int16 { return int16(r.Uint16()) }

func (r *Reader) Int32() int32 {
	p := r.take(4)
	if p == nil {
		return 0
	}
	return int32(binary.BigEndian.Uint32(p))
}

func (r *Reader) Int64() int64 {
	p := r.take(8)
	if p == nil {
		return 0
	}
	return int64(binary.BigEndian.Uint64(p))
}

func (r *Reader) Float32() float32 { return math.Float32frombits(uint32(r.Int32())) }
func (r *Reader) Float64() float64 { return math.Float64frombits(uint64(r.Int64())) }

// String читает строку длиной не более maxChars символов
func (r *Reader) String(maxChars int) string {
	n := r.VarInt()
	if r.err != nil {
		return ""
	}
	// В UTF-8 символ занимает не более 3 байт для BMP (4 для суррогатных пар,
	// которые считаются за два символа)
	if n < 0 || int(n) > maxChars*3 {
		r.fail("string length %d exceeds limit of %d chars", n, maxChars)
		return ""
	}
	p := r.take(int(n))
	if p == nil {
		return ""
	}
	if !utf8.Valid(p) {
		r.fail("invalid utf-8 in string")
		return ""
	}
	if chars := utf16Len(p); chars > maxChars {
		r.fail("string of %d chars exceeds limit of %d", chars, maxChars)
		return ""
	}
	return string(p)
}

// utf16Len считает длину строки в UTF-16 единицах, как это делает клиент
func utf16Len(p []byte) int {
	n := 0
	for len(p) > 0 {
		rn, size := utf8.DecodeRune(p)
		p = p[size:]
		if rn >= 0x10000 {
			n += 2
		} else {
			n++
		}
	}
	return n
}

func (r *Reader) UUID() uuid.UUID {
	var id uuid.UUID
	p := r.take(16)
	if p != nil {
		copy(id[:], p)
	}
	return id
}

// Bytes читает ровно n байт
func (r *Reader) Bytes(n int) []byte {
	p := r.take(n)
	if p == nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, p)
	return out
}

// ByteArray читает байты с VarInt-префиксом длины, не больше max
func (r *Reader) ByteArray(max int) []byte {
	n := r.VarInt()
	if r.err != nil {
		return nil
	}
	if n < 0 || int(n) > max {
		r.fail("byte array length %d exceeds %d", n, max)
		return nil
	}
	return r.Bytes(int(n))
}

// Rest читает все оставшиеся байты
func (r *Reader) Rest() []byte {
	return r.Bytes(r.Remaining())
}

func (r *Reader) Position() vec.BlockPos {
	return UnpackPosition(r.Int64())
}

// Angle читает угол (1/256 оборота) в градусах
func (r *Reader) Angle() float32 {
	return float32(r.Uint8()) * 360 / 256
}

// Finish проверяет, что тело прочитано целиком
func (r *Reader) Finish() error {
	if r.err != nil {
		return r.err
	}
	if rem := r.Remaining(); rem != 0 {
		return newError(KindMalformed, "%d trailing bytes", rem)
	}
	return nil
}

func (r *Reader) errorf(format string, args ...interface{}) error {
	r.fail(format, args...)
	return r.err
}
