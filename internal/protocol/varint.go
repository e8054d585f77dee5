package protocol

const (
	MaxVarIntLen  = 5
	MaxVarLongLen = 10
)

// AppendVarInt дописывает v в формате VarInt. Отрицательные значения
// кодируются как uint32 и всегда занимают 5 байт.
func AppendVarInt(dst []byte, v int32) []byte {
	u := uint32(v)
	for u >= 0x80 {
		dst = append(dst, byte(u)|0x80)
		u >>= 7
	}
	return append(dst, byte(u))
}

// AppendVarLong дописывает v в формате VarLong
func AppendVarLong(dst []byte, v int64) []byte {
	u := uint64(v)
	for u >= 0x80 {
		dst = append(dst, byte(u)|0x80)
		u >>= 7
	}
	return append(dst, byte(u))
}

// VarIntSize возвращает длину VarInt-кодировки v
func VarIntSize(v int32) int {
	u := uint32(v)
	n := 1
	for u >= 0x80 {
		u >>= 7
		n++
	}
	return n
}

// ReadVarInt читает VarInt из начала buf и возвращает значение и число
// прочитанных байт. Если байт не хватает, возвращается ErrNeedMoreBytes;
// если продолжение идёт дальше 5-го байта - ошибка KindVarIntTooLong.
func ReadVarInt(buf []byte) (int32, int, error) {
	var result uint32
	for i := 0; i < MaxVarIntLen; i++ {
		if i >= len(buf) {
			return 0, 0, ErrNeedMoreBytes
		}
		b := buf[i]
		result |= uint32(b&0x7F) << (7 * uint(i))
		if b&0x80 == 0 {
			return int32(result), i + 1, nil
		}
	}
	return 0, 0, newError(KindVarIntTooLong, "varint exceeds %d bytes", MaxVarIntLen)
}

// ReadVarLong читает VarLong из начала buf
func ReadVarLong(buf []byte) (int64, int, error) {
	var result uint64
	for i := 0; i < MaxVarLongLen; i++ {
		if i >= len(buf) {
			return 0, 0, ErrNeedMoreBytes
		}
		b := buf[i]
		result |= uint64(b&0x7F) << (7 * uint(i))
		if b&0x80 == 0 {
			return int64(result), i + 1, nil
		}
	}
	return 0, 0, newError(KindVarIntTooLong, "varlong exceeds %d bytes", MaxVarLongLen)
}

// ZigZag32 переводит знаковое число в беззнаковое так, что малые по модулю
// отрицательные значения кодируются короткими VarInt.
func ZigZag32(n int32) uint32 {
	return uint32((n << 1) ^ (n >> 31))
}

// UnZigZag32 - обратное к ZigZag32
func UnZigZag32(u uint32) int32 {
	return int32(u>>1) ^ -int32(u&1)
}

// ZigZag64 - 64-битный вариант ZigZag32
func ZigZag64(n int64) uint64 {
	return uint64((n << 1) ^ (n >> 63))
}

// UnZigZag64 - обратное к ZigZag64
func UnZigZag64(u uint64) int64 {
	return int64(u>>1) ^ -int64(u&1)
}
