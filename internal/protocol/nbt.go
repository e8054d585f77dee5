package protocol

// Минимальная поддержка сетевого NBT: корневой тег без имени.
// Сервер использует его для текстовых компонентов и карт высот.

const (
	tagEnd       = 0x00
	tagByte      = 0x01
	tagShort     = 0x02
	tagInt       = 0x03
	tagLong      = 0x04
	tagFloat     = 0x05
	tagDouble    = 0x06
	tagByteArray = 0x07
	tagString    = 0x08
	tagList      = 0x09
	tagCompound  = 0x0A
	tagIntArray  = 0x0B
	tagLongArray = 0x0C
)

const maxNBTDepth = 64

// TextComponent пишет простой текстовый компонент как NBT-строку
func (w *Writer) TextComponent(text string) {
	w.Uint8(tagString)
	w.nbtString(text)
}

func (w *Writer) nbtString(s string) {
	w.Uint16(uint16(len(s)))
	w.buf = append(w.buf, s...)
}

// LongArrayCompound пишет составной тег с одним именованным массивом int64
// (формат карт высот в Chunk Data)
func (w *Writer) LongArrayCompound(name string, values []int64) {
	w.Uint8(tagCompound)
	if name != "" {
		w.Uint8(tagLongArray)
		w.nbtString(name)
		w.Int32(int32(len(values)))
		for _, v := range values {
			w.Int64(v)
		}
	}
	w.Uint8(tagEnd)
}

// TextComponent читает текстовый компонент. Поддерживаются NBT-строка и
// составной тег с полем "text"; остальные поля пропускаются.
func (r *Reader) TextComponent() string {
	switch tag := r.Uint8(); tag {
	case tagString:
		return r.nbtString()
	case tagCompound:
		var text string
		for r.err == nil {
			inner := r.Uint8()
			if inner == tagEnd {
				break
			}
			name := r.nbtString()
			if inner == tagString && name == "text" {
				text = r.nbtString()
				continue
			}
			r.skipNBT(inner, 1)
		}
		return text
	default:
		r.fail("unsupported text component tag 0x%02X", tag)
		return ""
	}
}

// LongArrayCompound читает составной тег и возвращает массивы int64 по именам
func (r *Reader) LongArrayCompound() map[string][]int64 {
	if tag := r.Uint8(); tag != tagCompound {
		r.fail("expected compound tag, got 0x%02X", tag)
		return nil
	}
	out := make(map[string][]int64)
	for r.err == nil {
		inner := r.Uint8()
		if inner == tagEnd {
			break
		}
		name := r.nbtString()
		if inner != tagLongArray {
			r.skipNBT(inner, 1)
			continue
		}
		n := r.Int32()
		if n < 0 || int(n)*8 > r.Remaining() {
			r.fail("bad long array length %d", n)
			return nil
		}
		values := make([]int64, n)
		for i := range values {
			values[i] = r.Int64()
		}
		out[name] = values
	}
	return out
}

func (r *Reader) nbtString() string {
	n := r.Uint16()
	p := r.take(int(n))
	return string(p)
}

// skipNBT пропускает полезную нагрузку тега
func (r *Reader) skipNBT(tag uint8, depth int) {
	if depth > maxNBTDepth {
		r.fail("nbt nesting too deep")
		return
	}
	switch tag {
	case tagByte:
		r.take(1)
	case tagShort:
		r.take(2)
	case tagInt, tagFloat:
		r.take(4)
	case tagLong, tagDouble:
		r.take(8)
	case tagByteArray:
		r.take(int(r.Int32()))
	case tagString:
		r.nbtString()
	case tagList:
		elem := r.Uint8()
		n := r.Int32()
		for i := int32(0); i < n && r.err == nil; i++ {
			r.skipNBT(elem, depth+1)
		}
	case tagCompound:
		for r.err == nil {
			inner := r.Uint8()
			if inner == tagEnd {
				return
			}
			r.nbtString()
			r.skipNBT(inner, depth+1)
		}
	case tagIntArray:
		r.take(int(r.Int32()) * 4)
	case tagLongArray:
		r.take(int(r.Int32()) * 8)
	default:
		r.fail("unknown nbt tag 0x%02X", tag)
	}
}
