package chunk

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Номера полей дерева чанка в protobuf wire format
const (
	fieldChunkX          protowire.Number = 1
	fieldChunkZ          protowire.Number = 2
	fieldChunkLastUpdate protowire.Number = 3
	fieldChunkSection    protowire.Number = 4
	fieldChunkStatus     protowire.Number = 5

	fieldSectionY            protowire.Number = 1
	fieldSectionPalette      protowire.Number = 2
	fieldSectionBits         protowire.Number = 3
	fieldSectionData         protowire.Number = 4
	fieldSectionBiomePalette protowire.Number = 5
	fieldSectionBiomeBits    protowire.Number = 6
	fieldSectionBiomeData    protowire.Number = 7
)

// statusFull - чанк полностью сгенерирован
const statusFull = 1

// ErrCorruptTree - дерево чанка не разбирается
var ErrCorruptTree = errors.New("chunk: corrupt tree")

// Marshal сериализует чанк. Возвращает байты и версию, которую они отражают.
func (c *Chunk) Marshal() ([]byte, uint64) {
	c.Mu.Lock()
	defer c.Mu.Unlock()

	var b []byte
	b = protowire.AppendTag(b, fieldChunkX, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(c.Pos.X)))
	b = protowire.AppendTag(b, fieldChunkZ, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(c.Pos.Z)))
	b = protowire.AppendTag(b, fieldChunkLastUpdate, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(c.LastUpdate))

	for _, s := range c.sections {
		s.compact()
		b = protowire.AppendTag(b, fieldChunkSection, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalSection(s))
	}

	b = protowire.AppendTag(b, fieldChunkStatus, protowire.VarintType)
	b = protowire.AppendVarint(b, statusFull)
	return b, c.version
}

func appendPackedVarints(b []byte, num protowire.Number, values []uint64) []byte {
	var packed []byte
	for _, v := range values {
		packed = protowire.AppendVarint(packed, v)
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, packed)
}

func appendPackedFixed64(b []byte, num protowire.Number, values []int64) []byte {
	packed := make([]byte, 0, len(values)*8)
	for _, v := range values {
		packed = protowire.AppendFixed64(packed, uint64(v))
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, packed)
}

func marshalSection(s *Section) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldSectionY, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(s.Y)))

	palette := make([]uint64, len(s.palette))
	for i, p := range s.palette {
		palette[i] = uint64(p)
	}
	b = appendPackedVarints(b, fieldSectionPalette, palette)
	if s.indices != nil {
		bitsPer := bitsFor(len(s.palette))
		b = protowire.AppendTag(b, fieldSectionBits, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(bitsPer))
		b = appendPackedFixed64(b, fieldSectionData, packLongs(s.indices, bitsPer))
	}

	biomes := make([]uint64, len(s.biomes))
	for i, p := range s.biomes {
		biomes[i] = uint64(p)
	}
	b = appendPackedVarints(b, fieldSectionBiomePalette, biomes)
	if s.biomeIdx != nil {
		idx := make([]uint16, len(s.biomeIdx))
		for i, v := range s.biomeIdx {
			idx[i] = uint16(v)
		}
		bitsPer := bitsFor(len(s.biomes))
		b = protowire.AppendTag(b, fieldSectionBiomeBits, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(bitsPer))
		b = appendPackedFixed64(b, fieldSectionBiomeData, packLongs(idx, bitsPer))
	}
	return b
}

func corrupt(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrCorruptTree, fmt.Sprintf(format, args...))
}

// Unmarshal восстанавливает чанк из дерева. Чанк возвращается чистым.
func Unmarshal(data []byte) (*Chunk, error) {
	c := &Chunk{}
	seen := 0

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, corrupt("tag: %v", protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == fieldChunkX && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return nil, corrupt("x: %v", protowire.ParseError(m))
			}
			c.Pos.X = int32(protowire.DecodeZigZag(v))
			n = m
		case num == fieldChunkZ && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return nil, corrupt("z: %v", protowire.ParseError(m))
			}
			c.Pos.Z = int32(protowire.DecodeZigZag(v))
			n = m
		case num == fieldChunkLastUpdate && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return nil, corrupt("last update: %v", protowire.ParseError(m))
			}
			c.LastUpdate = int64(v)
			n = m
		case num == fieldChunkSection && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return nil, corrupt("section: %v", protowire.ParseError(m))
			}
			s, err := unmarshalSection(v)
			if err != nil {
				return nil, err
			}
			i := int(s.Y) - MinSectionY
			if i < 0 || i >= SectionCount {
				return nil, corrupt("section y %d out of range", s.Y)
			}
			if c.sections[i] != nil {
				return nil, corrupt("duplicate section y %d", s.Y)
			}
			c.sections[i] = s
			seen++
			n = m
		default:
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, corrupt("field %d: %v", num, protowire.ParseError(n))
			}
		}
		data = data[n:]
	}

	if seen != SectionCount {
		return nil, corrupt("expected %d sections, got %d", SectionCount, seen)
	}
	return c, nil
}

func consumePackedVarints(data []byte) ([]uint64, bool) {
	var out []uint64
	for len(data) > 0 {
		v, n := protowire.ConsumeVarint(data)
		if n < 0 {
			return nil, false
		}
		out = append(out, v)
		data = data[n:]
	}
	return out, true
}

func consumePackedFixed64(data []byte) ([]int64, bool) {
	if len(data)%8 != 0 {
		return nil, false
	}
	out := make([]int64, 0, len(data)/8)
	for len(data) > 0 {
		v, n := protowire.ConsumeFixed64(data)
		if n < 0 {
			return nil, false
		}
		out = append(out, int64(v))
		data = data[n:]
	}
	return out, true
}

func unmarshalSection(data []byte) (*Section, error) {
	s := &Section{}
	var (
		palette, biomes      []uint64
		bitsPer, biomeBits   int
		blockData, biomeData []int64
		hasBlocks, hasBiomes bool
	)

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, corrupt("section tag: %v", protowire.ParseError(n))
		}
		data = data[n:]

		if typ == protowire.VarintType {
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return nil, corrupt("section varint: %v", protowire.ParseError(m))
			}
			switch num {
			case fieldSectionY:
				s.Y = int8(protowire.DecodeZigZag(v))
			case fieldSectionBits:
				bitsPer = int(v)
			case fieldSectionBiomeBits:
				biomeBits = int(v)
			}
			data = data[m:]
			continue
		}
		if typ != protowire.BytesType {
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return nil, corrupt("section field %d: %v", num, protowire.ParseError(m))
			}
			data = data[m:]
			continue
		}

		v, m := protowire.ConsumeBytes(data)
		if m < 0 {
			return nil, corrupt("section bytes: %v", protowire.ParseError(m))
		}
		var ok bool
		switch num {
		case fieldSectionPalette:
			palette, ok = consumePackedVarints(v)
		case fieldSectionData:
			blockData, ok = consumePackedFixed64(v)
			hasBlocks = true
		case fieldSectionBiomePalette:
			biomes, ok = consumePackedVarints(v)
		case fieldSectionBiomeData:
			biomeData, ok = consumePackedFixed64(v)
			hasBiomes = true
		default:
			ok = true
		}
		if !ok {
			return nil, corrupt("section %d: bad packed field %d", s.Y, num)
		}
		data = data[m:]
	}

	if len(palette) == 0 || len(biomes) == 0 {
		return nil, corrupt("section %d: empty palette", s.Y)
	}
	s.palette = make([]StateID, len(palette))
	for i, p := range palette {
		if p > 0xFFFF {
			return nil, corrupt("section %d: state id %d out of range", s.Y, p)
		}
		s.palette[i] = StateID(p)
	}
	s.biomes = make([]BiomeID, len(biomes))
	for i, p := range biomes {
		if p > 0xFFFF {
			return nil, corrupt("section %d: biome id %d out of range", s.Y, p)
		}
		s.biomes[i] = BiomeID(p)
	}

	if hasBlocks {
		if bitsPer != bitsFor(len(s.palette)) || bitsPer == 0 {
			return nil, corrupt("section %d: %d bits for palette of %d", s.Y, bitsPer, len(s.palette))
		}
		idx, ok := unpackLongs(blockData, bitsPer, blocksPerSect)
		if !ok {
			return nil, corrupt("section %d: bad block data length", s.Y)
		}
		for _, i := range idx {
			if int(i) >= len(s.palette) {
				return nil, corrupt("section %d: palette index %d out of range", s.Y, i)
			}
		}
		s.indices = idx
	} else if len(s.palette) != 1 {
		return nil, corrupt("section %d: palette without data", s.Y)
	}

	if hasBiomes {
		if biomeBits != bitsFor(len(s.biomes)) || biomeBits == 0 {
			return nil, corrupt("section %d: %d biome bits for palette of %d", s.Y, biomeBits, len(s.biomes))
		}
		idx, ok := unpackLongs(biomeData, biomeBits, biomesPerSect)
		if !ok {
			return nil, corrupt("section %d: bad biome data length", s.Y)
		}
		s.biomeIdx = make([]uint8, len(idx))
		for i, v := range idx {
			if int(v) >= len(s.biomes) {
				return nil, corrupt("section %d: biome index %d out of range", s.Y, v)
			}
			s.biomeIdx[i] = uint8(v)
		}
	} else if len(s.biomes) != 1 {
		return nil, corrupt("section %d: biome palette without data", s.Y)
	}

	s.nonAir = countNonAir(s)
	return s, nil
}

func countNonAir(s *Section) int16 {
	if s.indices == nil {
		if s.palette[0] == 0 {
			return 0
		}
		return blocksPerSect
	}
	var n int16
	for _, i := range s.indices {
		if s.palette[i] != 0 {
			n++
		}
	}
	return n
}
