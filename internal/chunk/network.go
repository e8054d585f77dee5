package chunk

import (
	"github.com/annel0/blockverse/internal/protocol"
)

// Разрядность прямых (глобальных) палитр протокола 767
const (
	globalStateBits = 15
	globalBiomeBits = 6
	maxIndirectBits = 8
	maxBiomeIndBits = 3
	heightmapBits   = 9 // ceil(log2(384 + 1))
)

// Packet строит пакет Chunk Data для отправки клиенту
func (c *Chunk) Packet() *protocol.ChunkData {
	c.Mu.RLock()
	defer c.Mu.RUnlock()

	w := protocol.NewWriter(8 * 1024)
	for _, s := range c.sections {
		writeSection(w, s)
	}

	data := make([]byte, w.Len())
	copy(data, w.Bytes())

	return &protocol.ChunkData{
		X:              c.Pos.X,
		Z:              c.Pos.Z,
		MotionBlocking: c.motionBlocking(),
		Data:           data,
		Light:          protocol.FullSkyLight(SectionCount + 2),
	}
}

func writeSection(w *protocol.Writer, s *Section) {
	w.Int16(s.nonAir)

	// Состояния блоков
	if s.indices == nil {
		w.Uint8(0)
		w.VarInt(int32(s.palette[0]))
		w.VarInt(0)
	} else {
		bitsPer := bitsFor(len(s.palette))
		if bitsPer < 4 {
			bitsPer = 4
		}
		if bitsPer <= maxIndirectBits {
			w.Uint8(uint8(bitsPer))
			w.VarInt(int32(len(s.palette)))
			for _, p := range s.palette {
				w.VarInt(int32(p))
			}
			w.Longs(packLongs(s.indices, bitsPer))
		} else {
			global := make([]uint16, len(s.indices))
			for i, idx := range s.indices {
				global[i] = uint16(s.palette[idx])
			}
			w.Uint8(globalStateBits)
			w.Longs(packLongs(global, globalStateBits))
		}
	}

	// Биомы
	if s.biomeIdx == nil {
		w.Uint8(0)
		w.VarInt(int32(s.biomes[0]))
		w.VarInt(0)
		return
	}
	idx := make([]uint16, len(s.biomeIdx))
	for i, v := range s.biomeIdx {
		idx[i] = uint16(v)
	}
	bitsPer := bitsFor(len(s.biomes))
	if bitsPer <= maxBiomeIndBits {
		w.Uint8(uint8(bitsPer))
		w.VarInt(int32(len(s.biomes)))
		for _, b := range s.biomes {
			w.VarInt(int32(b))
		}
		w.Longs(packLongs(idx, bitsPer))
		return
	}
	for i, v := range idx {
		idx[i] = uint16(s.biomes[v])
	}
	w.Uint8(globalBiomeBits)
	w.Longs(packLongs(idx, globalBiomeBits))
}

// motionBlocking строит карту высот MOTION_BLOCKING: для каждого столбца
// высота над MinY первого свободного блока
func (c *Chunk) motionBlocking() []int64 {
	heights := make([]uint16, SectionSize*SectionSize)
	for z := 0; z < SectionSize; z++ {
		for x := 0; x < SectionSize; x++ {
			heights[z*SectionSize+x] = uint16(c.heightLocked(x, z) - MinY)
		}
	}
	return packLongs(heights, heightmapBits)
}
