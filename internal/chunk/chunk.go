package chunk

import (
	"sync"

	"github.com/annel0/blockverse/internal/vec"
)

// Размеры мира по вертикали
const (
	SectionSize   = 16
	MinSectionY   = -4
	MaxSectionY   = 19
	SectionCount  = MaxSectionY - MinSectionY + 1
	MinY          = MinSectionY * SectionSize
	MaxY          = (MaxSectionY + 1) * SectionSize // не включительно
	blocksPerSect = SectionSize * SectionSize * SectionSize
	biomesPerSect = 4 * 4 * 4
)

// StateID - id состояния блока из глобальной палитры протокола
type StateID uint16

// BiomeID - индекс биома в реестре worldgen/biome
type BiomeID uint16

// Section - 16x16x16 блоков с палитрой. Если в палитре одно значение,
// индексы не хранятся.
type Section struct {
	Y        int8
	palette  []StateID
	indices  []uint16
	nonAir   int16
	biomes   []BiomeID
	biomeIdx []uint8
}

func newSection(y int8) *Section {
	return &Section{
		Y:       y,
		palette: []StateID{0},
		biomes:  []BiomeID{0},
	}
}

func blockIndex(x, y, z int) int {
	return y<<8 | z<<4 | x
}

func biomeIndex(x, y, z int) int {
	return (y>>2)<<4 | (z>>2)<<2 | x>>2
}

// Block возвращает состояние блока по локальным координатам секции
func (s *Section) Block(x, y, z int) StateID {
	if s.indices == nil {
		return s.palette[0]
	}
	return s.palette[s.indices[blockIndex(x, y, z)]]
}

func (s *Section) setBlock(x, y, z int, state StateID) StateID {
	old := s.Block(x, y, z)
	if old == state {
		return old
	}

	idx := -1
	for i, p := range s.palette {
		if p == state {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.palette = append(s.palette, state)
		idx = len(s.palette) - 1
	}
	if s.indices == nil {
		s.indices = make([]uint16, blocksPerSect)
	}
	s.indices[blockIndex(x, y, z)] = uint16(idx)

	if old == 0 {
		s.nonAir++
	} else if state == 0 {
		s.nonAir--
	}
	return old
}

// NonAir возвращает число не-воздушных блоков
func (s *Section) NonAir() int { return int(s.nonAir) }

// Biome возвращает биом ячейки 4x4x4, содержащей блок
func (s *Section) Biome(x, y, z int) BiomeID {
	if s.biomeIdx == nil {
		return s.biomes[0]
	}
	return s.biomes[s.biomeIdx[biomeIndex(x, y, z)]]
}

func (s *Section) setBiome(x, y, z int, b BiomeID) {
	if s.Biome(x, y, z) == b {
		return
	}
	idx := -1
	for i, p := range s.biomes {
		if p == b {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.biomes = append(s.biomes, b)
		idx = len(s.biomes) - 1
	}
	if s.biomeIdx == nil {
		s.biomeIdx = make([]uint8, biomesPerSect)
	}
	s.biomeIdx[biomeIndex(x, y, z)] = uint8(idx)
}

// compact убирает неиспользуемые элементы палитр
func (s *Section) compact() {
	s.palette, s.indices = compactPalette(s.palette, s.indices)
	var idx16 []uint16
	if s.biomeIdx != nil {
		idx16 = make([]uint16, len(s.biomeIdx))
		for i, v := range s.biomeIdx {
			idx16[i] = uint16(v)
		}
	}
	biomes, idx16 := compactPalette(s.biomes, idx16)
	s.biomes = biomes
	if idx16 == nil {
		s.biomeIdx = nil
	} else {
		for i, v := range idx16 {
			s.biomeIdx[i] = uint8(v)
		}
	}
}

func compactPalette[T comparable](palette []T, indices []uint16) ([]T, []uint16) {
	if indices == nil {
		return palette[:1], nil
	}
	used := make([]bool, len(palette))
	for _, i := range indices {
		used[i] = true
	}
	remap := make([]uint16, len(palette))
	out := make([]T, 0, len(palette))
	for i, p := range palette {
		if used[i] {
			remap[i] = uint16(len(out))
			out = append(out, p)
		}
	}
	if len(out) == 1 {
		return out, nil
	}
	for i, v := range indices {
		indices[i] = remap[v]
	}
	return out, indices
}

// Chunk - столбец из SectionCount секций. Поля блоков меняет только
// тик-цикл; Mu защищает их от одновременного чтения при записи на диск.
type Chunk struct {
	Pos        vec.ChunkPos
	LastUpdate int64 // номер тика последнего изменения

	sections [SectionCount]*Section
	version  uint64 // растёт при каждом изменении
	saved    uint64 // версия, записанная на диск
	Mu       sync.RWMutex
}

// New создаёт чанк, заполненный воздухом
func New(pos vec.ChunkPos) *Chunk {
	c := &Chunk{Pos: pos}
	for i := range c.sections {
		c.sections[i] = newSection(int8(MinSectionY + i))
	}
	return c
}

// InBounds сообщает, лежит ли высота y внутри мира
func InBounds(y int) bool {
	return y >= MinY && y < MaxY
}

func (c *Chunk) section(y int) *Section {
	return c.sections[(y>>4)-MinSectionY]
}

// Section возвращает секцию по индексу 0..SectionCount-1
func (c *Chunk) Section(i int) *Section {
	return c.sections[i]
}

// Block возвращает состояние блока. x, z - локальные [0,16), y - мировая высота.
func (c *Chunk) Block(x, y, z int) StateID {
	if !InBounds(y) {
		return 0
	}
	c.Mu.RLock()
	defer c.Mu.RUnlock()
	return c.section(y).Block(x, y&15, z)
}

// SetBlock меняет блок и возвращает прежнее состояние. Изменение делает
// чанк грязным.
func (c *Chunk) SetBlock(x, y, z int, state StateID) (StateID, bool) {
	if !InBounds(y) {
		return 0, false
	}
	c.Mu.Lock()
	defer c.Mu.Unlock()
	old := c.section(y).setBlock(x, y&15, z, state)
	if old == state {
		return old, false
	}
	c.version++
	return old, true
}

// Biome возвращает биом по локальным координатам
func (c *Chunk) Biome(x, y, z int) BiomeID {
	if !InBounds(y) {
		return 0
	}
	c.Mu.RLock()
	defer c.Mu.RUnlock()
	return c.section(y).Biome(x, y&15, z)
}

// SetBiome задаёт биом ячейки 4x4x4
func (c *Chunk) SetBiome(x, y, z int, b BiomeID) {
	if !InBounds(y) {
		return
	}
	c.Mu.Lock()
	defer c.Mu.Unlock()
	c.section(y).setBiome(x, y&15, z, b)
	c.version++
}

// Height возвращает высоту первого воздушного блока над самым верхним
// непустым блоком столбца (MinY, если столбец пуст)
func (c *Chunk) Height(x, z int) int {
	c.Mu.RLock()
	defer c.Mu.RUnlock()
	return c.heightLocked(x, z)
}

func (c *Chunk) heightLocked(x, z int) int {
	for i := SectionCount - 1; i >= 0; i-- {
		s := c.sections[i]
		if s.nonAir == 0 {
			continue
		}
		for y := SectionSize - 1; y >= 0; y-- {
			if s.Block(x, y, z) != 0 {
				return (MinSectionY+i)*SectionSize + y + 1
			}
		}
	}
	return MinY
}

// Dirty сообщает, есть ли незаписанные изменения
func (c *Chunk) Dirty() bool {
	c.Mu.RLock()
	defer c.Mu.RUnlock()
	return c.version != c.saved
}

// MarkDirty помечает чанк как требующий записи
func (c *Chunk) MarkDirty() {
	c.Mu.Lock()
	c.version++
	c.Mu.Unlock()
}

// markSaved отмечает, что версия v записана. Изменения, сделанные во
// время записи, оставляют чанк грязным.
func (c *Chunk) markSaved(v uint64) {
	c.Mu.Lock()
	if v > c.saved {
		c.saved = v
	}
	c.Mu.Unlock()
}
