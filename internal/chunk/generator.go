package chunk

import "github.com/annel0/blockverse/internal/vec"

// Generator создаёт содержимое чанка, которого нет на диске.
// Результат должен зависеть только от сида и позиции.
type Generator interface {
	Generate(pos vec.ChunkPos) (*Chunk, error)
}

// GeneratorFunc адаптирует функцию к Generator
type GeneratorFunc func(pos vec.ChunkPos) (*Chunk, error)

// Generate реализует Generator
func (f GeneratorFunc) Generate(pos vec.ChunkPos) (*Chunk, error) {
	return f(pos)
}

// Flat - генератор плоского мира: заданные слои снизу вверх начиная с MinY
type Flat struct {
	Layers []StateID
	Biome  BiomeID
}

// Generate реализует Generator
func (f Flat) Generate(pos vec.ChunkPos) (*Chunk, error) {
	c := New(pos)
	for i, state := range f.Layers {
		y := MinY + i
		for z := 0; z < SectionSize; z++ {
			for x := 0; x < SectionSize; x++ {
				c.SetBlock(x, y, z, state)
			}
		}
	}
	if f.Biome != 0 {
		for y := MinY; y < MaxY; y += 4 {
			for z := 0; z < SectionSize; z += 4 {
				for x := 0; x < SectionSize; x += 4 {
					c.SetBiome(x, y, z, f.Biome)
				}
			}
		}
	}
	return c, nil
}
