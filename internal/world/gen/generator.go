package gen

import (
	"math"

	"github.com/annel0/blockverse/internal/chunk"
	"github.com/annel0/blockverse/internal/protocol"
	"github.com/annel0/blockverse/internal/vec"
	"github.com/annel0/blockverse/internal/world/block"
	"github.com/aquilax/go-perlin"
)

// Generator создаёт содержимое новых чанков
type Generator = chunk.Generator

// Параметры шума Перлина
const (
	perlinAlpha   = 2.0 // сглаживание
	perlinBeta    = 2.0 // частота
	perlinOctaves = int32(3)
)

// Константы рельефа
const (
	SeaLevel    = 62
	BaseHeight  = 66
	HeightRange = 28.0
	beachTop    = SeaLevel + 2
	dirtDepth   = 3
)

var (
	biomePlains = biome("minecraft:plains")
	biomeDesert = biome("minecraft:desert")
	biomeForest = biome("minecraft:forest")
	biomeOcean  = biome("minecraft:ocean")
	biomeBeach  = biome("minecraft:beach")
)

func biome(name string) chunk.BiomeID {
	id, ok := protocol.BiomeID(name)
	if !ok {
		panic("gen: unknown biome " + name)
	}
	return chunk.BiomeID(id)
}

// PerlinGenerator генерирует холмистый рельеф с биомами по двум полям шума
type PerlinGenerator struct {
	Seed       int64
	NoiseScale float64 // масштаб шума высот
	BiomeScale float64 // масштаб шума биомов

	height *perlin.Perlin
	biomes *perlin.Perlin
}

// NewPerlinGenerator создаёт генератор с заданным сидом
func NewPerlinGenerator(seed int64) *PerlinGenerator {
	return &PerlinGenerator{
		Seed:       seed,
		NoiseScale: 0.01,
		BiomeScale: 0.004,
		height:     perlin.NewPerlin(perlinAlpha, perlinBeta, perlinOctaves, seed),
		biomes:     perlin.NewPerlin(perlinAlpha, perlinBeta, perlinOctaves, seed+42),
	}
}

// HeightAt возвращает высоту верхнего твёрдого блока столбца
func (g *PerlinGenerator) HeightAt(x, z int32) int {
	n := g.height.Noise2D(float64(x)*g.NoiseScale, float64(z)*g.NoiseScale)
	h := BaseHeight + int(math.Round(n*HeightRange))
	if h < chunk.MinY+dirtDepth+2 {
		h = chunk.MinY + dirtDepth + 2
	}
	if h > chunk.MaxY-1 {
		h = chunk.MaxY - 1
	}
	return h
}

func (g *PerlinGenerator) biomeAt(x, z int32, height int) chunk.BiomeID {
	switch {
	case height < SeaLevel:
		return biomeOcean
	case height <= beachTop:
		return biomeBeach
	}
	v := g.biomes.Noise2D(float64(x)*g.BiomeScale, float64(z)*g.BiomeScale)
	switch {
	case v < -0.2:
		return biomeDesert
	case v > 0.2:
		return biomeForest
	default:
		return biomePlains
	}
}

// surfaceFor возвращает верхний и подповерхностный блоки для биома
func surfaceFor(b chunk.BiomeID) (top, under block.StateID) {
	switch b {
	case biomeDesert, biomeBeach:
		return block.Sand, block.Sand
	case biomeOcean:
		return block.Sand, block.Dirt
	default:
		return block.GrassBlock, block.Dirt
	}
}

// Generate реализует Generator
func (g *PerlinGenerator) Generate(pos vec.ChunkPos) (*chunk.Chunk, error) {
	c := chunk.New(pos)
	baseX, baseZ := pos.X<<4, pos.Z<<4

	for z := 0; z < chunk.SectionSize; z++ {
		for x := 0; x < chunk.SectionSize; x++ {
			wx, wz := baseX+int32(x), baseZ+int32(z)
			h := g.HeightAt(wx, wz)
			b := g.biomeAt(wx, wz, h)
			top, under := surfaceFor(b)

			c.SetBlock(x, chunk.MinY, z, block.Bedrock)
			for y := chunk.MinY + 1; y < h-dirtDepth; y++ {
				c.SetBlock(x, y, z, block.Stone)
			}
			for y := h - dirtDepth; y < h; y++ {
				c.SetBlock(x, y, z, under)
			}
			c.SetBlock(x, h, z, top)
			for y := h + 1; y <= SeaLevel; y++ {
				c.SetBlock(x, y, z, block.Water)
			}

			// биом задаётся по ячейкам 4x4 на всю высоту
			if x%4 == 0 && z%4 == 0 && b != 0 {
				for y := chunk.MinY; y < chunk.MaxY; y += 4 {
					c.SetBiome(x, y, z, b)
				}
			}
		}
	}
	return c, nil
}

// SpawnHeight возвращает высоту появления над столбцом (x, z)
func (g *PerlinGenerator) SpawnHeight(x, z int32) float64 {
	h := g.HeightAt(x, z)
	if h < SeaLevel {
		h = SeaLevel
	}
	return float64(h + 1)
}
