package implementations

import "github.com/annel0/blockverse/internal/world/block"

// RegisterDefaults регистрирует поведения стандартных блоков
func RegisterDefaults(r *block.Registry) {
	r.Register(block.Air, &AirBehavior{})
	r.Register(block.Stone, &StoneBehavior{})
	r.Register(block.Bedrock, &BedrockBehavior{})
	r.Register(block.GrassBlock, &GrassBehavior{})
	r.Register(block.Dirt, &DirtBehavior{})
	r.Register(block.CoarseDirt, &DirtBehavior{coarse: true})
	r.RegisterRange(block.Water, block.WaterMax, &WaterBehavior{})
	r.Register(block.Sand, &SandBehavior{})
}
