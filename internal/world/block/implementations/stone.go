package implementations

import (
	"github.com/annel0/blockverse/internal/world/block"
)

// StoneBehavior - камень
type StoneBehavior struct{}

// Name возвращает имя блока
func (b *StoneBehavior) Name() string {
	return "stone"
}

// OnBreak разрушает камень
func (b *StoneBehavior) OnBreak(ctx block.Context) error {
	return block.BaseBreak(ctx)
}

// BedrockBehavior - коренная порода, не ломается
type BedrockBehavior struct{}

// Name возвращает имя блока
func (b *BedrockBehavior) Name() string {
	return "bedrock"
}

// OnBreak всегда отказывает
func (b *BedrockBehavior) OnBreak(ctx block.Context) error {
	return block.ErrUnbreakable
}
