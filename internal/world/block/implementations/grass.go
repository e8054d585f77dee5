package implementations

import (
	"github.com/annel0/blockverse/internal/world/block"
)

// GrassBehavior - трава. Под непрозрачным блоком превращается в землю.
type GrassBehavior struct{}

// Name возвращает имя блока
func (b *GrassBehavior) Name() string {
	return "grass_block"
}

// OnTick проверяет блок сверху
func (b *GrassBehavior) OnTick(ctx block.Context) error {
	above, ok := ctx.API.Block(ctx.Pos.Add(0, 1, 0))
	if !ok || above == block.Air {
		return nil
	}
	return ctx.API.SetBlock(ctx.Pos, block.Dirt)
}

// OnBreak оставляет землю под травой нетронутой
func (b *GrassBehavior) OnBreak(ctx block.Context) error {
	return block.BaseBreak(ctx)
}
