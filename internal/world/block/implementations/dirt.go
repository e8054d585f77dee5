package implementations

import (
	"github.com/annel0/blockverse/internal/world/block"
)

// DirtBehavior - земля. Обычная земля зарастает травой от соседней травы,
// если сверху воздух. Использование переключает обычную и грубую землю.
type DirtBehavior struct {
	coarse bool
}

// Name возвращает имя блока
func (b *DirtBehavior) Name() string {
	if b.coarse {
		return "coarse_dirt"
	}
	return "dirt"
}

// OnInteract переключает вид земли
func (b *DirtBehavior) OnInteract(ctx block.Context) error {
	if b.coarse {
		return ctx.API.SetBlock(ctx.Pos, block.Dirt)
	}
	return ctx.API.SetBlock(ctx.Pos, block.CoarseDirt)
}

// OnTick распространяет траву
func (b *DirtBehavior) OnTick(ctx block.Context) error {
	if b.coarse {
		return nil
	}
	above, ok := ctx.API.Block(ctx.Pos.Add(0, 1, 0))
	if !ok || above != block.Air {
		return nil
	}
	for _, n := range ctx.Pos.Neighbors() {
		if s, ok := ctx.API.Block(n); ok && s == block.GrassBlock {
			return ctx.API.SetBlock(ctx.Pos, block.GrassBlock)
		}
	}
	return nil
}
