package implementations

import (
	"github.com/annel0/blockverse/internal/world/block"
)

// sandFallDelay - задержка падения песка в тиках
const sandFallDelay = 2

// SandBehavior - песок, падает, если под ним воздух или вода
type SandBehavior struct{}

// Name возвращает имя блока
func (b *SandBehavior) Name() string {
	return "sand"
}

// OnTick сдвигает песок на блок вниз
func (b *SandBehavior) OnTick(ctx block.Context) error {
	below := ctx.Pos.Add(0, -1, 0)
	s, ok := ctx.API.Block(below)
	if !ok || (s != block.Air && !block.IsWater(s)) {
		return nil
	}
	if err := ctx.API.SetBlock(below, block.Sand); err != nil {
		return err
	}
	if err := ctx.API.SetBlock(ctx.Pos, block.Air); err != nil {
		return err
	}
	ctx.API.ScheduleTick(below, sandFallDelay)
	return nil
}
