package implementations

import (
	"github.com/annel0/blockverse/internal/world/block"
)

// waterFlowDelay - задержка растекания воды в тиках
const waterFlowDelay = 5

// WaterBehavior - вода. Стекает вниз в воздух; по горизонтали не растекается.
type WaterBehavior struct{}

// Name возвращает имя блока
func (b *WaterBehavior) Name() string {
	return "water"
}

// OnTick заполняет воздух под водой падающей водой
func (b *WaterBehavior) OnTick(ctx block.Context) error {
	below := ctx.Pos.Add(0, -1, 0)
	s, ok := ctx.API.Block(below)
	if !ok || s != block.Air {
		return nil
	}
	if err := ctx.API.SetBlock(below, block.WaterFalling); err != nil {
		return err
	}
	ctx.API.ScheduleTick(below, waterFlowDelay)
	return nil
}

// OnBreak убирает воду; падающая вода под ней иссякает при следующем обновлении
func (b *WaterBehavior) OnBreak(ctx block.Context) error {
	if err := block.BaseBreak(ctx); err != nil {
		return err
	}
	below := ctx.Pos.Add(0, -1, 0)
	if s, ok := ctx.API.Block(below); ok && s == block.WaterFalling {
		return ctx.API.SetBlock(below, block.Air)
	}
	return nil
}
