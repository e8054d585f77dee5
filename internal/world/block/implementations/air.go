package implementations

import "github.com/annel0/blockverse/internal/world/block"

// AirBehavior - воздух: ломать нечего
type AirBehavior struct{}

// Name возвращает имя блока
func (b *AirBehavior) Name() string {
	return "air"
}

// OnBreak ничего не делает
func (b *AirBehavior) OnBreak(ctx block.Context) error {
	return nil
}
