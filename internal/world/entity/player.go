package entity

// PlayerBehavior - поведение игрока: считает тики в воздухе
type PlayerBehavior struct{}

// NewPlayerBehavior создаёт поведение игрока
func NewPlayerBehavior() *PlayerBehavior {
	return &PlayerBehavior{}
}

// Tick обновляет состояние игрока
func (pb *PlayerBehavior) Tick(api API, e *Entity) error {
	BaseTick(e)
	if e.OnGround {
		delete(e.Payload, "airTicks")
		return nil
	}
	n, _ := e.Payload["airTicks"].(int)
	e.Payload["airTicks"] = n + 1
	return nil
}

// RegisterDefaults регистрирует поведения стандартных сущностей
func RegisterDefaults(r *Registry) {
	r.Register(TypePlayer, NewPlayerBehavior())
}
