package vec

import "math"

// BlockPos представляет целочисленные координаты блока в мире
type BlockPos struct {
	X, Y, Z int32
}

// Chunk возвращает координаты чанка, содержащего блок
func (p BlockPos) Chunk() ChunkPos {
	return ChunkPos{X: p.X >> 4, Z: p.Z >> 4} // Деление на 16 с округлением вниз
}

// Local возвращает координаты блока внутри чанка (x, z в [0,16), y без изменений)
func (p BlockPos) Local() (x, y, z int) {
	return int(p.X & 0xF), int(p.Y), int(p.Z & 0xF)
}

// Add складывает позицию со смещением
func (p BlockPos) Add(dx, dy, dz int32) BlockPos {
	return BlockPos{X: p.X + dx, Y: p.Y + dy, Z: p.Z + dz}
}

// Neighbors возвращает шесть соседних позиций (по граням)
func (p BlockPos) Neighbors() [6]BlockPos {
	return [6]BlockPos{
		p.Add(0, -1, 0), // низ
		p.Add(0, 1, 0),  // верх
		p.Add(0, 0, -1), // север
		p.Add(0, 0, 1),  // юг
		p.Add(-1, 0, 0), // запад
		p.Add(1, 0, 0),  // восток
	}
}

// Center возвращает центр блока в вещественных координатах
func (p BlockPos) Center() Vec3 {
	return Vec3{X: float64(p.X) + 0.5, Y: float64(p.Y) + 0.5, Z: float64(p.Z) + 0.5}
}

// Vec3 представляет точную позицию в мире
type Vec3 struct {
	X, Y, Z float64
}

// Block возвращает блок, в котором находится точка
func (v Vec3) Block() BlockPos {
	return BlockPos{
		X: int32(math.Floor(v.X)),
		Y: int32(math.Floor(v.Y)),
		Z: int32(math.Floor(v.Z)),
	}
}

// Chunk возвращает чанк, в котором находится точка
func (v Vec3) Chunk() ChunkPos {
	return ChunkOf(v.X, v.Z)
}

// Add складывает два вектора
func (v Vec3) Add(other Vec3) Vec3 {
	return Vec3{X: v.X + other.X, Y: v.Y + other.Y, Z: v.Z + other.Z}
}

// DistanceTo возвращает расстояние до другой точки
func (v Vec3) DistanceTo(other Vec3) float64 {
	dx := v.X - other.X
	dy := v.Y - other.Y
	dz := v.Z - other.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// IsFinite сообщает, что все компоненты вектора конечны
func (v Vec3) IsFinite() bool {
	return !math.IsNaN(v.X) && !math.IsInf(v.X, 0) &&
		!math.IsNaN(v.Y) && !math.IsInf(v.Y, 0) &&
		!math.IsNaN(v.Z) && !math.IsInf(v.Z, 0)
}
