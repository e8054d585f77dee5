package vec

import "math"

// ChunkPos представляет координаты чанка (столбца 16x16 блоков) в мире
type ChunkPos struct {
	X, Z int32
}

// Offset возвращает координаты чанка, смещённого на dx, dz
func (c ChunkPos) Offset(dx, dz int32) ChunkPos {
	return ChunkPos{X: c.X + dx, Z: c.Z + dz}
}

// ChebyshevDistance возвращает расстояние до другого чанка по максимальной оси.
// Квадрат видимости радиуса r содержит все чанки с расстоянием <= r.
func (c ChunkPos) ChebyshevDistance(other ChunkPos) int32 {
	dx := c.X - other.X
	if dx < 0 {
		dx = -dx
	}
	dz := c.Z - other.Z
	if dz < 0 {
		dz = -dz
	}
	if dx > dz {
		return dx
	}
	return dz
}

// DistanceSq возвращает квадрат евклидова расстояния между чанками
func (c ChunkPos) DistanceSq(other ChunkPos) int64 {
	dx := int64(c.X - other.X)
	dz := int64(c.Z - other.Z)
	return dx*dx + dz*dz
}

// Square возвращает все чанки квадрата радиуса radius вокруг центра.
// Порядок: от ближних к дальним, что позволяет отдавать клиенту сначала
// чанки под ногами игрока.
func Square(center ChunkPos, radius int32) []ChunkPos {
	if radius < 0 {
		return nil
	}
	side := int(2*radius + 1)
	result := make([]ChunkPos, 0, side*side)
	for r := int32(0); r <= radius; r++ {
		if r == 0 {
			result = append(result, center)
			continue
		}
		for dx := -r; dx <= r; dx++ {
			result = append(result, center.Offset(dx, -r), center.Offset(dx, r))
		}
		for dz := -r + 1; dz <= r-1; dz++ {
			result = append(result, center.Offset(-r, dz), center.Offset(r, dz))
		}
	}
	return result
}

// ChunkOf возвращает чанк, содержащий мировые координаты x, z
func ChunkOf(x, z float64) ChunkPos {
	return ChunkPos{
		X: int32(math.Floor(x)) >> 4,
		Z: int32(math.Floor(z)) >> 4,
	}
}
