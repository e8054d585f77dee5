package chunk

import "math/bits"

// bitsFor возвращает минимальную разрядность для n различных значений
func bitsFor(n int) int {
	if n <= 1 {
		return 0
	}
	return bits.Len(uint(n - 1))
}

// packLongs упаковывает значения по bitsPer бит, не разрывая значение
// между двумя int64 (формат палитровых контейнеров с 1.16)
func packLongs(values []uint16, bitsPer int) []int64 {
	if bitsPer == 0 {
		return nil
	}
	perLong := 64 / bitsPer
	out := make([]int64, (len(values)+perLong-1)/perLong)
	for i, v := range values {
		shift := uint((i % perLong) * bitsPer)
		out[i/perLong] |= int64(uint64(v) << shift)
	}
	return out
}

// unpackLongs - обратное к packLongs для n значений
func unpackLongs(data []int64, bitsPer, n int) ([]uint16, bool) {
	if bitsPer <= 0 || bitsPer > 16 {
		return nil, false
	}
	perLong := 64 / bitsPer
	if len(data) != (n+perLong-1)/perLong {
		return nil, false
	}
	mask := uint64(1)<<uint(bitsPer) - 1
	out := make([]uint16, n)
	for i := range out {
		shift := uint((i % perLong) * bitsPer)
		out[i] = uint16((uint64(data[i/perLong]) >> shift) & mask)
	}
	return out, true
}
