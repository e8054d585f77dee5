package chunk

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/annel0/blockverse/internal/logging"
	"github.com/annel0/blockverse/internal/vec"
)

// Формат region-файла: каталог из 1024 записей по 9 байт
// {смещение в секторах uint32 BE, число секторов uint8, время изменения uint32 BE},
// дополненный до 3 секторов по 4096 байт. Тело чанка: длина uint32 BE
// (тег + данные), байт-тег сжатия, сжатое дерево.
const (
	SectorSize    = 4096
	RegionSize    = 32
	slotCount     = RegionSize * RegionSize
	entrySize     = 9
	headerSectors = (slotCount*entrySize + SectorSize - 1) / SectorSize
	maxRunSectors = 255
	bodyHeader    = 5
)

// ErrChunkTooLarge - сжатое дерево не помещается в 255 секторов
var ErrChunkTooLarge = errors.New("chunk: compressed chunk exceeds region entry limit")

// RegionPos - координаты region-файла
type RegionPos struct {
	X, Z int32
}

// RegionOf возвращает регион, содержащий чанк
func RegionOf(p vec.ChunkPos) RegionPos {
	return RegionPos{X: p.X >> 5, Z: p.Z >> 5}
}

// FileName возвращает имя файла региона
func (r RegionPos) FileName() string {
	return fmt.Sprintf("r.%d.%d.mcr", r.X, r.Z)
}

// slotOf возвращает индекс записи каталога для чанка
func slotOf(p vec.ChunkPos) int {
	return int(p.X&31) + int(p.Z&31)*RegionSize
}

type dirEntry struct {
	offset   uint32
	count    uint8
	modified uint32
}

func (e dirEntry) empty() bool { return e.count == 0 }

// Region - открытый region-файл. Методы потокобезопасны.
type Region struct {
	mu   sync.Mutex
	pos  RegionPos
	path string
	f    *os.File
	dir  [slotCount]dirEntry
	used []bool // занятость секторов
	log  *logging.Logger
}

// OpenRegion открывает (или создаёт) region-файл в каталоге dir
func OpenRegion(dir string, pos RegionPos) (*Region, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create region dir: %w", err)
	}
	path := filepath.Join(dir, pos.FileName())
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("open region %s: %w", path, err)
	}

	r := &Region{pos: pos, path: path, f: f, log: logging.GetChunkLogger()}
	if err := r.loadHeader(); err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

func (r *Region) loadHeader() error {
	info, err := r.f.Stat()
	if err != nil {
		return fmt.Errorf("stat region %s: %w", r.path, err)
	}
	size := info.Size()
	if size < headerSectors*SectorSize {
		if err := r.f.Truncate(headerSectors * SectorSize); err != nil {
			return fmt.Errorf("init region header %s: %w", r.path, err)
		}
		size = headerSectors * SectorSize
	}

	header := make([]byte, slotCount*entrySize)
	if _, err := r.f.ReadAt(header, 0); err != nil {
		return fmt.Errorf("read region header %s: %w", r.path, err)
	}

	fileSectors := int((size + SectorSize - 1) / SectorSize)
	r.used = make([]bool, fileSectors)
	for i := 0; i < headerSectors; i++ {
		r.used[i] = true
	}

	for slot := 0; slot < slotCount; slot++ {
		raw := header[slot*entrySize : (slot+1)*entrySize]
		e := dirEntry{
			offset:   binary.BigEndian.Uint32(raw[0:4]),
			count:    raw[4],
			modified: binary.BigEndian.Uint32(raw[5:9]),
		}
		if e.empty() {
			continue
		}
		end := int(e.offset) + int(e.count)
		if int(e.offset) < headerSectors || end > fileSectors {
			r.log.Warn("region %s: slot %d points outside file (offset %d, count %d), treating as missing",
				r.path, slot, e.offset, e.count)
			continue
		}
		if r.overlaps(int(e.offset), int(e.count)) {
			r.log.Warn("region %s: slot %d overlaps another entry, treating as missing", r.path, slot)
			continue
		}
		r.mark(int(e.offset), int(e.count), true)
		r.dir[slot] = e
	}
	return nil
}

func (r *Region) overlaps(offset, count int) bool {
	for i := offset; i < offset+count; i++ {
		if i < len(r.used) && r.used[i] {
			return true
		}
	}
	return false
}

func (r *Region) mark(offset, count int, used bool) {
	for i := offset; i < offset+count; i++ {
		for i >= len(r.used) {
			r.used = append(r.used, false)
		}
		r.used[i] = used
	}
}

// allocate находит первый свободный участок из n секторов (first-fit),
// при необходимости за концом файла, и помечает его занятым
func (r *Region) allocate(n int) int {
	run := 0
	for i := headerSectors; i < len(r.used); i++ {
		if r.used[i] {
			run = 0
			continue
		}
		run++
		if run == n {
			start := i - n + 1
			r.mark(start, n, true)
			return start
		}
	}
	start := len(r.used) - run
	r.mark(start, n, true)
	return start
}

// Has сообщает, есть ли в регионе данные чанка
func (r *Region) Has(p vec.ChunkPos) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.dir[slotOf(p)].empty()
}

// Modified возвращает время последней записи чанка
func (r *Region) Modified(p vec.ChunkPos) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.dir[slotOf(p)]
	if e.empty() {
		return time.Time{}, false
	}
	return time.Unix(int64(e.modified), 0), true
}

// Read возвращает распакованное дерево чанка. ok=false, если данных нет
// или запись повреждена (повреждение логируется).
func (r *Region) Read(p vec.ChunkPos) (tree []byte, ok bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot := slotOf(p)
	e := r.dir[slot]
	if e.empty() {
		return nil, false, nil
	}

	body := make([]byte, int(e.count)*SectorSize)
	n, err := r.f.ReadAt(body, int64(e.offset)*SectorSize)
	if err != nil && !(errors.Is(err, io.EOF) && n >= bodyHeader) {
		return nil, false, fmt.Errorf("read chunk %v from %s: %w", p, r.path, err)
	}
	body = body[:n]

	length := int(binary.BigEndian.Uint32(body[0:4]))
	if length < 1 || length > len(body)-4 {
		r.log.Warn("region %s: chunk %v has bad length %d, treating as missing", r.path, p, length)
		return nil, false, nil
	}
	scheme := Compression(body[4])
	tree, err = decompress(scheme, body[bodyHeader:4+length])
	if err != nil {
		r.log.Warn("region %s: chunk %v cannot be decompressed (%s): %v, treating as missing", r.path, p, scheme, err)
		return nil, false, nil
	}
	return tree, true, nil
}

// Write сжимает и записывает дерево чанка. Если данные не помещаются в
// текущий участок, выделяется новый, каталог переписывается, и только
// затем старый участок освобождается.
func (r *Region) Write(p vec.ChunkPos, tree []byte, scheme Compression) error {
	data, err := compress(scheme, tree)
	if err != nil {
		return fmt.Errorf("compress chunk %v: %w", p, err)
	}
	need := (bodyHeader + len(data) + SectorSize - 1) / SectorSize
	if need > maxRunSectors {
		return fmt.Errorf("chunk %v: %d sectors: %w", p, need, ErrChunkTooLarge)
	}

	body := make([]byte, need*SectorSize)
	binary.BigEndian.PutUint32(body[0:4], uint32(len(data)+1))
	body[4] = byte(scheme)
	copy(body[bodyHeader:], data)

	r.mu.Lock()
	defer r.mu.Unlock()

	slot := slotOf(p)
	old := r.dir[slot]

	var offset int
	inPlace := !old.empty() && int(old.count) >= need
	if inPlace {
		offset = int(old.offset)
	} else {
		offset = r.allocate(need)
	}

	if _, err := r.f.WriteAt(body, int64(offset)*SectorSize); err != nil {
		if !inPlace {
			r.mark(offset, need, false)
		}
		return fmt.Errorf("write chunk %v to %s: %w", p, r.path, err)
	}

	entry := dirEntry{offset: uint32(offset), count: uint8(need), modified: uint32(time.Now().Unix())}
	if err := r.writeEntry(slot, entry); err != nil {
		if !inPlace {
			r.mark(offset, need, false)
		}
		return err
	}
	if err := r.f.Sync(); err != nil {
		return fmt.Errorf("sync region %s: %w", r.path, err)
	}
	r.dir[slot] = entry

	// Освобождаем старый участок (или его хвост при записи на месте)
	if inPlace {
		r.mark(offset+need, int(old.count)-need, false)
	} else if !old.empty() {
		r.mark(int(old.offset), int(old.count), false)
	}
	return nil
}

func (r *Region) writeEntry(slot int, e dirEntry) error {
	var raw [entrySize]byte
	binary.BigEndian.PutUint32(raw[0:4], e.offset)
	raw[4] = e.count
	binary.BigEndian.PutUint32(raw[5:9], e.modified)
	if _, err := r.f.WriteAt(raw[:], int64(slot*entrySize)); err != nil {
		return fmt.Errorf("write region directory %s: %w", r.path, err)
	}
	return nil
}

// Chunks возвращает позиции всех чанков, записанных в регионе
func (r *Region) Chunks() []vec.ChunkPos {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []vec.ChunkPos
	for slot, e := range r.dir {
		if e.empty() {
			continue
		}
		out = append(out, vec.ChunkPos{
			X: r.pos.X*RegionSize + int32(slot%RegionSize),
			Z: r.pos.Z*RegionSize + int32(slot/RegionSize),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Z != out[j].Z {
			return out[i].Z < out[j].Z
		}
		return out[i].X < out[j].X
	})
	return out
}

// Close закрывает файл
func (r *Region) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	return err
}

// regionCache держит открытые region-файлы мира
type regionCache struct {
	dir     string
	mu      sync.Mutex
	regions map[RegionPos]*Region
}

func newRegionCache(dir string) *regionCache {
	return &regionCache{dir: dir, regions: make(map[RegionPos]*Region)}
}

func (rc *regionCache) get(p vec.ChunkPos) (*Region, error) {
	pos := RegionOf(p)
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if r, ok := rc.regions[pos]; ok {
		return r, nil
	}
	r, err := OpenRegion(rc.dir, pos)
	if err != nil {
		return nil, err
	}
	rc.regions[pos] = r
	return r, nil
}

func (rc *regionCache) closeAll() error {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	var errs []error
	for pos, r := range rc.regions {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(rc.regions, pos)
	}
	return errors.Join(errs...)
}
