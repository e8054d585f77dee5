package chunk

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// Compression - схема сжатия тела чанка в region-файле (байт-тег)
type Compression uint8

const (
	CompressionGzip Compression = 1
	CompressionZlib Compression = 2
	CompressionNone Compression = 3
	CompressionZstd Compression = 4
)

func (c Compression) String() string {
	switch c {
	case CompressionGzip:
		return "gzip"
	case CompressionZlib:
		return "zlib"
	case CompressionNone:
		return "none"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("compression(%d)", uint8(c))
	}
}

// ParseCompression разбирает имя схемы из конфигурации
func ParseCompression(name string) (Compression, error) {
	switch strings.ToLower(name) {
	case "gzip":
		return CompressionGzip, nil
	case "zlib", "":
		return CompressionZlib, nil
	case "none":
		return CompressionNone, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression %q", name)
	}
}

// Кодировщик и декодер zstd безопасны для параллельных EncodeAll/DecodeAll
var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
)

func compress(scheme Compression, data []byte) ([]byte, error) {
	switch scheme {
	case CompressionNone:
		return data, nil
	case CompressionZstd:
		return zstdEncoder.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
	case CompressionGzip, CompressionZlib:
		var buf bytes.Buffer
		var w io.WriteCloser
		if scheme == CompressionGzip {
			w = gzip.NewWriter(&buf)
		} else {
			w = zlib.NewWriter(&buf)
		}
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unsupported compression %d", scheme)
	}
}

func decompress(scheme Compression, data []byte) ([]byte, error) {
	switch scheme {
	case CompressionNone:
		return data, nil
	case CompressionZstd:
		return zstdDecoder.DecodeAll(data, nil)
	case CompressionGzip:
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	case CompressionZlib:
		r, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	default:
		return nil, fmt.Errorf("unsupported compression %d", scheme)
	}
}
