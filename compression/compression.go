// Package compression은 엔트리 값 압축기를 제공합니다.
package compression

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
)

// =============================================================================
// Compressor: 압축기
// =============================================================================
// 압축 여부와 알고리즘은 엔트리 메타데이터에 기록되므로, 압축기는
// 바이트 변환만 담당합니다. 기본은 s2입니다. 압축률보다 속도가
// 중요한 캐시 워크로드에 맞습니다.
// =============================================================================

// Compressor는 바이트 압축/복원을 담당합니다.
// core.Compressor 인터페이스를 만족합니다.
type Compressor interface {
	Name() string
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

// New는 이름으로 압축기를 생성합니다.
// 지원: "s2", "zstd", "gzip", "none". 빈 이름은 s2입니다.
func New(name string) (Compressor, error) {
	switch name {
	case "", "s2":
		return &S2Compressor{}, nil
	case "zstd":
		return NewZstdCompressor()
	case "gzip":
		return &GzipCompressor{}, nil
	case "none":
		return &NoopCompressor{}, nil
	default:
		return nil, fmt.Errorf("unknown compressor: %q", name)
	}
}

// =============================================================================
// S2Compressor
// =============================================================================

// S2Compressor는 Snappy 호환 s2 압축기입니다. 기본 압축기입니다.
type S2Compressor struct{}

// Name은 "s2"를 반환합니다.
func (c *S2Compressor) Name() string { return "s2" }

// Compress는 s2 블록 형식으로 압축합니다.
func (c *S2Compressor) Compress(data []byte) ([]byte, error) {
	return s2.Encode(nil, data), nil
}

// Decompress는 s2 블록을 복원합니다.
func (c *S2Compressor) Decompress(data []byte) ([]byte, error) {
	return s2.Decode(nil, data)
}

// =============================================================================
// ZstdCompressor
// =============================================================================

// ZstdCompressor는 zstd 압축기입니다. s2보다 느리지만 압축률이 높아
// Durable 계층처럼 저장 비용이 중요한 경우에 적합합니다.
type ZstdCompressor struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewZstdCompressor는 재사용 가능한 zstd 인코더/디코더를 준비합니다.
func NewZstdCompressor() (*ZstdCompressor, error) {
	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd encoder init failed: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decoder init failed: %w", err)
	}
	return &ZstdCompressor{encoder: encoder, decoder: decoder}, nil
}

// Name은 "zstd"를 반환합니다.
func (c *ZstdCompressor) Name() string { return "zstd" }

// Compress는 zstd로 압축합니다.
func (c *ZstdCompressor) Compress(data []byte) ([]byte, error) {
	return c.encoder.EncodeAll(data, nil), nil
}

// Decompress는 zstd 데이터를 복원합니다.
func (c *ZstdCompressor) Decompress(data []byte) ([]byte, error) {
	return c.decoder.DecodeAll(data, nil)
}

// =============================================================================
// GzipCompressor
// =============================================================================

// GzipCompressor는 gzip 압축기입니다. 외부 시스템과의 호환이 필요할 때
// 사용합니다.
type GzipCompressor struct{}

// Name은 "gzip"을 반환합니다.
func (c *GzipCompressor) Name() string { return "gzip" }

// Compress는 gzip으로 압축합니다.
func (c *GzipCompressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decompress는 gzip 데이터를 복원합니다.
func (c *GzipCompressor) Decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// =============================================================================
// NoopCompressor
// =============================================================================

// NoopCompressor는 압축하지 않는 압축기입니다.
type NoopCompressor struct{}

// Name은 "none"을 반환합니다.
func (c *NoopCompressor) Name() string { return "none" }

// Compress는 입력을 그대로 반환합니다.
func (c *NoopCompressor) Compress(data []byte) ([]byte, error) { return data, nil }

// Decompress는 입력을 그대로 반환합니다.
func (c *NoopCompressor) Decompress(data []byte) ([]byte, error) { return data, nil }
