// Package serializer는 캐시 값의 직렬화 코덱을 제공합니다.
package serializer

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// =============================================================================
// Codec: 직렬화 코덱
// =============================================================================
// 캐시 값은 계층에 저장되기 전에 바이트로 직렬화됩니다. 기본 코덱은
// msgpack입니다. JSON보다 작고 빠르며 스키마가 필요 없습니다.
// 이미 바이트인 값에는 raw 코덱을 사용합니다.
// =============================================================================

// Codec은 값과 바이트 사이의 변환을 담당합니다.
type Codec interface {
	// Name은 코덱 이름을 반환합니다.
	Name() string

	// Marshal은 값을 바이트로 직렬화합니다.
	Marshal(v interface{}) ([]byte, error)

	// Unmarshal은 바이트를 값으로 역직렬화합니다.
	Unmarshal(data []byte, v interface{}) error
}

// New는 이름으로 코덱을 생성합니다.
// 지원: "msgpack", "json", "gob", "raw". 빈 이름은 msgpack입니다.
func New(name string) (Codec, error) {
	switch name {
	case "", "msgpack":
		return &MsgpackCodec{}, nil
	case "json":
		return &JSONCodec{}, nil
	case "gob":
		return &GobCodec{}, nil
	case "raw":
		return &RawCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown codec: %q", name)
	}
}

// =============================================================================
// MsgpackCodec
// =============================================================================

// MsgpackCodec은 MessagePack 코덱입니다. 기본 코덱입니다.
type MsgpackCodec struct{}

// Name은 "msgpack"을 반환합니다.
func (c *MsgpackCodec) Name() string { return "msgpack" }

// Marshal은 값을 MessagePack으로 직렬화합니다.
func (c *MsgpackCodec) Marshal(v interface{}) ([]byte, error) {
	return msgpack.Marshal(v)
}

// Unmarshal은 MessagePack 바이트를 역직렬화합니다.
func (c *MsgpackCodec) Unmarshal(data []byte, v interface{}) error {
	return msgpack.Unmarshal(data, v)
}

// =============================================================================
// JSONCodec
// =============================================================================

// JSONCodec은 JSON 코덱입니다. 디버깅이 쉬운 사람이 읽을 수 있는
// 형식이 필요할 때 사용합니다.
type JSONCodec struct{}

// Name은 "json"을 반환합니다.
func (c *JSONCodec) Name() string { return "json" }

// Marshal은 값을 JSON으로 직렬화합니다.
func (c *JSONCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal은 JSON 바이트를 역직렬화합니다.
func (c *JSONCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

// =============================================================================
// GobCodec
// =============================================================================

// GobCodec은 gob 코덱입니다. Go 프로세스끼리만 값을 주고받을 때
// 사용합니다.
type GobCodec struct{}

// Name은 "gob"을 반환합니다.
func (c *GobCodec) Name() string { return "gob" }

// Marshal은 값을 gob으로 직렬화합니다.
func (c *GobCodec) Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal은 gob 바이트를 역직렬화합니다.
func (c *GobCodec) Unmarshal(data []byte, v interface{}) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

// =============================================================================
// RawCodec
// =============================================================================

// RawCodec은 []byte와 string을 변환 없이 통과시키는 코덱입니다.
type RawCodec struct{}

// Name은 "raw"를 반환합니다.
func (c *RawCodec) Name() string { return "raw" }

// Marshal은 []byte 또는 string만 허용합니다.
func (c *RawCodec) Marshal(v interface{}) ([]byte, error) {
	switch val := v.(type) {
	case []byte:
		return val, nil
	case string:
		return []byte(val), nil
	default:
		return nil, fmt.Errorf("raw codec requires []byte or string, got %T", v)
	}
}

// Unmarshal은 *[]byte 또는 *string으로만 복원합니다.
func (c *RawCodec) Unmarshal(data []byte, v interface{}) error {
	switch dst := v.(type) {
	case *[]byte:
		*dst = make([]byte, len(data))
		copy(*dst, data)
		return nil
	case *string:
		*dst = string(data)
		return nil
	default:
		return fmt.Errorf("raw codec requires *[]byte or *string, got %T", v)
	}
}
