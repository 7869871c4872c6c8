package serializer

import "testing"

type sample struct {
	Name  string `json:"name" msgpack:"name"`
	Count int    `json:"count" msgpack:"count"`
}

func TestNewCodec(t *testing.T) {
	cases := []struct {
		name string
		want string
	}{
		{"", "msgpack"},
		{"msgpack", "msgpack"},
		{"json", "json"},
		{"gob", "gob"},
		{"raw", "raw"},
	}
	for _, tc := range cases {
		codec, err := New(tc.name)
		if err != nil {
			t.Fatalf("코덱 %q 생성 실패: %v", tc.name, err)
		}
		if codec.Name() != tc.want {
			t.Errorf("코덱 이름이 다릅니다: %s != %s", codec.Name(), tc.want)
		}
	}

	if _, err := New("protobuf"); err == nil {
		t.Error("알 수 없는 코덱이 허용되었습니다")
	}
}

func TestCodecRoundTrip(t *testing.T) {
	for _, name := range []string{"msgpack", "json", "gob"} {
		codec, err := New(name)
		if err != nil {
			t.Fatal(err)
		}

		in := sample{Name: "tenant-42", Count: 7}
		data, err := codec.Marshal(in)
		if err != nil {
			t.Fatalf("%s Marshal 실패: %v", name, err)
		}

		var out sample
		if err := codec.Unmarshal(data, &out); err != nil {
			t.Fatalf("%s Unmarshal 실패: %v", name, err)
		}
		if out != in {
			t.Errorf("%s 왕복 결과가 다릅니다: %+v", name, out)
		}
	}
}

func TestRawCodec(t *testing.T) {
	codec := &RawCodec{}

	data, err := codec.Marshal("hello")
	if err != nil {
		t.Fatal(err)
	}
	var s string
	if err := codec.Unmarshal(data, &s); err != nil || s != "hello" {
		t.Errorf("문자열 왕복 실패: %q err=%v", s, err)
	}

	var b []byte
	if err := codec.Unmarshal([]byte("bytes"), &b); err != nil || string(b) != "bytes" {
		t.Errorf("바이트 왕복 실패: %q err=%v", b, err)
	}

	if _, err := codec.Marshal(42); err == nil {
		t.Error("raw 코덱이 정수를 허용했습니다")
	}
	if err := codec.Unmarshal(data, &sample{}); err == nil {
		t.Error("raw 코덱이 구조체 대상을 허용했습니다")
	}
}
