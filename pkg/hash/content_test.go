package hash

import (
	"strings"
	"testing"
)

func TestContent(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{
			name: "plain markdown",
			data: []byte("# Title\n\nsome body text"),
		},
		{
			name: "empty content",
			data: []byte{},
		},
		{
			name: "binary content",
			data: []byte{0x00, 0x01, 0xff, 0xfe},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := Content(tt.data)

			if len(h) != 64 {
				t.Errorf("Content() length = %d, want 64 hex chars", len(h))
			}
			if strings.ToLower(h) != h {
				t.Error("Content() should be lowercase hex")
			}
			if h2 := Content(tt.data); h2 != h {
				t.Error("Content() not deterministic for identical input")
			}
		})
	}
}

func TestContentDiffers(t *testing.T) {
	a := Content([]byte("document a"))
	b := Content([]byte("document b"))

	if a == b {
		t.Error("Content() returned identical digests for different inputs")
	}
}

func TestUpdateKey(t *testing.T) {
	update := []byte{0x01, 0x02, 0x03, 0x04}

	k := UpdateKey(update)
	if len(k) != 32 {
		t.Errorf("UpdateKey() length = %d, want 32 hex chars", len(k))
	}

	if k2 := UpdateKey(update); k2 != k {
		t.Error("UpdateKey() not deterministic for identical update")
	}

	if other := UpdateKey([]byte{0x04, 0x03, 0x02, 0x01}); other == k {
		t.Error("UpdateKey() returned identical keys for different updates")
	}
}

func BenchmarkContent(b *testing.B) {
	data := []byte(strings.Repeat("the quick brown fox ", 512))

	for i := 0; i < b.N; i++ {
		Content(data)
	}
}
