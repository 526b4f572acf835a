package encoding

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectBOMs(t *testing.T) {
	cases := []struct {
		name string
		in   []byte
		want Encoding
	}{
		{"utf8 bom", []byte{0xEF, 0xBB, 0xBF, 'h', 'i'}, UTF8},
		{"utf16le bom", []byte{0xFF, 0xFE, 'h', 0}, UTF16LE},
		{"utf16be bom", []byte{0xFE, 0xFF, 0, 'h'}, UTF16BE},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Detect(tc.in)
			assert.Equal(t, tc.want, got.Encoding)
			assert.Greater(t, got.BOMLen, 0)
			assert.False(t, got.Ambiguous)
		})
	}
}

func TestDetectDefaultsToUTF8(t *testing.T) {
	got := Detect([]byte(`{"id":"r1"}`))
	assert.Equal(t, UTF8, got.Encoding)
	assert.False(t, got.Ambiguous)
	assert.Equal(t, 0, got.BOMLen)
}

func TestDetectEmptyIsUTF8(t *testing.T) {
	got := Detect(nil)
	assert.Equal(t, UTF8, got.Encoding)
}

func TestDetectAmbiguousFallsBackToUTF8(t *testing.T) {
	garbage := []byte{0, 1, 0, 2, 0, 3, 0xFF, 0xFF, 0xFF, 0xFF}
	got := Detect(garbage)
	assert.Equal(t, UTF8, got.Encoding)
	assert.True(t, got.Ambiguous)
}
