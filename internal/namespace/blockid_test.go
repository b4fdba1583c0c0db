package namespace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockIDRoundTrip(t *testing.T) {
	tests := []struct {
		path string
		num  int
		id   string
	}{
		{path: "/a/b/c.txt", num: 0, id: "/a/b/c.txt0"},
		{path: "/f", num: 1, id: "/f1"},
		{path: "/f", num: 12345, id: "/f12345"},
		{path: "/dir1/file.bin", num: 7, id: "/dir1/file.bin7"},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			id := EncodeBlockID(tt.path, tt.num)
			assert.Equal(t, tt.id, id)

			path, num, err := DecodeBlockID(id)
			require.NoError(t, err)
			assert.Equal(t, tt.path, path)
			assert.Equal(t, tt.num, num)
		})
	}
}

func TestDecodeBlockIDInvalid(t *testing.T) {
	for _, id := range []string{"", "/", "/file", "/a/b/", "/123", "/f99999999999999999999999"} {
		t.Run(id, func(t *testing.T) {
			_, _, err := DecodeBlockID(id)
			assert.ErrorIs(t, err, ErrInvalidBlockID)
		})
	}
}

// TestDecodeBlockIDTrailingDigitName documents the ambiguity for names that
// end in digits: the longest trailing digit run wins.
func TestDecodeBlockIDTrailingDigitName(t *testing.T) {
	id := EncodeBlockID("/f1", 0)

	path, num, err := DecodeBlockID(id)
	require.NoError(t, err)
	assert.Equal(t, "/f", path)
	assert.Equal(t, 10, num)
}
