package checksum_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foliosync/foliosync/pkg/checksum"
)

func TestBytesLength(t *testing.T) {
	sum := checksum.Bytes([]byte("hello world"))
	assert.Len(t, sum, checksum.Length)
}

func TestBytesDeterministic(t *testing.T) {
	a := checksum.Bytes([]byte("same content"))
	b := checksum.Bytes([]byte("same content"))
	assert.Equal(t, a, b)
}

func TestBytesDiffers(t *testing.T) {
	a := checksum.Bytes([]byte("content a"))
	b := checksum.Bytes([]byte("content b"))
	assert.NotEqual(t, a, b)
}

func TestReaderMatchesBytes(t *testing.T) {
	data := []byte("streamed content for checksum comparison")

	want := checksum.Bytes(data)

	got, err := checksum.Reader(strings.NewReader(string(data)))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
