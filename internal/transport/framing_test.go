package transport

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteReadFrame_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	body := []byte(`{"id":1,"method":"ping"}`)
	require.NoError(t, writeFrame(&buf, body))

	got, err := readFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, body, got)
}

func TestReadFrame_RejectsOversizedHeader(t *testing.T) {
	var buf bytes.Buffer
	// Length prefix claiming more than maxFrameSize.
	buf.Write([]byte{0x7F, 0xFF, 0xFF, 0xFF})
	_, err := readFrame(&buf)
	require.Error(t, err)
}

func TestWriteFrame_MultipleFramesStayIndependent(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeFrame(&buf, []byte("first")))
	require.NoError(t, writeFrame(&buf, []byte("second-longer")))

	first, err := readFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, "first", string(first))

	second, err := readFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, "second-longer", string(second))
}
