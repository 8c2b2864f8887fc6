package rsm

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/shrtyk/rsm-core/api"
)

func TestEncodeDecodeDeltaPayload(t *testing.T) {
	t.Run("with header round-trips", func(t *testing.T) {
		id := uuid.New()
		body := []byte("hello delta")
		wire := encodeDeltaPayload(true, id, body)

		h, decoded := decodeDeltaHeader(wire)
		require.Equal(t, id, h.UUID)
		require.Equal(t, body, decoded)
	})

	t.Run("without header returns raw bytes unmodified", func(t *testing.T) {
		body := []byte("raw")
		wire := encodeDeltaPayload(false, uuid.New(), body)
		require.Equal(t, body, wire)
	})

	t.Run("headerless legacy payload decodes as zero header and whole body", func(t *testing.T) {
		body := []byte("legacy, no header at all")
		h, decoded := decodeDeltaHeader(body)
		require.Equal(t, uuid.Nil, h.UUID)
		require.Equal(t, body, decoded)
	})

	t.Run("corrupted checksum falls back to headerless", func(t *testing.T) {
		id := uuid.New()
		wire := encodeDeltaPayload(true, id, []byte("payload"))
		wire[0] ^= 0xFF // corrupt the checksum field
		h, decoded := decodeDeltaHeader(wire)
		require.Equal(t, uuid.Nil, h.UUID)
		require.Equal(t, wire, decoded)
	})
}

func TestSnapshotHeaderRoundTrip(t *testing.T) {
	h := api.SnapshotHeader{
		FormatVersion:   api.SnapshotHeaderContainsDeltaLogReadPtrAndLength,
		Flags:           api.SnapshotFlagZstd,
		ByteOffset:      1024,
		Offset:          7,
		BaseVersion:     api.LSN(500),
		Length:          42,
		DeltaLogReadPtr: api.LSN(600),
	}
	encoded := encodeSnapshotHeader(h)
	decoded, rest, err := decodeSnapshotHeader(append(encoded, make([]byte, 42)...))
	require.NoError(t, err)
	require.Equal(t, h, decoded)
	require.Len(t, rest, 42)
}

func TestSnapshotPayloadRoundTripCompressed(t *testing.T) {
	state := []byte("this is the serialized user state, repeated a bit for compression: " +
		"this is the serialized user state, repeated a bit for compression")

	payload := createSnapshotPayload(state, 10, 1, api.LSN(50), api.LSN(60), true)

	h, decoded, err := deserializeSnapshotBlob(payload)
	require.NoError(t, err)
	require.True(t, h.Compressed())
	require.Equal(t, api.LSN(50), h.BaseVersion)
	require.Equal(t, api.LSN(60), h.DeltaLogReadPtr)
	require.Equal(t, state, decoded)
}

func TestSnapshotPayloadRoundTripUncompressed(t *testing.T) {
	state := []byte("small state")
	payload := createSnapshotPayload(state, 0, 0, api.LSN(1), api.LSN(1), false)

	h, decoded, err := deserializeSnapshotBlob(payload)
	require.NoError(t, err)
	require.False(t, h.Compressed())
	require.Equal(t, state, decoded)
}
