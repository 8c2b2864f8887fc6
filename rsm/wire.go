package rsm

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"github.com/shrtyk/rsm-core/api"
)

const deltaHeaderSize = 4 /*checksum*/ + 4 /*header_sz*/ + 16 /*uuid*/

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// encodeDeltaPayload builds the on-wire delta payload: optionally a
// DeltaHeader (fresh UUID, checksum over everything after the checksum
// field) followed by the caller's opaque body.
func encodeDeltaPayload(writeHeader bool, id uuid.UUID, body []byte) []byte {
	if !writeHeader {
		return body
	}
	buf := make([]byte, deltaHeaderSize+len(body))
	// layout: checksum(4) header_sz(4) uuid(16) body...
	binary.LittleEndian.PutUint32(buf[4:8], deltaHeaderSize)
	copy(buf[8:24], id[:])
	copy(buf[deltaHeaderSize:], body)
	sum := crc32.Checksum(buf[4:], crcTable)
	binary.LittleEndian.PutUint32(buf[0:4], sum)
	return buf
}

// decodeDeltaHeader tolerates headerless (legacy) deltas: if the
// payload is too short for a header, or the embedded checksum does not
// match, the whole payload is treated as the body and a zero header
// (invalid UUID) is returned.
func decodeDeltaHeader(payload []byte) (api.DeltaHeader, []byte) {
	if len(payload) < deltaHeaderSize {
		return api.DeltaHeader{}, payload
	}
	headerSz := binary.LittleEndian.Uint32(payload[4:8])
	if headerSz != deltaHeaderSize {
		return api.DeltaHeader{}, payload
	}
	wantSum := binary.LittleEndian.Uint32(payload[0:4])
	gotSum := crc32.Checksum(payload[4:], crcTable)
	if wantSum != gotSum {
		return api.DeltaHeader{}, payload
	}
	var h api.DeltaHeader
	h.Checksum = wantSum
	h.HeaderSize = headerSz
	copy(h.UUID[:], payload[8:24])
	return h, payload[deltaHeaderSize:]
}

// snapshotHeaderBaseSize is the on-wire size of a SnapshotHeaderBase
// header: format_version(1) flags(1) byte_offset(8) offset(8) base_version(8).
const snapshotHeaderBaseSize = 1 + 1 + 8 + 8 + 8

// snapshotHeaderV2ExtraSize is the additional on-wire size of the
// length(4) + delta_log_read_ptr(8) fields present from
// SnapshotHeaderContainsDeltaLogReadPtrAndLength onward.
const snapshotHeaderV2ExtraSize = 4 + 8

func encodeSnapshotHeader(h api.SnapshotHeader) []byte {
	size := snapshotHeaderBaseSize
	if h.FormatVersion >= api.SnapshotHeaderContainsDeltaLogReadPtrAndLength {
		size += snapshotHeaderV2ExtraSize
	}
	buf := make([]byte, size)
	buf[0] = byte(h.FormatVersion)
	buf[1] = h.Flags
	binary.LittleEndian.PutUint64(buf[2:10], h.ByteOffset)
	binary.LittleEndian.PutUint64(buf[10:18], h.Offset)
	binary.LittleEndian.PutUint64(buf[18:26], uint64(h.BaseVersion))
	if h.FormatVersion >= api.SnapshotHeaderContainsDeltaLogReadPtrAndLength {
		binary.LittleEndian.PutUint32(buf[26:30], h.Length)
		binary.LittleEndian.PutUint64(buf[30:38], uint64(h.DeltaLogReadPtr))
	}
	return buf
}

func decodeSnapshotHeader(data []byte) (api.SnapshotHeader, []byte, error) {
	if len(data) < snapshotHeaderBaseSize {
		return api.SnapshotHeader{}, nil, fmt.Errorf("snapshot header truncated: %d bytes", len(data))
	}
	var h api.SnapshotHeader
	h.FormatVersion = api.SnapshotHeaderFormatVersion(data[0])
	h.Flags = data[1]
	h.ByteOffset = binary.LittleEndian.Uint64(data[2:10])
	h.Offset = binary.LittleEndian.Uint64(data[10:18])
	h.BaseVersion = api.LSN(binary.LittleEndian.Uint64(data[18:26]))
	rest := data[snapshotHeaderBaseSize:]
	if h.FormatVersion >= api.SnapshotHeaderContainsDeltaLogReadPtrAndLength {
		if len(rest) < snapshotHeaderV2ExtraSize {
			return api.SnapshotHeader{}, nil, fmt.Errorf("snapshot header v2 truncated")
		}
		h.Length = binary.LittleEndian.Uint32(rest[0:4])
		h.DeltaLogReadPtr = api.LSN(binary.LittleEndian.Uint64(rest[4:12]))
		rest = rest[snapshotHeaderV2ExtraSize:]
	} else {
		h.DeltaLogReadPtr = h.BaseVersion
	}
	return h, rest, nil
}

var zstdEncoderOnce = newZstdEncoder()
var zstdDecoderOnce = newZstdDecoder()

func newZstdEncoder() *zstd.Encoder {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		// SpeedDefault is always a valid level; this cannot fail.
		panic(err)
	}
	return enc
}

func newZstdDecoder() *zstd.Decoder {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		panic(err)
	}
	return dec
}

func zstdCompress(data []byte) []byte {
	return zstdEncoderOnce.EncodeAll(data, make([]byte, 0, len(data)))
}

func zstdDecompress(data []byte) ([]byte, error) {
	return zstdDecoderOnce.DecodeAll(data, nil)
}

// createSnapshotPayload assembles the full on-wire snapshot record:
// header followed by the (optionally compressed) serialized state.
func createSnapshotPayload(
	state []byte,
	byteOffset, offset uint64,
	baseVersion, deltaReadPtr api.LSN,
	compress bool,
) []byte {
	body := state
	var flags uint8
	if compress {
		body = zstdCompress(state)
		flags |= api.SnapshotFlagZstd
	}
	h := api.SnapshotHeader{
		FormatVersion:   api.SnapshotHeaderContainsDeltaLogReadPtrAndLength,
		Flags:           flags,
		ByteOffset:      byteOffset,
		Offset:          offset,
		BaseVersion:     baseVersion,
		Length:          uint32(len(body)),
		DeltaLogReadPtr: deltaReadPtr,
	}
	hdr := encodeSnapshotHeader(h)
	out := make([]byte, 0, len(hdr)+len(body))
	out = append(out, hdr...)
	out = append(out, body...)
	return out
}

// deserializeSnapshotBlob parses a full on-wire snapshot record,
// decompressing the payload if the header's Zstd flag is set.
func deserializeSnapshotBlob(blob []byte) (api.SnapshotHeader, []byte, error) {
	h, rest, err := decodeSnapshotHeader(blob)
	if err != nil {
		return api.SnapshotHeader{}, nil, err
	}
	payload := rest
	if h.FormatVersion >= api.SnapshotHeaderContainsDeltaLogReadPtrAndLength && uint32(len(payload)) != h.Length {
		return api.SnapshotHeader{}, nil, fmt.Errorf("snapshot payload length mismatch: header says %d, got %d", h.Length, len(payload))
	}
	if h.Compressed() {
		decoded, err := zstdDecompress(payload)
		if err != nil {
			return api.SnapshotHeader{}, nil, fmt.Errorf("zstd decompress: %w", err)
		}
		payload = decoded
	}
	return h, payload, nil
}
