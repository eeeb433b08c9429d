package blip

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/adred-codev/blip/internal/varint"
)

// checksumTable is the CRC-32C (Castagnoli) table used for the frame
// trailer checksum: a cheap streaming integrity check, not a security
// primitive, so the standard library's hash/crc32 is used directly rather
// than pulling in a dedicated hashing dependency.
var checksumTable = crc32.MakeTable(crc32.Castagnoli)

const checksumSize = 4

// deflateTerminator is the 4-byte trailer flate's SyncFlush always emits at
// a block boundary; BLIP elides it on the wire and the reader re-synthesizes
// it before feeding the inflater.
var deflateTerminator = [4]byte{0x00, 0x00, 0xFF, 0xFF}

// encodeFrameHeader appends the UVarInt(msgNo) and flags byte to buf.
func encodeFrameHeader(buf []byte, msgNo MessageNo, flags Flags) []byte {
	buf = varint.AppendUvarint(buf, uint64(msgNo))
	return append(buf, byte(flags))
}

// decodeFrameHeader parses a frame header from the front of buf, returning
// the message number, flags, and how many bytes were consumed.
func decodeFrameHeader(buf []byte) (MessageNo, Flags, int, error) {
	n, consumed, err := varint.Uvarint(buf)
	if err != nil {
		return 0, 0, 0, &Error{Kind: ProtocolViolation, Message: "malformed frame header varint", Cause: err}
	}
	if consumed >= len(buf) {
		return 0, 0, 0, &Error{Kind: ProtocolViolation, Message: "frame truncated before flags byte"}
	}
	flags := Flags(buf[consumed])
	return MessageNo(n), flags, consumed + 1, nil
}

// updateChecksum folds raw (pre-compression) payload bytes into a running
// CRC32C accumulator. Each direction of a connection keeps one accumulator
// spanning every non-ack frame, so the 4-byte trailer doubles as a check on
// the whole stream so far, not just the current frame.
func updateChecksum(crc uint32, raw []byte) uint32 {
	return crc32.Update(crc, checksumTable, raw)
}

// appendChecksumValue appends the accumulator's current value as the frame's
// 4-byte big-endian trailer.
func appendChecksumValue(buf []byte, sum uint32) []byte {
	var tmp [checksumSize]byte
	binary.BigEndian.PutUint32(tmp[:], sum)
	return append(buf, tmp[:]...)
}

// splitChecksum separates a non-ack frame's payload from its 4-byte trailer.
func splitChecksum(frame []byte) (payload []byte, sum uint32, ok bool) {
	if len(frame) < checksumSize {
		return nil, 0, false
	}
	payload = frame[:len(frame)-checksumSize]
	sum = binary.BigEndian.Uint32(frame[len(frame)-checksumSize:])
	return payload, sum, true
}

// ackPayload encodes the UVarInt byte count carried by an ack frame's body.
func ackPayload(bytesReceived uint64) []byte {
	return varint.AppendUvarint(nil, bytesReceived)
}

func decodeAckPayload(buf []byte) (uint64, error) {
	n, _, err := varint.Uvarint(buf)
	if err != nil {
		return 0, &Error{Kind: ProtocolViolation, Message: "malformed ack payload", Cause: err}
	}
	return n, nil
}
