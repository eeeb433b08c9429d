package version

import (
	"fmt"

	"github.com/adred-codev/blip/internal/hlc"
	"github.com/adred-codev/blip/internal/varint"
)

// Binary form: a leading 0x00 byte (legacy revid digests never start with a
// NUL, so this disambiguates a VersionVector from a tree-revision digest on
// the wire), a UVarInt entry count, a UVarInt nCurrent, then per entry a
// source tag (0 = Me, 1 = explicit 16-byte id follows) and a UVarInt time:
// the first entry's time is "compressed" directly; later entries encode the
// zigzag-compressed *delta* from the previous entry's time, which is small
// and usually negative since entries are time-descending.

const binaryTag = 0x00

func compressTime(t hlc.Time) uint64 {
	if t&0xFFFF != 0 {
		return 2*uint64(t) + 1
	}
	return uint64(t) / 0x8000
}

func decompressTime(c uint64) hlc.Time {
	if c&1 != 0 {
		return hlc.Time(c >> 1)
	}
	return hlc.Time(c * 0x8000)
}

// AppendBinary appends v's binary encoding to buf.
func (v *VersionVector) AppendBinary(buf []byte) []byte {
	buf = append(buf, binaryTag)
	buf = varint.AppendUvarint(buf, uint64(len(v.versions)))
	buf = varint.AppendUvarint(buf, uint64(v.nCurrent))
	var prev hlc.Time
	for i, ver := range v.versions {
		if ver.Source.IsMe() {
			buf = varint.AppendUvarint(buf, 0)
		} else {
			buf = varint.AppendUvarint(buf, 1)
			buf = append(buf, ver.Source[:]...)
		}
		if i == 0 {
			buf = varint.AppendUvarint(buf, compressTime(ver.Time))
		} else {
			delta := int64(ver.Time) - int64(prev)
			buf = varint.AppendUvarint(buf, varint.Zigzag(delta))
		}
		prev = ver.Time
	}
	return buf
}

// ParseBinary decodes the form produced by AppendBinary, returning the
// vector and the number of bytes consumed.
func ParseBinary(buf []byte) (*VersionVector, int, error) {
	if len(buf) == 0 || buf[0] != binaryTag {
		return nil, 0, fmt.Errorf("version: missing binary tag byte")
	}
	r := varint.NewReader(buf[1:])
	n, err := r.ReadUvarint()
	if err != nil {
		return nil, 0, fmt.Errorf("version: truncated count: %w", err)
	}
	nCurrent, err := r.ReadUvarint()
	if err != nil {
		return nil, 0, fmt.Errorf("version: truncated nCurrent: %w", err)
	}
	versions := make([]Version, 0, n)
	var prev hlc.Time
	for i := uint64(0); i < n; i++ {
		tag, err := r.ReadUvarint()
		if err != nil {
			return nil, 0, fmt.Errorf("version: truncated source tag: %w", err)
		}
		var src SourceID
		if tag == 1 {
			for j := 0; j < 16; j++ {
				b, err := r.ReadByte()
				if err != nil {
					return nil, 0, fmt.Errorf("version: truncated source id: %w", err)
				}
				src[j] = b
			}
		} else if tag != 0 {
			return nil, 0, fmt.Errorf("version: invalid source tag %d", tag)
		}
		raw, err := r.ReadUvarint()
		if err != nil {
			return nil, 0, fmt.Errorf("version: truncated time: %w", err)
		}
		var t hlc.Time
		if i == 0 {
			t = decompressTime(raw)
		} else {
			delta := varint.Unzigzag(raw)
			t = hlc.Time(int64(prev) + delta)
		}
		versions = append(versions, Version{Time: t, Source: src})
		prev = t
	}
	vv, err := New(versions, int(nCurrent))
	if err != nil {
		return nil, 0, err
	}
	return vv, 1 + (len(buf) - 1 - r.Len()), nil
}
