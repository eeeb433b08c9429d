package version

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/adred-codev/blip/internal/hlc"
)

// Version is a single (logicalTime, SourceID) pair: one peer's contribution
// to a VersionVector.
type Version struct {
	Time   hlc.Time
	Source SourceID
}

// String renders a Version as "time@peer".
func (v Version) String() string {
	return strconv.FormatUint(uint64(v.Time), 10) + "@" + v.Source.String()
}

// ParseVersion parses the "time@peer" form produced by String.
func ParseVersion(s string) (Version, error) {
	at := strings.IndexByte(s, '@')
	if at < 0 {
		return Version{}, fmt.Errorf("version: malformed version %q", s)
	}
	t, err := strconv.ParseUint(s[:at], 10, 64)
	if err != nil {
		return Version{}, fmt.Errorf("version: malformed time in %q: %w", s, err)
	}
	src, err := ParseSourceID(s[at+1:])
	if err != nil {
		return Version{}, fmt.Errorf("version: malformed source in %q: %w", s, err)
	}
	return Version{Time: hlc.Time(t), Source: src}, nil
}
