package codec

import (
	"strconv"
	"strings"

	"github.com/nugget/tlcp-client/internal/protocol"
)

// DecodeFieldVector parses a `|`-separated update field list per §4.6:
// `#` is null, `$` is empty string, `^n` marks n consecutive slots as
// unchanged (the caller resolves their value against the previous full
// vector via MergeFieldVector), and `%hex` escapes bytes within a
// value.
func DecodeFieldVector(s string) ([]Field, error) {
	if s == "" {
		return nil, nil
	}
	raw := strings.Split(s, "|")
	out := make([]Field, 0, len(raw))

	for _, tok := range raw {
		switch {
		case tok == "#":
			out = append(out, Field{IsNull: true})
		case tok == "$":
			out = append(out, Field{Value: ""})
		case strings.HasPrefix(tok, "^"):
			n, err := strconv.Atoi(tok[1:])
			if err != nil || n <= 0 {
				return nil, &protocol.ProtocolError{Line: s, Reason: "invalid ^n run length"}
			}
			for i := 0; i < n; i++ {
				out = append(out, Field{Unchanged: true})
			}
		default:
			out = append(out, Field{Value: protocol.DecodeValue(tok)})
		}
	}
	return out, nil
}

// MergeFieldVector applies decoded fields on top of a previous full
// vector, returning the new full vector and the 1-based positions
// not marked unchanged in decoded, even where the new value equals the
// previous one (Invariant 2, §8).
func MergeFieldVector(prev []string, decoded []Field) (merged []string, changed []int) {
	merged = make([]string, len(decoded))
	for i, f := range decoded {
		if f.Unchanged {
			if i < len(prev) {
				merged[i] = prev[i]
			}
			continue
		}
		merged[i] = f.Value
		changed = append(changed, i+1)
	}
	return merged, changed
}
