package currency

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseDeposit parses the deposit description sent by the in-game donation
// box, e.g. "2 World Lock, 1 Diamond Lock, 3 Blue Gem Lock". Segments are
// comma-separated; each starts with a count followed by the lock name.
// Unrecognized segments are an error so a malformed webhook never credits a
// partial amount.
func ParseDeposit(deposit string) (Lock, error) {
	var out Lock
	seen := false

	for _, part := range strings.Split(deposit, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		fields := strings.Fields(part)
		if len(fields) < 2 {
			return Zero, fmt.Errorf("malformed deposit segment %q", part)
		}
		count, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil || count < 0 {
			return Zero, fmt.Errorf("malformed deposit count %q", fields[0])
		}

		switch {
		case strings.Contains(part, "Blue Gem Lock"):
			out.BGL += count
		case strings.Contains(part, "Diamond Lock"):
			out.DL += count
		case strings.Contains(part, "World Lock"):
			out.WL += count
		default:
			return Zero, fmt.Errorf("unknown deposit item %q", part)
		}
		seen = true
	}

	if !seen {
		return Zero, fmt.Errorf("empty deposit")
	}
	return out, nil
}
