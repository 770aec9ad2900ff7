package chat

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const suffixLen = 9

// randomSuffix returns suffixLen base36 characters drawn from a random UUID.
func randomSuffix() string {
	u := uuid.New()
	s := strconv.FormatUint(binary.BigEndian.Uint64(u[8:]), 36)
	if len(s) < suffixLen {
		s = strings.Repeat("0", suffixLen-len(s)) + s
	}
	return s[:suffixLen]
}

// formatSessionID builds session_{bot}_{unixMillis}_{suffix}.
func formatSessionID(botID int, now time.Time, suffix string) string {
	return fmt.Sprintf("session_%d_%d_%s", botID, now.UnixMilli(), suffix)
}

// nextSessionID returns an id that differs from prev, even when the clock
// and random source repeat.
func nextSessionID(botID int, prev string, now func() time.Time, suffix func() string) string {
	const attempts = 3
	var id string
	for i := 0; i < attempts; i++ {
		id = formatSessionID(botID, now(), suffix())
		if id != prev {
			return id
		}
	}
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s%d", id, n)
		if candidate != prev {
			return candidate
		}
	}
}
