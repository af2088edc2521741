package session

import (
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// newSessionID returns a random UUID, or a timestamp plus random suffix when
// the system random source fails.
func newSessionID() string {
	id, err := uuid.NewRandom()
	if err != nil {
		return fallbackID(time.Now())
	}
	return id.String()
}

func fallbackID(now time.Time) string {
	return strconv.FormatInt(now.UnixMilli(), 10) + "-" + strconv.FormatUint(rand.Uint64(), 36)
}
