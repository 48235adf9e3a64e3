package strategy

import (
	"fmt"

	"github.com/google/uuid"
)

// IDGenerator names new positions.
type IDGenerator func() string

// UUIDs returns random position IDs for live trading.
func UUIDs() IDGenerator {
	return uuid.NewString
}

// Sequential returns prefix-000001, prefix-000002, ... so replays produce
// identical ledgers.
func Sequential(prefix string) IDGenerator {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("%s-%06d", prefix, n)
	}
}
