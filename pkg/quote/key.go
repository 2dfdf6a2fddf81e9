package quote

import (
	"fmt"
	"strconv"
	"strings"
)

// Key identifies a quote by item and world (location).
type Key struct {
	// ItemID is the game item identifier.
	ItemID uint32

	// WorldID is the market location the quote is scoped to.
	WorldID uint32
}

// NewKey builds a Key.
func NewKey(itemID, worldID uint32) Key {
	return Key{ItemID: itemID, WorldID: worldID}
}

// String generates a deterministic key string.
// Format: item:world
//
// Example:
//
//	5333:21
func (k Key) String() string {
	return strconv.FormatUint(uint64(k.ItemID), 10) + ":" + strconv.FormatUint(uint64(k.WorldID), 10)
}

// ParseKey is the inverse of Key.String.
func ParseKey(s string) (Key, error) {
	itemStr, worldStr, ok := strings.Cut(s, ":")
	if !ok {
		return Key{}, fmt.Errorf("invalid quote key %q", s)
	}

	itemID, err := strconv.ParseUint(itemStr, 10, 32)
	if err != nil {
		return Key{}, fmt.Errorf("parse item id in %q: %w", s, err)
	}

	worldID, err := strconv.ParseUint(worldStr, 10, 32)
	if err != nil {
		return Key{}, fmt.Errorf("parse world id in %q: %w", s, err)
	}

	return Key{ItemID: uint32(itemID), WorldID: uint32(worldID)}, nil
}
