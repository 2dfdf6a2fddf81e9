package config

import "slices"

// StaticCatalog answers tradability from configured item lists.
type StaticCatalog struct {
	tradable   map[uint32]struct{}
	untradable map[uint32]struct{}
}

// NewStaticCatalog builds a catalog. A non-empty tradable list restricts the
// catalog to those items.
func NewStaticCatalog(items ItemsConfig) *StaticCatalog {
	c := &StaticCatalog{untradable: toSet(items.Untradable)}
	if len(items.Tradable) > 0 {
		c.tradable = toSet(items.Tradable)
	}
	return c
}

// IsTradable reports whether itemID can be priced.
func (c *StaticCatalog) IsTradable(itemID uint32) bool {
	if itemID == 0 {
		return false
	}
	if _, ok := c.untradable[itemID]; ok {
		return false
	}
	if c.tradable == nil {
		return true
	}
	_, ok := c.tradable[itemID]
	return ok
}

// StaticWorlds resolves world ids from the configured map.
type StaticWorlds map[uint32]string

// WorldName returns the name used in API paths.
func (w StaticWorlds) WorldName(worldID uint32) (string, bool) {
	name, ok := w[worldID]
	return name, ok
}

// IDs returns the configured world ids in ascending order.
func (w StaticWorlds) IDs() []uint32 {
	ids := make([]uint32, 0, len(w))
	for id := range w {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func toSet(ids []uint32) map[uint32]struct{} {
	set := make(map[uint32]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
