package fetch

import (
	"sync"
)

// WorldResolver maps a world id to the name used in request paths.
type WorldResolver interface {
	WorldName(worldID uint32) (string, bool)
}

// WorldNames caches the results of a WorldResolver. Misses are not cached.
type WorldNames struct {
	resolver WorldResolver
	names    sync.Map // uint32 -> string
}

// NewWorldNames wraps resolver with a cache.
func NewWorldNames(resolver WorldResolver) *WorldNames {
	return &WorldNames{resolver: resolver}
}

// WorldName returns the cached name, asking the resolver on first use.
func (w *WorldNames) WorldName(worldID uint32) (string, bool) {
	if name, ok := w.names.Load(worldID); ok {
		return name.(string), true
	}
	if w.resolver == nil {
		return "", false
	}

	name, ok := w.resolver.WorldName(worldID)
	if !ok || name == "" {
		return "", false
	}
	w.names.Store(worldID, name)
	return name, true
}
