package evaluation

// StateCache memoizes oracle scores that are stable across explanations,
// such as original predictions per event id. It is owned by exactly one
// evaluation session and cleared when the session closes; nothing in the
// process shares it.
type StateCache struct {
	values map[string]float64
}

// NewStateCache creates an empty cache.
func NewStateCache() *StateCache {
	return &StateCache{values: make(map[string]float64)}
}

// Get returns the cached value for key.
func (c *StateCache) Get(key string) (float64, bool) {
	v, ok := c.values[key]
	return v, ok
}

// Put stores value under key.
func (c *StateCache) Put(key string, value float64) {
	c.values[key] = value
}

// Len returns the number of cached entries.
func (c *StateCache) Len() int {
	return len(c.values)
}

// Clear drops all entries.
func (c *StateCache) Clear() {
	c.values = make(map[string]float64)
}
