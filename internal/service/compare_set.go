package service

import "slices"

// CompareSet is a viewer's selection of assets to compare. It holds at most
// MaxCompare ids; adding to a full set evicts the oldest selection.
type CompareSet struct {
	ids []string
}

// Toggle adds id, or removes it when already selected. It returns the new
// selection.
func (c *CompareSet) Toggle(id string) []string {
	if id == "" {
		return c.IDs()
	}
	if i := slices.Index(c.ids, id); i >= 0 {
		c.ids = slices.Delete(c.ids, i, i+1)
		return c.IDs()
	}
	c.ids = append(c.ids, id)
	if len(c.ids) > MaxCompare {
		c.ids = c.ids[len(c.ids)-MaxCompare:]
	}
	return c.IDs()
}

// Clear empties the selection.
func (c *CompareSet) Clear() { c.ids = nil }

// IDs returns a copy of the selection, oldest first.
func (c *CompareSet) IDs() []string {
	return slices.Clone(c.ids)
}
