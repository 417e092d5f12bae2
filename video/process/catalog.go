package process

import (
	"errors"
	"fmt"
)

// ErrUnknownClass is returned when an engine reports a class index the
// catalog does not know about.
var ErrUnknownClass = errors.New("unknown class index")

// ClassCatalog maps the class indices produced by the model to the names it
// was trained with. Order matters: index i is names[i].
type ClassCatalog struct {
	names []string
	index map[string]int
}

func NewClassCatalog(names []string) (*ClassCatalog, error) {
	if len(names) == 0 {
		return nil, errors.New("empty class catalog")
	}
	c := &ClassCatalog{
		names: append([]string(nil), names...),
		index: make(map[string]int, len(names)),
	}
	for i, n := range names {
		if n == "" {
			return nil, fmt.Errorf("class %d has no name", i)
		}
		if _, ok := c.index[n]; ok {
			return nil, fmt.Errorf("duplicate class name %q", n)
		}
		c.index[n] = i
	}
	return c, nil
}

// Name resolves a class index.
func (c *ClassCatalog) Name(idx int) (string, error) {
	if idx < 0 || idx >= len(c.names) {
		return "", fmt.Errorf("%w %d (catalog has %d classes)", ErrUnknownClass, idx, len(c.names))
	}
	return c.names[idx], nil
}

func (c *ClassCatalog) Index(name string) (int, bool) {
	i, ok := c.index[name]
	return i, ok
}

func (c *ClassCatalog) Len() int {
	return len(c.names)
}
