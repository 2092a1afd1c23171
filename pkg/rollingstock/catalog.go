package rollingstock

import (
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Catalog indexes rolling stock by name. It is read-only once loaded.
type Catalog struct {
	stocks map[string]*RollingStock
}

type catalogFile struct {
	RollingStocks []*RollingStock `yaml:"rolling_stocks"`
}

// NewCatalog indexes stocks by name. Names must be unique and non-empty.
func NewCatalog(stocks ...*RollingStock) (*Catalog, error) {
	c := &Catalog{stocks: make(map[string]*RollingStock, len(stocks))}
	for _, rs := range stocks {
		if rs.Name == "" {
			return nil, fmt.Errorf("rolling stock without a name")
		}
		if _, dup := c.stocks[rs.Name]; dup {
			return nil, fmt.Errorf("duplicate rolling stock %q", rs.Name)
		}
		c.stocks[rs.Name] = rs
	}
	return c, nil
}

// DecodeCatalog reads a YAML catalog with a top-level rolling_stocks list.
func DecodeCatalog(r io.Reader) (*Catalog, error) {
	var f catalogFile
	if err := yaml.NewDecoder(r).Decode(&f); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode rolling stock catalog: %w", err)
	}
	return NewCatalog(f.RollingStocks...)
}

// LoadCatalog reads a YAML catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return DecodeCatalog(f)
}

// Get returns the stock named name.
func (c *Catalog) Get(name string) (*RollingStock, error) {
	rs, ok := c.stocks[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRollingStock, name)
	}
	return rs, nil
}

// Names returns the catalog's stock names, sorted.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.stocks))
	for n := range c.stocks {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of stocks.
func (c *Catalog) Len() int { return len(c.stocks) }
