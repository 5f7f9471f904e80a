package domain

// CheermoteCatalog is the normalized set of cheermotes usable in a channel,
// ordered by name.
type CheermoteCatalog struct {
	Cheermotes []Cheermote `json:"cheermotes"`
}

type Cheermote struct {
	Name  string          `json:"name"`
	Tiers []CheermoteTier `json:"tiers"`
}

// CheermoteTier is one bit threshold of a cheermote. Images maps a
// "theme/format/scale" key (e.g. "dark/animated/1") to an image URL.
type CheermoteTier struct {
	ID      string            `json:"id"`
	MinBits int64             `json:"minBits"`
	Color   string            `json:"color,omitempty"`
	Images  map[string]string `json:"images"`
}

// Names returns the cheermote names in catalog order.
func (c CheermoteCatalog) Names() []string {
	out := make([]string, 0, len(c.Cheermotes))
	for _, cm := range c.Cheermotes {
		out = append(out, cm.Name)
	}
	return out
}
