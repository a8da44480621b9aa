package domain

// GemColor identifies one of the closed set of gem colors, including the
// wild joker color.
type GemColor string

const (
	White  GemColor = "white"
	Green  GemColor = "green"
	Orange GemColor = "orange"
	Purple GemColor = "purple"
	Black  GemColor = "black"
	Wild   GemColor = "wild"
)

// BasicColors lists the five payable colors, excluding Wild.
var BasicColors = []GemColor{White, Green, Orange, Purple, Black}

// AllColors lists every color including Wild, in a stable order.
var AllColors = []GemColor{White, Green, Orange, Purple, Black, Wild}

// GemSet holds a count per gem color with a defined zero for every color.
// It is used for the shared bank, player holdings, card costs, discounts
// and collection requests alike.
type GemSet struct {
	White  int `json:"white"`
	Green  int `json:"green"`
	Orange int `json:"orange"`
	Purple int `json:"purple"`
	Black  int `json:"black"`
	Wild   int `json:"wild"`
}

// Get returns the count for the given color.
func (g GemSet) Get(c GemColor) int {
	switch c {
	case White:
		return g.White
	case Green:
		return g.Green
	case Orange:
		return g.Orange
	case Purple:
		return g.Purple
	case Black:
		return g.Black
	case Wild:
		return g.Wild
	}
	return 0
}

// Set overwrites the count for the given color.
func (g *GemSet) Set(c GemColor, n int) {
	switch c {
	case White:
		g.White = n
	case Green:
		g.Green = n
	case Orange:
		g.Orange = n
	case Purple:
		g.Purple = n
	case Black:
		g.Black = n
	case Wild:
		g.Wild = n
	}
}

// Add increases the count for the given color by n. n may be negative.
func (g *GemSet) Add(c GemColor, n int) {
	g.Set(c, g.Get(c)+n)
}

// Total returns the sum of all counts including Wild.
func (g GemSet) Total() int {
	return g.White + g.Green + g.Orange + g.Purple + g.Black + g.Wild
}

// IsZero reports whether every count is zero.
func (g GemSet) IsZero() bool {
	return g.Total() == 0
}
