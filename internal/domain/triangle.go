package domain

// Direction is the traversal order of a triangle.
type Direction string

const (
	// DirectionForward trades A->B->C->A.
	DirectionForward Direction = "forward"
	// DirectionReverse trades A->C->B->A.
	DirectionReverse Direction = "reverse"
)

// Directions lists both traversal orders in evaluation order.
var Directions = [2]Direction{DirectionForward, DirectionReverse}

// Triangle is a closed cycle of three assets connected by three pairs.
// Currencies holds [A, B, C] and Pairs holds [AB, BC, CA].
type Triangle struct {
	Key        string    `json:"key"`
	Currencies [3]string `json:"currencies"`
	Pairs      [3]string `json:"pairs"`
}

// Leg is one hop of a triangle traversal.
type Leg struct {
	From   string
	To     string
	Symbol string
}

// Legs returns the three hops of the triangle in the given direction.
func (t Triangle) Legs(dir Direction) [3]Leg {
	a, b, c := t.Currencies[0], t.Currencies[1], t.Currencies[2]
	if dir == DirectionReverse {
		return [3]Leg{
			{From: a, To: c, Symbol: t.Pairs[2]},
			{From: c, To: b, Symbol: t.Pairs[1]},
			{From: b, To: a, Symbol: t.Pairs[0]},
		}
	}
	return [3]Leg{
		{From: a, To: b, Symbol: t.Pairs[0]},
		{From: b, To: c, Symbol: t.Pairs[1]},
		{From: c, To: a, Symbol: t.Pairs[2]},
	}
}

// HasPair reports whether symbol is one of the triangle's pairs.
func (t Triangle) HasPair(symbol string) bool {
	return t.Pairs[0] == symbol || t.Pairs[1] == symbol || t.Pairs[2] == symbol
}
