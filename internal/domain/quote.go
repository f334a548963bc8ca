package domain

import "time"

// PriceUpdate is a normalized top-of-book tick for a single pair.
type PriceUpdate struct {
	Symbol string  `json:"symbol"`
	Bid    float64 `json:"bid"`
	BidQty float64 `json:"bidQty"`
	Ask    float64 `json:"ask"`
	AskQty float64 `json:"askQty"`
}

// Quote is the latest known top of book for a pair symbol.
type Quote struct {
	Symbol    string    `json:"symbol"`
	Bid       float64   `json:"bid"`
	BidQty    float64   `json:"bidQty"`
	Ask       float64   `json:"ask"`
	AskQty    float64   `json:"askQty"`
	UpdatedAt time.Time `json:"lastUpdate"`
}
