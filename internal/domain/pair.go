package domain

// PairStatusTrading is the exchange status of a pair open for trading.
const PairStatusTrading = "TRADING"

// Pair is a tradable base/quote market as listed by the exchange.
type Pair struct {
	Symbol     string `json:"symbol"`
	BaseAsset  string `json:"baseAsset"`
	QuoteAsset string `json:"quoteAsset"`
	Status     string `json:"status"`
}

// Trading reports whether the pair is open for trading.
func (p Pair) Trading() bool {
	return p.Status == PairStatusTrading
}

// Touches reports whether asset is the base or quote of the pair.
func (p Pair) Touches(asset string) bool {
	return p.BaseAsset == asset || p.QuoteAsset == asset
}

// Coin is an asset of the universe along with the number of pairs it trades in.
type Coin struct {
	Asset     string `json:"asset"`
	PairCount int    `json:"pairCount"`
}
