package arbitrage

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/tidwall/gjson"

	"github.com/alanyoungcy/triarb/internal/domain"
)

var errMalformedPayload = errors.New("malformed price payload")

// ParsePriceUpdate decodes a top-of-book payload. It accepts the exchange
// bookTicker shape ({s,b,B,a,A}), optionally wrapped in a combined-stream
// envelope ({stream,data}), and the normalized {symbol,bid,bidQty,ask,askQty}
// shape. Numbers may be JSON numbers or numeric strings.
func ParsePriceUpdate(raw []byte) (domain.PriceUpdate, error) {
	if !gjson.ValidBytes(raw) {
		return domain.PriceUpdate{}, errMalformedPayload
	}
	root := gjson.ParseBytes(raw)
	if data := root.Get("data"); data.IsObject() {
		root = data
	}

	fields := [5]string{"s", "b", "B", "a", "A"}
	if root.Get("symbol").Exists() {
		fields = [5]string{"symbol", "bid", "bidQty", "ask", "askQty"}
	}

	symbol := root.Get(fields[0]).String()
	if symbol == "" {
		return domain.PriceUpdate{}, fmt.Errorf("%w: missing symbol", errMalformedPayload)
	}
	var nums [4]float64
	for i, f := range fields[1:] {
		v, err := number(root.Get(f))
		if err != nil {
			return domain.PriceUpdate{}, fmt.Errorf("%w: field %s: %v", errMalformedPayload, f, err)
		}
		nums[i] = v
	}
	return domain.PriceUpdate{
		Symbol: symbol,
		Bid:    nums[0],
		BidQty: nums[1],
		Ask:    nums[2],
		AskQty: nums[3],
	}, nil
}

func number(r gjson.Result) (float64, error) {
	switch r.Type {
	case gjson.Number:
		return r.Num, nil
	case gjson.String:
		return strconv.ParseFloat(r.Str, 64)
	default:
		return 0, fmt.Errorf("unexpected type %s", r.Type)
	}
}
