package arbitrage

import (
	"time"

	"github.com/alanyoungcy/triarb/internal/domain"
)

// Command is a message delivered to a running Engine.
type Command interface {
	commandName() string
}

// InitCommand replaces the engine's universe and configuration and clears
// its price cache.
type InitCommand struct {
	Triangles []domain.Triangle
	Pairs     []domain.Pair
	Config    domain.DetectionConfig
}

// PriceUpdateCommand carries an already normalized tick.
type PriceUpdateCommand struct {
	Update domain.PriceUpdate
}

// RawPriceCommand carries an undecoded exchange payload. Payloads that fail
// to parse are dropped.
type RawPriceCommand struct {
	Payload []byte
}

// ConfigUpdateCommand swaps detection parameters without touching prices.
type ConfigUpdateCommand struct {
	Config domain.DetectionConfig
}

// RequestPriceMapCommand asks for a PRICE_MAP event.
type RequestPriceMapCommand struct{}

func (InitCommand) commandName() string            { return "INIT" }
func (PriceUpdateCommand) commandName() string     { return "PRICE_UPDATE" }
func (RawPriceCommand) commandName() string        { return "PRICE_UPDATE" }
func (ConfigUpdateCommand) commandName() string    { return "CONFIG_UPDATE" }
func (RequestPriceMapCommand) commandName() string { return "REQUEST_PRICE_MAP" }

// EventType names an outbound engine event.
type EventType string

const (
	EventOpportunity EventType = "OPPORTUNITY"
	EventStats       EventType = "STATS"
	EventPriceMap    EventType = "PRICE_MAP"
)

// Stats is the once-per-second throughput report.
type Stats struct {
	PriceMapSize    int       `json:"priceMapSize"`
	ChecksPerSecond int       `json:"checksPerSecond"`
	At              time.Time `json:"at"`
}

// Event is a message emitted by an Engine. Exactly one payload field is set,
// matching Type.
type Event struct {
	Type        EventType           `json:"type"`
	SessionID   string              `json:"sessionId"`
	Opportunity *domain.Opportunity `json:"opportunity,omitempty"`
	Stats       *Stats              `json:"stats,omitempty"`
	PriceMap    []domain.Quote      `json:"priceMap,omitempty"`
}
