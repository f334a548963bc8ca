package domain

import "time"

// FeedState is the connection state of the market data feed.
type FeedState string

const (
	FeedConnecting   FeedState = "connecting"
	FeedConnected    FeedState = "connected"
	FeedDisconnected FeedState = "disconnected"
	FeedError        FeedState = "error"
)

// FeedStatus is a point-in-time view of the market data feed.
type FeedStatus struct {
	State          FeedState `json:"status"`
	Connections    int       `json:"connections"`
	Connected      int       `json:"connected"`
	Symbols        int       `json:"symbols"`
	MessagesPerSec float64   `json:"messagesPerSecond"`
	TotalMessages  int64     `json:"totalMessages"`
	Dropped        int64     `json:"dropped"`
	Reconnects     int64     `json:"reconnects"`
	LastError      string    `json:"lastError,omitempty"`
	UpdatedAt      time.Time `json:"updatedAt"`
}
