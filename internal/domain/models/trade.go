package models

import (
	"encoding/json"
	"time"
)

// Side of a trade as reported by the exchange feed.
type Side string

const (
	SideBuy     Side = "buy"
	SideSell    Side = "sell"
	SideUnknown Side = "unknown"
)

// TradeEvent is the normalized trade model every provider adapter emits.
// It is treated as immutable once constructed; enrichment attaches a
// WhaleClassification before delivery, never mutates the trade fields.
type TradeEvent struct {
	Symbol    string          `json:"symbol"`
	Timestamp time.Time       `json:"timestamp"`
	Price     float64         `json:"price"`
	Size      float64         `json:"size"`
	Side      Side            `json:"side"`
	Exchange  string          `json:"exchange"`
	TradeID   string          `json:"trade_id,omitempty"`
	USDValue  float64         `json:"usd_value"`
	Raw       json.RawMessage `json:"-"`

	// Whale is nil until the detector has classified the trade.
	Whale *WhaleClassification `json:"whale,omitempty"`
}

// WhaleClassification is the detector's verdict for a single trade.
// It exists only on outgoing events and is never persisted standalone.
type WhaleClassification struct {
	Percentile       float64 `json:"percentile"`
	Rank             int     `json:"rank"`
	IsWhale          bool    `json:"is_whale"`
	Threshold        float64 `json:"threshold"`
	InsufficientData bool    `json:"insufficient_data,omitempty"`
}

// SymbolStatistics summarizes the current rolling volume window of one symbol.
type SymbolStatistics struct {
	Symbol      string          `json:"symbol"`
	Count       int             `json:"count"`
	Mean        float64         `json:"mean"`
	Median      float64         `json:"median"`
	StdDev      float64         `json:"std_dev"`
	Min         float64         `json:"min"`
	Max         float64         `json:"max"`
	Percentiles map[int]float64 `json:"percentiles"`
}
