// Package events provides event management functionality.
package events

import "time"

// EventType represents different event types
type EventType string

const (
	OrderPlaced    EventType = "ORDER_PLACED"
	OrderFilled    EventType = "ORDER_FILLED"
	OrderRejected  EventType = "ORDER_REJECTED"
	OrderCancelled EventType = "ORDER_CANCELLED"
	OrderModified  EventType = "ORDER_MODIFIED"
	PositionClosed EventType = "POSITION_CLOSED"
	TradeRecorded  EventType = "TRADE_RECORDED"
	ErrorOccurred  EventType = "ERROR_OCCURRED"
)

// Event represents a system event with typed data
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Module    string    `json:"module"`
	Data      EventData `json:"data,omitempty"`
}
