package events

// EventData is the interface that all event data types must implement.
// It keeps event payloads type-safe while the bus stays generic.
type EventData interface {
	// EventType returns the event type this data is associated with
	EventType() EventType
}

// OrderPlacedData contains data for OrderPlaced events
type OrderPlacedData struct {
	OrderID   string `json:"order_id"`
	AccountID string `json:"account_id"`
	Symbol    string `json:"symbol"`
	Side      string `json:"side"`
	Kind      string `json:"kind"`
	Qty       int64  `json:"qty"`
}

// EventType returns the event type for OrderPlacedData
func (d *OrderPlacedData) EventType() EventType { return OrderPlaced }

// OrderFilledData contains data for OrderFilled events
type OrderFilledData struct {
	OrderID    string `json:"order_id"`
	AccountID  string `json:"account_id"`
	Symbol     string `json:"symbol"`
	Side       string `json:"side"`
	FilledQty  int64  `json:"filled_qty"`
	FillPrice  string `json:"fill_price"`
	TotalCosts string `json:"total_costs"`
}

// EventType returns the event type for OrderFilledData
func (d *OrderFilledData) EventType() EventType { return OrderFilled }

// OrderRejectedData contains data for OrderRejected events
type OrderRejectedData struct {
	OrderID   string `json:"order_id"`
	AccountID string `json:"account_id"`
	Symbol    string `json:"symbol"`
	Reason    string `json:"reason"`
}

// EventType returns the event type for OrderRejectedData
func (d *OrderRejectedData) EventType() EventType { return OrderRejected }

// OrderCancelledData contains data for OrderCancelled events
type OrderCancelledData struct {
	OrderID   string `json:"order_id"`
	AccountID string `json:"account_id"`
}

// EventType returns the event type for OrderCancelledData
func (d *OrderCancelledData) EventType() EventType { return OrderCancelled }

// OrderModifiedData contains data for OrderModified events
type OrderModifiedData struct {
	OrderID   string `json:"order_id"`
	AccountID string `json:"account_id"`
}

// EventType returns the event type for OrderModifiedData
func (d *OrderModifiedData) EventType() EventType { return OrderModified }

// PositionClosedData contains data for PositionClosed events
type PositionClosedData struct {
	PositionID  string `json:"position_id"`
	AccountID   string `json:"account_id"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	RealizedPnl string `json:"realized_pnl"`
}

// EventType returns the event type for PositionClosedData
func (d *PositionClosedData) EventType() EventType { return PositionClosed }

// TradeRecordedData contains data for TradeRecorded events
type TradeRecordedData struct {
	TradeID   string `json:"trade_id"`
	AccountID string `json:"account_id"`
	Symbol    string `json:"symbol"`
	Qty       int64  `json:"qty"`
	NetPnl    string `json:"net_pnl"`
}

// EventType returns the event type for TradeRecordedData
func (d *TradeRecordedData) EventType() EventType { return TradeRecorded }

// ErrorEventData contains data for ErrorOccurred events
type ErrorEventData struct {
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// EventType returns the event type for ErrorEventData
func (d *ErrorEventData) EventType() EventType { return ErrorOccurred }
