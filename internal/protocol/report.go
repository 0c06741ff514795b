package protocol

// ReportType discriminates outbound relay frames.
type ReportType string

const (
	ReportHeartbeat   ReportType = "heartbeat"
	ReportCommandAck  ReportType = "command_ack"
	ReportOrderUpdate ReportType = "order_update"
	ReportPosition    ReportType = "position"
	ReportSettlement  ReportType = "settlement"
	ReportError       ReportType = "error"
)

// ErrorCode classifies failures surfaced through error reports.
type ErrorCode string

const (
	CodeGatewayPaused              ErrorCode = "GATEWAY_PAUSED"
	CodeGatewayShutdown            ErrorCode = "GATEWAY_SHUTDOWN"
	CodeGatewayStopped             ErrorCode = "GATEWAY_STOPPED"
	CodeVenueNotFound              ErrorCode = "VENUE_NOT_FOUND"
	CodeVenueUnhealthy             ErrorCode = "VENUE_UNHEALTHY"
	CodeInvalidMarketID            ErrorCode = "INVALID_MARKET_ID"
	CodeOrderNotFound              ErrorCode = "ORDER_NOT_FOUND"
	CodeOrderPlacementFailed       ErrorCode = "ORDER_PLACEMENT_FAILED"
	CodeOrderRejected              ErrorCode = "ORDER_REJECTED"
	CodeCancelFailed               ErrorCode = "CANCEL_FAILED"
	CodeCancelAllFailed            ErrorCode = "CANCEL_ALL_FAILED"
	CodeArbLeg1Failed              ErrorCode = "ARB_LEG1_FAILED"
	CodeArbLeg2FailedHedgeRequired ErrorCode = "ARB_LEG2_FAILED_HEDGE_REQUIRED"
	CodePairingTimeout             ErrorCode = "PAIRING_TIMEOUT"
	CodeConfig                     ErrorCode = "CONFIG"
)

// AckAccepted is the only ack status: the gateway never rejects a command at
// the relay layer.
const AckAccepted = "accepted"

// CommandAck acknowledges receipt of a command, sent at most once per
// command id.
type CommandAck struct {
	Type      ReportType `json:"type"`
	CommandID string     `json:"command_id"`
	Status    string     `json:"status"`
}

// NewCommandAck builds the accepted ack for a command id.
func NewCommandAck(commandID string) CommandAck {
	return CommandAck{Type: ReportCommandAck, CommandID: commandID, Status: AckAccepted}
}

// Heartbeat is the periodic liveness report sent while connected.
type Heartbeat struct {
	Type            ReportType       `json:"type"`
	UptimeSecs      int64            `json:"uptime_secs"`
	Version         string           `json:"version"`
	StrategyStatus  string           `json:"strategy_status"`
	ConnectedVenues []string         `json:"connected_venues"`
	OpenOrders      int              `json:"open_orders"`
	OpenPositions   int              `json:"open_positions"`
	StrategyMetrics map[string]int64 `json:"strategy_metrics,omitempty"`
}

// OrderUpdate reports one lifecycle transition of a tracked order.
type OrderUpdate struct {
	Type         ReportType  `json:"type"`
	OrderID      string      `json:"order_id"`
	CommandID    string      `json:"command_id,omitempty"`
	Venue        string      `json:"venue"`
	MarketID     string      `json:"market_id"`
	VenueOrderID string      `json:"venue_order_id,omitempty"`
	Status       OrderStatus `json:"status"`
	Side         string      `json:"side,omitempty"`
	Action       string      `json:"action,omitempty"`
	Size         float64     `json:"size,omitempty"`
	FillPrice    *float64    `json:"fill_price,omitempty"`
	Error        string      `json:"error,omitempty"`
}

// NewOrderUpdate builds an order_update frame from a tracked order.
func NewOrderUpdate(o Order) OrderUpdate {
	return OrderUpdate{
		Type:         ReportOrderUpdate,
		OrderID:      o.OrderID,
		CommandID:    o.CommandID,
		Venue:        o.Venue,
		MarketID:     o.MarketID,
		VenueOrderID: o.VenueOrderID,
		Status:       o.Status,
		Side:         o.Side,
		Action:       o.Action,
		Size:         o.Size,
		FillPrice:    o.FillPrice,
		Error:        o.Error,
	}
}

// PositionReport wraps a position as an outbound frame.
type PositionReport struct {
	Type ReportType `json:"type"`
	Position
}

// NewPositionReport builds a position frame.
func NewPositionReport(p Position) PositionReport {
	return PositionReport{Type: ReportPosition, Position: p}
}

// SettlementReport wraps a settlement record as an outbound frame.
type SettlementReport struct {
	Type ReportType `json:"type"`
	Settlement
}

// NewSettlementReport builds a settlement frame.
func NewSettlementReport(s Settlement) SettlementReport {
	return SettlementReport{Type: ReportSettlement, Settlement: s}
}

// ErrorReport surfaces a classified failure to the relay.
type ErrorReport struct {
	Type      ReportType `json:"type"`
	Code      ErrorCode  `json:"code"`
	Message   string     `json:"message,omitempty"`
	Venue     string     `json:"venue,omitempty"`
	MarketID  string     `json:"market_id,omitempty"`
	CommandID string     `json:"command_id,omitempty"`
	OrderID   string     `json:"order_id,omitempty"`
}

// NewErrorReport builds an error frame with the given code and message.
func NewErrorReport(code ErrorCode, message string) ErrorReport {
	return ErrorReport{Type: ReportError, Code: code, Message: message}
}
