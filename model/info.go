package model

// SinkInfo is a snapshot of a provisioned sink.
type SinkInfo struct {
	ID       string       `json:"id"`
	Template SinkTemplate `json:"template"`
	Accepted int64        `json:"accepted"`
	Failed   int64        `json:"failed"`
	Closed   bool         `json:"closed"`
}

// ReactionInfo is a snapshot of a reaction.
type ReactionInfo struct {
	ID        string           `json:"id"`
	State     string           `json:"state"`
	Template  ReactionTemplate `json:"template"`
	Sinks     []SinkInfo       `json:"sinks"`
	Handled   int64            `json:"events_handled"`
	Failed    int64            `json:"handler_failures"`
	LastError string           `json:"last_error,omitempty"`
}

// SensorInfo is a snapshot of a sensor.
type SensorInfo struct {
	ID              string         `json:"id"`
	Template        SensorTemplate `json:"template"`
	State           string         `json:"state"`
	EventsSampled   int64          `json:"events_sampled"`
	EventsForwarded int64          `json:"events_forwarded"`
	EventsDiscarded int64          `json:"events_discarded"`
	LastError       string         `json:"last_error,omitempty"`
}
