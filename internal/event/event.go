package event

import "time"

// Event is the canonical, normalized seismic occurrence.
type Event struct {
	ID        string    `json:"id"`
	Place     string    `json:"place"`
	Magnitude float64   `json:"magnitude"`
	Depth     float64   `json:"depth"` // km
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Time      time.Time `json:"time"`
	Source    string    `json:"source"`
	Verified  bool      `json:"verified"`
	Tsunami   bool      `json:"tsunami"`
}

// Severity of an alert.
type Severity string

const (
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Alert is emitted once for every qualifying new event.
type Alert struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	Severity  Severity  `json:"severity"`
	Magnitude float64   `json:"magnitude"`
	Location  string    `json:"location"`
	EventID   string    `json:"event_id"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}
