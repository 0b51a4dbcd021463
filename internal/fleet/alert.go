// ABOUTME: Fleet alert types for surfacing soft violations and budget trips
// ABOUTME: Alerts acknowledge exactly once; duplicates from retries are tolerated

package fleet

import "time"

// Severity grades an alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is one entry in the fleet alert log.
type Alert struct {
	ID           string    `json:"id"`
	Severity     Severity  `json:"severity"`
	Message      string    `json:"message"`
	InstanceID   string    `json:"instance_id,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	Acknowledged bool      `json:"acknowledged"`
}

func (a *Alert) clone() *Alert {
	c := *a
	return &c
}
