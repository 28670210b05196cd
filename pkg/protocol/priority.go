package protocol

import "fmt"

// Priority orders frames for backpressure decisions and client-side urgency.
// The numeric values define the total order Low < Normal < High < Critical.
type Priority int32

const (
	PriorityLow      Priority = 10
	PriorityNormal   Priority = 20
	PriorityHigh     Priority = 30
	PriorityCritical Priority = 40
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return fmt.Sprintf("priority(%d)", int32(p))
	}
}

// ParsePriority resolves a wire name. The empty string maps to PriorityNormal.
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "low":
		return PriorityLow, nil
	case "", "normal":
		return PriorityNormal, nil
	case "high":
		return PriorityHigh, nil
	case "critical":
		return PriorityCritical, nil
	}
	return 0, fmt.Errorf("protocol: unknown priority %q", s)
}

func (p Priority) MarshalText() ([]byte, error) {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical:
		return []byte(p.String()), nil
	}
	return nil, fmt.Errorf("protocol: cannot marshal %s", p)
}

func (p *Priority) UnmarshalText(b []byte) error {
	parsed, err := ParsePriority(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
