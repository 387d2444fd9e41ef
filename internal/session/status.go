package session

import (
	"fmt"
	"time"
)

// State is the manager's position in the credential lifecycle.
type State int

const (
	// StateNoSession means the store holds no credential record.
	StateNoSession State = iota
	// StateValid means the credential has more than the refresh
	// threshold of lifetime left.
	StateValid
	// StateRefreshing means a refresh call is in flight.
	StateRefreshing
	// StateRetrying means a failed refresh has a backoff retry
	// scheduled.
	StateRetrying
	// StateExpired means the credential is unusable and no automatic
	// refresh will be attempted until a new record appears.
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateNoSession:
		return "no_session"
	case StateValid:
		return "valid"
	case StateRefreshing:
		return "refreshing"
	case StateRetrying:
		return "retrying"
	case StateExpired:
		return "expired"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Trigger names the source of an evaluation. Every external signal is
// funneled through Evaluate with its trigger so state transitions stay
// in one place.
type Trigger int

const (
	// TriggerTick is the periodic check interval firing.
	TriggerTick Trigger = iota
	// TriggerWake is the host resuming from suspend.
	TriggerWake
	// TriggerOnline is connectivity returning.
	TriggerOnline
	// TriggerStoreChange is another process mutating the credential
	// store.
	TriggerStoreChange
	// TriggerAgent is a check request relayed by the background agent.
	TriggerAgent
)

func (t Trigger) String() string {
	switch t {
	case TriggerTick:
		return "tick"
	case TriggerWake:
		return "wake"
	case TriggerOnline:
		return "online"
	case TriggerStoreChange:
		return "store_change"
	case TriggerAgent:
		return "agent"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// Status is a point-in-time snapshot of derived session state.
type Status struct {
	State           State         `json:"state"`
	IsValid         bool          `json:"is_valid"`
	IsRefreshing    bool          `json:"is_refreshing"`
	Online          bool          `json:"online"`
	TimeUntilExpiry time.Duration `json:"time_until_expiry"`
	RetryCount      int           `json:"retry_count"`
	LastRefreshTime time.Time     `json:"last_refresh_time,omitempty"`
}
