package model

// DaemonState is the connection state of a broker daemon as displayed on the
// plugin page.
type DaemonState string

const (
	DaemonUnchecked DaemonState = "unchecked"
	DaemonOK        DaemonState = "ok"
	DaemonPOK       DaemonState = "pok"
	DaemonNOK       DaemonState = "nok"
)

// Status payloads published by the daemon on <clientId>/status.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// DaemonEvent is a change applied to a broker that may move its daemon.
type DaemonEvent int

const (
	// EventEnable enables the broker equipment.
	EventEnable DaemonEvent = iota
	// EventDisable disables the broker equipment.
	EventDisable
	// EventUnreachable points the broker at an address or port where no
	// MQTT server answers.
	EventUnreachable
	// EventReachable points the broker back at a live MQTT server.
	EventReachable
	// EventRestart restarts the daemon without changing its target.
	EventRestart
)

// String returns the event name.
func (e DaemonEvent) String() string {
	switch e {
	case EventEnable:
		return "enable"
	case EventDisable:
		return "disable"
	case EventUnreachable:
		return "unreachable"
	case EventReachable:
		return "reachable"
	case EventRestart:
		return "restart"
	default:
		return "unknown"
	}
}

// Next returns the state reached after ev.
//
//	unchecked -> ok
//	ok <-> pok (unreachable / reachable)
//	ok, pok -> nok (disable), nok -> ok (enable)
func (s DaemonState) Next(ev DaemonEvent) DaemonState {
	switch ev {
	case EventDisable:
		return DaemonNOK
	case EventEnable:
		if s == DaemonPOK {
			return DaemonPOK
		}
		return DaemonOK
	case EventUnreachable:
		if s == DaemonNOK {
			return DaemonNOK
		}
		return DaemonPOK
	case EventReachable:
		if s == DaemonNOK {
			return DaemonNOK
		}
		return DaemonOK
	default:
		if s == DaemonUnchecked {
			return DaemonOK
		}
		return s
	}
}

// Online reports whether the daemon publishes "online" in this state.
func (s DaemonState) Online() bool {
	return s == DaemonOK
}

// StatusPayload returns the retained status payload matching the state.
func (s DaemonState) StatusPayload() string {
	if s.Online() {
		return StatusOnline
	}
	return StatusOffline
}

// ExpectedStatusMessages returns the status payloads a capture on the broker
// status topic must observe when the broker equipment is saved.
//
// enableChanged is set when the save toggled the enable flag; restarted when
// a parameter requiring a daemon restart changed. prev is the daemon state
// before the save and next the state after it.
func ExpectedStatusMessages(prev, next DaemonState, enableChanged, restarted bool) []string {
	msgs := []string{}
	switch {
	case enableChanged:
		msgs = append(msgs, next.StatusPayload())
	case restarted:
		if prev.Online() {
			msgs = append(msgs, StatusOffline)
		}
		if next.Online() {
			msgs = append(msgs, StatusOnline)
		}
	}
	return msgs
}

// ExpectedEquipmentStatusMessages returns the status payloads observed when
// saving a regular equipment restarts its broker daemon.
func ExpectedEquipmentStatusMessages(restarted bool) []string {
	if restarted {
		return []string{StatusOffline, StatusOnline}
	}
	return []string{}
}
