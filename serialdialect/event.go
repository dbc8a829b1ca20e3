package serialdialect

import (
	"fmt"
	"strings"

	"github.com/semiline/e84bridge/port"
)

// EventKind enumerates the unsolicited AERS/ARS event codes spec.md §6
// recognizes.
type EventKind string

const (
	PodArrived EventKind = "POD_ARRIVED"
	PodRemoved EventKind = "POD_REMOVED"
	CmplLock   EventKind = "CMPL_LOCK"
	CmplUnlock EventKind = "CMPL_UNLOCK"
	AutoMode   EventKind = "AUTO_MODE"
	PowerUp    EventKind = "POWER_UP"
)

// Event is the parsed form of an unsolicited AERS or ARS line.
type Event struct {
	Kind  EventKind
	Alarm bool   // true if this arrived on an ARS (alarm) line rather than AERS
	ID    string // alarm ID, set only when Alarm is true
	Text  string // alarm text, set only when Alarm is true
}

// ParseEvent recognizes an AERS or ARS line. It returns ok=false for any
// line that is neither, leaving the caller free to try other parsers.
func ParseEvent(line string) (Event, bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Event{}, false
	}
	switch fields[0] {
	case "AERS":
		if len(fields) < 2 {
			return Event{}, false
		}
		return Event{Kind: EventKind(fields[1])}, true
	case "ARS":
		if len(fields) < 2 {
			return Event{}, false
		}
		ev := Event{Alarm: true, ID: fields[1]}
		if len(fields) > 2 {
			ev.Text = strings.Join(fields[2:], " ")
		}
		return ev, true
	default:
		return Event{}, false
	}
}

// ParseStatusFrame parses an FSD status line's whitespace-delimited
// KEY=VALUE pairs into the port.Status fields the core consumes: PIP ->
// CarrierPresent, PRTST -> LatchLocked, READY -> LptReady, ALMID ->
// LptError (non-"0000" is an active alarm).
func ParseStatusFrame(line string) (port.Status, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 || fields[0] != "FSD" {
		return port.Status{}, fmt.Errorf("serialdialect: not an FSD line: %q", line)
	}
	kv := make(map[string]string, len(fields)-1)
	for _, f := range fields[1:] {
		k, v, ok := strings.Cut(f, "=")
		if !ok {
			continue
		}
		kv[k] = v
	}
	st := port.Status{
		CarrierPresent: kv["PIP"] == "TRUE",
		LatchLocked:    kv["PRTST"] == "LOCK",
		LptReady:       kv["READY"] == "TRUE",
	}
	if almID, ok := kv["ALMID"]; ok {
		st.LptError = almID != "0000"
	}
	return st, nil
}

