package mission

// Command is a lifecycle request. Complete and Fail are issued by the
// simulator only.
type Command string

const (
	CommandSchedule Command = "schedule"
	CommandStart    Command = "start"
	CommandPause    Command = "pause"
	CommandResume   Command = "resume"
	CommandAbort    Command = "abort"
	CommandComplete Command = "complete"
	CommandFail     Command = "fail"
)

type edge struct {
	from []Status
	to   Status
}

var table = map[Command]edge{
	CommandSchedule: {from: []Status{StatusDraft}, to: StatusScheduled},
	CommandStart:    {from: []Status{StatusDraft, StatusScheduled}, to: StatusInProgress},
	CommandPause:    {from: []Status{StatusInProgress}, to: StatusPaused},
	CommandResume:   {from: []Status{StatusPaused}, to: StatusInProgress},
	CommandAbort:    {from: []Status{StatusDraft, StatusScheduled, StatusInProgress, StatusPaused}, to: StatusAborted},
	CommandComplete: {from: []Status{StatusInProgress}, to: StatusCompleted},
	CommandFail:     {from: []Status{StatusInProgress, StatusPaused}, to: StatusFailed},
}

// Transition returns the status reached by applying cmd in from, or an
// InvalidTransitionError when the table has no such edge.
func Transition(from Status, cmd Command) (Status, error) {
	e, ok := table[cmd]
	if ok {
		for _, s := range e.from {
			if s == from {
				return e.to, nil
			}
		}
	}
	return from, &InvalidTransitionError{From: from, Attempted: cmd}
}

// Allowed lists the commands accepted in status s.
func Allowed(s Status) []Command {
	var out []Command
	for _, cmd := range Commands() {
		if _, err := Transition(s, cmd); err == nil {
			out = append(out, cmd)
		}
	}
	return out
}

// Commands returns every command in table order.
func Commands() []Command {
	return []Command{CommandSchedule, CommandStart, CommandPause, CommandResume, CommandAbort, CommandComplete, CommandFail}
}

// Statuses returns every status.
func Statuses() []Status {
	return []Status{StatusDraft, StatusScheduled, StatusInProgress, StatusPaused, StatusCompleted, StatusAborted, StatusFailed}
}
