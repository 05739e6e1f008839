package smtp

import (
	"log/slog"
	"strconv"
)

// Exchange is one command and the reply line read for it. Command is empty
// for the greeting, Reply is empty when nothing was read.
type Exchange struct {
	Stage   Stage
	Command string
	Reply   string
}

// Transcript records an attempt for diagnostics. Credentials and the message
// payload are replaced by placeholders.
type Transcript struct {
	Exchanges []Exchange

	// Stage is the furthest stage reached.
	Stage Stage
}

func (t *Transcript) add(stage Stage, command, reply string) {
	t.Exchanges = append(t.Exchanges, Exchange{Stage: stage, Command: command, Reply: reply})
}

// LastReply returns the most recent non-empty reply line.
func (t *Transcript) LastReply() string {
	if t == nil {
		return ""
	}
	for i := len(t.Exchanges) - 1; i >= 0; i-- {
		if r := t.Exchanges[i].Reply; r != "" {
			return r
		}
	}
	return ""
}

// Commands returns the commands in the order they were sent.
func (t *Transcript) Commands() []string {
	if t == nil {
		return nil
	}
	cmds := make([]string, 0, len(t.Exchanges))
	for _, e := range t.Exchanges {
		if e.Command != "" {
			cmds = append(cmds, e.Command)
		}
	}
	return cmds
}

// LogValue implements slog.LogValuer.
func (t *Transcript) LogValue() slog.Value {
	if t == nil {
		return slog.Value{}
	}
	attrs := make([]slog.Attr, 0, len(t.Exchanges)+1)
	attrs = append(attrs, slog.String("stage", t.Stage.String()))
	for i, e := range t.Exchanges {
		attrs = append(attrs, slog.Group(strconv.Itoa(i),
			slog.String("stage", e.Stage.String()),
			slog.String("command", e.Command),
			slog.String("reply", e.Reply),
		))
	}
	return slog.GroupValue(attrs...)
}
