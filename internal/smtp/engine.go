package smtp

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// Stage is a state of the submission dialogue.
type Stage int

const (
	StageInit Stage = iota
	StageGreeted
	StageHelloed
	StageAwaitingUser
	StageAwaitingPass
	StageAuthenticated
	StageMailAccepted
	StageRecipientAccepted
	StageDataReady
	StageSent
	StageClosed
)

var stageNames = [...]string{
	StageInit:              "Init",
	StageGreeted:           "Greeted",
	StageHelloed:           "Helloed",
	StageAwaitingUser:      "AwaitingUser",
	StageAwaitingPass:      "AwaitingPass",
	StageAuthenticated:     "Authenticated",
	StageMailAccepted:      "MailAccepted",
	StageRecipientAccepted: "RecipientAccepted",
	StageDataReady:         "DataReady",
	StageSent:              "Sent",
	StageClosed:            "Closed",
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return fmt.Sprintf("Stage(%d)", int(s))
	}
	return stageNames[s]
}

// Session holds everything transmitted during one attempt.
type Session struct {
	LocalName string
	Username  string
	Password  string
	From      string
	To        string

	// Data is the DATA payload including the terminating CRLF ".".
	Data string
}

// step is one exchange: the command sent in a stage and the reply codes
// that advance to the next stage.
type step struct {
	command func(*Session) string
	expect  []string

	// display replaces the command in the transcript.
	display func(*Session) string
}

var steps = [...]step{
	StageInit: {
		expect: []string{"220"},
	},
	StageGreeted: {
		command: func(s *Session) string { return "EHLO " + s.LocalName },
		expect:  []string{"250"},
	},
	StageHelloed: {
		command: func(*Session) string { return "AUTH LOGIN" },
		expect:  []string{"334"},
	},
	StageAwaitingUser: {
		command: func(s *Session) string { return base64.StdEncoding.EncodeToString([]byte(s.Username)) },
		expect:  []string{"334"},
		display: func(*Session) string { return "<username>" },
	},
	StageAwaitingPass: {
		command: func(s *Session) string { return base64.StdEncoding.EncodeToString([]byte(s.Password)) },
		expect:  []string{"235"},
		display: func(*Session) string { return "<password>" },
	},
	StageAuthenticated: {
		command: func(s *Session) string { return "MAIL FROM:<" + s.From + ">" },
		expect:  []string{"250"},
	},
	StageMailAccepted: {
		command: func(s *Session) string { return "RCPT TO:<" + s.To + ">" },
		expect:  []string{"250", "251"},
	},
	StageRecipientAccepted: {
		command: func(*Session) string { return "DATA" },
		expect:  []string{"354"},
	},
	StageDataReady: {
		command: func(s *Session) string { return s.Data },
		expect:  []string{"250"},
		display: func(s *Session) string { return fmt.Sprintf("<message %d bytes>", len(s.Data)) },
	},
}

// Run drives the dialogue over ch from the greeting to QUIT and closes ch
// before returning. Each stage advances only when the first reply line
// starts with one of its expected codes; otherwise Run stops at once and
// returns a *ProtocolError. Continuation lines ("250-") are not collected,
// so a multiline reply desynchronizes the dialogue.
//
// The returned transcript covers every exchange attempted, including the
// failing one.
func Run(ch LineChannel, s *Session) (*Transcript, error) {
	defer ch.Close()

	t := &Transcript{}

	for stage := StageInit; stage < StageSent; stage++ {
		st := steps[stage]

		var shown string
		if st.command != nil {
			cmd := st.command(s)
			shown = cmd
			if st.display != nil {
				shown = st.display(s)
			}

			if err := ch.WriteLine(cmd); err != nil {
				t.add(stage, shown, "")
				return t, &ProtocolError{Stage: stage, Expected: st.expect, Err: err}
			}
		}

		reply, err := ch.ReadLine()
		t.add(stage, shown, reply)
		if err != nil {
			return t, &ProtocolError{Stage: stage, Expected: st.expect, Err: err}
		}
		if !hasCode(reply, st.expect) {
			return t, &ProtocolError{Stage: stage, Expected: st.expect, Received: reply}
		}
		t.Stage = stage + 1
	}

	// The reply to QUIT carries no information for the outcome and is not read.
	ch.WriteLine("QUIT")
	t.add(StageSent, "QUIT", "")
	t.Stage = StageClosed

	return t, nil
}

func hasCode(reply string, codes []string) bool {
	for _, code := range codes {
		if strings.HasPrefix(reply, code) {
			return true
		}
	}
	return false
}
