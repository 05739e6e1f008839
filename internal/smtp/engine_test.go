package smtp

import (
	"encoding/base64"
	"errors"
	"reflect"
	"strings"
	"testing"
)

// fakeChannel is an in-memory LineChannel returning scripted replies.
type fakeChannel struct {
	replies  []string
	writes   []string
	failOn   string
	closed   int
	writeErr error
}

func (f *fakeChannel) ReadLine() (string, error) {
	if len(f.replies) == 0 {
		return "", &IOError{Op: "read", Err: ErrConnectionClosed}
	}
	r := f.replies[0]
	f.replies = f.replies[1:]
	return r, nil
}

func (f *fakeChannel) WriteLine(text string) error {
	if f.failOn != "" && strings.HasPrefix(text, f.failOn) {
		return f.writeErr
	}
	f.writes = append(f.writes, text)
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed++
	return nil
}

var okReplies = []string{"220 ready", "250 hello", "334 VXNlcm5hbWU6", "334 UGFzc3dvcmQ6", "235 ok", "250 ok", "251 forwarded", "354 go", "250 queued"}

func testSession() *Session {
	return &Session{
		LocalName: "example.com",
		Username:  "user",
		Password:  "secret",
		From:      "no-reply@example.com",
		To:        "ops@example.com",
		Data:      "Subject: Test\r\n\r\nhello\r\n.",
	}
}

func TestRun_Success(t *testing.T) {
	t.Parallel()

	ch := &fakeChannel{replies: append([]string(nil), okReplies...)}
	tr, err := Run(ch, testSession())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{
		"EHLO example.com",
		"AUTH LOGIN",
		base64.StdEncoding.EncodeToString([]byte("user")),
		base64.StdEncoding.EncodeToString([]byte("secret")),
		"MAIL FROM:<no-reply@example.com>",
		"RCPT TO:<ops@example.com>",
		"DATA",
		"Subject: Test\r\n\r\nhello\r\n.",
		"QUIT",
	}
	if !reflect.DeepEqual(ch.writes, want) {
		t.Errorf("writes:\ngot  %q\nwant %q", ch.writes, want)
	}
	if tr.Stage != StageClosed {
		t.Errorf("Stage: got %s, want %s", tr.Stage, StageClosed)
	}
	if ch.closed != 1 {
		t.Errorf("Close calls: got %d, want 1", ch.closed)
	}
	if got := tr.LastReply(); got != "250 queued" {
		t.Errorf("LastReply: got %q", got)
	}
}

func TestRun_TranscriptRedactsSecrets(t *testing.T) {
	t.Parallel()

	tr, err := Run(&fakeChannel{replies: append([]string(nil), okReplies...)}, testSession())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cmds := strings.Join(tr.Commands(), "\n")
	for _, secret := range []string{
		base64.StdEncoding.EncodeToString([]byte("user")),
		base64.StdEncoding.EncodeToString([]byte("secret")),
		"hello",
	} {
		if strings.Contains(cmds, secret) {
			t.Errorf("transcript leaks %q:\n%s", secret, cmds)
		}
	}
	if !strings.Contains(cmds, "<password>") || !strings.Contains(cmds, "<message ") {
		t.Errorf("transcript missing placeholders:\n%s", cmds)
	}
	if len(tr.Exchanges) != 10 {
		t.Errorf("exchanges: got %d, want 10", len(tr.Exchanges))
	}
}

func TestRun_AbortsOnUnexpectedCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		stage Stage
		reply string
	}{
		{StageInit, "554 no service"},
		{StageGreeted, "502 no ehlo"},
		{StageHelloed, "504 no login"},
		{StageAwaitingUser, "535 bad"},
		{StageAwaitingPass, "535 Authentication failed"},
		{StageAuthenticated, "550 sender rejected"},
		{StageMailAccepted, "550 no such user"},
		{StageRecipientAccepted, "503 bad sequence"},
		{StageDataReady, "554 rejected"},
	}

	for _, tt := range tests {
		t.Run(tt.stage.String(), func(t *testing.T) {
			t.Parallel()

			replies := append([]string(nil), okReplies[:tt.stage]...)
			replies = append(replies, tt.reply)
			ch := &fakeChannel{replies: replies}

			tr, err := Run(ch, testSession())

			var perr *ProtocolError
			if !errors.As(err, &perr) {
				t.Fatalf("expected *ProtocolError, got %v", err)
			}
			if perr.Stage != tt.stage {
				t.Errorf("Stage: got %s, want %s", perr.Stage, tt.stage)
			}
			if perr.Received != tt.reply {
				t.Errorf("Received: got %q, want %q", perr.Received, tt.reply)
			}
			if ch.closed != 1 {
				t.Errorf("channel not closed after abort")
			}
			// one command per completed stage plus the failing one, none after
			if got, want := len(ch.writes), int(tt.stage); got != want {
				t.Errorf("writes: got %d (%q), want %d", got, ch.writes, want)
			}
			if tr.Stage != tt.stage {
				t.Errorf("transcript stage: got %s, want %s", tr.Stage, tt.stage)
			}
		})
	}
}

func TestRun_RecipientRejectedNeverSendsData(t *testing.T) {
	t.Parallel()

	ch := &fakeChannel{replies: []string{"220", "250", "334", "334", "235", "250", "550 mailbox unavailable"}}
	_, err := Run(ch, testSession())

	var perr *ProtocolError
	if !errors.As(err, &perr) || perr.Stage != StageMailAccepted {
		t.Fatalf("expected ProtocolError at %s, got %v", StageMailAccepted, err)
	}
	if !reflect.DeepEqual(perr.Expected, []string{"250", "251"}) {
		t.Errorf("Expected: got %v", perr.Expected)
	}
	for _, w := range ch.writes {
		if w == "DATA" || w == "QUIT" {
			t.Errorf("unexpected command after rejection: %q", w)
		}
	}
}

func TestRun_ReadFailure(t *testing.T) {
	t.Parallel()

	ch := &fakeChannel{replies: []string{"220 ready", "250 hello"}}
	_, err := Run(ch, testSession())

	var perr *ProtocolError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *ProtocolError, got %v", err)
	}
	if perr.Stage != StageHelloed {
		t.Errorf("Stage: got %s, want %s", perr.Stage, StageHelloed)
	}
	var ioErr *IOError
	if !errors.As(err, &ioErr) {
		t.Errorf("expected wrapped *IOError, got %v", err)
	}
	if !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("expected ErrConnectionClosed in chain, got %v", err)
	}
}

func TestRun_WriteFailure(t *testing.T) {
	t.Parallel()

	writeErr := &IOError{Op: "write", Err: ErrTimeout}
	ch := &fakeChannel{replies: append([]string(nil), okReplies...), failOn: "MAIL FROM", writeErr: writeErr}
	_, err := Run(ch, testSession())

	var perr *ProtocolError
	if !errors.As(err, &perr) || perr.Stage != StageAuthenticated {
		t.Fatalf("expected ProtocolError at %s, got %v", StageAuthenticated, err)
	}
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("expected ErrTimeout in chain, got %v", err)
	}
}

func TestRun_MultilineReplyDesynchronizes(t *testing.T) {
	t.Parallel()

	ch := &fakeChannel{replies: []string{"220 ready", "250-relay Hello", "250-AUTH LOGIN", "250 OK", "334 VXNlcm5hbWU6"}}
	_, err := Run(ch, testSession())

	var perr *ProtocolError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *ProtocolError, got %v", err)
	}
	if perr.Stage != StageHelloed || perr.Received != "250-AUTH LOGIN" {
		t.Errorf("got stage %s received %q, want continuation line read at %s", perr.Stage, perr.Received, StageHelloed)
	}
}

func TestStage_String(t *testing.T) {
	t.Parallel()

	if got := StageRecipientAccepted.String(); got != "RecipientAccepted" {
		t.Errorf("String(): got %q", got)
	}
	if got := Stage(42).String(); got != "Stage(42)" {
		t.Errorf("String(): got %q", got)
	}
}

func TestProtocolError_Message(t *testing.T) {
	t.Parallel()

	err := &ProtocolError{Stage: StageMailAccepted, Expected: []string{"250", "251"}, Received: "550 no"}
	if got := err.Error(); got != `smtp: stage MailAccepted: expected 250/251, got "550 no"` {
		t.Errorf("Error(): got %q", got)
	}
}
