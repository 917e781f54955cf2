package internal

import (
	"context"
	"testing"
	"time"

	"github.com/iksnae/review-sweep/testutil"
)

func newTestMailbox(t *testing.T, content string, cfg MailboxConfig) (*MailboxSource, string) {
	t.Helper()
	path := testutil.WriteFile(t, t.TempDir(), "mailbox.jsonl", content)
	cfg.Path = path
	mb, err := NewMailboxSource(cfg)
	if err != nil {
		t.Fatalf("NewMailboxSource() error = %v", err)
	}
	return mb, path
}

func TestReadMailbox_SkipsMalformed(t *testing.T) {
	content := testutil.MailboxJSONL + "not json\n\n"
	path := testutil.WriteFile(t, t.TempDir(), "mb.jsonl", content)

	messages, err := ReadMailbox(path)
	if err != nil {
		t.Fatalf("ReadMailbox() error = %v", err)
	}
	if len(messages) != 3 {
		t.Errorf("ReadMailbox() returned %d messages, want 3", len(messages))
	}
	if messages[0].ID != "m1" || len(messages[0].To) != 1 {
		t.Errorf("messages[0] = %+v", messages[0])
	}
}

func TestMailboxSource_FetchEvents(t *testing.T) {
	mb, _ := newTestMailbox(t, testutil.MailboxJSONL, MailboxConfig{})
	ctx := context.Background()

	tests := []struct {
		name    string
		key     CorrelationKey
		wantIDs []string
	}{
		{
			name:    "participants",
			key:     CorrelationKey{ItemID: "MS-001", Participants: []string{"refereex@uni.edu"}},
			wantIDs: []string{"m1", "m2"},
		},
		{
			name: "date range",
			key: CorrelationKey{
				ItemID:       "MS-001",
				Participants: []string{"editor@journal.org"},
				From:         mustTime(t, "2025-07-16T00:00:00Z"),
				To:           mustTime(t, "2025-07-17T00:00:00Z"),
			},
			wantIDs: []string{"m1"},
		},
		{
			name:    "subject fallback without participants",
			key:     CorrelationKey{ItemID: "MS-001"},
			wantIDs: []string{"m1", "m2"},
		},
		{
			name:    "no match",
			key:     CorrelationKey{ItemID: "MS-999", Participants: []string{"nobody@nowhere.org"}},
			wantIDs: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := mb.FetchEvents(ctx, tt.key)
			if err != nil {
				t.Fatalf("FetchEvents() error = %v", err)
			}
			if len(got) != len(tt.wantIDs) {
				t.Fatalf("FetchEvents() returned %d messages, want %d", len(got), len(tt.wantIDs))
			}
			for i, id := range tt.wantIDs {
				if got[i].ID != id {
					t.Errorf("message %d = %s, want %s", i, got[i].ID, id)
				}
			}
		})
	}
}

func TestMailboxSource_FetchEventsMissingFile(t *testing.T) {
	mb, err := NewMailboxSource(MailboxConfig{Path: t.TempDir() + "/missing.jsonl"})
	if err != nil {
		t.Fatalf("NewMailboxSource() error = %v", err)
	}
	if _, err := mb.FetchEvents(context.Background(), CorrelationKey{ItemID: "x"}); err == nil {
		t.Error("FetchEvents() on a missing mailbox should fail")
	}
}

func TestMailboxSource_PollCode(t *testing.T) {
	since := mustTime(t, "2025-07-16T09:00:00Z")
	content := `{"id":"c0","date":"2025-07-16T08:00:00Z","from":"noreply@journal.org","subject":"Your code","body":"111111"}
{"id":"c1","date":"2025-07-16T09:00:30Z","from":"NoReply <noreply@journal.org>","subject":"Your code","body":"Use 222222 to sign in"}
{"id":"c2","date":"2025-07-16T09:01:00Z","from":"someone@else.org","subject":"Your code","body":"333333"}
{"id":"c3","date":"2025-07-16T09:02:00Z","from":"noreply@journal.org","subject":"Welcome","body":"no code here"}
`
	mb, path := newTestMailbox(t, content, MailboxConfig{CodeSender: "noreply@journal.org"})
	ctx := context.Background()

	code, ok, err := mb.PollCode(ctx, "journal-a", since)
	if err != nil || !ok {
		t.Fatalf("PollCode() = %q, %v, %v", code, ok, err)
	}
	if code != "222222" {
		t.Errorf("PollCode() code = %q, want 222222", code)
	}

	testutil.AppendLine(t, path, string(testutil.JSONMarshal(t, RawExternalEvent{
		ID:      "c4",
		Date:    testEpoch.Add(3 * time.Minute),
		From:    "noreply@journal.org",
		Subject: "Your code",
		Body:    "444444",
	})))
	code, ok, _ = mb.PollCode(ctx, "journal-a", since)
	if !ok || code != "444444" {
		t.Errorf("PollCode() after append = %q, %v; want newest code 444444", code, ok)
	}

	_, ok, err = mb.PollCode(ctx, "journal-a", since.Add(time.Hour))
	if err != nil || ok {
		t.Errorf("PollCode() with nothing new = %v, %v", ok, err)
	}
}

func TestMailboxSource_PollCodeMissingFile(t *testing.T) {
	mb, _ := NewMailboxSource(MailboxConfig{Path: t.TempDir() + "/later.jsonl"})
	_, ok, err := mb.PollCode(context.Background(), "p", time.Time{})
	if err != nil || ok {
		t.Errorf("PollCode() on a mailbox not yet written = %v, %v; want false, nil", ok, err)
	}
}

func TestNewMailboxSource_Invalid(t *testing.T) {
	if _, err := NewMailboxSource(MailboxConfig{}); err == nil {
		t.Error("NewMailboxSource() without path should fail")
	}
	if _, err := NewMailboxSource(MailboxConfig{Path: "x", CodePattern: "("}); err == nil {
		t.Error("NewMailboxSource() with a bad pattern should fail")
	}
}
