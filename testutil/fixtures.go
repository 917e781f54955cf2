package testutil

import (
	"path/filepath"
	"testing"
)

// FixturePlatformYAML describes a small editorial platform for the
// fixture adapter: two manuscripts under review, one handle, and an
// activity log that overlaps MailboxJSONL.
const FixturePlatformYAML = `platform: journal-a
identity: editor@journal.org
secret: s3cret
challenge: none
items:
  - id: MS-001
    category: under_review
    probe:
      status: under_review
      modified: "2025-07-16T09:15:00Z"
    passes:
      summary:
        fields:
          title: Fast Reconciliation of Editorial Logs
          status: under_review
          author_email: author@uni.edu
        handles:
          abstract:
            kind: document
            ref: abs-1
      reviewers:
        fields:
          reviewer_email: refereex@uni.edu
        events:
          - timestamp: "2025-07-16T09:15:00Z"
            from: editor@journal.org
            to: refereex@uni.edu
            type: invitation_sent
            excerpt: Invitation to review MS-001
  - id: MS-002
    category: under_review
    probe:
      status: under_review
      modified: "2025-07-10T12:00:00Z"
    passes:
      summary:
        fields:
          title: A Second Manuscript
          status: under_review
handles:
  abs-1: We reconcile editorial activity logs with mailboxes.
`

// MailboxJSONL holds one duplicate of the MS-001 invitation and one
// reply only the mailbox knows about.
const MailboxJSONL = `{"id":"m1","date":"2025-07-16T09:15:42Z","from":"Editor <editor@journal.org>","to":["refereex@uni.edu"],"subject":"Invitation to review MS-001","body":"Dear referee"}
{"id":"m2","date":"2025-07-20T11:00:00Z","from":"refereex@uni.edu","to":["editor@journal.org"],"subject":"Question about MS-001","body":"Could I have an extension?"}
{"id":"m3","date":"2025-07-21T08:00:00Z","from":"someone@else.org","to":["other@else.org"],"subject":"Unrelated","body":"Nothing to see"}
`

// EnvFile provides credentials for the journal-a platform
const EnvFile = `JOURNAL_A_IDENTITY=editor@journal.org
JOURNAL_A_SECRET=s3cret
`

// ConfigYAML wires journal-a to the files written by WriteSweepFixtures.
// Paths are relative to the config file.
const ConfigYAML = `log_level: info
store_path: state.db
env_file: .env
concurrency: 2
output:
  dir: records
  format: jsonl
retry:
  max_attempts: 2
  base_delay: 1ms
cache:
  ttl: 24h
orchestrator:
  pass_timeout: 5s
  resolve_timeout: 1s
timeline:
  window: 5m
mailbox:
  path: mailbox.jsonl
platforms:
  - id: journal-a
    adapter: fixture
    fixture: journal-a.yaml
    categories: [under_review]
    participant_fields: [author_email, reviewer_email]
    passes:
      - name: summary
        fields: [title, status, author_email, abstract]
      - name: reviewers
        fields: [reviewer_email]
`

// SweepFixture lists the files of a complete sweep setup
type SweepFixture struct {
	Dir          string
	ConfigPath   string
	PlatformPath string
	MailboxPath  string
	EnvPath      string
	StorePath    string
	RecordsDir   string
}

// WriteSweepFixtures writes a config, a fixture platform, a mailbox and
// a .env file into a fresh temp dir.
func WriteSweepFixtures(t *testing.T) SweepFixture {
	t.Helper()
	dir := CreateTempDir(t)
	return SweepFixture{
		Dir:          dir,
		ConfigPath:   WriteFile(t, dir, "config.yaml", ConfigYAML),
		PlatformPath: WriteFile(t, dir, "journal-a.yaml", FixturePlatformYAML),
		MailboxPath:  WriteFile(t, dir, "mailbox.jsonl", MailboxJSONL),
		EnvPath:      WriteFile(t, dir, ".env", EnvFile),
		StorePath:    filepath.Join(dir, "state.db"),
		RecordsDir:   filepath.Join(dir, "records"),
	}
}
