package internal

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"
)

// MailboxSource reads a JSONL mailbox export, one RawExternalEvent per
// line. It serves as the external event feed and, for otp platforms, as
// the second-factor code source. The file is re-read on every call so
// messages appended during a run are seen.
type MailboxSource struct {
	path        string
	codeSender  string
	codePattern *regexp.Regexp
}

// NewMailboxSource creates a MailboxSource. An empty pattern selects
// DefaultCodePattern. A missing file is not an error until it is read.
func NewMailboxSource(cfg MailboxConfig) (*MailboxSource, error) {
	if cfg.Path == "" {
		return nil, errors.New("mailbox path is not configured")
	}
	pattern := cfg.CodePattern
	if pattern == "" {
		pattern = DefaultCodePattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid code pattern: %w", err)
	}
	return &MailboxSource{path: cfg.Path, codeSender: cfg.CodeSender, codePattern: re}, nil
}

// ReadMailbox loads every message of a JSONL mailbox. Malformed lines
// are skipped with a warning.
func ReadMailbox(path string) ([]RawExternalEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open mailbox %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	var messages []RawExternalEvent
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var msg RawExternalEvent
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			LogWarn("Skipping malformed mailbox line %d in %s: %v", lineNum, path, err)
			continue
		}
		messages = append(messages, msg)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read mailbox %s: %w", path, err)
	}
	return messages, nil
}

// FetchEvents returns the messages exchanged with the key's participants
// inside its date range. A key without participants matches messages
// whose subject names the item.
func (m *MailboxSource) FetchEvents(ctx context.Context, key CorrelationKey) ([]RawExternalEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	messages, err := ReadMailbox(m.path)
	if err != nil {
		return nil, err
	}

	var matched []RawExternalEvent
	for _, msg := range messages {
		if !key.InRange(msg.Date) {
			continue
		}
		if len(key.Participants) == 0 {
			if key.ItemID != "" && strings.Contains(msg.Subject, key.ItemID) {
				matched = append(matched, msg)
			}
			continue
		}
		if key.Matches(msg.From) || anyMatches(key, msg.To) {
			matched = append(matched, msg)
		}
	}
	LogDebug("Mailbox matched %d of %d messages for %s", len(matched), len(messages), key)
	return matched, nil
}

func anyMatches(key CorrelationKey, addresses []string) bool {
	for _, a := range addresses {
		if key.Matches(a) {
			return true
		}
	}
	return false
}

// PollCode returns the code in the newest message from the configured
// sender dated at or after since. Messages that do not contain a code
// are ignored.
func (m *MailboxSource) PollCode(ctx context.Context, platformID string, since time.Time) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	messages, err := ReadMailbox(m.path)
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, Transient("mailbox", err)
	}

	sender := NormalizeActor(m.codeSender)
	var (
		code   string
		newest time.Time
	)
	for _, msg := range messages {
		if msg.Date.Before(since) || (sender != "" && NormalizeActor(msg.From) != sender) {
			continue
		}
		match := m.codePattern.FindStringSubmatch(msg.Subject + "\n" + msg.Body)
		if match == nil {
			continue
		}
		if code == "" || msg.Date.After(newest) {
			code = match[len(match)-1]
			newest = msg.Date
		}
	}
	if code == "" {
		return "", false, nil
	}
	LogDebug("Found one-time code for %s in message dated %s", platformID, newest.Format(time.RFC3339))
	return code, true, nil
}
