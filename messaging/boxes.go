package messaging

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Boxes is the durable message store: an inbox of commands awaiting
// processing and an outbox of terminal responses awaiting delivery. Each
// entry is one frame-text file named by the URL-encoded job id, so
// concurrent access to distinct jobs never collides.
type Boxes struct {
	inboxDir  string
	outboxDir string
}

// NewBoxes creates the inbox and outbox directories under dir.
func NewBoxes(dir string) (*Boxes, error) {
	b := &Boxes{
		inboxDir:  filepath.Join(dir, "inbox"),
		outboxDir: filepath.Join(dir, "outbox"),
	}
	for _, d := range []string{b.inboxDir, b.outboxDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create message box %s: %w", d, err)
		}
	}
	return b, nil
}

// InboxDir returns the inbox directory, the target of the inbox watcher.
func (b *Boxes) InboxDir() string {
	return b.inboxDir
}

// encodeBoxName makes a job id filesystem-safe, matching the job store's
// directory naming.
func encodeBoxName(jobID string) string {
	return strings.ReplaceAll(url.PathEscape(jobID), ":", "%3A")
}

func decodeBoxName(name string) (string, error) {
	return url.PathUnescape(name)
}

// write stores the frame atomically: a temp file renamed into place, so
// the inbox watcher never observes a partial entry.
func write(dir, jobID string, msg Message) error {
	final := filepath.Join(dir, encodeBoxName(jobID))
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, EncodeFrame(msg), 0o644); err != nil {
		return fmt.Errorf("failed to write message for job %s: %w", jobID, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("failed to store message for job %s: %w", jobID, err)
	}
	return nil
}

func read(dir, jobID string) (Message, error) {
	data, err := os.ReadFile(filepath.Join(dir, encodeBoxName(jobID)))
	if err != nil {
		return Message{}, fmt.Errorf("failed to read message for job %s: %w", jobID, err)
	}
	return DecodeFrame(data)
}

func remove(dir, jobID string) error {
	err := os.Remove(filepath.Join(dir, encodeBoxName(jobID)))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove message for job %s: %w", jobID, err)
	}
	return nil
}

func list(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list message box %s: %w", dir, err)
	}
	var ids []string
	for _, entry := range entries {
		if entry.IsDir() || strings.HasSuffix(entry.Name(), ".tmp") {
			continue
		}
		id, err := decodeBoxName(entry.Name())
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// WriteInbox persists a received command.
func (b *Boxes) WriteInbox(jobID string, msg Message) error {
	return write(b.inboxDir, jobID, msg)
}

// ReadInbox loads the persisted command for the job.
func (b *Boxes) ReadInbox(jobID string) (Message, error) {
	return read(b.inboxDir, jobID)
}

// DeleteInbox removes the job's inbox entry. Removing a missing entry is
// not an error.
func (b *Boxes) DeleteInbox(jobID string) error {
	return remove(b.inboxDir, jobID)
}

// ListInbox returns the job ids with pending commands, sorted.
func (b *Boxes) ListInbox() ([]string, error) {
	return list(b.inboxDir)
}

// WriteOutbox persists a terminal response before it is sent.
func (b *Boxes) WriteOutbox(jobID string, msg Message) error {
	return write(b.outboxDir, jobID, msg)
}

// ReadOutbox loads the persisted response for the job.
func (b *Boxes) ReadOutbox(jobID string) (Message, error) {
	return read(b.outboxDir, jobID)
}

// DeleteOutbox removes the job's outbox entry. Removing a missing entry
// is not an error.
func (b *Boxes) DeleteOutbox(jobID string) error {
	return remove(b.outboxDir, jobID)
}

// ListOutbox returns the job ids with undelivered responses, sorted.
func (b *Boxes) ListOutbox() ([]string, error) {
	return list(b.outboxDir)
}
