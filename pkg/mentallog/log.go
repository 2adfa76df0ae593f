package mentallog

import "encoding/json"

// DefaultMaxEntries bounds a log when no explicit limit is given.
const DefaultMaxEntries = 50

// Log is a bounded FIFO of entries. It is not safe for concurrent use;
// callers serialize access through the session store's per-stream lock.
type Log struct {
	entries    []Entry
	maxEntries int
}

// NewLog creates an empty log that keeps at most maxEntries entries.
// Non-positive limits fall back to DefaultMaxEntries.
func NewLog(maxEntries int) *Log {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Log{maxEntries: maxEntries}
}

// Add appends an entry, evicting the oldest when over the limit.
func (l *Log) Add(e Entry) {
	l.entries = append(l.entries, e)
	if len(l.entries) > l.maxEntries {
		l.entries = l.entries[len(l.entries)-l.maxEntries:]
	}
}

// Len returns the number of stored entries.
func (l *Log) Len() int {
	return len(l.entries)
}

// Entries returns a copy of all entries, oldest first.
func (l *Log) Entries() []Entry {
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Recent returns the newest n entries, oldest first.
func (l *Log) Recent(n int) []Entry {
	if n <= 0 || len(l.entries) == 0 {
		return nil
	}
	if n > len(l.entries) {
		n = len(l.entries)
	}
	out := make([]Entry, n)
	copy(out, l.entries[len(l.entries)-n:])
	return out
}

// LastOfKind returns the newest entry of the given kind.
func (l *Log) LastOfKind(kind EventKind) (Entry, bool) {
	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i].Kind == kind {
			return l.entries[i], true
		}
	}
	return Entry{}, false
}

// LastBotReplyContent returns the text of the most recent reply action
// the bot actually produced, scanning planning entries newest first.
func (l *Log) LastBotReplyContent() string {
	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i].Kind != KindBotPlanning {
			continue
		}
		for _, action := range l.entries[i].Actions {
			switch action.Type() {
			case "kfc_reply", "respond":
				if content := action.Content(); content != "" {
					return content
				}
			}
		}
	}
	return ""
}

// Clear drops all entries.
func (l *Log) Clear() {
	l.entries = nil
}

// ToList returns the entries for serialization, oldest first.
func (l *Log) ToList() []Entry {
	return l.Entries()
}

// FromList rebuilds a log from serialized entries, truncating to
// maxEntries and normalizing entries with missing fields.
func FromList(entries []Entry, maxEntries int) *Log {
	log := NewLog(maxEntries)
	for _, e := range entries {
		if e.Kind == "" {
			e.Kind = KindUserMessage
		}
		if e.Timestamp == 0 {
			e.Timestamp = Now()
		}
		log.entries = append(log.entries, e)
	}
	if len(log.entries) > log.maxEntries {
		log.entries = log.entries[len(log.entries)-log.maxEntries:]
	}
	return log
}

// MarshalJSON encodes the log as a plain entry array.
func (l *Log) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.ToList())
}

// UnmarshalJSON decodes an entry array, keeping DefaultMaxEntries as
// the bound.
func (l *Log) UnmarshalJSON(data []byte) error {
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	*l = *FromList(entries, DefaultMaxEntries)
	return nil
}
