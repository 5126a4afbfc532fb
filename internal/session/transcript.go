package session

import (
	"sync"
	"time"
)

// Origin identifies who produced a transcript entry.
type Origin string

const (
	// OriginUser marks text the user submitted.
	OriginUser Origin = "user"

	// OriginAgent marks responses from the remote agent.
	OriginAgent Origin = "agent"

	// OriginSystem marks console-originated output.
	OriginSystem Origin = "system"

	// OriginError marks command failures.
	OriginError Origin = "error"
)

// Entry is one transcript line.
type Entry struct {
	// ID orders entries and lets streaming updates target one entry.
	ID int64

	// Origin identifies the producer.
	Origin Origin

	// Text is the entry content. For a streaming agent response it grows
	// until the entry is complete.
	Text string

	// Timestamp is when the entry was created.
	Timestamp time.Time

	// Complete is false while an agent response is still streaming in.
	Complete bool
}

// Transcript is the bounded, ordered record of the session. When the limit
// is reached the oldest entries are evicted; eviction never blocks appends.
type Transcript struct {
	mu      sync.Mutex
	entries []Entry
	nextID  int64
	limit   int
}

// NewTranscript creates a transcript retaining at most limit entries.
// A non-positive limit means 500.
func NewTranscript(limit int) *Transcript {
	if limit <= 0 {
		limit = 500
	}
	return &Transcript{
		nextID: 1,
		limit:  limit,
	}
}

// Append adds a complete entry and returns its id.
func (t *Transcript) Append(origin Origin, text string) int64 {
	return t.append(origin, text, true)
}

// AppendIncomplete adds an entry that will grow via AppendChunk, such as a
// streaming agent response. Returns its id.
func (t *Transcript) AppendIncomplete(origin Origin, text string) int64 {
	return t.append(origin, text, false)
}

func (t *Transcript) append(origin Origin, text string, complete bool) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.nextID
	t.nextID++

	t.entries = append(t.entries, Entry{
		ID:        id,
		Origin:    origin,
		Text:      text,
		Timestamp: time.Now(),
		Complete:  complete,
	})
	if len(t.entries) > t.limit {
		t.entries = t.entries[len(t.entries)-t.limit:]
	}
	return id
}

// AppendChunk extends an incomplete entry's text. Returns false if the
// entry was evicted, already complete, or never existed.
func (t *Transcript) AppendChunk(id int64, chunk string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.find(id)
	if e == nil || e.Complete {
		return false
	}
	e.Text += chunk
	return true
}

// Complete marks an incomplete entry as finished. Returns false if the
// entry was evicted or never existed.
func (t *Transcript) Complete(id int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.find(id)
	if e == nil {
		return false
	}
	e.Complete = true
	return true
}

// Entry returns a copy of the entry with the given id.
func (t *Transcript) Entry(id int64) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e := t.find(id); e != nil {
		return *e, true
	}
	return Entry{}, false
}

// Entries returns a copy of all retained entries in order.
func (t *Transcript) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Clear removes all entries. Entry ids keep increasing across a clear.
func (t *Transcript) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = nil
}

// Len returns the number of retained entries.
func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// find locates an entry by id. Entries are ordered by id, so scan from the
// newest end; streaming targets are almost always recent. Caller holds the
// lock.
func (t *Transcript) find(id int64) *Entry {
	for i := len(t.entries) - 1; i >= 0; i-- {
		if t.entries[i].ID == id {
			return &t.entries[i]
		}
		if t.entries[i].ID < id {
			return nil
		}
	}
	return nil
}
