package raftsim

// LogEntry is a placeholder record. The simulation keeps an inert
// append-only log per node: entries are written when a node wins an
// election and never read back, replicated or committed.
type LogEntry struct {
	Term Term
	Data []byte
}

type LogIndex int64

type LogStore struct {
	entries []LogEntry
}

func NewLogStore() *LogStore {
	return &LogStore{}
}

func (s *LogStore) LastIndex() LogIndex {
	return LogIndex(len(s.entries))
}

func (s *LogStore) LastTerm() Term {
	nbEntries := len(s.entries)

	if nbEntries == 0 {
		return 0
	}

	return s.entries[nbEntries-1].Term
}

func (s *LogStore) AppendEntry(entry LogEntry) {
	s.entries = append(s.entries, entry)
}
