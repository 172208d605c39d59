package archive

import "github.com/Ning0612/Cargoback/internal/domain"

// EntryState is the write phase of one archived entity
type EntryState int

const (
	StatePreContent EntryState = iota
	StateContent
	StatePreMetadata
	StateMetadata
	StateClosed
)

var stateNames = [...]string{
	StatePreContent:  "PRE_CONTENT",
	StateContent:     "CONTENT",
	StatePreMetadata: "PRE_METADATA",
	StateMetadata:    "METADATA",
	StateClosed:      "CLOSED",
}

func (s EntryState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s]
}

// Next returns the only legal successor. CLOSED has none.
func (s EntryState) Next() (EntryState, bool) {
	if s >= StatePreContent && s < StateClosed {
		return s + 1, true
	}
	return s, false
}

// InitialState returns the first state for an entity of the given type.
// Directories skip the content phases.
func InitialState(fileType domain.FileType) EntryState {
	if fileType == domain.FileTypeDirectory {
		return StatePreMetadata
	}
	return StatePreContent
}

// StatePath lists every state an entity of the given type traverses
func StatePath(fileType domain.FileType) []EntryState {
	var path []EntryState
	s, ok := InitialState(fileType), true
	for ok {
		path = append(path, s)
		s, ok = s.Next()
	}
	return path
}
