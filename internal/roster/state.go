package roster

// State is a full, self-contained snapshot of the roster.
type State struct {
	Version uint64   `json:"version"`
	Players []Player `json:"players"`
	Teams   []Team   `json:"teams"`
}

// Record is the persisted form of a Registry.
type Record struct {
	Version uint64       `json:"version"`
	NextSeq uint64       `json:"nextSeq"`
	Players []Player     `json:"players"`
	Teams   []TeamEntity `json:"teams"`
}
