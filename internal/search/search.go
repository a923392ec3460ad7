package search

// Result is a single project hit returned to the caller.
type Result struct {
	ID      int64  `json:"id"`
	EventID int64  `json:"eventId"`
	Name    string `json:"name"`
	Snippet string `json:"snippet"`
	Score   int    `json:"score"`
}

// Query describes a search request. Hidden projects are never returned.
type Query struct {
	Text    string
	EventID int64 // zero = all events
	Limit   int
	Offset  int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// ProjectRecord is the data we index for a project.
type ProjectRecord struct {
	ID       int64  `json:"id"`
	EventID  int64  `json:"eventId"`
	Name     string `json:"name"`
	Summary  string `json:"summary"`
	Longtext string `json:"longtext"`
	Hidden   bool   `json:"hidden"`
	Score    int    `json:"score"`
}

// Page size bounds applied to every query.
const (
	DefaultLimit = 20
	MaxLimit     = 100
)

func normalize(q Query) Query {
	if q.Limit <= 0 {
		q.Limit = DefaultLimit
	}
	if q.Limit > MaxLimit {
		q.Limit = MaxLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}
