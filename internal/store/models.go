package store

import "time"

type User struct {
	ID        int64
	Username  string
	Email     string
	IsAdmin   bool
	Active    bool
	CreatedAt time.Time
}

type Event struct {
	ID          int64
	Name        string
	Summary     string
	HostedBy    string
	Location    string
	StartsAt    *time.Time
	EndsAt      *time.Time
	HasStarted  bool
	HasFinished bool
	IsCurrent   bool
	CreatedAt   time.Time
}

// Underway reports whether the event has started or already finished.
func (e Event) Underway() bool {
	return e.HasStarted || e.HasFinished
}

type Category struct {
	ID          int64
	EventID     int64
	Name        string
	Description string
}

type Project struct {
	ID           int64
	EventID      int64
	UserID       int64
	CategoryID   *int64
	Name         string
	Summary      string
	Longtext     string
	WebpageURL   string
	ContactURL   string
	SourceURL    string
	ImageURL     string
	LogoColor    string
	LogoIcon     string
	IsHidden     bool
	IsAutoupdate bool
	AutotextURL  string
	Progress     int
	Score        int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// UpdateScore recomputes the leaderboard score from field completeness and
// progress. It must run before every commit that changes project fields.
func (p *Project) UpdateScore() {
	score := 0
	if len(p.Name) > 3 {
		score++
	}
	if len(p.Summary) > 3 {
		score += 3
	}
	if len(p.Longtext) > 100 {
		score += 5
	}
	if p.WebpageURL != "" {
		score += 2
	}
	if p.SourceURL != "" {
		score += 5
	}
	if p.ContactURL != "" {
		score += 2
	}
	if p.ImageURL != "" {
		score += 2
	}
	if p.Progress > 0 {
		score += p.Progress / 10
	}
	p.Score = score
}

type Activity struct {
	ID        int64
	ProjectID int64
	UserID    int64
	Action    string
	Timestamp time.Time
	// Joined for listings
	Username string
}
