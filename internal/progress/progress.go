// Package progress holds the vocabulary of project progress states.
package progress

type Option struct {
	Code  int    `json:"code"`
	Label string `json:"label"`
}

const (
	Challenge    = -1
	TeamForming  = 0
	Researching  = 10
	Sketching    = 20
	Prototyping  = 30
	Testable     = 50
	Demonstrable = 70
	Presentable  = 90
	Completed    = 100
)

// Default is the progress a new project starts with. It is legal in every phase.
const Default = TeamForming

var preKickoff = []Option{
	{Code: Challenge, Label: "Challenge"},
	{Code: TeamForming, Label: "Team forming"},
}

var underway = []Option{
	{Code: Researching, Label: "Researching"},
	{Code: Sketching, Label: "Sketching"},
	{Code: Prototyping, Label: "Prototyping"},
	{Code: Testable, Label: "Testable"},
	{Code: Demonstrable, Label: "Demonstrable"},
	{Code: Presentable, Label: "Presentable"},
	{Code: Completed, Label: "Completed"},
}

// Options returns the legal progress states in display order. Before an event
// starts only pre-kickoff states are offered; once it has started (or
// finished) the whole vocabulary is. Callers must ask per request since the
// event phase can change in between.
func Options(started bool) []Option {
	out := make([]Option, 0, len(preKickoff)+len(underway))
	out = append(out, preKickoff...)
	if started {
		out = append(out, underway...)
	}
	return out
}

func Valid(code int, started bool) bool {
	for _, option := range Options(started) {
		if option.Code == code {
			return true
		}
	}
	return false
}

// Label returns the display label for any known code, regardless of phase.
func Label(code int) string {
	for _, option := range Options(true) {
		if option.Code == code {
			return option.Label
		}
	}
	return ""
}
