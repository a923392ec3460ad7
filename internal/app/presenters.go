package app

import (
	"time"

	"showcase/api/internal/progress"
	"showcase/api/internal/store"
)

const (
	levelSuccess = "success"
	levelWarning = "warning"
)

type Message struct {
	Level string `json:"level"`
	Text  string `json:"text"`
}

func success(text string) Message { return Message{Level: levelSuccess, Text: text} }
func warning(text string) Message { return Message{Level: levelWarning, Text: text} }

// ProjectView is the read-only display state of one project for one actor.
type ProjectView struct {
	Project   store.Project
	Event     store.Event
	Starred   bool
	AllowEdit bool
	Team      []store.User
	Messages  []Message
}

func (v ProjectView) Payload() map[string]any {
	team := make([]map[string]any, 0, len(v.Team))
	for _, member := range v.Team {
		team = append(team, userPayload(member))
	}
	messages := v.Messages
	if messages == nil {
		messages = []Message{}
	}
	return map[string]any{
		"project":   projectPayload(v.Project),
		"event":     eventPayload(v.Event),
		"starred":   v.Starred,
		"allowEdit": v.AllowEdit,
		"team":      team,
		"messages":  messages,
	}
}

// ProjectForm lists the choices a create or edit form may submit.
type ProjectForm struct {
	Progress   []progress.Option
	Categories []store.Category
}

func (f *ProjectForm) Payload() map[string]any {
	if f == nil {
		return nil
	}
	categories := make([]map[string]any, 0, len(f.Categories)+1)
	categories = append(categories, map[string]any{"id": nil, "name": ""})
	for _, category := range f.Categories {
		categories = append(categories, map[string]any{
			"id":          category.ID,
			"name":        category.Name,
			"description": category.Description,
		})
	}
	return map[string]any{
		"progress":   f.Progress,
		"categories": categories,
	}
}

func eventPayload(e store.Event) map[string]any {
	return map[string]any{
		"id":          e.ID,
		"name":        e.Name,
		"summary":     e.Summary,
		"hostedBy":    e.HostedBy,
		"location":    e.Location,
		"startsAt":    formatTime(e.StartsAt),
		"endsAt":      formatTime(e.EndsAt),
		"hasStarted":  e.HasStarted,
		"hasFinished": e.HasFinished,
		"isCurrent":   e.IsCurrent,
	}
}

func projectPayload(p store.Project) map[string]any {
	return map[string]any{
		"id":            p.ID,
		"eventId":       p.EventID,
		"userId":        p.UserID,
		"categoryId":    p.CategoryID,
		"name":          p.Name,
		"summary":       p.Summary,
		"longtext":      p.Longtext,
		"webpageUrl":    p.WebpageURL,
		"contactUrl":    p.ContactURL,
		"sourceUrl":     p.SourceURL,
		"imageUrl":      p.ImageURL,
		"logoColor":     p.LogoColor,
		"logoIcon":      p.LogoIcon,
		"isHidden":      p.IsHidden,
		"isAutoupdate":  p.IsAutoupdate,
		"autotextUrl":   p.AutotextURL,
		"progress":      p.Progress,
		"progressLabel": progress.Label(p.Progress),
		"score":         p.Score,
		"createdAt":     p.CreatedAt.UTC().Format(time.RFC3339),
		"updatedAt":     p.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// summaryPayload is the leaderboard entry shown on the event page.
func summaryPayload(p store.Project) map[string]any {
	return map[string]any{
		"id":            p.ID,
		"name":          p.Name,
		"summary":       p.Summary,
		"imageUrl":      p.ImageURL,
		"logoColor":     p.LogoColor,
		"logoIcon":      p.LogoIcon,
		"categoryId":    p.CategoryID,
		"progress":      p.Progress,
		"progressLabel": progress.Label(p.Progress),
		"score":         p.Score,
	}
}

func embedPayload(p store.Project) map[string]any {
	return map[string]any{
		"id":      p.ID,
		"name":    p.Name,
		"summary": p.Summary,
		"url":     p.WebpageURL,
	}
}

func userPayload(u store.User) map[string]any {
	return map[string]any{
		"id":       u.ID,
		"username": u.Username,
	}
}

func activityPayload(a store.Activity) map[string]any {
	return map[string]any{
		"id":        a.ID,
		"action":    a.Action,
		"userId":    a.UserID,
		"username":  a.Username,
		"timestamp": a.Timestamp.UTC().Format(time.RFC3339),
	}
}

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
