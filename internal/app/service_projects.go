package app

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"showcase/api/internal/access"
	"showcase/api/internal/activity"
	"showcase/api/internal/autoupdate"
	"showcase/api/internal/progress"
	"showcase/api/internal/store"
	"showcase/api/internal/telemetry"
)

const (
	msgStarred     = "Thanks for your support!"
	msgUnstarred   = "Project un-starred"
	msgEditDenied  = "You do not have access to edit this project."
	msgUpdated     = "Project updated."
	msgAdded       = "Project added."
	msgSyncDenied  = "You may not sync this project."
	msgSyncNoData  = "Project could not be synced: check the autoupdate link."
	msgSynced      = "Project data synced."
	maxActivityLog = 200
)

// ProjectInput is the submitted project form. Logo fields are ignored on
// create.
type ProjectInput struct {
	Name         string `json:"name"`
	Summary      string `json:"summary"`
	Longtext     string `json:"longtext"`
	WebpageURL   string `json:"webpageUrl"`
	ContactURL   string `json:"contactUrl"`
	SourceURL    string `json:"sourceUrl"`
	ImageURL     string `json:"imageUrl"`
	LogoColor    string `json:"logoColor"`
	LogoIcon     string `json:"logoIcon"`
	IsAutoupdate bool   `json:"isAutoupdate"`
	AutotextURL  string `json:"autotextUrl"`
	CategoryID   *int64 `json:"categoryId"`
	Progress     *int   `json:"progress"`
}

// assemble builds the project view. When kind is set the activity is
// recorded first, so the derived state reflects it.
func (s *Service) assemble(ctx context.Context, project store.Project, actor access.Actor, kind activity.Kind, messages ...Message) (ProjectView, error) {
	if kind != activity.KindNone {
		s.recorder.Record(ctx, project.ID, kind, actor.UserID)
	}

	event, err := s.store.GetEvent(ctx, project.EventID)
	if err != nil {
		return ProjectView{}, fmt.Errorf("load event: %w", err)
	}
	starred, err := s.policy.Starred(ctx, actor, project.ID)
	if err != nil {
		return ProjectView{}, fmt.Errorf("check star: %w", err)
	}
	team, err := s.store.ListTeam(ctx, project.ID)
	if err != nil {
		return ProjectView{}, fmt.Errorf("list team: %w", err)
	}

	return ProjectView{
		Project:   project,
		Event:     event,
		Starred:   starred,
		AllowEdit: access.Can(actor, starred),
		Team:      team,
		Messages:  messages,
	}, nil
}

func (s *Service) ShowProject(ctx context.Context, projectID int64, actor access.Actor) (ProjectView, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return ProjectView{}, err
	}
	return s.assemble(ctx, project, actor, activity.KindNone)
}

// StarProject joins actor to the project team. Starring twice keeps one
// relation but records each request.
func (s *Service) StarProject(ctx context.Context, projectID int64, actor access.Actor) (ProjectView, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "app.StarProject")
	defer span.End()
	span.SetAttributes(attribute.Int64("project.id", projectID))

	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return ProjectView{}, err
	}
	if _, err := s.store.AddStar(ctx, project.ID, actor.UserID); err != nil {
		return ProjectView{}, fmt.Errorf("add star: %w", err)
	}
	return s.assemble(ctx, project, actor, activity.KindStar, success(msgStarred))
}

func (s *Service) UnstarProject(ctx context.Context, projectID int64, actor access.Actor) (ProjectView, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "app.UnstarProject")
	defer span.End()
	span.SetAttributes(attribute.Int64("project.id", projectID))

	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return ProjectView{}, err
	}
	if _, err := s.store.RemoveStar(ctx, project.ID, actor.UserID); err != nil {
		return ProjectView{}, fmt.Errorf("remove star: %w", err)
	}
	return s.assemble(ctx, project, actor, activity.KindUnstar, success(msgUnstarred))
}

// NewProjectForm returns the create form choices. Anonymous visitors get a
// nil form.
func (s *Service) NewProjectForm(ctx context.Context, eventID int64, actor access.Actor) (store.Event, *ProjectForm, error) {
	event, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return store.Event{}, nil, err
	}
	if !actor.Authenticated {
		return event, nil, nil
	}
	form, err := s.projectForm(ctx, event, event.HasStarted)
	if err != nil {
		return store.Event{}, nil, err
	}
	return event, form, nil
}

// CreateProject inserts the project, records create, then forces a star by
// the creator so they join the team and can edit.
func (s *Service) CreateProject(ctx context.Context, eventID int64, actor access.Actor, input ProjectInput) (ProjectView, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "app.CreateProject")
	defer span.End()

	event, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return ProjectView{}, err
	}
	form, err := s.projectForm(ctx, event, event.HasStarted)
	if err != nil {
		return ProjectView{}, err
	}
	if err := validateProjectInput(input, form); err != nil {
		return ProjectView{}, err
	}

	project := store.Project{
		EventID:  event.ID,
		UserID:   actor.UserID,
		Progress: progress.Default,
	}
	input.LogoColor, input.LogoIcon = "", ""
	applyProjectInput(&project, input)
	project.UpdateScore()

	id, err := s.store.InsertProject(ctx, project)
	if err != nil {
		return ProjectView{}, fmt.Errorf("insert project: %w", err)
	}
	project.ID = id
	span.SetAttributes(attribute.Int64("project.id", id))

	s.recorder.Record(ctx, project.ID, activity.KindCreate, actor.UserID)
	if _, err := s.store.AddStar(ctx, project.ID, actor.UserID); err != nil {
		return ProjectView{}, fmt.Errorf("add creator star: %w", err)
	}
	s.indexProject(project)
	return s.assemble(ctx, project, actor, activity.KindStar, success(msgAdded))
}

// EditForm returns the edit choices, or a view with a warning and a nil form
// when actor may not edit.
func (s *Service) EditForm(ctx context.Context, projectID int64, actor access.Actor) (ProjectView, *ProjectForm, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return ProjectView{}, nil, err
	}
	allowed, err := s.policy.CanEdit(ctx, actor, project.ID)
	if err != nil {
		return ProjectView{}, nil, fmt.Errorf("check edit access: %w", err)
	}
	if !allowed {
		view, err := s.assemble(ctx, project, actor, activity.KindNone, warning(msgEditDenied))
		return view, nil, err
	}

	view, err := s.assemble(ctx, project, actor, activity.KindNone)
	if err != nil {
		return ProjectView{}, nil, err
	}
	form, err := s.projectForm(ctx, view.Event, view.Event.Underway())
	if err != nil {
		return ProjectView{}, nil, err
	}
	return view, form, nil
}

// EditProject applies input when actor may edit. A denied edit is not an
// error: the view carries a warning and nothing is written.
func (s *Service) EditProject(ctx context.Context, projectID int64, actor access.Actor, input ProjectInput) (ProjectView, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "app.EditProject")
	defer span.End()
	span.SetAttributes(attribute.Int64("project.id", projectID))

	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return ProjectView{}, err
	}
	allowed, err := s.policy.CanEdit(ctx, actor, project.ID)
	if err != nil {
		return ProjectView{}, fmt.Errorf("check edit access: %w", err)
	}
	if !allowed {
		return s.assemble(ctx, project, actor, activity.KindNone, warning(msgEditDenied))
	}

	event, err := s.store.GetEvent(ctx, project.EventID)
	if err != nil {
		return ProjectView{}, fmt.Errorf("load event: %w", err)
	}
	form, err := s.projectForm(ctx, event, event.Underway())
	if err != nil {
		return ProjectView{}, err
	}
	if err := validateProjectInput(input, form); err != nil {
		return ProjectView{}, err
	}

	applyProjectInput(&project, input)
	project.UpdateScore()
	if err := s.store.UpdateProject(ctx, project); err != nil {
		return ProjectView{}, fmt.Errorf("update project: %w", err)
	}
	s.indexProject(project)
	return s.assemble(ctx, project, actor, activity.KindUpdate, success(msgUpdated))
}

func (s *Service) AutoupdateProject(ctx context.Context, projectID int64, actor access.Actor) (ProjectView, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return ProjectView{}, err
	}

	outcome, err := s.merger.Autoupdate(ctx, &project, actor)
	if err != nil {
		return ProjectView{}, err
	}

	var message Message
	switch outcome {
	case autoupdate.Updated:
		s.indexProject(project)
		message = success(msgSynced)
	case autoupdate.RejectedNoData:
		message = warning(msgSyncNoData)
	default:
		message = warning(msgSyncDenied)
	}
	// The merger records the update itself.
	return s.assemble(ctx, project, actor, activity.KindNone, message)
}

func (s *Service) ProjectActivity(ctx context.Context, projectID int64, limit int) (map[string]any, error) {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	entries, err := s.store.ListActivities(ctx, projectID, limit)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		items = append(items, activityPayload(entry))
	}
	return map[string]any{
		"projectId":  projectID,
		"activities": items,
	}, nil
}

func (s *Service) projectForm(ctx context.Context, event store.Event, started bool) (*ProjectForm, error) {
	categories, err := s.store.ListCategories(ctx, event.ID)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return &ProjectForm{
		Progress:   progress.Options(started),
		Categories: categories,
	}, nil
}

func validateProjectInput(input ProjectInput, form *ProjectForm) error {
	fields := map[string]string{}
	if strings.TrimSpace(input.Name) == "" {
		fields["name"] = "Name is required"
	}
	if input.Progress != nil && !containsProgress(form.Progress, *input.Progress) {
		fields["progress"] = "Not a valid choice"
	}
	if id := categoryID(input.CategoryID); id != nil && !containsCategory(form.Categories, *id) {
		fields["categoryId"] = "Not a valid choice"
	}
	if len(fields) > 0 {
		return validationError(fields)
	}
	return nil
}

func applyProjectInput(p *store.Project, input ProjectInput) {
	p.Name = strings.TrimSpace(input.Name)
	p.Summary = strings.TrimSpace(input.Summary)
	p.Longtext = input.Longtext
	p.WebpageURL = strings.TrimSpace(input.WebpageURL)
	p.ContactURL = strings.TrimSpace(input.ContactURL)
	p.SourceURL = strings.TrimSpace(input.SourceURL)
	p.ImageURL = strings.TrimSpace(input.ImageURL)
	if input.LogoColor != "" {
		p.LogoColor = input.LogoColor
	}
	if input.LogoIcon != "" {
		p.LogoIcon = input.LogoIcon
	}
	p.IsAutoupdate = input.IsAutoupdate
	p.AutotextURL = strings.TrimSpace(input.AutotextURL)
	p.CategoryID = categoryID(input.CategoryID)
	if input.Progress != nil {
		p.Progress = *input.Progress
	}
}

// categoryID maps the form's empty choice (missing, zero or negative) to nil.
func categoryID(id *int64) *int64 {
	if id == nil || *id <= 0 {
		return nil
	}
	value := *id
	return &value
}

func containsProgress(options []progress.Option, code int) bool {
	for _, option := range options {
		if option.Code == code {
			return true
		}
	}
	return false
}

func containsCategory(categories []store.Category, id int64) bool {
	for _, category := range categories {
		if category.ID == id {
			return true
		}
	}
	return false
}
