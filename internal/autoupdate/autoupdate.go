// Package autoupdate synchronizes a project from its external autoupdate
// document.
package autoupdate

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"showcase/api/internal/access"
	"showcase/api/internal/activity"
	"showcase/api/internal/projectdata"
	"showcase/api/internal/store"
	"showcase/api/internal/telemetry"
)

type Outcome string

const (
	Updated        Outcome = "updated"
	RejectedAccess Outcome = "rejected-access"
	RejectedNoData Outcome = "rejected-nodata"
)

type EditChecker interface {
	CanEdit(ctx context.Context, actor access.Actor, projectID int64) (bool, error)
}

type Fetcher interface {
	Fetch(ctx context.Context, url string) projectdata.Document
}

type ProjectWriter interface {
	UpdateProject(ctx context.Context, project store.Project) error
}

type Recorder interface {
	Record(ctx context.Context, projectID int64, kind activity.Kind, actorID int64)
}

type Merger struct {
	policy   EditChecker
	fetcher  Fetcher
	store    ProjectWriter
	recorder Recorder
}

func NewMerger(policy EditChecker, fetcher Fetcher, store ProjectWriter, recorder Recorder) *Merger {
	return &Merger{policy: policy, fetcher: fetcher, store: store, recorder: recorder}
}

// Autoupdate runs the sync for project on behalf of actor. On Updated the
// project is modified in place, committed and one update activity is
// recorded. Rejections leave the project and store untouched. Errors are
// persistence failures only.
func (m *Merger) Autoupdate(ctx context.Context, project *store.Project, actor access.Actor) (Outcome, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "autoupdate.Autoupdate")
	defer span.End()
	span.SetAttributes(attribute.Int64("project.id", project.ID))

	allowed, err := m.policy.CanEdit(ctx, actor, project.ID)
	if err != nil {
		return "", fmt.Errorf("check edit access: %w", err)
	}
	if !allowed || project.IsHidden || !project.IsAutoupdate {
		span.SetAttributes(attribute.String("autoupdate.outcome", string(RejectedAccess)))
		return RejectedAccess, nil
	}

	doc := m.fetcher.Fetch(ctx, project.AutotextURL)
	if !doc.HasName() {
		span.SetAttributes(attribute.String("autoupdate.outcome", string(RejectedNoData)))
		return RejectedNoData, nil
	}

	merged := *project
	Merge(&merged, doc)
	merged.UpdateScore()
	if err := m.store.UpdateProject(ctx, merged); err != nil {
		return "", fmt.Errorf("update project: %w", err)
	}
	*project = merged

	m.recorder.Record(ctx, project.ID, activity.KindUpdate, actor.UserID)
	span.SetAttributes(attribute.String("autoupdate.outcome", string(Updated)))
	return Updated, nil
}

// Merge copies every non-empty document field onto p. Absent or empty
// fields never clear an existing value. Sources trim what they parse, so
// values are written as given.
func Merge(p *store.Project, d projectdata.Document) {
	assign(&p.Name, d.Name)
	assign(&p.Summary, d.Summary)
	assign(&p.Longtext, d.Description)
	assign(&p.WebpageURL, d.HomepageURL)
	assign(&p.ContactURL, d.ContactURL)
	assign(&p.SourceURL, d.SourceURL)
	assign(&p.ImageURL, d.ImageURL)
}

func assign(dst *string, value *string) {
	if value == nil || *value == "" {
		return
	}
	*dst = *value
}
