// Package access decides who may mutate a project.
package access

import "context"

// Actor is the user behind a request. The zero value is an anonymous visitor.
type Actor struct {
	UserID        int64
	Authenticated bool
	Admin         bool
}

func Anonymous() Actor {
	return Actor{}
}

// Can reports whether an actor with the given star state may edit a project:
// team members (starred) always can, authenticated admins always can.
func Can(actor Actor, starred bool) bool {
	if starred {
		return true
	}
	return actor.Authenticated && actor.Admin
}

type StarChecker interface {
	IsStarred(ctx context.Context, projectID, userID int64) (bool, error)
}

// Policy evaluates edit rights against the current star state. Results are
// never cached: star state changes independently of any read cache.
type Policy struct {
	stars StarChecker
}

func NewPolicy(stars StarChecker) *Policy {
	return &Policy{stars: stars}
}

// Starred reports whether actor currently stars the project. Anonymous actors
// never star anything.
func (p *Policy) Starred(ctx context.Context, actor Actor, projectID int64) (bool, error) {
	if !actor.Authenticated || actor.UserID == 0 {
		return false, nil
	}
	return p.stars.IsStarred(ctx, projectID, actor.UserID)
}

func (p *Policy) CanEdit(ctx context.Context, actor Actor, projectID int64) (bool, error) {
	starred, err := p.Starred(ctx, actor, projectID)
	if err != nil {
		return false, err
	}
	return Can(actor, starred), nil
}
