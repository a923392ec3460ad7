package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"showcase/api/internal/access"
	"showcase/api/internal/activity"
	"showcase/api/internal/auth"
	"showcase/api/internal/autoupdate"
	"showcase/api/internal/cache"
	"showcase/api/internal/config"
	"showcase/api/internal/search"
	"showcase/api/internal/store"
	"showcase/api/internal/util"
)

type Session struct {
	Token     string
	UserID    int64
	UserName  string
	IsAdmin   bool
	JTI       string
	ExpiresAt time.Time
}

// Actor converts an authenticated session into the access-policy subject.
func (s Session) Actor() access.Actor {
	return access.Actor{UserID: s.UserID, Authenticated: true, Admin: s.IsAdmin}
}

type dataStore interface {
	EnsureUserByName(context.Context, string, bool) (store.User, error)
	GetUserByID(context.Context, int64) (store.User, error)
	ListEvents(context.Context) ([]store.Event, error)
	GetEvent(context.Context, int64) (store.Event, error)
	CurrentEvent(context.Context) (*store.Event, error)
	ListCategories(context.Context, int64) ([]store.Category, error)
	ListVisibleProjects(context.Context, int64) ([]store.Project, error)
	GetProject(context.Context, int64) (store.Project, error)
	InsertProject(context.Context, store.Project) (int64, error)
	UpdateProject(context.Context, store.Project) error
	AddStar(context.Context, int64, int64) (bool, error)
	RemoveStar(context.Context, int64, int64) (bool, error)
	IsStarred(context.Context, int64, int64) (bool, error)
	ListTeam(context.Context, int64) ([]store.User, error)
	InsertActivity(context.Context, store.Activity) error
	ListActivities(context.Context, int64, int) ([]store.Activity, error)
	Ping(ctx context.Context) error
}

type projectIndex interface {
	IndexProject(search.ProjectRecord)
	Search(context.Context, search.Query) search.Response
}

type Service struct {
	cfg      config.Config
	store    dataStore
	cache    cache.Cache
	policy   *access.Policy
	recorder *activity.Recorder
	merger   *autoupdate.Merger
	index    projectIndex
}

func New(cfg config.Config, dataStore *store.PostgresStore, readCache cache.Cache, fetcher autoupdate.Fetcher, index *search.Service) *Service {
	var idx projectIndex
	if index != nil {
		idx = index
	}
	return newService(cfg, dataStore, readCache, fetcher, idx)
}

func newService(cfg config.Config, ds dataStore, readCache cache.Cache, fetcher autoupdate.Fetcher, index projectIndex) *Service {
	policy := access.NewPolicy(ds)
	recorder := activity.NewRecorder(ds, readCache)
	return &Service{
		cfg:      cfg,
		store:    ds,
		cache:    readCache,
		policy:   policy,
		recorder: recorder,
		merger:   autoupdate.NewMerger(policy, fetcher, ds, recorder),
		index:    index,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Login(ctx context.Context, name string) (Session, error) {
	userName := strings.TrimSpace(name)
	if userName == "" {
		return Session{}, validationError(map[string]string{"name": "Name is required"})
	}

	user, err := s.store.EnsureUserByName(ctx, userName, s.cfg.IsAdmin(userName))
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(user)
}

func (s *Service) issueSession(user store.User) (Session, error) {
	expiresAt := time.Now().Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:   strconv.FormatInt(user.ID, 10),
		Name:  user.Username,
		Admin: user.IsAdmin,
		JTI:   jti,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.Username,
		IsAdmin:   user.IsAdmin,
		JTI:       jti,
		ExpiresAt: expiresAt,
	}, nil
}

// SessionFromToken validates token and reloads the user so admin and active
// flags reflect the store, not the token.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	userID, err := strconv.ParseInt(claims.Sub, 10, 64)
	if err != nil {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	if !user.Active {
		return Session{}, auth.ErrInvalidToken
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.Username,
		IsAdmin:   user.IsAdmin,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

// Home lists the current event and every other event, newest first.
func (s *Service) Home(ctx context.Context) (map[string]any, error) {
	key := s.cacheKey(ctx, "home")
	if payload, ok := s.cached(ctx, key); ok {
		return payload, nil
	}

	current, err := s.store.CurrentEvent(ctx)
	if err != nil {
		return nil, err
	}
	events, err := s.store.ListEvents(ctx)
	if err != nil {
		return nil, err
	}

	others := make([]map[string]any, 0, len(events))
	for _, event := range events {
		if current != nil && event.ID == current.ID {
			continue
		}
		others = append(others, eventPayload(event))
	}

	payload := map[string]any{
		"currentEvent": nil,
		"events":       others,
	}
	if current != nil {
		payload["currentEvent"] = eventPayload(*current)
	}
	s.remember(ctx, key, payload)
	return payload, nil
}

func (s *Service) CurrentEvent(ctx context.Context) (map[string]any, error) {
	current, err := s.store.CurrentEvent(ctx)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, notFound("No current event")
	}
	return eventPayload(*current), nil
}

// EventProjects lists the visible projects of an event. The page view is
// sorted by score descending; embed mode returns the compact list in
// creation order.
func (s *Service) EventProjects(ctx context.Context, eventID int64, embed bool) (map[string]any, error) {
	name := fmt.Sprintf("event:%d", eventID)
	if embed {
		name += ":embed"
	}
	key := s.cacheKey(ctx, name)
	if payload, ok := s.cached(ctx, key); ok {
		return payload, nil
	}

	event, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	projects, err := s.store.ListVisibleProjects(ctx, eventID)
	if err != nil {
		return nil, err
	}

	items := make([]map[string]any, 0, len(projects))
	if embed {
		sort.SliceStable(projects, func(i, j int) bool { return projects[i].ID < projects[j].ID })
		for _, project := range projects {
			items = append(items, embedPayload(project))
		}
	} else {
		sort.SliceStable(projects, func(i, j int) bool { return projects[i].Score > projects[j].Score })
		for _, project := range projects {
			items = append(items, summaryPayload(project))
		}
	}

	payload := map[string]any{
		"event":    eventPayload(event),
		"projects": items,
	}
	s.remember(ctx, key, payload)
	return payload, nil
}

func (s *Service) Search(ctx context.Context, q search.Query) search.Response {
	if s.index == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.index.Search(ctx, q)
}

// cacheKey scopes name to the current cache generation. It must be taken
// before loading: a payload loaded across a ClearAll is then written under
// the old generation and never served. An empty key disables caching for the
// request.
func (s *Service) cacheKey(ctx context.Context, name string) string {
	if s.cache == nil {
		return ""
	}
	gen, err := s.cache.Generation(ctx)
	if err != nil {
		log.Printf("cache: read generation: %v", err)
		return ""
	}
	return fmt.Sprintf("g%d:%s", gen, name)
}

func (s *Service) cached(ctx context.Context, key string) (map[string]any, bool) {
	if s.cache == nil || key == "" {
		return nil, false
	}
	var payload map[string]any
	ok, err := s.cache.Get(ctx, key, &payload)
	if err != nil {
		log.Printf("cache: read %s: %v", key, err)
		return nil, false
	}
	return payload, ok
}

func (s *Service) remember(ctx context.Context, key string, payload map[string]any) {
	if s.cache == nil || key == "" {
		return
	}
	if err := s.cache.Set(ctx, key, payload); err != nil {
		log.Printf("cache: write %s: %v", key, err)
	}
}

func (s *Service) indexProject(project store.Project) {
	if s.index == nil {
		return
	}
	s.index.IndexProject(search.ProjectRecord{
		ID:       project.ID,
		EventID:  project.EventID,
		Name:     project.Name,
		Summary:  project.Summary,
		Longtext: project.Longtext,
		Hidden:   project.IsHidden,
		Score:    project.Score,
	})
}

func parseLimit(raw string, fallback, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, domainError(http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer", nil)
	}
	if limit > max {
		limit = max
	}
	return limit, nil
}

func parseOffset(raw string) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return 0, nil
	}
	offset, err := strconv.Atoi(raw)
	if err != nil || offset < 0 {
		return 0, domainError(http.StatusBadRequest, "INVALID_OFFSET", "offset must be a non-negative integer", nil)
	}
	return offset, nil
}
