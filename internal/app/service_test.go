package app

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"showcase/api/internal/access"
	"showcase/api/internal/activity"
	"showcase/api/internal/cache"
	"showcase/api/internal/config"
	"showcase/api/internal/progress"
	"showcase/api/internal/projectdata"
	"showcase/api/internal/search"
	"showcase/api/internal/store"
)

type starKey struct {
	projectID int64
	userID    int64
}

// fakeStore is an in-memory dataStore. The *Fn fields override single
// methods to inject failures.
type fakeStore struct {
	mu         sync.Mutex
	users      map[int64]store.User
	events     map[int64]store.Event
	categories map[int64][]store.Category
	projects   map[int64]store.Project
	stars      map[starKey]int
	starSeq    int
	activities []store.Activity
	nextID     int64

	addStarFn        func(context.Context, int64, int64) (bool, error)
	updateProjectFn  func(context.Context, store.Project) error
	insertActivityFn func(context.Context, store.Activity) error
	pingFn           func(context.Context) error
	// afterListProjects runs once the visible projects are loaded, outside
	// the lock.
	afterListProjects func()
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:      make(map[int64]store.User),
		events:     make(map[int64]store.Event),
		categories: make(map[int64][]store.Category),
		projects:   make(map[int64]store.Project),
		stars:      make(map[starKey]int),
		nextID:     100,
	}
}

func (f *fakeStore) id() int64 {
	f.nextID++
	return f.nextID
}

func (f *fakeStore) addUser(name string, admin bool) store.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	user := store.User{ID: f.id(), Username: name, IsAdmin: admin, Active: true}
	f.users[user.ID] = user
	return user
}

func (f *fakeStore) addEvent(event store.Event) store.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	event.ID = f.id()
	f.events[event.ID] = event
	return event
}

func (f *fakeStore) addCategory(eventID int64, name string) store.Category {
	f.mu.Lock()
	defer f.mu.Unlock()
	category := store.Category{ID: f.id(), EventID: eventID, Name: name}
	f.categories[eventID] = append(f.categories[eventID], category)
	return category
}

func (f *fakeStore) addProject(project store.Project) store.Project {
	f.mu.Lock()
	defer f.mu.Unlock()
	project.ID = f.id()
	project.UpdateScore()
	f.projects[project.ID] = project
	return project
}

func (f *fakeStore) star(projectID, userID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starSeq++
	f.stars[starKey{projectID, userID}] = f.starSeq
}

func (f *fakeStore) actions(projectID int64) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, entry := range f.activities {
		if entry.ProjectID == projectID {
			out = append(out, entry.Action)
		}
	}
	return out
}

func (f *fakeStore) EnsureUserByName(_ context.Context, name string, admin bool) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, user := range f.users {
		if user.Username == name {
			user.IsAdmin = user.IsAdmin || admin
			f.users[id] = user
			return user, nil
		}
	}
	user := store.User{ID: f.id(), Username: name, IsAdmin: admin, Active: true}
	f.users[user.ID] = user
	return user, nil
}

func (f *fakeStore) GetUserByID(_ context.Context, userID int64) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (f *fakeStore) ListEvents(context.Context) ([]store.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	events := make([]store.Event, 0, len(f.events))
	for _, event := range f.events {
		events = append(events, event)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].ID > events[j].ID })
	return events, nil
}

func (f *fakeStore) GetEvent(_ context.Context, eventID int64) (store.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	event, ok := f.events[eventID]
	if !ok {
		return store.Event{}, sql.ErrNoRows
	}
	return event, nil
}

func (f *fakeStore) CurrentEvent(context.Context) (*store.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, event := range f.events {
		if event.IsCurrent {
			current := event
			return &current, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) ListCategories(_ context.Context, eventID int64) ([]store.Category, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.Category(nil), f.categories[eventID]...), nil
}

func (f *fakeStore) ListVisibleProjects(_ context.Context, eventID int64) ([]store.Project, error) {
	projects := f.visibleProjects(eventID)
	if hook := f.afterListProjects; hook != nil {
		hook()
	}
	return projects, nil
}

func (f *fakeStore) visibleProjects(eventID int64) []store.Project {
	f.mu.Lock()
	defer f.mu.Unlock()
	var projects []store.Project
	for _, project := range f.projects {
		if project.EventID == eventID && !project.IsHidden {
			projects = append(projects, project)
		}
	}
	sort.Slice(projects, func(i, j int) bool {
		if projects[i].Score != projects[j].Score {
			return projects[i].Score > projects[j].Score
		}
		return projects[i].ID < projects[j].ID
	})
	return projects
}

func (f *fakeStore) GetProject(_ context.Context, projectID int64) (store.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	project, ok := f.projects[projectID]
	if !ok {
		return store.Project{}, sql.ErrNoRows
	}
	return project, nil
}

func (f *fakeStore) InsertProject(_ context.Context, project store.Project) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	project.ID = f.id()
	f.projects[project.ID] = project
	return project.ID, nil
}

func (f *fakeStore) UpdateProject(ctx context.Context, project store.Project) error {
	if f.updateProjectFn != nil {
		if err := f.updateProjectFn(ctx, project); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.projects[project.ID]
	if !ok {
		return sql.ErrNoRows
	}
	project.EventID = existing.EventID
	project.UserID = existing.UserID
	f.projects[project.ID] = project
	return nil
}

func (f *fakeStore) AddStar(ctx context.Context, projectID, userID int64) (bool, error) {
	if f.addStarFn != nil {
		return f.addStarFn(ctx, projectID, userID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := starKey{projectID, userID}
	if _, ok := f.stars[key]; ok {
		return false, nil
	}
	f.starSeq++
	f.stars[key] = f.starSeq
	return true, nil
}

func (f *fakeStore) RemoveStar(_ context.Context, projectID, userID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := starKey{projectID, userID}
	if _, ok := f.stars[key]; !ok {
		return false, nil
	}
	delete(f.stars, key)
	return true, nil
}

func (f *fakeStore) IsStarred(_ context.Context, projectID, userID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.stars[starKey{projectID, userID}]
	return ok, nil
}

func (f *fakeStore) ListTeam(_ context.Context, projectID int64) ([]store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	type member struct {
		user store.User
		seq  int
	}
	var members []member
	for key, seq := range f.stars {
		if key.projectID == projectID {
			members = append(members, member{user: f.users[key.userID], seq: seq})
		}
	}
	sort.Slice(members, func(i, j int) bool { return members[i].seq < members[j].seq })
	team := make([]store.User, 0, len(members))
	for _, m := range members {
		team = append(team, m.user)
	}
	return team, nil
}

func (f *fakeStore) InsertActivity(ctx context.Context, entry store.Activity) error {
	if f.insertActivityFn != nil {
		if err := f.insertActivityFn(ctx, entry); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	entry.ID = f.id()
	f.activities = append(f.activities, entry)
	return nil
}

func (f *fakeStore) ListActivities(_ context.Context, projectID int64, limit int) ([]store.Activity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Activity
	for i := len(f.activities) - 1; i >= 0 && len(out) < limit; i-- {
		entry := f.activities[i]
		if entry.ProjectID == projectID {
			entry.Username = f.users[entry.UserID].Username
			out = append(out, entry)
		}
	}
	return out, nil
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

// countingCache wraps the in-memory cache and counts full clears.
type countingCache struct {
	*cache.Memory
	mu     sync.Mutex
	clears int
}

func (c *countingCache) ClearAll(ctx context.Context) error {
	c.mu.Lock()
	c.clears++
	c.mu.Unlock()
	return c.Memory.ClearAll(ctx)
}

func (c *countingCache) Clears() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clears
}

type fakeFetcher struct {
	doc  projectdata.Document
	urls []string
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) projectdata.Document {
	f.urls = append(f.urls, url)
	return f.doc
}

type fakeIndex struct {
	mu      sync.Mutex
	indexed []search.ProjectRecord
	queries []search.Query
}

func (f *fakeIndex) IndexProject(record search.ProjectRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, record)
}

func (f *fakeIndex) Search(_ context.Context, q search.Query) search.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	return search.Response{Results: []search.Result{{ID: 1, Name: "hit"}}, Total: 1, Query: q.Text}
}

type testDeps struct {
	store   *fakeStore
	cache   *countingCache
	fetcher *fakeFetcher
	index   *fakeIndex
}

func newTestService(fs *fakeStore) (*Service, *testDeps) {
	deps := &testDeps{
		store:   fs,
		cache:   &countingCache{Memory: cache.NewMemory(time.Minute)},
		fetcher: &fakeFetcher{},
		index:   &fakeIndex{},
	}
	cfg := config.Config{
		JWTSecret: "test-secret",
		AccessTTL: time.Hour,
		Admins:    []string{"root"},
	}
	return newService(cfg, fs, deps.cache, deps.fetcher, deps.index), deps
}

// fixture seeds one started event with a project owned by a creator who
// stars it.
type fixture struct {
	event    store.Event
	project  store.Project
	creator  store.User
	outsider store.User
	admin    store.User
}

func seedFixture(fs *fakeStore) fixture {
	event := fs.addEvent(store.Event{Name: "Hack Days", HasStarted: true, IsCurrent: true})
	creator := fs.addUser("creator", false)
	outsider := fs.addUser("outsider", false)
	admin := fs.addUser("root", true)
	project := fs.addProject(store.Project{
		EventID:      event.ID,
		UserID:       creator.ID,
		Name:         "Rocket",
		Summary:      "Launch things",
		Progress:     progress.Prototyping,
		IsAutoupdate: true,
		AutotextURL:  "https://data.example/rocket.json",
	})
	fs.star(project.ID, creator.ID)
	return fixture{event: event, project: project, creator: creator, outsider: outsider, admin: admin}
}

func actorOf(u store.User) access.Actor {
	return access.Actor{UserID: u.ID, Authenticated: true, Admin: u.IsAdmin}
}

func intPtr(v int) *int       { return &v }
func int64Ptr(v int64) *int64 { return &v }

func TestShowProjectHasNoSideEffects(t *testing.T) {
	fs := newFakeStore()
	fx := seedFixture(fs)
	svc, deps := newTestService(fs)

	view, err := svc.ShowProject(context.Background(), fx.project.ID, access.Anonymous())
	if err != nil {
		t.Fatalf("ShowProject() error = %v", err)
	}
	if view.Starred || view.AllowEdit {
		t.Fatalf("anonymous must not be starred or allowed to edit: %+v", view)
	}
	if len(view.Team) != 1 || view.Team[0].ID != fx.creator.ID {
		t.Fatalf("unexpected team: %+v", view.Team)
	}
	if len(fs.actions(fx.project.ID)) != 0 || deps.cache.Clears() != 0 {
		t.Fatal("viewing must not record activity or clear the cache")
	}
}

func TestShowProjectNotFound(t *testing.T) {
	svc, _ := newTestService(newFakeStore())
	_, err := svc.ShowProject(context.Background(), 999, access.Anonymous())
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}
}

func TestAdminMayEditWithoutStar(t *testing.T) {
	fs := newFakeStore()
	fx := seedFixture(fs)
	svc, _ := newTestService(fs)

	view, err := svc.ShowProject(context.Background(), fx.project.ID, actorOf(fx.admin))
	if err != nil {
		t.Fatalf("ShowProject() error = %v", err)
	}
	if view.Starred || !view.AllowEdit {
		t.Fatalf("admin should be allowed without a star: %+v", view)
	}
}

func TestStarTwiceKeepsOneRelationRecordsTwice(t *testing.T) {
	fs := newFakeStore()
	fx := seedFixture(fs)
	svc, deps := newTestService(fs)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		view, err := svc.StarProject(ctx, fx.project.ID, actorOf(fx.outsider))
		if err != nil {
			t.Fatalf("StarProject() error = %v", err)
		}
		if !view.Starred || !view.AllowEdit {
			t.Fatalf("star should grant edit: %+v", view)
		}
		if len(view.Messages) != 1 || view.Messages[0] != success(msgStarred) {
			t.Fatalf("unexpected messages: %+v", view.Messages)
		}
	}

	team, _ := fs.ListTeam(ctx, fx.project.ID)
	if len(team) != 2 {
		t.Fatalf("expected one relation per user, got team %+v", team)
	}
	if got := fs.actions(fx.project.ID); len(got) != 2 || got[0] != "star" || got[1] != "star" {
		t.Fatalf("expected two star records, got %v", got)
	}
	if deps.cache.Clears() != 2 {
		t.Fatalf("expected one clear per request, got %d", deps.cache.Clears())
	}
}

func TestUnstarWithoutStarStillRecords(t *testing.T) {
	fs := newFakeStore()
	fx := seedFixture(fs)
	svc, deps := newTestService(fs)

	view, err := svc.UnstarProject(context.Background(), fx.project.ID, actorOf(fx.outsider))
	if err != nil {
		t.Fatalf("UnstarProject() error = %v", err)
	}
	if view.Starred || view.AllowEdit {
		t.Fatalf("unexpected view: %+v", view)
	}
	if view.Messages[0] != success(msgUnstarred) {
		t.Fatalf("unexpected message: %+v", view.Messages)
	}
	if got := fs.actions(fx.project.ID); len(got) != 1 || got[0] != "unstar" {
		t.Fatalf("expected one unstar record, got %v", got)
	}
	if deps.cache.Clears() != 1 {
		t.Fatalf("expected one cache clear, got %d", deps.cache.Clears())
	}
}

func TestUnstarRevokesEdit(t *testing.T) {
	fs := newFakeStore()
	fx := seedFixture(fs)
	svc, _ := newTestService(fs)

	view, err := svc.UnstarProject(context.Background(), fx.project.ID, actorOf(fx.creator))
	if err != nil {
		t.Fatalf("UnstarProject() error = %v", err)
	}
	if view.AllowEdit || len(view.Team) != 0 {
		t.Fatalf("creator should lose edit rights after unstar: %+v", view)
	}
}

func TestStarPersistenceFailureSkipsRecord(t *testing.T) {
	fs := newFakeStore()
	fx := seedFixture(fs)
	fs.addStarFn = func(context.Context, int64, int64) (bool, error) { return false, errors.New("db down") }
	svc, deps := newTestService(fs)

	if _, err := svc.StarProject(context.Background(), fx.project.ID, actorOf(fx.outsider)); err == nil {
		t.Fatal("expected persistence error")
	}
	if len(fs.actions(fx.project.ID)) != 0 || deps.cache.Clears() != 0 {
		t.Fatal("failed commit must not record or clear")
	}
}

func TestActivityAppendFailureIsNotSurfaced(t *testing.T) {
	fs := newFakeStore()
	fx := seedFixture(fs)
	fs.insertActivityFn = func(context.Context, store.Activity) error { return errors.New("append failed") }
	svc, deps := newTestService(fs)

	view, err := svc.StarProject(context.Background(), fx.project.ID, actorOf(fx.outsider))
	if err != nil {
		t.Fatalf("StarProject() error = %v", err)
	}
	if !view.Starred {
		t.Fatal("star must stay committed")
	}
	if deps.cache.Clears() != 1 {
		t.Fatalf("cache must still be cleared, got %d", deps.cache.Clears())
	}
}

func TestEditDeniedForNonMember(t *testing.T) {
	fs := newFakeStore()
	fx := seedFixture(fs)
	svc, deps := newTestService(fs)

	view, err := svc.EditProject(context.Background(), fx.project.ID, actorOf(fx.outsider), ProjectInput{Name: "Hijacked"})
	if err != nil {
		t.Fatalf("EditProject() error = %v", err)
	}
	if len(view.Messages) != 1 || view.Messages[0] != warning(msgEditDenied) {
		t.Fatalf("unexpected messages: %+v", view.Messages)
	}
	stored, _ := fs.GetProject(context.Background(), fx.project.ID)
	if stored.Name != "Rocket" {
		t.Fatalf("denied edit must not write, got name %q", stored.Name)
	}
	if len(fs.actions(fx.project.ID)) != 0 || deps.cache.Clears() != 0 {
		t.Fatal("denied edit must not record or clear")
	}
}

func TestEditByMemberUpdatesAndRecordsOnce(t *testing.T) {
	fs := newFakeStore()
	fx := seedFixture(fs)
	category := fs.addCategory(fx.event.ID, "Hardware")
	svc, deps := newTestService(fs)

	view, err := svc.EditProject(context.Background(), fx.project.ID, actorOf(fx.creator), ProjectInput{
		Name:       "Rocket 2",
		Summary:    "Launches faster",
		SourceURL:  "https://git.example/rocket",
		CategoryID: int64Ptr(category.ID),
		Progress:   intPtr(progress.Completed),
	})
	if err != nil {
		t.Fatalf("EditProject() error = %v", err)
	}
	if view.Project.Name != "Rocket 2" || view.Messages[0] != success(msgUpdated) {
		t.Fatalf("unexpected view: %+v", view)
	}
	stored, _ := fs.GetProject(context.Background(), fx.project.ID)
	if stored.Progress != progress.Completed || stored.CategoryID == nil || *stored.CategoryID != category.ID {
		t.Fatalf("edit not stored: %+v", stored)
	}
	// name +1, summary +3, source +5, completed +10
	if stored.Score != 19 {
		t.Fatalf("expected recomputed score 19, got %d", stored.Score)
	}
	if got := fs.actions(fx.project.ID); len(got) != 1 || got[0] != "update" {
		t.Fatalf("expected one update record, got %v", got)
	}
	if deps.cache.Clears() != 1 {
		t.Fatalf("expected one cache clear, got %d", deps.cache.Clears())
	}
	if len(deps.index.indexed) != 1 || deps.index.indexed[0].Name != "Rocket 2" {
		t.Fatalf("expected project to be reindexed, got %+v", deps.index.indexed)
	}
}

func TestEditValidation(t *testing.T) {
	fs := newFakeStore()
	fx := seedFixture(fs)
	other := fs.addEvent(store.Event{Name: "Other"})
	foreign := fs.addCategory(other.ID, "Elsewhere")
	svc, _ := newTestService(fs)

	cases := []struct {
		name  string
		input ProjectInput
		field string
	}{
		{name: "missing name", input: ProjectInput{Name: "  "}, field: "name"},
		{name: "unknown progress", input: ProjectInput{Name: "Ok", Progress: intPtr(42)}, field: "progress"},
		{name: "foreign category", input: ProjectInput{Name: "Ok", CategoryID: int64Ptr(foreign.ID)}, field: "categoryId"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.EditProject(context.Background(), fx.project.ID, actorOf(fx.creator), tc.input)
			var domainErr *DomainError
			if !errors.As(err, &domainErr) || domainErr.Code != "VALIDATION_ERROR" {
				t.Fatalf("expected validation error, got %v", err)
			}
			fields := domainErr.Details.(map[string]string)
			if _, ok := fields[tc.field]; !ok {
				t.Fatalf("expected error on %s, got %v", tc.field, fields)
			}
		})
	}
	if len(fs.actions(fx.project.ID)) != 0 {
		t.Fatal("invalid edits must not record activity")
	}
}

func TestEditProgressOptionsFollowEventPhase(t *testing.T) {
	fs := newFakeStore()
	fx := seedFixture(fs)
	pending := fs.addEvent(store.Event{Name: "Next year"})
	project := fs.addProject(store.Project{EventID: pending.ID, UserID: fx.creator.ID, Name: "Idea"})
	fs.star(project.ID, fx.creator.ID)
	svc, _ := newTestService(fs)
	ctx := context.Background()

	_, form, err := svc.EditForm(ctx, project.ID, actorOf(fx.creator))
	if err != nil {
		t.Fatalf("EditForm() error = %v", err)
	}
	if len(form.Progress) != 2 {
		t.Fatalf("expected pre-kickoff options only, got %+v", form.Progress)
	}
	if _, err := svc.EditProject(ctx, project.ID, actorOf(fx.creator), ProjectInput{Name: "Idea", Progress: intPtr(progress.Completed)}); err == nil {
		t.Fatal("completed must be rejected before the event starts")
	}

	_, form, err = svc.EditForm(ctx, fx.project.ID, actorOf(fx.creator))
	if err != nil {
		t.Fatalf("EditForm() error = %v", err)
	}
	if len(form.Progress) != len(progress.Options(true)) {
		t.Fatalf("expected full vocabulary, got %+v", form.Progress)
	}
}

func TestEditFormDeniedHasNoForm(t *testing.T) {
	fs := newFakeStore()
	fx := seedFixture(fs)
	svc, _ := newTestService(fs)

	view, form, err := svc.EditForm(context.Background(), fx.project.ID, actorOf(fx.outsider))
	if err != nil {
		t.Fatalf("EditForm() error = %v", err)
	}
	if form != nil {
		t.Fatal("denied actor must not receive a form")
	}
	if view.Messages[0] != warning(msgEditDenied) {
		t.Fatalf("unexpected messages: %+v", view.Messages)
	}
}

func TestCreateProjectRecordsCreateThenStar(t *testing.T) {
	fs := newFakeStore()
	fx := seedFixture(fs)
	svc, deps := newTestService(fs)

	view, err := svc.CreateProject(context.Background(), fx.event.ID, actorOf(fx.outsider), ProjectInput{
		Name:      "Drone",
		Summary:   "Flies",
		LogoColor: "#ff0000",
	})
	if err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}
	if !view.Starred || !view.AllowEdit {
		t.Fatalf("creator must be starred and allowed to edit: %+v", view)
	}
	if view.Project.Progress != progress.Default || view.Project.LogoColor != "" {
		t.Fatalf("unexpected defaults: %+v", view.Project)
	}
	if view.Messages[0] != success(msgAdded) {
		t.Fatalf("unexpected messages: %+v", view.Messages)
	}
	if got := fs.actions(view.Project.ID); len(got) != 2 || got[0] != "create" || got[1] != "star" {
		t.Fatalf("expected create then star, got %v", got)
	}
	if deps.cache.Clears() != 2 {
		t.Fatalf("expected one clear per record, got %d", deps.cache.Clears())
	}
	if view.Project.Score != 4 {
		t.Fatalf("expected score 4, got %d", view.Project.Score)
	}
}

func TestCreateProgressUsesHasStartedOnly(t *testing.T) {
	fs := newFakeStore()
	finished := fs.addEvent(store.Event{Name: "Archive", HasFinished: true})
	user := fs.addUser("late", false)
	svc, _ := newTestService(fs)

	_, err := svc.CreateProject(context.Background(), finished.ID, actorOf(user), ProjectInput{Name: "Late", Progress: intPtr(progress.Completed)})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "VALIDATION_ERROR" {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestNewProjectFormAnonymous(t *testing.T) {
	fs := newFakeStore()
	fx := seedFixture(fs)
	fs.addCategory(fx.event.ID, "Software")
	svc, _ := newTestService(fs)

	_, form, err := svc.NewProjectForm(context.Background(), fx.event.ID, access.Anonymous())
	if err != nil || form != nil {
		t.Fatalf("anonymous form = %v, %v; want nil, nil", form, err)
	}
	_, form, err = svc.NewProjectForm(context.Background(), fx.event.ID, actorOf(fx.outsider))
	if err != nil || form == nil || len(form.Categories) != 1 {
		t.Fatalf("unexpected form %+v, err %v", form, err)
	}
}

func TestAutoupdateOutcomes(t *testing.T) {
	cases := []struct {
		name    string
		actor   func(fixture) store.User
		doc     projectdata.Document
		message Message
		records int
	}{
		{
			name:    "synced",
			actor:   func(fx fixture) store.User { return fx.creator },
			doc:     projectdata.Document{Name: projectdata.String("Rocket Live"), Summary: projectdata.String("From upstream")},
			message: success(msgSynced),
			records: 1,
		},
		{
			name:    "no data",
			actor:   func(fx fixture) store.User { return fx.creator },
			doc:     projectdata.Document{Summary: projectdata.String("nameless")},
			message: warning(msgSyncNoData),
		},
		{
			name:    "no access",
			actor:   func(fx fixture) store.User { return fx.outsider },
			doc:     projectdata.Document{Name: projectdata.String("Rocket Live")},
			message: warning(msgSyncDenied),
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fs := newFakeStore()
			fx := seedFixture(fs)
			svc, deps := newTestService(fs)
			deps.fetcher.doc = tc.doc

			view, err := svc.AutoupdateProject(context.Background(), fx.project.ID, actorOf(tc.actor(fx)))
			if err != nil {
				t.Fatalf("AutoupdateProject() error = %v", err)
			}
			if len(view.Messages) != 1 || view.Messages[0] != tc.message {
				t.Fatalf("unexpected messages: %+v", view.Messages)
			}
			if got := len(fs.actions(fx.project.ID)); got != tc.records {
				t.Fatalf("expected %d records, got %d", tc.records, got)
			}
			if deps.cache.Clears() != tc.records {
				t.Fatalf("expected %d clears, got %d", tc.records, deps.cache.Clears())
			}
			if tc.records == 1 {
				stored, _ := fs.GetProject(context.Background(), fx.project.ID)
				if stored.Name != "Rocket Live" || stored.Summary != "From upstream" || view.Project.Name != "Rocket Live" {
					t.Fatalf("merge not stored: %+v", stored)
				}
			}
		})
	}
}

func TestAutoupdateHiddenProjectRejected(t *testing.T) {
	fs := newFakeStore()
	fx := seedFixture(fs)
	hidden := fx.project
	hidden.IsHidden = true
	fs.projects[hidden.ID] = hidden
	svc, deps := newTestService(fs)
	deps.fetcher.doc = projectdata.Document{Name: projectdata.String("X")}

	view, err := svc.AutoupdateProject(context.Background(), hidden.ID, actorOf(fx.admin))
	if err != nil {
		t.Fatalf("AutoupdateProject() error = %v", err)
	}
	if view.Messages[0] != warning(msgSyncDenied) || len(deps.fetcher.urls) != 0 {
		t.Fatalf("hidden project must be rejected before fetching: %+v", view.Messages)
	}
}

func TestEventProjectsSortedAndCachedUntilMutation(t *testing.T) {
	fs := newFakeStore()
	fx := seedFixture(fs)
	fs.addProject(store.Project{EventID: fx.event.ID, UserID: fx.creator.ID, Name: "Tiny"})
	fs.addProject(store.Project{EventID: fx.event.ID, UserID: fx.creator.ID, Name: "Secret", Summary: "Hidden one", IsHidden: true})
	svc, _ := newTestService(fs)
	ctx := context.Background()

	payload, err := svc.EventProjects(ctx, fx.event.ID, false)
	if err != nil {
		t.Fatalf("EventProjects() error = %v", err)
	}
	projects := payload["projects"].([]map[string]any)
	if len(projects) != 2 || projects[0]["name"] != "Rocket" || projects[1]["name"] != "Tiny" {
		t.Fatalf("unexpected projects: %+v", projects)
	}

	// A write that bypasses the service is invisible until a mutation clears the cache.
	fs.addProject(store.Project{EventID: fx.event.ID, UserID: fx.creator.ID, Name: "Sneaky"})
	cached, _ := svc.EventProjects(ctx, fx.event.ID, false)
	if got := len(cached["projects"].([]any)); got != 2 {
		t.Fatalf("expected cached listing of 2, got %d", got)
	}

	if _, err := svc.StarProject(ctx, fx.project.ID, actorOf(fx.outsider)); err != nil {
		t.Fatalf("StarProject() error = %v", err)
	}
	fresh, _ := svc.EventProjects(ctx, fx.event.ID, false)
	if got := len(fresh["projects"].([]map[string]any)); got != 3 {
		t.Fatalf("expected fresh listing of 3, got %d", got)
	}
}

func TestEventListingLoadedAcrossClearIsNotServed(t *testing.T) {
	fs := newFakeStore()
	fx := seedFixture(fs)
	svc, deps := newTestService(fs)
	ctx := context.Background()

	// The edit commits and clears the cache after the listing has loaded its
	// rows but before the listing is stored.
	fs.afterListProjects = func() {
		fs.afterListProjects = nil
		_, err := svc.EditProject(ctx, fx.project.ID, actorOf(fx.creator), ProjectInput{
			Name:     "Renamed",
			Summary:  "Launch things",
			Progress: intPtr(progress.Prototyping),
		})
		if err != nil {
			t.Errorf("EditProject() error = %v", err)
		}
	}

	stale, err := svc.EventProjects(ctx, fx.event.ID, false)
	if err != nil {
		t.Fatalf("EventProjects() error = %v", err)
	}
	if name := stale["projects"].([]map[string]any)[0]["name"]; name != "Rocket" {
		t.Fatalf("expected the overlapping read to see the old row, got %v", name)
	}
	if deps.cache.Clears() != 1 {
		t.Fatalf("expected one clear from the edit, got %d", deps.cache.Clears())
	}

	fresh, err := svc.EventProjects(ctx, fx.event.ID, false)
	if err != nil {
		t.Fatalf("EventProjects() error = %v", err)
	}
	projects, ok := fresh["projects"].([]map[string]any)
	if !ok {
		t.Fatalf("expected a freshly loaded listing, got cached %T", fresh["projects"])
	}
	if projects[0]["name"] != "Renamed" {
		t.Fatalf("expected renamed project, got %v", projects[0]["name"])
	}
}

func TestHomeLoadedAcrossClearIsNotServed(t *testing.T) {
	fs := newFakeStore()
	fx := seedFixture(fs)
	svc, deps := newTestService(fs)
	ctx := context.Background()

	key := svc.cacheKey(ctx, "home")
	if err := deps.cache.ClearAll(ctx); err != nil {
		t.Fatalf("ClearAll() error = %v", err)
	}
	// A payload computed before the clear lands under the old generation.
	svc.remember(ctx, key, map[string]any{"currentEvent": nil, "events": []any{}})

	payload, err := svc.Home(ctx)
	if err != nil {
		t.Fatalf("Home() error = %v", err)
	}
	current, _ := payload["currentEvent"].(map[string]any)
	if current == nil || current["id"] != fx.event.ID {
		t.Fatalf("expected fresh home payload, got %v", payload)
	}
}

func TestEventProjectsEmbedIsCompact(t *testing.T) {
	fs := newFakeStore()
	fx := seedFixture(fs)
	low := fs.addProject(store.Project{EventID: fx.event.ID, UserID: fx.creator.ID, Name: "Low"})
	svc, _ := newTestService(fs)

	payload, err := svc.EventProjects(context.Background(), fx.event.ID, true)
	if err != nil {
		t.Fatalf("EventProjects() error = %v", err)
	}
	projects := payload["projects"].([]map[string]any)
	if len(projects) != 2 || projects[0]["id"] != fx.project.ID || projects[1]["id"] != low.ID {
		t.Fatalf("expected creation order, got %+v", projects)
	}
	if _, ok := projects[0]["score"]; ok {
		t.Fatal("embed entries must be compact")
	}
}

func TestHomeListsCurrentSeparately(t *testing.T) {
	fs := newFakeStore()
	fx := seedFixture(fs)
	older := fs.addEvent(store.Event{Name: "Older"})
	newer := fs.addEvent(store.Event{Name: "Newer"})
	svc, _ := newTestService(fs)

	payload, err := svc.Home(context.Background())
	if err != nil {
		t.Fatalf("Home() error = %v", err)
	}
	current := payload["currentEvent"].(map[string]any)
	if current["id"] != fx.event.ID {
		t.Fatalf("unexpected current event: %+v", current)
	}
	events := payload["events"].([]map[string]any)
	if len(events) != 2 || events[0]["id"] != newer.ID || events[1]["id"] != older.ID {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestCurrentEventMissing(t *testing.T) {
	svc, _ := newTestService(newFakeStore())
	_, err := svc.CurrentEvent(context.Background())
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != 404 {
		t.Fatalf("expected 404 domain error, got %v", err)
	}
}

func TestProjectActivityNewestFirst(t *testing.T) {
	fs := newFakeStore()
	fx := seedFixture(fs)
	svc, _ := newTestService(fs)
	ctx := context.Background()

	if _, err := svc.StarProject(ctx, fx.project.ID, actorOf(fx.outsider)); err != nil {
		t.Fatalf("StarProject() error = %v", err)
	}
	if _, err := svc.UnstarProject(ctx, fx.project.ID, actorOf(fx.outsider)); err != nil {
		t.Fatalf("UnstarProject() error = %v", err)
	}

	payload, err := svc.ProjectActivity(ctx, fx.project.ID, 10)
	if err != nil {
		t.Fatalf("ProjectActivity() error = %v", err)
	}
	items := payload["activities"].([]map[string]any)
	if len(items) != 2 || items[0]["action"] != "unstar" || items[1]["action"] != "star" {
		t.Fatalf("unexpected activity order: %+v", items)
	}
	if items[0]["username"] != "outsider" {
		t.Fatalf("expected username, got %+v", items[0])
	}
}

func TestLoginGrantsConfiguredAdmin(t *testing.T) {
	fs := newFakeStore()
	svc, _ := newTestService(fs)

	session, err := svc.Login(context.Background(), "  root ")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if !session.IsAdmin || session.UserName != "root" || session.Token == "" {
		t.Fatalf("unexpected session: %+v", session)
	}

	restored, err := svc.SessionFromToken(context.Background(), session.Token)
	if err != nil {
		t.Fatalf("SessionFromToken() error = %v", err)
	}
	if restored.UserID != session.UserID || !restored.Actor().Admin || !restored.Actor().Authenticated {
		t.Fatalf("unexpected restored session: %+v", restored)
	}
}

func TestRecordKindsMatchStoreActions(t *testing.T) {
	for _, kind := range []activity.Kind{activity.KindCreate, activity.KindUpdate, activity.KindStar, activity.KindUnstar} {
		if !kind.Valid() {
			t.Fatalf("kind %q should be valid", kind)
		}
	}
}
