package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// EnsureUserByName returns the user with the given username, creating it on
// first login. admin only ever promotes; it never revokes an existing flag.
func (s *PostgresStore) EnsureUserByName(ctx context.Context, name string, admin bool) (User, error) {
	const upsert = `
		INSERT INTO users (username, email, is_admin)
		VALUES ($1, CONCAT(LOWER(REPLACE($1, ' ', '.')), '@local.showcase.dev'), $2)
		ON CONFLICT (username) DO UPDATE SET is_admin = users.is_admin OR EXCLUDED.is_admin
		RETURNING id, username, email, is_admin, active, created_at
	`
	var user User
	err := s.db.QueryRowContext(ctx, upsert, name, admin).Scan(
		&user.ID, &user.Username, &user.Email, &user.IsAdmin, &user.Active, &user.CreatedAt,
	)
	if err != nil {
		return User{}, fmt.Errorf("upsert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID int64) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, email, is_admin, active, created_at
		FROM users
		WHERE id=$1
	`, userID).Scan(&user.ID, &user.Username, &user.Email, &user.IsAdmin, &user.Active, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

const eventColumns = `id, name, summary, hosted_by, location, starts_at, ends_at, has_started, has_finished, is_current, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (Event, error) {
	var item Event
	err := row.Scan(
		&item.ID,
		&item.Name,
		&item.Summary,
		&item.HostedBy,
		&item.Location,
		&item.StartsAt,
		&item.EndsAt,
		&item.HasStarted,
		&item.HasFinished,
		&item.IsCurrent,
		&item.CreatedAt,
	)
	return item, err
}

func (s *PostgresStore) ListEvents(ctx context.Context) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+eventColumns+` FROM events ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	items := make([]Event, 0)
	for rows.Next() {
		item, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetEvent(ctx context.Context, eventID int64) (Event, error) {
	item, err := scanEvent(s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id=$1`, eventID))
	if err != nil {
		return Event{}, err
	}
	return item, nil
}

// CurrentEvent returns nil when no event is flagged current.
func (s *PostgresStore) CurrentEvent(ctx context.Context) (*Event, error) {
	item, err := scanEvent(s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE is_current LIMIT 1`))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get current event: %w", err)
	}
	return &item, nil
}

func (s *PostgresStore) InsertEvent(ctx context.Context, item Event) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO events (name, summary, hosted_by, location, starts_at, ends_at, has_started, has_finished, is_current)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`, item.Name, item.Summary, item.HostedBy, item.Location, item.StartsAt, item.EndsAt, item.HasStarted, item.HasFinished, item.IsCurrent).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert event: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) ListCategories(ctx context.Context, eventID int64) ([]Category, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_id, name, description
		FROM categories
		WHERE event_id=$1
		ORDER BY name ASC
	`, eventID)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	items := make([]Category, 0)
	for rows.Next() {
		var item Category
		if err := rows.Scan(&item.ID, &item.EventID, &item.Name, &item.Description); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate categories: %w", err)
	}
	return items, nil
}

const projectColumns = `id, event_id, user_id, category_id, name, summary, longtext, webpage_url, contact_url, source_url, image_url,
	logo_color, logo_icon, is_hidden, is_autoupdate, autotext_url, progress, score, created_at, updated_at`

func scanProject(row rowScanner) (Project, error) {
	var item Project
	var userID, categoryID sql.NullInt64
	err := row.Scan(
		&item.ID,
		&item.EventID,
		&userID,
		&categoryID,
		&item.Name,
		&item.Summary,
		&item.Longtext,
		&item.WebpageURL,
		&item.ContactURL,
		&item.SourceURL,
		&item.ImageURL,
		&item.LogoColor,
		&item.LogoIcon,
		&item.IsHidden,
		&item.IsAutoupdate,
		&item.AutotextURL,
		&item.Progress,
		&item.Score,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return Project{}, err
	}
	item.UserID = userID.Int64
	if categoryID.Valid {
		id := categoryID.Int64
		item.CategoryID = &id
	}
	return item, nil
}

// ListVisibleProjects returns the event's non-hidden projects, highest score first.
func (s *PostgresStore) ListVisibleProjects(ctx context.Context, eventID int64) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+projectColumns+`
		FROM projects
		WHERE event_id=$1 AND NOT is_hidden
		ORDER BY score DESC, id ASC
	`, eventID)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	items := make([]Project, 0)
	for rows.Next() {
		item, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetProject(ctx context.Context, projectID int64) (Project, error) {
	item, err := scanProject(s.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=$1`, projectID))
	if err != nil {
		return Project{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertProject(ctx context.Context, item Project) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO projects (
			event_id, user_id, category_id, name, summary, longtext, webpage_url, contact_url, source_url, image_url,
			logo_color, logo_icon, is_hidden, is_autoupdate, autotext_url, progress, score
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING id
	`,
		item.EventID,
		nullIfZero(item.UserID),
		item.CategoryID,
		item.Name,
		item.Summary,
		item.Longtext,
		item.WebpageURL,
		item.ContactURL,
		item.SourceURL,
		item.ImageURL,
		item.LogoColor,
		item.LogoIcon,
		item.IsHidden,
		item.IsAutoupdate,
		item.AutotextURL,
		item.Progress,
		item.Score,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert project: %w", err)
	}
	return id, nil
}

// UpdateProject persists the mutable fields. The owning event and creator are
// never rewritten.
func (s *PostgresStore) UpdateProject(ctx context.Context, item Project) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE projects
		SET category_id=$2, name=$3, summary=$4, longtext=$5, webpage_url=$6, contact_url=$7, source_url=$8,
			image_url=$9, logo_color=$10, logo_icon=$11, is_hidden=$12, is_autoupdate=$13, autotext_url=$14,
			progress=$15, score=$16, updated_at=NOW()
		WHERE id=$1
	`,
		item.ID,
		item.CategoryID,
		item.Name,
		item.Summary,
		item.Longtext,
		item.WebpageURL,
		item.ContactURL,
		item.SourceURL,
		item.ImageURL,
		item.LogoColor,
		item.LogoIcon,
		item.IsHidden,
		item.IsAutoupdate,
		item.AutotextURL,
		item.Progress,
		item.Score,
	)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// AddStar is idempotent; it reports whether a new relation was created.
func (s *PostgresStore) AddStar(ctx context.Context, projectID, userID int64) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO stars (project_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (project_id, user_id) DO NOTHING
	`, projectID, userID)
	if err != nil {
		return false, fmt.Errorf("add star: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("add star: %w", err)
	}
	return affected > 0, nil
}

// RemoveStar is idempotent; it reports whether a relation was removed.
func (s *PostgresStore) RemoveStar(ctx context.Context, projectID, userID int64) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM stars WHERE project_id=$1 AND user_id=$2`, projectID, userID)
	if err != nil {
		return false, fmt.Errorf("remove star: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("remove star: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) IsStarred(ctx context.Context, projectID, userID int64) (bool, error) {
	var starred bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM stars WHERE project_id=$1 AND user_id=$2)
	`, projectID, userID).Scan(&starred)
	if err != nil {
		return false, fmt.Errorf("check star: %w", err)
	}
	return starred, nil
}

// ListTeam returns the users starring a project in the order they joined.
func (s *PostgresStore) ListTeam(ctx context.Context, projectID int64) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.username, u.email, u.is_admin, u.active, u.created_at
		FROM stars st
		JOIN users u ON u.id = st.user_id
		WHERE st.project_id=$1
		ORDER BY st.created_at ASC, u.id ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list team: %w", err)
	}
	defer rows.Close()

	items := make([]User, 0)
	for rows.Next() {
		var item User
		if err := rows.Scan(&item.ID, &item.Username, &item.Email, &item.IsAdmin, &item.Active, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan team member: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate team: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertActivity(ctx context.Context, entry Activity) error {
	action := strings.TrimSpace(entry.Action)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO activities (project_id, user_id, action, timestamp)
		VALUES ($1, $2, $3, COALESCE($4, NOW()))
	`, entry.ProjectID, nullIfZero(entry.UserID), action, nullTime(entry))
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListActivities(ctx context.Context, projectID int64, limit int) ([]Activity, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.project_id, COALESCE(a.user_id, 0), a.action, a.timestamp, COALESCE(u.username, '')
		FROM activities a
		LEFT JOIN users u ON u.id = a.user_id
		WHERE a.project_id=$1
		ORDER BY a.timestamp DESC, a.id DESC
		LIMIT $2
	`, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	defer rows.Close()

	items := make([]Activity, 0)
	for rows.Next() {
		var item Activity
		if err := rows.Scan(&item.ID, &item.ProjectID, &item.UserID, &item.Action, &item.Timestamp, &item.Username); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activities: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func nullIfZero(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

func nullTime(entry Activity) any {
	if entry.Timestamp.IsZero() {
		return nil
	}
	return entry.Timestamp
}
