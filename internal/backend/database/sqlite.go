package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jo-hoe/buracos/internal/common"

	_ "modernc.org/sqlite"
)

// Timestamps are stored as fixed-width UTC text so that ORDER BY on the column
// is chronological.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// legacyTimeLayout matches naive UTC timestamps with optional fractional
// seconds.
const legacyTimeLayout = "2006-01-02T15:04:05"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err == nil {
		return t, nil
	}
	if legacy, legacyErr := time.Parse(legacyTimeLayout, s); legacyErr == nil {
		return legacy, nil
	}
	return time.Time{}, err
}

type SQLiteDatabase struct {
	db               *sql.DB
	connectionString string
	now              func() time.Time
}

func NewSQLiteDatabase(connectionString string) (DatabaseService, error) {
	db, err := sql.Open("sqlite", connectionString)
	if err != nil {
		return nil, err
	}
	// A single connection serializes writers and keeps ":memory:" one database.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA foreign_keys = ON", "PRAGMA busy_timeout = 5000"} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	return &SQLiteDatabase{
		db:               db,
		connectionString: connectionString,
		now:              time.Now,
	}, nil
}

func (s *SQLiteDatabase) CreateDatabase() (*sql.DB, error) {
	if err := migrate(context.Background(), s.db); err != nil {
		return nil, err
	}
	return s.db, nil
}

func (s *SQLiteDatabase) SchemaVersion(ctx context.Context) (int, error) {
	return currentVersion(ctx, s.db)
}

func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteDatabase) DoesDatabaseExist() bool {
	// In SQLite, the database file is created when you connect to it.
	// So we can assume it exists if we can successfully ping the database.
	err := s.db.Ping()
	return err == nil
}

const holeColumns = "id, title, description, lat, lng, neighborhood, image, owner_id, concluded, created_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHole(row rowScanner) (*Hole, error) {
	var (
		hole         Hole
		title        sql.NullString
		description  sql.NullString
		neighborhood sql.NullString
		image        sql.NullString
		ownerID      sql.NullInt64
		createdAt    string
	)
	if err := row.Scan(&hole.ID, &title, &description, &hole.Lat, &hole.Lng,
		&neighborhood, &image, &ownerID, &hole.Concluded, &createdAt); err != nil {
		return nil, err
	}
	hole.Title = title.String
	if hole.Title == "" {
		hole.Title = DefaultHoleTitle
	}
	hole.Description = description.String
	hole.Neighborhood = neighborhood.String
	hole.Image = image.String
	if ownerID.Valid {
		id := ownerID.Int64
		hole.OwnerID = &id
	}
	created, err := parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("hole %d has malformed created_at %q: %w", hole.ID, createdAt, err)
	}
	hole.CreatedAt = created
	return &hole, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (s *SQLiteDatabase) CreateHole(ctx context.Context, hole NewHole) (int64, error) {
	if err := ValidateCoordinates(hole.Lat, hole.Lng); err != nil {
		return 0, err
	}
	title := strings.TrimSpace(hole.Title)
	if title == "" {
		title = DefaultHoleTitle
	}
	var ownerID sql.NullInt64
	if hole.OwnerID != nil {
		ownerID = sql.NullInt64{Int64: *hole.OwnerID, Valid: true}
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO holes (title, description, lat, lng, neighborhood, image, owner_id, concluded, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		title, strings.TrimSpace(hole.Description), *hole.Lat, *hole.Lng,
		nullString(strings.TrimSpace(hole.Neighborhood)), nullString(hole.Image), ownerID,
		formatTime(s.now()))
	if err != nil {
		return 0, fmt.Errorf("%w: failed to insert hole: %v", common.ErrStorage, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: failed to read hole id: %v", common.ErrStorage, err)
	}
	return id, nil
}

func (s *SQLiteDatabase) GetHole(ctx context.Context, id int64) (*Hole, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+holeColumns+" FROM holes WHERE id = ?", id)
	hole, err := scanHole(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("hole %d: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read hole %d: %v", common.ErrStorage, id, err)
	}
	return hole, nil
}

func (s *SQLiteDatabase) ListHoles(ctx context.Context, filter HoleFilter) ([]*Hole, error) {
	query := "SELECT " + holeColumns + " FROM holes"
	if !filter.IncludeConcluded {
		query += " WHERE concluded = 0"
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list holes: %v", common.ErrStorage, err)
	}
	defer func() {
		_ = rows.Close() // Explicitly ignore error as we're already returning an error from the function
	}()

	holes := make([]*Hole, 0)
	for rows.Next() {
		hole, err := scanHole(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", common.ErrStorage, err)
		}
		// Neighborhood matching happens here because SQLite's LIKE and lower()
		// only fold ASCII letters.
		if filter.matches(hole) {
			holes = append(holes, hole)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to iterate holes: %v", common.ErrStorage, err)
	}
	return holes, nil
}

func (s *SQLiteDatabase) ConcludeHole(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, "UPDATE holes SET concluded = 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("%w: failed to conclude hole %d: %v", common.ErrStorage, id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrStorage, err)
	}
	if affected == 0 {
		return fmt.Errorf("hole %d: %w", id, common.ErrNotFound)
	}
	return nil
}

func (s *SQLiteDatabase) DeleteHole(ctx context.Context, id int64) (*Hole, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to begin transaction: %v", common.ErrStorage, err)
	}
	defer func() {
		_ = tx.Rollback() // no-op after commit
	}()

	hole, err := scanHole(tx.QueryRowContext(ctx, "SELECT "+holeColumns+" FROM holes WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("hole %d: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read hole %d: %v", common.ErrStorage, id, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM holes WHERE id = ?", id); err != nil {
		return nil, fmt.Errorf("%w: failed to delete hole %d: %v", common.ErrStorage, id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: failed to commit delete of hole %d: %v", common.ErrStorage, id, err)
	}
	return hole, nil
}

const userColumns = "id, username, password, is_admin, created_at"

func scanUser(row rowScanner) (*User, error) {
	var (
		user      User
		createdAt string
	)
	if err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &user.IsAdmin, &createdAt); err != nil {
		return nil, err
	}
	created, err := parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("user %d has malformed created_at %q: %w", user.ID, createdAt, err)
	}
	user.CreatedAt = created
	return &user, nil
}

func (s *SQLiteDatabase) CreateUser(ctx context.Context, username, passwordHash string, isAdmin bool) (*User, error) {
	created := s.now()
	result, err := s.db.ExecContext(ctx,
		"INSERT INTO users (username, password, is_admin, created_at) VALUES (?, ?, ?, ?)",
		username, passwordHash, isAdmin, formatTime(created))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, fmt.Errorf("%w: username %q is already taken", common.ErrConflict, username)
		}
		return nil, fmt.Errorf("%w: failed to insert user: %v", common.ErrStorage, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read user id: %v", common.ErrStorage, err)
	}
	return &User{
		ID:           id,
		Username:     username,
		PasswordHash: passwordHash,
		IsAdmin:      isAdmin,
		CreatedAt:    created.UTC(),
	}, nil
}

func (s *SQLiteDatabase) getUser(ctx context.Context, where string, arg any) (*User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE "+where, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %v: %w", arg, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read user: %v", common.ErrStorage, err)
	}
	return user, nil
}

func (s *SQLiteDatabase) GetUserByID(ctx context.Context, id int64) (*User, error) {
	return s.getUser(ctx, "id = ?", id)
}

func (s *SQLiteDatabase) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	return s.getUser(ctx, "username = ?", username)
}

func (s *SQLiteDatabase) CountAdmins(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users WHERE is_admin = 1").Scan(&count); err != nil {
		return 0, fmt.Errorf("%w: failed to count admins: %v", common.ErrStorage, err)
	}
	return count, nil
}

func (s *SQLiteDatabase) CreateSession(ctx context.Context, token string, userID int64, expiresAt time.Time) error {
	if _, err := s.db.ExecContext(ctx,
		"INSERT INTO sessions (token, user_id, expires_at) VALUES (?, ?, ?)",
		token, userID, formatTime(expiresAt)); err != nil {
		return fmt.Errorf("%w: failed to insert session: %v", common.ErrStorage, err)
	}
	return nil
}

func (s *SQLiteDatabase) GetSession(ctx context.Context, token string) (*Session, error) {
	var (
		session   Session
		expiresAt string
	)
	err := s.db.QueryRowContext(ctx, "SELECT token, user_id, expires_at FROM sessions WHERE token = ?", token).
		Scan(&session.Token, &session.UserID, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session: %w", common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read session: %v", common.ErrStorage, err)
	}
	if session.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, fmt.Errorf("%w: malformed session expiry %q", common.ErrStorage, expiresAt)
	}
	return &session, nil
}

func (s *SQLiteDatabase) DeleteSession(ctx context.Context, token string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE token = ?", token); err != nil {
		return fmt.Errorf("%w: failed to delete session: %v", common.ErrStorage, err)
	}
	return nil
}

func (s *SQLiteDatabase) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE expires_at <= ?", formatTime(now))
	if err != nil {
		return 0, fmt.Errorf("%w: failed to delete expired sessions: %v", common.ErrStorage, err)
	}
	return result.RowsAffected()
}
