package records

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/amp-labs/denguebot/sqlitedb"
)

// Migrations creates the record tables.
var Migrations = []sqlitedb.Migration{
	{
		Name: "records_001_init",
		SQL: `CREATE TABLE IF NOT EXISTS users (
			id             TEXT PRIMARY KEY,
			name           TEXT NOT NULL DEFAULT '',
			picture_url    TEXT NOT NULL DEFAULT '',
			status_message TEXT NOT NULL DEFAULT '',
			language       TEXT NOT NULL DEFAULT 'zh_tw',
			lat            REAL,
			lng            REAL,
			zapper_id      TEXT NOT NULL DEFAULT '',
			created_at     INTEGER NOT NULL,
			updated_at     INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS message_logs (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id      TEXT NOT NULL,
			speak_time   INTEGER NOT NULL,
			message_type TEXT NOT NULL,
			content      TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS message_logs_user ON message_logs (user_id, speak_time);
		CREATE TABLE IF NOT EXISTS reply_logs (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id      TEXT NOT NULL,
			speak_time   INTEGER NOT NULL,
			message_type TEXT NOT NULL,
			content      TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS reply_logs_user ON reply_logs (user_id, speak_time);
		CREATE TABLE IF NOT EXISTS unrecognized_msgs (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			message_log_id INTEGER NOT NULL REFERENCES message_logs (id) ON DELETE CASCADE
		);
		CREATE TABLE IF NOT EXISTS unrecognized_responses (
			content  TEXT PRIMARY KEY,
			response TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS suggestions (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id    TEXT NOT NULL,
			content    TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS gov_reports (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id     TEXT NOT NULL,
			action      TEXT NOT NULL,
			note        TEXT NOT NULL DEFAULT '',
			report_time INTEGER NOT NULL,
			lat         REAL,
			lng         REAL
		);
		CREATE TABLE IF NOT EXISTS zapper_reports (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id     TEXT NOT NULL,
			content     TEXT NOT NULL,
			report_time INTEGER NOT NULL
		);`,
	},
}

// SQLiteStore is a Store on SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a store over db. Migrations must be applied.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, now: time.Now}
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// UpsertProfile implements Store.
func (s *SQLiteStore) UpsertProfile(ctx context.Context, user User) error {
	now := millis(s.now())

	_, err := s.db.ExecContext(ctx, `INSERT INTO users (id, name, picture_url, status_message, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			picture_url = excluded.picture_url,
			status_message = excluded.status_message,
			updated_at = excluded.updated_at`,
		user.ID, user.Name, user.PictureURL, user.StatusMessage, now, now)
	if err != nil {
		return fmt.Errorf("upsert user %s: %w", user.ID, err)
	}

	return nil
}

// User implements Store.
func (s *SQLiteStore) User(ctx context.Context, userID string) (User, error) {
	var (
		user             User
		lat, lng         sql.NullFloat64
		created, updated int64
	)

	err := s.db.QueryRowContext(ctx, `SELECT id, name, picture_url, status_message, language, lat, lng,
			zapper_id, created_at, updated_at
		FROM users WHERE id = ?`, userID).
		Scan(&user.ID, &user.Name, &user.PictureURL, &user.StatusMessage, &user.Language,
			&lat, &lng, &user.ZapperID, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}

	if err != nil {
		return User{}, fmt.Errorf("get user %s: %w", userID, err)
	}

	user.Lat = nullFloat(lat)
	user.Lng = nullFloat(lng)
	user.CreatedAt = fromMillis(created)
	user.UpdatedAt = fromMillis(updated)

	return user, nil
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}

	return &v.Float64
}

// setUserField creates the user if needed and applies assignments.
func (s *SQLiteStore) setUserField(ctx context.Context, userID, assignments string, args ...any) error {
	now := millis(s.now())

	query := `INSERT INTO users (id, created_at, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (id) DO NOTHING`

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, query, userID, now, now); err != nil {
		_ = tx.Rollback()

		return fmt.Errorf("ensure user %s: %w", userID, err)
	}

	args = append(args, now, userID)
	if _, err := tx.ExecContext(ctx, `UPDATE users SET `+assignments+`, updated_at = ? WHERE id = ?`, args...); err != nil {
		_ = tx.Rollback()

		return fmt.Errorf("update user %s: %w", userID, err)
	}

	return tx.Commit()
}

// SetLanguage implements Store.
func (s *SQLiteStore) SetLanguage(ctx context.Context, userID, language string) error {
	return s.setUserField(ctx, userID, `language = ?`, language)
}

// SetLocation implements Store.
func (s *SQLiteStore) SetLocation(ctx context.Context, userID string, lat, lng float64) error {
	return s.setUserField(ctx, userID, `lat = ?, lng = ?`, lat, lng)
}

// SetZapperID implements Store.
func (s *SQLiteStore) SetZapperID(ctx context.Context, userID, zapperID string) error {
	return s.setUserField(ctx, userID, `zapper_id = ?`, zapperID)
}

// LogMessage implements Store.
func (s *SQLiteStore) LogMessage(ctx context.Context, msg MessageLog) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO message_logs (user_id, speak_time, message_type, content) VALUES (?, ?, ?, ?)`,
		msg.UserID, millis(msg.SpeakTime), msg.MessageType, msg.Content)
	if err != nil {
		return 0, fmt.Errorf("log message: %w", err)
	}

	return res.LastInsertId()
}

// LogReply implements Store.
func (s *SQLiteStore) LogReply(ctx context.Context, reply ReplyLog) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reply_logs (user_id, speak_time, message_type, content) VALUES (?, ?, ?, ?)`,
		reply.UserID, millis(reply.SpeakTime), reply.MessageType, reply.Content)
	if err != nil {
		return fmt.Errorf("log reply: %w", err)
	}

	return nil
}

// Messages implements Store. The newest messages come first.
func (s *SQLiteStore) Messages(ctx context.Context, userID string, limit int) ([]MessageLog, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, user_id, speak_time, message_type, content
		FROM message_logs WHERE user_id = ? ORDER BY speak_time DESC, id DESC LIMIT ?`, userID, limitOrAll(limit))
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []MessageLog

	for rows.Next() {
		var (
			msg  MessageLog
			when int64
		)

		if err := rows.Scan(&msg.ID, &msg.UserID, &when, &msg.MessageType, &msg.Content); err != nil {
			return nil, err
		}

		msg.SpeakTime = fromMillis(when)
		out = append(out, msg)
	}

	return out, rows.Err()
}

// Replies implements Store. The newest replies come first.
func (s *SQLiteStore) Replies(ctx context.Context, userID string, limit int) ([]ReplyLog, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, user_id, speak_time, message_type, content
		FROM reply_logs WHERE user_id = ? ORDER BY speak_time DESC, id DESC LIMIT ?`, userID, limitOrAll(limit))
	if err != nil {
		return nil, fmt.Errorf("list replies: %w", err)
	}
	defer rows.Close()

	var out []ReplyLog

	for rows.Next() {
		var (
			reply ReplyLog
			when  int64
		)

		if err := rows.Scan(&reply.ID, &reply.UserID, &when, &reply.MessageType, &reply.Content); err != nil {
			return nil, err
		}

		reply.SpeakTime = fromMillis(when)
		out = append(out, reply)
	}

	return out, rows.Err()
}

func limitOrAll(limit int) int {
	if limit <= 0 {
		return -1
	}

	return limit
}

// MarkUnrecognized implements Store.
func (s *SQLiteStore) MarkUnrecognized(ctx context.Context, messageLogID int64) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO unrecognized_msgs (message_log_id) VALUES (?)`, messageLogID)
	if err != nil {
		return fmt.Errorf("mark unrecognized %d: %w", messageLogID, err)
	}

	return nil
}

// CannedResponse implements Store.
func (s *SQLiteStore) CannedResponse(ctx context.Context, content string) (string, bool, error) {
	var response string

	err := s.db.QueryRowContext(ctx,
		`SELECT response FROM unrecognized_responses WHERE content = ?`, content).Scan(&response)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}

	if err != nil {
		return "", false, fmt.Errorf("canned response: %w", err)
	}

	return response, true, nil
}

// SetCannedResponse implements Store.
func (s *SQLiteStore) SetCannedResponse(ctx context.Context, content, response string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO unrecognized_responses (content, response) VALUES (?, ?)
		ON CONFLICT (content) DO UPDATE SET response = excluded.response`, content, response)
	if err != nil {
		return fmt.Errorf("set canned response: %w", err)
	}

	return nil
}

// SaveSuggestion implements Store.
func (s *SQLiteStore) SaveSuggestion(ctx context.Context, suggestion Suggestion) error {
	created := suggestion.CreatedAt
	if created.IsZero() {
		created = s.now()
	}

	_, err := s.db.ExecContext(ctx, `INSERT INTO suggestions (user_id, content, created_at) VALUES (?, ?, ?)`,
		suggestion.UserID, suggestion.Content, millis(created))
	if err != nil {
		return fmt.Errorf("save suggestion: %w", err)
	}

	return nil
}

// SaveGovReport implements Store.
func (s *SQLiteStore) SaveGovReport(ctx context.Context, report GovReport) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO gov_reports (user_id, action, note, report_time) VALUES (?, ?, ?, ?)`,
		report.UserID, report.Action, report.Note, millis(report.ReportTime))
	if err != nil {
		return 0, fmt.Errorf("save gov report: %w", err)
	}

	return res.LastInsertId()
}

// LocateLatestGovReport implements Store.
func (s *SQLiteStore) LocateLatestGovReport(ctx context.Context, userID string, lat, lng float64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE gov_reports SET lat = ?, lng = ?
		WHERE id = (SELECT id FROM gov_reports WHERE user_id = ? ORDER BY report_time DESC, id DESC LIMIT 1)`,
		lat, lng, userID)
	if err != nil {
		return fmt.Errorf("locate gov report: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if n == 0 {
		return fmt.Errorf("%w: %s", ErrReportNotFound, userID)
	}

	return nil
}

// GovReports returns the user's reports, newest first.
func (s *SQLiteStore) GovReports(ctx context.Context, userID string) ([]GovReport, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, user_id, action, note, report_time, lat, lng
		FROM gov_reports WHERE user_id = ? ORDER BY report_time DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list gov reports: %w", err)
	}
	defer rows.Close()

	var out []GovReport

	for rows.Next() {
		var (
			report   GovReport
			when     int64
			lat, lng sql.NullFloat64
		)

		if err := rows.Scan(&report.ID, &report.UserID, &report.Action, &report.Note, &when, &lat, &lng); err != nil {
			return nil, err
		}

		report.ReportTime = fromMillis(when)
		report.Lat = nullFloat(lat)
		report.Lng = nullFloat(lng)
		out = append(out, report)
	}

	return out, rows.Err()
}

// SaveZapperReport implements Store.
func (s *SQLiteStore) SaveZapperReport(ctx context.Context, report ZapperReport) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO zapper_reports (user_id, content, report_time) VALUES (?, ?, ?)`,
		report.UserID, report.Content, millis(report.ReportTime))
	if err != nil {
		return fmt.Errorf("save zapper report: %w", err)
	}

	return nil
}

// Suggestions returns the user's suggestions, oldest first.
func (s *SQLiteStore) Suggestions(ctx context.Context, userID string) ([]Suggestion, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, user_id, content, created_at
		FROM suggestions WHERE user_id = ? ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list suggestions: %w", err)
	}
	defer rows.Close()

	var out []Suggestion

	for rows.Next() {
		var (
			suggestion Suggestion
			when       int64
		)

		if err := rows.Scan(&suggestion.ID, &suggestion.UserID, &suggestion.Content, &when); err != nil {
			return nil, err
		}

		suggestion.CreatedAt = fromMillis(when)
		out = append(out, suggestion)
	}

	return out, rows.Err()
}

// ZapperReports returns the user's zapper reports, oldest first.
func (s *SQLiteStore) ZapperReports(ctx context.Context, userID string) ([]ZapperReport, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, user_id, content, report_time
		FROM zapper_reports WHERE user_id = ? ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list zapper reports: %w", err)
	}
	defer rows.Close()

	var out []ZapperReport

	for rows.Next() {
		var (
			report ZapperReport
			when   int64
		)

		if err := rows.Scan(&report.ID, &report.UserID, &report.Content, &when); err != nil {
			return nil, err
		}

		report.ReportTime = fromMillis(when)
		out = append(out, report)
	}

	return out, rows.Err()
}

// UnrecognizedCount returns how many messages were flagged as unrecognized.
func (s *SQLiteStore) UnrecognizedCount(ctx context.Context) (int, error) {
	var count int

	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM unrecognized_msgs`).Scan(&count)

	return count, err
}

// UnrecognizedMessages lists flagged messages, newest first.
func (s *SQLiteStore) UnrecognizedMessages(ctx context.Context, limit int) ([]UnrecognizedMessage, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT m.id, m.user_id, m.speak_time, m.message_type, m.content,
			COALESCE(r.response, '')
		FROM unrecognized_msgs u
		JOIN message_logs m ON m.id = u.message_log_id
		LEFT JOIN unrecognized_responses r ON r.content = m.content
		ORDER BY m.speak_time DESC, u.id DESC LIMIT ?`, limitOrAll(limit))
	if err != nil {
		return nil, fmt.Errorf("list unrecognized messages: %w", err)
	}
	defer rows.Close()

	var out []UnrecognizedMessage

	for rows.Next() {
		var (
			msg  UnrecognizedMessage
			when int64
		)

		if err := rows.Scan(&msg.ID, &msg.UserID, &when, &msg.MessageType, &msg.Content, &msg.Response); err != nil {
			return nil, err
		}

		msg.SpeakTime = fromMillis(when)
		out = append(out, msg)
	}

	return out, rows.Err()
}
