package chatlog

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/groundtruth-ai/restaurant-chat/internal/cache"
	"github.com/groundtruth-ai/restaurant-chat/internal/config"
)

const schema = `
	CREATE SEQUENCE IF NOT EXISTS conversation_seq;
	CREATE TABLE IF NOT EXISTS conversations (
		id                  TEXT PRIMARY KEY,
		customer_id         TEXT NOT NULL,
		outlet              TEXT NOT NULL,
		start_time          TIMESTAMPTZ NOT NULL,
		end_time            TIMESTAMPTZ,
		status              TEXT NOT NULL,
		messages            JSONB NOT NULL DEFAULT '[]',
		pii_detections      JSONB NOT NULL DEFAULT '[]',
		satisfaction_rating INT NOT NULL DEFAULT 0,
		tags                JSONB NOT NULL DEFAULT '[]',
		last_updated        TIMESTAMPTZ,
		last_error          TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_start_time ON conversations (start_time);`

const selectColumns = `
	SELECT id, customer_id, outlet, start_time, end_time, status, messages,
		pii_detections, satisfaction_rating, tags, last_updated, last_error
	FROM conversations`

// jsonColumn stores a value as a JSONB column
type jsonColumn[T any] struct {
	V T
}

func (j jsonColumn[T]) Value() (driver.Value, error) {
	data, err := json.Marshal(j.V)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (j *jsonColumn[T]) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported JSON column type %T", src)
	}
	return json.Unmarshal(data, &j.V)
}

// row mirrors the conversations table
type row struct {
	ID                 string                           `db:"id"`
	CustomerID         string                           `db:"customer_id"`
	Outlet             string                           `db:"outlet"`
	StartTime          time.Time                        `db:"start_time"`
	EndTime            sql.NullTime                     `db:"end_time"`
	Status             string                           `db:"status"`
	Messages           jsonColumn[[]Message]            `db:"messages"`
	PIIDetections      jsonColumn[[]PIIDetectionRecord] `db:"pii_detections"`
	SatisfactionRating int                              `db:"satisfaction_rating"`
	Tags               jsonColumn[[]string]             `db:"tags"`
	LastUpdated        sql.NullTime                     `db:"last_updated"`
	LastError          string                           `db:"last_error"`
}

func (r row) conversation() Conversation {
	c := Conversation{
		ID:                 r.ID,
		CustomerID:         r.CustomerID,
		Outlet:             r.Outlet,
		StartTime:          r.StartTime,
		Status:             Status(r.Status),
		Messages:           r.Messages.V,
		PIIDetections:      r.PIIDetections.V,
		SatisfactionRating: r.SatisfactionRating,
		Tags:               r.Tags.V,
		LastError:          r.LastError,
	}
	if r.EndTime.Valid {
		end := r.EndTime.Time
		c.EndTime = &end
	}
	if r.LastUpdated.Valid {
		updated := r.LastUpdated.Time
		c.LastUpdated = &updated
	}
	if c.Messages == nil {
		c.Messages = []Message{}
	}
	if c.PIIDetections == nil {
		c.PIIDetections = []PIIDetectionRecord{}
	}
	return c
}

// PostgresStore persists conversations in PostgreSQL. Messages and detection
// records live in JSONB columns of the conversation row.
type PostgresStore struct {
	db     *sqlx.DB
	logger *zap.Logger
	now    func() time.Time
}

// NewPostgresStore connects to the database and ensures the schema exists
func NewPostgresStore(cfg config.DatabaseConfig, logger *zap.Logger) (*PostgresStore, error) {
	db, err := sqlx.Connect("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	store := &PostgresStore{db: db, logger: logger, now: time.Now}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := store.db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	if _, err := store.db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	logger.Info("Conversation store initialized",
		zap.String("database_url", cache.MaskURL(cfg.URL)),
		zap.Int("max_open_conns", cfg.MaxOpenConns),
		zap.Int("max_idle_conns", cfg.MaxIdleConns))

	return store, nil
}

func (s *PostgresStore) Create(ctx context.Context, c Conversation) (Conversation, error) {
	now := s.now()
	c = withDefaults(c, now)

	var seq int64
	if err := s.db.GetContext(ctx, &seq, "SELECT nextval('conversation_seq')"); err != nil {
		return Conversation{}, fmt.Errorf("failed to allocate conversation id: %w", err)
	}
	c.ID = FormatID(now.Year(), seq)

	query := `
		INSERT INTO conversations (id, customer_id, outlet, start_time, status, messages, pii_detections, tags)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.db.ExecContext(ctx, query,
		c.ID,
		c.CustomerID,
		c.Outlet,
		c.StartTime,
		string(c.Status),
		jsonColumn[[]Message]{c.Messages},
		jsonColumn[[]PIIDetectionRecord]{c.PIIDetections},
		jsonColumn[[]string]{c.Tags},
	)
	if err != nil {
		s.logger.Error("Failed to insert conversation", zap.Error(err), zap.String("conversation_id", c.ID))
		return Conversation{}, fmt.Errorf("failed to insert conversation: %w", err)
	}

	return c, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Conversation, error) {
	var r row
	err := s.db.GetContext(ctx, &r, selectColumns+" WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return Conversation{}, ErrConversationNotFound
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("failed to get conversation: %w", err)
	}
	return r.conversation(), nil
}

// buildListQuery renders the filtered list query and its arguments
func buildListQuery(filter Filter) (string, []interface{}) {
	var clauses []string
	var args []interface{}

	add := func(clause string, arg interface{}) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}
	if filter.CustomerID != "" {
		add("customer_id = $%d", filter.CustomerID)
	}
	if !filter.From.IsZero() {
		add("start_time >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("start_time <= $%d", filter.To)
	}

	query := selectColumns
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	return query + " ORDER BY start_time, id", args
}

func (s *PostgresStore) List(ctx context.Context, filter Filter) ([]Conversation, error) {
	query, args := buildListQuery(filter)

	var rows []row
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	out := make([]Conversation, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.conversation())
	}
	return out, nil
}

// appendJSON appends one element to a JSONB array column
func (s *PostgresStore) appendJSON(ctx context.Context, id, column string, value interface{}) error {
	element, err := json.Marshal([]interface{}{value})
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", column, err)
	}

	query := fmt.Sprintf(`UPDATE conversations SET %[1]s = %[1]s || $2::jsonb WHERE id = $1`, column)
	res, err := s.db.ExecContext(ctx, query, id, string(element))
	if err != nil {
		return fmt.Errorf("failed to append %s: %w", column, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to append %s: %w", column, err)
	}
	if affected == 0 {
		return ErrConversationNotFound
	}
	return nil
}

func (s *PostgresStore) AppendMessage(ctx context.Context, id string, msg Message) (Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Type == "" {
		msg.Type = "text"
	}
	msg.Timestamp = s.now()

	if err := s.appendJSON(ctx, id, "messages", msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}

func (s *PostgresStore) RateMessage(ctx context.Context, id, messageID, rating string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var messages jsonColumn[[]Message]
	err = tx.GetContext(ctx, &messages, "SELECT messages FROM conversations WHERE id = $1 FOR UPDATE", id)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrConversationNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load messages: %w", err)
	}

	found := false
	for i := range messages.V {
		if messages.V[i].ID == messageID {
			messages.V[i].Rating = rating
			found = true
		}
	}
	if !found {
		return ErrMessageNotFound
	}

	if _, err := tx.ExecContext(ctx, "UPDATE conversations SET messages = $2 WHERE id = $1", id, messages); err != nil {
		return fmt.Errorf("failed to rate message: %w", err)
	}
	return tx.Commit()
}

// buildUpdate renders the SET clause for a patch. $1 is reserved for the id.
func buildUpdate(update Update, now time.Time) (string, []interface{}) {
	sets := []string{}
	args := []interface{}{}

	set := func(column string, arg interface{}) {
		args = append(args, arg)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)+1))
	}

	if update.Status != nil {
		set("status", string(*update.Status))
	}
	if update.Outlet != nil {
		set("outlet", *update.Outlet)
	}
	if update.EndTime != nil {
		set("end_time", *update.EndTime)
	}
	if update.SatisfactionRating != nil {
		set("satisfaction_rating", *update.SatisfactionRating)
	}
	if update.LastError != nil {
		set("last_error", *update.LastError)
	}
	if update.Tags != nil {
		set("tags", jsonColumn[[]string]{update.Tags})
	}
	set("last_updated", now)

	return "UPDATE conversations SET " + strings.Join(sets, ", ") + " WHERE id = $1", args
}

func (s *PostgresStore) Update(ctx context.Context, id string, update Update) (Conversation, error) {
	query, args := buildUpdate(update, s.now())

	res, err := s.db.ExecContext(ctx, query, append([]interface{}{id}, args...)...)
	if err != nil {
		return Conversation{}, fmt.Errorf("failed to update conversation: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return Conversation{}, ErrConversationNotFound
	}

	return s.Get(ctx, id)
}

func (s *PostgresStore) RecordPIIDetection(ctx context.Context, id string, record PIIDetectionRecord) error {
	record.Timestamp = s.now()
	return s.appendJSON(ctx, id, "pii_detections", record)
}

// Clear removes every conversation and restarts the ID sequence
func (s *PostgresStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "TRUNCATE conversations; ALTER SEQUENCE conversation_seq RESTART"); err != nil {
		return fmt.Errorf("failed to clear conversations: %w", err)
	}
	s.logger.Warn("Conversation store cleared")
	return nil
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
