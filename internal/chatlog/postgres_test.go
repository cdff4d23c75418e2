package chatlog

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var pgNow = time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

func newMockPostgresStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})

	return &PostgresStore{
		db:     sqlx.NewDb(db, "postgres"),
		logger: zap.NewNop(),
		now:    fixedClock(pgNow),
	}, mock
}

func mustJSON(t *testing.T, v interface{}) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return string(data)
}

func storedMessages() []Message {
	return []Message{
		{ID: "m1", Sender: SenderUser, Type: "text", Content: "table for two at ***-***-4567", Timestamp: pgNow},
		{ID: "m2", Sender: SenderAI, Type: "text", Content: "Booked!", Timestamp: pgNow.Add(time.Second)},
	}
}

func TestJSONColumnScanForms(t *testing.T) {
	doc := mustJSON(t, storedMessages())

	var fromBytes, fromString jsonColumn[[]Message]
	require.NoError(t, fromBytes.Scan([]byte(doc)))
	require.NoError(t, fromString.Scan(doc))

	assert.Equal(t, storedMessages(), fromBytes.V)
	assert.Equal(t, fromBytes.V, fromString.V)

	var broken jsonColumn[[]Message]
	assert.Error(t, broken.Scan(`[{"id":`))
}

func TestPostgresGetScansJSONColumns(t *testing.T) {
	store, mock := newMockPostgresStore(t)
	columns := []string{"id", "customer_id", "outlet", "start_time", "end_time", "status", "messages",
		"pii_detections", "satisfaction_rating", "tags", "last_updated", "last_error"}
	query := regexp.QuoteMeta("FROM conversations WHERE id = $1")

	mock.ExpectQuery(query).WithArgs("CONV-2025-001").WillReturnRows(
		sqlmock.NewRows(columns).AddRow(
			"CONV-2025-001", "CUST-****0001", "Downtown", pgNow, nil, "active",
			[]byte(mustJSON(t, storedMessages())), "[]", int64(0), `["vip"]`, pgNow, "",
		))
	mock.ExpectQuery(query).WithArgs("CONV-2025-404").WillReturnRows(sqlmock.NewRows(columns))

	conv, err := store.Get(context.Background(), "CONV-2025-001")
	require.NoError(t, err)
	assert.Equal(t, storedMessages(), conv.Messages)
	assert.Equal(t, []PIIDetectionRecord{}, conv.PIIDetections)
	assert.Equal(t, []string{"vip"}, conv.Tags)
	assert.Nil(t, conv.EndTime)
	require.NotNil(t, conv.LastUpdated)

	_, err = store.Get(context.Background(), "CONV-2025-404")
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestPostgresAppendMessage(t *testing.T) {
	store, mock := newMockPostgresStore(t)
	query := regexp.QuoteMeta("UPDATE conversations SET messages = messages || $2::jsonb WHERE id = $1")

	want := Message{ID: "m3", Sender: SenderUser, Type: "text", Content: "any vegan options?", Timestamp: pgNow}
	mock.ExpectExec(query).
		WithArgs("CONV-2025-001", mustJSON(t, []Message{want})).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(query).
		WithArgs("CONV-2025-404", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	got, err := store.AppendMessage(context.Background(), "CONV-2025-001",
		Message{ID: "m3", Sender: SenderUser, Content: "any vegan options?"})
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = store.AppendMessage(context.Background(), "CONV-2025-404", Message{Sender: SenderUser, Content: "hello"})
	assert.ErrorIs(t, err, ErrConversationNotFound)
}

func TestPostgresRateMessage(t *testing.T) {
	selectQuery := regexp.QuoteMeta("SELECT messages FROM conversations WHERE id = $1 FOR UPDATE")
	updateQuery := regexp.QuoteMeta("UPDATE conversations SET messages = $2 WHERE id = $1")

	t.Run("RatesWithinTransaction", func(t *testing.T) {
		store, mock := newMockPostgresStore(t)

		rated := storedMessages()
		rated[1].Rating = "up"

		mock.ExpectBegin()
		mock.ExpectQuery(selectQuery).WithArgs("CONV-2025-001").
			WillReturnRows(sqlmock.NewRows([]string{"messages"}).AddRow(mustJSON(t, storedMessages())))
		mock.ExpectExec(updateQuery).WithArgs("CONV-2025-001", mustJSON(t, rated)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, store.RateMessage(context.Background(), "CONV-2025-001", "m2", "up"))
	})

	t.Run("UnknownMessage", func(t *testing.T) {
		store, mock := newMockPostgresStore(t)

		mock.ExpectBegin()
		mock.ExpectQuery(selectQuery).WithArgs("CONV-2025-001").
			WillReturnRows(sqlmock.NewRows([]string{"messages"}).AddRow([]byte(mustJSON(t, storedMessages()))))
		mock.ExpectRollback()

		err := store.RateMessage(context.Background(), "CONV-2025-001", "m9", "down")
		assert.ErrorIs(t, err, ErrMessageNotFound)
	})

	t.Run("UnknownConversation", func(t *testing.T) {
		store, mock := newMockPostgresStore(t)

		mock.ExpectBegin()
		mock.ExpectQuery(selectQuery).WithArgs("CONV-2025-404").
			WillReturnRows(sqlmock.NewRows([]string{"messages"}))
		mock.ExpectRollback()

		err := store.RateMessage(context.Background(), "CONV-2025-404", "m1", "up")
		assert.ErrorIs(t, err, ErrConversationNotFound)
	})
}
