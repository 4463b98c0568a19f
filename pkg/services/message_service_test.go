package services

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tgsync/tgsync/pkg/models"
)

func testMessage(chatID string, id int64, text string) *models.Message {
	return &models.Message{
		ChatID:      chatID,
		ID:          id,
		SenderID:    "u1",
		Text:        text,
		MessageType: "text",
		Date:        1700000000 + id,
		FetchedAt:   1700000000,
	}
}

func TestMessageService_UpsertIdempotent(t *testing.T) {
	db := testCacheDB(t)
	svc := NewMessageService(db)
	ctx := testCtx()

	msg := testMessage("100", 1, "hello world")
	require.NoError(t, svc.Upsert(ctx, msg))

	// Pin created_at to a known value, then re-upsert; the stamp must
	// survive the conflict path.
	_, err := db.ExecContext(ctx,
		`UPDATE messages SET created_at = 123456 WHERE chat_id = ? AND message_id = ?`,
		"100", int64(1))
	require.NoError(t, err)

	msg.Text = "hello again"
	require.NoError(t, svc.Upsert(ctx, msg))

	count, err := svc.CountByChat(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	created, err := svc.CreatedAt(ctx, "100", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(123456), created)

	got, err := svc.Get(ctx, "100", 1)
	require.NoError(t, err)
	assert.Equal(t, "hello again", got.Text)
}

func TestMessageService_TombstoneSurvivesRefetch(t *testing.T) {
	svc := NewMessageService(testCacheDB(t))
	ctx := testCtx()

	require.NoError(t, svc.Upsert(ctx, testMessage("100", 5, "to be deleted")))

	n, err := svc.MarkDeleted(ctx, "100", []int64{5})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// A history refetch re-upserts the same id; the tombstone stays.
	require.NoError(t, svc.Upsert(ctx, testMessage("100", 5, "refetched")))

	got, err := svc.Get(ctx, "100", 5)
	require.NoError(t, err)
	assert.True(t, got.IsDeleted)

	count, err := svc.CountByChat(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestMessageService_MarkDeletedIdempotent(t *testing.T) {
	svc := NewMessageService(testCacheDB(t))
	ctx := testCtx()

	require.NoError(t, svc.Upsert(ctx, testMessage("100", 1, "x")))
	require.NoError(t, svc.Upsert(ctx, testMessage("100", 2, "y")))

	n, err := svc.MarkDeleted(ctx, "100", []int64{1, 2, 99})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Second delivery of the same delete event.
	_, err = svc.MarkDeleted(ctx, "100", []int64{1, 2})
	require.NoError(t, err)

	for _, id := range []int64{1, 2} {
		got, err := svc.Get(ctx, "100", id)
		require.NoError(t, err)
		assert.True(t, got.IsDeleted)
	}
}

func TestMessageService_MarkDeletedByMessageIDs(t *testing.T) {
	svc := NewMessageService(testCacheDB(t))
	ctx := testCtx()

	require.NoError(t, svc.Upsert(ctx, testMessage("100", 7, "a")))
	require.NoError(t, svc.Upsert(ctx, testMessage("200", 7, "b")))

	// No chat scope: every row with the id is tombstoned.
	n, err := svc.MarkDeletedByMessageIDs(ctx, []int64{7})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestMessageService_UpdateText(t *testing.T) {
	svc := NewMessageService(testCacheDB(t))
	ctx := testCtx()

	require.NoError(t, svc.Upsert(ctx, testMessage("100", 3, "original")))
	require.NoError(t, svc.UpdateText(ctx, "100", 3, "edited", 1700000500))

	got, err := svc.Get(ctx, "100", 3)
	require.NoError(t, err)
	assert.Equal(t, "edited", got.Text)
	assert.True(t, got.IsEdited)
	require.NotNil(t, got.EditDate)
	assert.Equal(t, int64(1700000500), *got.EditDate)

	err = svc.UpdateText(ctx, "100", 999, "no such message", 0)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMessageService_CursorQueries(t *testing.T) {
	svc := NewMessageService(testCacheDB(t))
	ctx := testCtx()

	_, err := svc.LatestMessageID(ctx, "100")
	require.ErrorIs(t, err, ErrNotFound)

	for _, id := range []int64{10, 25, 17} {
		require.NoError(t, svc.Upsert(ctx, testMessage("100", id, "m")))
	}

	latest, err := svc.LatestMessageID(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, int64(25), latest)

	oldest, err := svc.OldestMessageID(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, int64(10), oldest)
}

func TestMessageService_Search(t *testing.T) {
	db := testCacheDB(t)
	svc := NewMessageService(db)
	chats := NewChatService(db)
	users := NewUserService(db)
	ctx := testCtx()

	require.NoError(t, chats.Upsert(ctx, &models.Chat{
		ID: "100", Type: models.ChatGroup, Title: "Project Alpha", Username: "alphagroup",
	}))
	require.NoError(t, users.Upsert(ctx, &models.User{
		ID: "u1", FirstName: "Ada", LastName: "Lovelace", Username: "ada",
	}))

	require.NoError(t, svc.Upsert(ctx, testMessage("100", 1, "deploy finished on staging")))
	require.NoError(t, svc.Upsert(ctx, testMessage("100", 2, "lunch at noon")))
	require.NoError(t, svc.Upsert(ctx, testMessage("200", 3, "deploy broke production")))

	results, err := svc.Search(ctx, "deploy", models.SearchFilter{})
	require.NoError(t, err)
	require.Len(t, results, 2)

	results, err = svc.Search(ctx, "deploy", models.SearchFilter{ChatID: "100"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int64(1), results[0].ID)
	assert.Equal(t, "Project Alpha", results[0].ChatTitle)
	assert.Equal(t, "Ada Lovelace", results[0].SenderName)

	// Chat username filter, @-prefixed and case-insensitive.
	results, err = svc.Search(ctx, "deploy", models.SearchFilter{ChatUsername: "@AlphaGroup"})
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestMessageService_SearchExcludesTombstones(t *testing.T) {
	svc := NewMessageService(testCacheDB(t))
	ctx := testCtx()

	require.NoError(t, svc.Upsert(ctx, testMessage("100", 1, "secret plans")))
	_, err := svc.MarkDeleted(ctx, "100", []int64{1})
	require.NoError(t, err)

	results, err := svc.Search(ctx, "secret", models.SearchFilter{})
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = svc.Search(ctx, "secret", models.SearchFilter{IncludeDeleted: true})
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestMessageService_SearchEscapesOperators(t *testing.T) {
	svc := NewMessageService(testCacheDB(t))
	ctx := testCtx()

	require.NoError(t, svc.Upsert(ctx, testMessage("100", 1, "rollout v2 done")))

	// Raw FTS operators in the query must not produce syntax errors.
	for _, q := range []string{`"unbalanced`, `a-b`, `(paren`, `star*`, `col:on`, `NOT near`} {
		_, err := svc.Search(ctx, q, models.SearchFilter{})
		require.NoError(t, err, "query %q", q)
	}

	_, err := svc.Search(ctx, `"""`, models.SearchFilter{})
	require.Error(t, err, "operator-only query has no searchable token")
}

func TestEscapeFTSQuery(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"hello", `"hello"`},
		{"hello world", `"hello" "world"`},
		{"a-b", `"a" "b"`},
		{`say "hi"`, `"say" "hi"`},
		{"(x) *y", `"x" "y"`},
		{"***", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, escapeFTSQuery(tt.in), "input %q", tt.in)
	}
}

func TestMessageService_ListPagination(t *testing.T) {
	svc := NewMessageService(testCacheDB(t))
	ctx := testCtx()

	for i := int64(1); i <= 5; i++ {
		require.NoError(t, svc.Upsert(ctx, testMessage("100", i, fmt.Sprintf("msg %d", i))))
	}

	page, err := svc.List(ctx, models.MessageFilter{ChatID: "100", Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	// Newest first.
	assert.Equal(t, int64(5), page[0].ID)
	assert.Equal(t, int64(4), page[1].ID)

	page, err = svc.List(ctx, models.MessageFilter{ChatID: "100", Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(3), page[0].ID)
}

func TestMessageService_UpsertBatch(t *testing.T) {
	svc := NewMessageService(testCacheDB(t))
	ctx := testCtx()

	batch := []*models.Message{
		testMessage("100", 1, "one"),
		testMessage("100", 2, "two"),
		testMessage("100", 3, "three"),
	}
	require.NoError(t, svc.UpsertBatch(ctx, batch))
	require.NoError(t, svc.UpsertBatch(ctx, nil))

	count, err := svc.CountByChat(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}
