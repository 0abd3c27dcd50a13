package conversation

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store, err := NewSQLStore(db, "sqlite3")
	require.NoError(t, err)
	return store
}

func appendAt(t *testing.T, store *SQLStore, sessionID string, role Role, content string, tokens int, at time.Time) {
	t.Helper()
	_, err := store.AppendMessage(context.Background(), &Message{
		SessionID:  sessionID,
		Role:       role,
		Type:       TypeQuestion,
		Content:    content,
		TokenCount: tokens,
		CreatedAt:  at,
	})
	require.NoError(t, err)
}

func TestCreateAndGetSession(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	id, err := store.CreateSession(ctx, "u1", "c1")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	sess, err := store.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "u1", sess.UserID)
	assert.Equal(t, "c1", sess.CollectionID)
	assert.Equal(t, "active", sess.Status)
}

func TestAppendMessageRequiresSession(t *testing.T) {
	store := newTestStore(t)

	_, err := store.AppendMessage(context.Background(), &Message{
		SessionID: "missing", Role: RoleUser, Type: TypeQuestion, Content: "hi",
	})
	var serr *SessionError
	require.True(t, errors.As(err, &serr))
	assert.True(t, serr.NotFound)
}

func TestRecentMessagesChronological(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	id, err := store.CreateSession(ctx, "u1", "c1")
	require.NoError(t, err)

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	appendAt(t, store, id, RoleUser, "first", 5, base)
	appendAt(t, store, id, RoleAssistant, "second", 7, base.Add(time.Second))
	appendAt(t, store, id, RoleUser, "third", 3, base.Add(2*time.Second))

	msgs, err := store.RecentMessages(ctx, id, 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "second", msgs[0].Content)
	assert.Equal(t, "third", msgs[1].Content)
}

func TestTokenUsage(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	id, err := store.CreateSession(ctx, "u1", "c1")
	require.NoError(t, err)

	base := time.Now().UTC()
	appendAt(t, store, id, RoleUser, "q", 10, base)
	appendAt(t, store, id, RoleAssistant, "a", 25, base.Add(time.Second))

	total, err := store.TokenUsage(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 35, total)

	empty, err := store.TokenUsage(ctx, "no-such-session")
	require.NoError(t, err)
	assert.Zero(t, empty)
}

func TestMessageMetadataRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	id, err := store.CreateSession(ctx, "u1", "c1")
	require.NoError(t, err)

	msgID, err := store.AppendMessage(ctx, &Message{
		SessionID: id,
		Role:      RoleAssistant,
		Type:      TypeAnswer,
		Content:   "answer",
		Metadata:  map[string]any{"model": "gpt-4o", "chunks": float64(3)},
	})
	require.NoError(t, err)
	require.NotEmpty(t, msgID)

	msgs, err := store.RecentMessages(ctx, id, 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "gpt-4o", msgs[0].Metadata["model"])
	assert.Equal(t, float64(3), msgs[0].Metadata["chunks"])
}

func TestDeleteSessionCascades(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	id, err := store.CreateSession(ctx, "u1", "c1")
	require.NoError(t, err)
	appendAt(t, store, id, RoleUser, "q", 5, time.Now().UTC())

	require.NoError(t, store.DeleteSession(ctx, id))

	_, err = store.GetSession(ctx, id)
	require.Error(t, err)

	total, err := store.TokenUsage(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestWindowTurnAndTokenBudget(t *testing.T) {
	msgs := []*Message{
		{Role: RoleUser, Content: "one", TokenCount: 100},
		{Role: RoleAssistant, Content: "two", TokenCount: 100},
		{Role: RoleUser, Content: "three", TokenCount: 100},
		{Role: RoleAssistant, Content: "four", TokenCount: 100},
	}

	windowed := Window(msgs, WindowOptions{MaxTurns: 3, MaxTokens: 250})
	require.Len(t, windowed, 2)
	assert.Equal(t, "three", windowed[0].Content)
	assert.Equal(t, "four", windowed[1].Content)
}

func TestWindowEstimatesMissingTokenCounts(t *testing.T) {
	long := make([]byte, 4000)
	for i := range long {
		long[i] = 'x'
	}
	msgs := []*Message{
		{Role: RoleUser, Content: string(long)},
		{Role: RoleAssistant, Content: "short"},
	}

	windowed := Window(msgs, WindowOptions{MaxTokens: 100})
	require.Len(t, windowed, 1)
	assert.Equal(t, "short", windowed[0].Content)
}

func TestTranscript(t *testing.T) {
	msgs := []*Message{
		{Role: RoleUser, Content: "what is Go?"},
		{Role: RoleAssistant, Content: "A programming language."},
	}
	assert.Equal(t, "User: what is Go?\nAssistant: A programming language.", Transcript(msgs))
}
