package notify

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagegate/sgpm/internal/models"
	"github.com/stagegate/sgpm/internal/store"
)

func TestStoreNotifier_PersistsPayload(t *testing.T) {
	ctx := context.Background()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(ctx))
	t.Cleanup(func() { s.Close() })

	u := &models.User{Name: "Rita", Email: "rita@example.org", Role: models.RoleReviewer}
	require.NoError(t, s.CreateUser(ctx, u))

	n := NewStoreNotifier(s)
	err = n.Notify(ctx, u.ID, models.EventReviewerAssigned, map[string]any{
		"project_id": "p1",
		"stage":      1,
	})
	require.NoError(t, err)

	list, err := s.ListNotifications(ctx, u.ID, true)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, models.EventReviewerAssigned, list[0].EventType)

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(list[0].Payload), &payload))
	assert.Equal(t, "p1", payload["project_id"])
}

func TestDiscard(t *testing.T) {
	var n Notifier = Discard{}
	assert.NoError(t, n.Notify(context.Background(), "anyone", models.EventStatusChanged, nil))
}
