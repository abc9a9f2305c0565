package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/erazemk/orozarna/internal/db"
	"github.com/erazemk/orozarna/internal/model"
)

func entry(entityType string, entityID int64, action string) model.AuditEntry {
	return model.AuditEntry{
		EntityType:  entityType,
		EntityID:    entityID,
		Action:      action,
		Outcome:     model.OutcomeSucceeded,
		ActorID:     1,
		OriginClass: string(model.OriginLAN),
		Timestamp:   time.Now().UTC(),
	}
}

func TestSQLStoreSequencePerEntity(t *testing.T) {
	st := NewSQLStore(db.NewTestAuditDB(t))
	ctx := context.Background()

	a1, err := st.Append(ctx, entry(model.EntityItem, 1, "take"))
	require.NoError(t, err)
	b1, err := st.Append(ctx, entry(model.EntityItem, 2, "take"))
	require.NoError(t, err)
	a2, err := st.Append(ctx, entry(model.EntityItem, 1, "return"))
	require.NoError(t, err)
	p1, err := st.Append(ctx, entry(model.EntityPersonnel, 1, "register"))
	require.NoError(t, err)

	assert.Equal(t, int64(1), a1.Seq)
	assert.Equal(t, int64(1), b1.Seq)
	assert.Equal(t, int64(2), a2.Seq)
	assert.Equal(t, int64(1), p1.Seq, "same id under another entity type has its own sequence")

	history, err := st.ListByEntity(ctx, model.EntityItem, 1)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "take", history[0].Action)
	assert.Equal(t, "return", history[1].Action)

	recent, err := st.ListRecent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, p1.ID, recent[0].ID)
}

func TestAppendIsIdempotentPerIntent(t *testing.T) {
	stores := map[string]Store{
		"sql":    NewSQLStore(db.NewTestAuditDB(t)),
		"memory": NewMemoryStore(),
	}
	for name, st := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			e := entry(model.EntityItem, 1, "take")
			e.IntentID = "intent-1"

			first, err := st.Append(ctx, e)
			require.NoError(t, err)
			again, err := st.Append(ctx, e)
			require.NoError(t, err)
			assert.Equal(t, first.ID, again.ID)
			assert.Equal(t, int64(1), again.Seq)
			assert.Equal(t, "intent-1", again.IntentID)

			// Entries recorded directly carry no intent and never collide.
			_, err = st.Append(ctx, entry(model.EntityItem, 1, "return"))
			require.NoError(t, err)
			_, err = st.Append(ctx, entry(model.EntityItem, 1, "return"))
			require.NoError(t, err)

			history, err := st.ListByEntity(ctx, model.EntityItem, 1)
			require.NoError(t, err)
			require.Len(t, history, 3)
			assert.Equal(t, []int64{1, 2, 3}, []int64{history[0].Seq, history[1].Seq, history[2].Seq})
		})
	}
}

func TestSQLStoreConcurrentAppendsKeepSequenceDense(t *testing.T) {
	st := NewSQLStore(db.NewTestAuditDB(t))
	ctx := context.Background()

	var g errgroup.Group
	for i := 0; i < 20; i++ {
		g.Go(func() error {
			_, err := st.Append(ctx, entry(model.EntityItem, 7, "take"))
			return err
		})
	}
	require.NoError(t, g.Wait())

	history, err := st.ListByEntity(ctx, model.EntityItem, 7)
	require.NoError(t, err)
	require.Len(t, history, 20)
	for i, e := range history {
		assert.Equal(t, int64(i+1), e.Seq)
	}
}

func TestSQLStoreSnapshots(t *testing.T) {
	st := NewSQLStore(db.NewTestAuditDB(t))
	ctx := context.Background()

	e := entry(model.EntityItem, 1, "soft_delete")
	e.Before = Snapshot(map[string]string{"status": "available"})
	e.After = Snapshot(map[string]string{"status": "inactive"})
	e.Reason = "cleanup"
	e.RequestID = "req-1"
	_, err := st.Append(ctx, e)
	require.NoError(t, err)

	history, err := st.ListByEntity(ctx, model.EntityItem, 1)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.JSONEq(t, `{"status":"available"}`, string(history[0].Before))
	assert.JSONEq(t, `{"status":"inactive"}`, string(history[0].After))
	assert.Equal(t, "cleanup", history[0].Reason)
	assert.Equal(t, "req-1", history[0].RequestID)
}

func TestSQLStoreEntriesImmutable(t *testing.T) {
	database := db.NewTestAuditDB(t)
	st := NewSQLStore(database)
	ctx := context.Background()

	e, err := st.Append(ctx, entry(model.EntityItem, 1, "take"))
	require.NoError(t, err)

	_, err = database.ExecContext(ctx, `UPDATE audit_entries SET outcome = 'denied' WHERE id = ?`, e.ID)
	assert.Error(t, err)
	_, err = database.ExecContext(ctx, `DELETE FROM audit_entries WHERE id = ?`, e.ID)
	assert.Error(t, err)
}

func TestSnapshotNil(t *testing.T) {
	var item *model.Item
	assert.Nil(t, Snapshot(nil))
	assert.Nil(t, Snapshot(item))
}
