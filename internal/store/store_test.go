package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labfleet/repair-engine/pkg/models"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	return log
}

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func diagnosis(id, host string, offset time.Duration, healthy bool) *models.Diagnosis {
	d := models.NewDiagnosis(id, host, "labstation")
	d.StartedAt = base.Add(offset)
	d.AddEntry("ssh", models.NodeKindVerifier, "Host is reachable over ssh", nil, nil)
	if healthy {
		d.SetStatus("ssh", models.PassedStatus())
	} else {
		d.SetStatus("ssh", models.FailedStatus("unreachable"))
	}
	d.Healthy = healthy
	return d
}

func stores(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "diag", "history.db"), quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(0),
		"sqlite": sqlite,
	}
}

func TestStore_SaveGet(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			d := diagnosis("diag-1", "labstation1", 0, false)

			require.NoError(t, s.Save(ctx, d))

			got, err := s.Get(ctx, "diag-1")
			require.NoError(t, err)
			assert.Equal(t, "labstation1", got.Host)
			assert.False(t, got.Healthy)
			assert.Equal(t, models.NodeStateFailed, got.Status("ssh").State)
			assert.True(t, base.Equal(got.StartedAt))

			_, err = s.Get(ctx, "diag-missing")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_SaveReplaces(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			d := diagnosis("diag-1", "labstation1", 0, false)
			require.NoError(t, s.Save(ctx, d))

			d.SetStatus("ssh", models.PassedStatus())
			d.Healthy = true
			require.NoError(t, s.Save(ctx, d))

			got, err := s.Get(ctx, "diag-1")
			require.NoError(t, err)
			assert.True(t, got.Healthy)

			list, err := s.List(ctx, "labstation1", 0)
			require.NoError(t, err)
			assert.Len(t, list, 1)
		})
	}
}

func TestStore_ListNewestFirst(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.Save(ctx, diagnosis("diag-b", "labstation1", time.Hour, true)))
			require.NoError(t, s.Save(ctx, diagnosis("diag-a", "labstation1", 0, false)))
			require.NoError(t, s.Save(ctx, diagnosis("diag-c", "labstation1", 2*time.Hour, true)))
			require.NoError(t, s.Save(ctx, diagnosis("diag-x", "labstation2", 3*time.Hour, true)))

			all, err := s.List(ctx, "labstation1", 0)
			require.NoError(t, err)
			assert.Equal(t, []string{"diag-c", "diag-b", "diag-a"}, ids(all))

			limited, err := s.List(ctx, "labstation1", 2)
			require.NoError(t, err)
			assert.Equal(t, []string{"diag-c", "diag-b"}, ids(limited))

			none, err := s.List(ctx, "labstation9", 0)
			require.NoError(t, err)
			assert.NotNil(t, none)
			assert.Empty(t, none)
		})
	}
}

func TestStore_RejectsInvalid(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, s.Save(context.Background(), nil))
			assert.ErrorContains(t, s.Save(context.Background(), &models.Diagnosis{Host: "h"}), "no id")
		})
	}
}

func TestMemoryStore_MaxPerHost(t *testing.T) {
	s := NewMemoryStore(2)
	ctx := context.Background()

	for i, id := range []string{"diag-1", "diag-2", "diag-3"} {
		require.NoError(t, s.Save(ctx, diagnosis(id, "labstation1", time.Duration(i)*time.Minute, true)))
	}
	require.NoError(t, s.Save(ctx, diagnosis("diag-other", "labstation2", 0, true)))

	list, err := s.List(ctx, "labstation1", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"diag-3", "diag-2"}, ids(list))

	_, err = s.Get(ctx, "diag-1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Get(ctx, "diag-other")
	assert.NoError(t, err)
}

func TestMemoryStore_StoresCopies(t *testing.T) {
	s := NewMemoryStore(0)
	ctx := context.Background()
	d := diagnosis("diag-1", "labstation1", 0, false)
	require.NoError(t, s.Save(ctx, d))

	d.Healthy = true
	got, err := s.Get(ctx, "diag-1")
	require.NoError(t, err)
	assert.False(t, got.Healthy)
}

func TestSQLiteStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(ctx, path, quietLogger())
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, diagnosis("diag-1", "labstation1", 0, true)))
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(ctx, path, quietLogger())
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Get(ctx, "diag-1")
	require.NoError(t, err)
	assert.True(t, got.Healthy)
}

func ids(list []*models.Diagnosis) []string {
	out := make([]string, 0, len(list))
	for _, d := range list {
		out = append(out, d.ID)
	}
	return out
}
