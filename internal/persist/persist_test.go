package persist

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/lbridge/internal/codec"
	"github.com/srg/lbridge/internal/property"
)

func openTemp(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "props.db")
	s, err := Open(path)
	require.NoError(t, err)
	return s, path
}

func at(sec int64) time.Time {
	return time.Unix(1714564800+sec, 0)
}

func TestSaveAndLoad(t *testing.T) {
	s, _ := openTemp(t)
	defer s.Close()
	ctx := context.Background()

	temp := property.MustName(0, "grillrt", "TEMP")
	cooking := property.MustName(0, "grillrt", "COOKING")
	raw := property.MustName(0, "generic", "RAW")

	require.NoError(t, s.SaveChanges(ctx, "dev-1", []property.Change{
		{Name: temp, Value: codec.Int(codec.KindInt16, 215), Timestamp: at(1)},
		{Name: cooking, Value: codec.Bool(true), Timestamp: at(1)},
		{Name: raw, Value: codec.Opaque([]byte{1, 2, 3}), Timestamp: at(1), Source: property.Cloud},
	}))
	require.NoError(t, s.SaveChanges(ctx, "dev-1", []property.Change{
		{Name: temp, Value: codec.Unknown(codec.KindInt16), Timestamp: at(2)},
	}))
	require.NoError(t, s.SaveChanges(ctx, "dev-2", []property.Change{
		{Name: temp, Value: codec.Int(codec.KindInt16, 1), Timestamp: at(3)},
	}))

	got, err := s.Load(ctx, "dev-1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.True(t, codec.Unknown(codec.KindInt16).Equal(got[temp]), "latest save wins, got %s", got[temp])
	assert.True(t, codec.Bool(true).Equal(got[cooking]))
	assert.Equal(t, []byte{1, 2, 3}, got[raw].Bytes())

	last, err := s.LastUpdate(ctx, "dev-1")
	require.NoError(t, err)
	assert.True(t, at(2).Equal(last))

	none, err := s.LastUpdate(ctx, "dev-404")
	require.NoError(t, err)
	assert.True(t, none.IsZero())
}

func TestReopenKeepsValues(t *testing.T) {
	s, path := openTemp(t)
	name := property.MustName(1, "grillrt", "TARGET_TIME")
	require.NoError(t, s.SaveChanges(context.Background(), "dev-1", []property.Change{
		{Name: name, Value: codec.Seconds(5400), Timestamp: at(1)},
	}))
	require.NoError(t, s.Close())

	again, err := Open(path)
	require.NoError(t, err)
	defer again.Close()

	got, err := again.Load(context.Background(), "dev-1")
	require.NoError(t, err)
	assert.True(t, codec.Seconds(5400).Equal(got[name]))
}

func TestSaveNothing(t *testing.T) {
	s, _ := openTemp(t)
	defer s.Close()
	require.NoError(t, s.SaveChanges(context.Background(), "dev-1", nil))

	got, err := s.Load(context.Background(), "dev-1")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRecorder(t *testing.T) {
	s, _ := openTemp(t)
	logger, hook := logtest.NewNullLogger()
	rec := NewRecorder(s, logger)

	name := property.MustName(0, "grillrt", "MEAT")
	rec.OnChanges("dev-1", []property.Change{{Name: name, Value: codec.Enum(3), Timestamp: at(1)}})

	got, err := s.Load(context.Background(), "dev-1")
	require.NoError(t, err)
	assert.True(t, codec.Enum(3).Equal(got[name]))
	assert.Empty(t, hook.AllEntries())

	require.NoError(t, s.Close())
	rec.OnChanges("dev-1", []property.Change{{Name: name, Value: codec.Enum(4), Timestamp: at(2)}})
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "Failed to persist property changes", hook.LastEntry().Message)
}
