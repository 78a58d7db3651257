package shots

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjeanneret/ScoutGo/internal/catalog"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	db, err := catalog.Open(filepath.Join(t.TempDir(), "scout.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewLog(db)
}

func TestRecord_FillsIDAndTime(t *testing.T) {
	l := newTestLog(t)
	fixed := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	l.now = func() time.Time { return fixed }

	s, err := l.Record(context.Background(), Shot{Camera: "ALEXA 35", FocalMm: 35, Role: "main", Zoom: 1.2})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, s.ID)
	assert.True(t, s.Time.Equal(fixed))
}

func TestList_RoundTrip(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	loc := orb.Point{2.3522, 48.8566}

	first, err := l.Record(ctx, Shot{Time: base, Camera: "ALEXA 35", Mode: "Open Gate",
		Lens: "Optimo 24-290", FocalMm: 50, Squeeze: 1, TargetHFOVDeg: 31.3,
		Role: "main", Zoom: 2.0, ErrorDeg: 0.4, Path: "a.webp", Location: &loc})
	require.NoError(t, err)
	_, err = l.Record(ctx, Shot{Time: base.Add(time.Minute), Camera: "ALEXA 35", FocalMm: 100, Role: "tele"})
	require.NoError(t, err)

	list, err := l.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)

	got := list[0]
	assert.Equal(t, first.ID, got.ID)
	assert.True(t, got.Time.Equal(base))
	assert.Equal(t, "Open Gate", got.Mode)
	assert.Equal(t, 2.0, got.Zoom)
	require.NotNil(t, got.Location)
	assert.InDelta(t, 48.8566, got.Location.Lat(), 1e-9)
	assert.InDelta(t, 2.3522, got.Location.Lon(), 1e-9)

	assert.Nil(t, list[1].Location)
	assert.Equal(t, "tele", list[1].Role)

	limited, err := l.List(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestGeoJSON_OnlyLocatedShots(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()
	loc := orb.Point{-118.3287, 34.0928}

	located, err := l.Record(ctx, Shot{Camera: "V-RAPTOR", Lens: "S4/i 32mm", FocalMm: 32, Role: "main", Location: &loc})
	require.NoError(t, err)
	_, err = l.Record(ctx, Shot{Camera: "V-RAPTOR", FocalMm: 75, Role: "tele"})
	require.NoError(t, err)

	fc, err := l.GeoJSON(ctx)
	require.NoError(t, err)
	require.Len(t, fc.Features, 1)

	f := fc.Features[0]
	assert.Equal(t, located.ID.String(), f.ID)
	assert.Equal(t, orb.Point{-118.3287, 34.0928}, f.Geometry)
	assert.Equal(t, "S4/i 32mm", f.Properties["lens"])

	data, err := json.Marshal(fc)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"FeatureCollection"`)
}

func TestGeoJSON_Empty(t *testing.T) {
	l := newTestLog(t)
	fc, err := l.GeoJSON(context.Background())
	require.NoError(t, err)
	assert.Empty(t, fc.Features)
}
