package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robert-malhotra/changewatch/internal/aoi"
)

var (
	unitBox = aoi.BoundingBox{MinLon: 0, MinLat: 0, MaxLon: 1, MaxLat: 1}
	target  = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
)

type fakeSearcher struct {
	candidates []SceneCandidate
	err        error
	block      bool
	got        Query
}

func (f *fakeSearcher) Search(ctx context.Context, q Query) ([]SceneCandidate, error) {
	f.got = q
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.candidates, f.err
}

func (f *fakeSearcher) Name() string { return "fake" }

func scene(id string, cloud float64, acquired time.Time) SceneCandidate {
	return SceneCandidate{
		ID:         id,
		Acquired:   acquired,
		CloudCover: cloud,
		Footprint:  aoi.BoundingBox{MinLon: -1, MinLat: -1, MaxLon: 2, MaxLat: 2},
		Bands:      map[string]string{BandRed: "r", BandGreen: "g", BandBlue: "b"},
	}
}

func TestSearchWindow_Bounds(t *testing.T) {
	w := NewSearchWindow(time.Date(2024, 6, 1, 13, 45, 0, 0, time.UTC), 15)

	assert.Equal(t, time.Date(2024, 5, 17, 0, 0, 0, 0, time.UTC), w.Start())
	assert.Equal(t, time.Date(2024, 6, 16, 23, 59, 59, int(999*time.Millisecond), time.UTC), w.End())

	assert.True(t, w.Contains(w.Start()))
	assert.True(t, w.Contains(w.End()))
	assert.False(t, w.Contains(w.Start().Add(-time.Nanosecond)))
	assert.False(t, w.Contains(w.End().Add(time.Millisecond)))
	assert.Equal(t, "2024-05-17T00:00:00Z/2024-06-16T23:59:59Z", w.Interval())
}

func TestSearchWindow_NegativeTolerance(t *testing.T) {
	w := NewSearchWindow(target, -3)
	assert.Equal(t, 0, w.ToleranceDays)
	assert.True(t, w.Contains(target.Add(23*time.Hour)))
	assert.False(t, w.Contains(target.AddDate(0, 0, 1)))
}

func TestSceneCandidate_Clone(t *testing.T) {
	orig := scene("a", 1, target)
	c := orig.Clone()
	c.Bands[BandRed] = "changed"
	assert.Equal(t, "r", orig.Bands[BandRed])

	_, ok := SceneCandidate{Bands: map[string]string{BandRed: ""}}.Band(BandRed)
	assert.False(t, ok)
}

func TestSearch_FiltersAndOrders(t *testing.T) {
	outside := scene("outside-footprint", 1, target)
	outside.Footprint = aoi.BoundingBox{MinLon: 50, MinLat: 50, MaxLon: 51, MaxLat: 51}

	f := &fakeSearcher{candidates: []SceneCandidate{
		scene("cloudy", 35, target),
		scene("twelve", 12, target),
		scene("five", 5, target.AddDate(0, 0, 3)),
		scene("late", 1, target.AddDate(0, 0, 20)),
		scene("negative", -1, target),
		outside,
		{ID: "no-footprint", CloudCover: 0, Acquired: target},
	}}

	q := Query{BBox: unitBox, Window: NewSearchWindow(target, 15), MaxCloudCover: 20}
	out := Search(context.Background(), f, q, Options{Timeout: time.Second})

	require.NoError(t, out.Err)
	require.Len(t, out.Candidates, 2)
	assert.Equal(t, "five", out.Candidates[0].ID)
	assert.Equal(t, "twelve", out.Candidates[1].ID)
	assert.Equal(t, 5, out.Discarded)
	assert.Equal(t, q, f.got)

	for _, c := range out.Candidates {
		assert.LessOrEqual(t, c.CloudCover, q.MaxCloudCover)
		assert.True(t, q.Window.Contains(c.Acquired))
	}
}

func TestSearch_ReturnsCopies(t *testing.T) {
	f := &fakeSearcher{candidates: []SceneCandidate{scene("a", 1, target)}}
	q := Query{BBox: unitBox, Window: NewSearchWindow(target, 15), MaxCloudCover: 20}

	out := Search(context.Background(), f, q, Options{})
	require.Len(t, out.Candidates, 1)
	out.Candidates[0].Bands[BandRed] = "mutated"
	assert.Equal(t, "r", f.candidates[0].Bands[BandRed])
}

func TestSearch_Unavailable(t *testing.T) {
	f := &fakeSearcher{err: errors.New("connection refused")}
	q := Query{BBox: unitBox, Window: NewSearchWindow(target, 15), MaxCloudCover: 20}

	out := Search(context.Background(), f, q, Options{Timeout: time.Second})
	assert.True(t, out.Empty())
	assert.ErrorIs(t, out.Err, ErrSearchUnavailable)
	assert.Contains(t, out.Err.Error(), "connection refused")
}

func TestSearch_Timeout(t *testing.T) {
	f := &fakeSearcher{block: true}
	q := Query{BBox: unitBox, Window: NewSearchWindow(target, 15), MaxCloudCover: 20}

	start := time.Now()
	out := Search(context.Background(), f, q, Options{Timeout: 20 * time.Millisecond})
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.ErrorIs(t, out.Err, ErrSearchUnavailable)
	assert.ErrorIs(t, out.Err, context.DeadlineExceeded)
	assert.True(t, out.Empty())
}

func TestRanking_Sort(t *testing.T) {
	w := NewSearchWindow(target, 15)
	input := []SceneCandidate{
		scene("c", 10, target.AddDate(0, 0, 5)),
		scene("b", 10, target.AddDate(0, 0, -1)),
		scene("a", 10, target.AddDate(0, 0, 1)),
		scene("z", 2, target.AddDate(0, 0, 9)),
	}

	byCloud := append([]SceneCandidate(nil), input...)
	RankByCloud.Sort(byCloud, w)
	assert.Equal(t, []string{"z", "a", "b", "c"}, ids(byCloud))

	byProximity := append([]SceneCandidate(nil), input...)
	RankByProximity.Sort(byProximity, w)
	assert.Equal(t, []string{"a", "b", "c", "z"}, ids(byProximity))
}

func TestRanking_DeterministicAcrossInputOrder(t *testing.T) {
	w := NewSearchWindow(target, 15)
	a := []SceneCandidate{scene("x", 5, target), scene("y", 5, target), scene("w", 5, target)}
	b := []SceneCandidate{a[2], a[0], a[1]}

	RankByCloud.Sort(a, w)
	RankByCloud.Sort(b, w)
	assert.Equal(t, ids(a), ids(b))
	assert.Equal(t, []string{"w", "x", "y"}, ids(a))
}

func TestParseRanking(t *testing.T) {
	r, err := ParseRanking("")
	require.NoError(t, err)
	assert.Equal(t, RankByCloud, r)

	r, err = ParseRanking(" Proximity ")
	require.NoError(t, err)
	assert.Equal(t, RankByProximity, r)

	_, err = ParseRanking("random")
	assert.ErrorIs(t, err, ErrUnknownRanking)
}

func ids(cs []SceneCandidate) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.ID
	}
	return out
}
