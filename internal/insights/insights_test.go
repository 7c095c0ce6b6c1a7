package insights

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celerix-dev/celerix-enrich/internal/cache"
	"github.com/celerix-dev/celerix-enrich/internal/engine"
	"github.com/celerix-dev/celerix-enrich/pkg/resolution"
	"github.com/celerix-dev/celerix-enrich/pkg/schema"
)

var base = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

func rec(id string, day int) schema.Record {
	return schema.Record{
		ProfileID:       id,
		Email:           id + "@example.com",
		Firstname:       "Ada",
		Lastname:        "Lovelace",
		City:            "London",
		JobTitle:        "Analyst",
		Company:         "Engine Co",
		Bio:             "Notes",
		ProfilePic:      "https://img/" + id,
		LinkedinURL:     "https://linkedin.com/in/" + id,
		SchoolsAttended: schema.ListOf("Home"),
		Organizations:   schema.ListOf("Engine Co"),
		SocialProfiles:  schema.KeyedOf(map[string]string{"x": "@ada"}),
		Status:          schema.StatusCompleted,
		Probability:     "high",
		BatchTag:        "jan",
		CreatedOn:       base.AddDate(0, 0, day),
	}
}

func fixture() *engine.Snapshot {
	full := rec("p1", 1)
	partial := rec("p2", 2)
	partial.City = "n/a"
	partial.Lastname = ""
	partial.Probability = "low"
	failed := rec("p3", 3)
	failed.LinkedinURL = ""
	failed.Status = schema.StatusFailed
	failed.BatchTag = ""
	queued := rec("p4", 4)
	queued.Status = schema.StatusProcessing

	return &engine.Snapshot{
		Records: []schema.Record{full, partial, failed, queued},
		Users: []schema.User{
			{UserID: "u1", FullName: "Grace Hopper", Title: "Admiral", CreatedAt: base},
			{UserID: "u2", FullName: "Alan Turing", CreatedAt: base},
		},
		Connections: []schema.Connection{
			{ConnectionID: "c1", UserID: "u1", ProfileID: "p1", CreatedAt: base},
			{ConnectionID: "c2", UserID: "u1", ProfileID: "p2", CreatedAt: base},
			{ConnectionID: "c3", UserID: "u2", ProfileID: "p2", CreatedAt: base.Add(time.Hour)},
			{ConnectionID: "c4", UserID: "u2", ProfileID: "p3", CreatedAt: base},
		},
		ActionLogs: []schema.ActionLogEntry{
			{ID: "l1", UserName: "Flora", ActionType: schema.ActionTriageFix, ProfileID: "p2", CreatedAt: base},
			{ID: "l2", UserName: "Kevin", ActionType: schema.ActionOpsValidate, ProfileID: "p1", CreatedAt: base.Add(time.Minute)},
			{ID: "l3", UserName: "Flora", ActionType: schema.ActionTriageFix, CreatedAt: base.Add(2 * time.Minute)},
		},
	}
}

func newService(t *testing.T) (*Service, *engine.MemStore, *cache.Memory) {
	t.Helper()
	store := engine.NewMemStore(fixture(), nil, nil)
	views := cache.NewMemory(0)
	return New(store, nil, views, nil), store, views
}

func TestOverview(t *testing.T) {
	s, _, _ := newService(t)

	ov, err := s.Overview(context.Background())
	require.NoError(t, err)
	assert.Equal(t, resolution.Counts{Fully: 1, Partially: 1, Failed: 1, Total: 3}, ov.Counts)
	assert.Equal(t, 33.3, ov.Percent[resolution.TierFully])
	assert.Equal(t, 1, ov.Missing[schema.FieldCity])
	assert.Equal(t, 1, ov.Missing[resolution.FieldFullName])
}

func TestOverview_CachedUntilInvalidated(t *testing.T) {
	ctx := context.Background()
	s, store, views := newService(t)

	_, err := s.Overview(ctx)
	require.NoError(t, err)

	paris := "Paris"
	lastname := "Byron"
	require.NoError(t, store.UpdateRecord(ctx, "p2@example.com", schema.Patch{City: &paris, Lastname: &lastname}))

	ov, _ := s.Overview(ctx)
	assert.Equal(t, 1, ov.Counts.Partially, "stale until invalidated")

	require.NoError(t, views.Invalidate(ctx))
	ov, _ = s.Overview(ctx)
	assert.Equal(t, 0, ov.Counts.Partially)
	assert.Equal(t, 2, ov.Counts.Fully)
}

func TestBatches(t *testing.T) {
	s, _, _ := newService(t)

	b, err := s.Batches(context.Background())
	require.NoError(t, err)
	require.Len(t, b.Rows, 2)
	assert.Equal(t, "jan", b.Rows[0].BatchTag)
	assert.Equal(t, resolution.Counts{Fully: 1, Partially: 1, InQueue: 1, Total: 3}, b.Rows[0].Counts)
	assert.Equal(t, resolution.Unlabeled, b.Rows[1].BatchTag)
	assert.Equal(t, 1, b.Rows[1].Counts.Failed)
	assert.Equal(t, 4, b.Totals.Total)
	assert.Equal(t, 25.0, b.Percent[resolution.TierInQueue])
}

func TestOwnersAndOps(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newService(t)

	rows, err := s.Owners(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	// Both networks have two profiles; ties order by user id.
	assert.Equal(t, "u1", rows[0].User.UserID)
	assert.Equal(t, resolution.Counts{Fully: 1, Partially: 1, Total: 2}, rows[0].Counts)
	assert.Equal(t, 2, rows[0].TotalChecked)
	assert.Equal(t, resolution.Counts{Partially: 1, Failed: 1, Total: 2}, rows[1].Counts)
	assert.Equal(t, 1, rows[1].TotalChecked)

	ops, err := s.Ops(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, ops.PartiallyToDo)
	assert.Equal(t, 1, ops.NotResolved)
	assert.Equal(t, 2, ops.TotalToProceed)
	assert.Equal(t, 1, ops.AvgPerUser)
	assert.Len(t, ops.Users, 2)
}

func TestProfiles(t *testing.T) {
	s, _, _ := newService(t)

	rows, err := s.Profiles(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "p3", rows[0].Record.ProfileID)
	assert.Equal(t, resolution.TierFailed, rows[0].Tier)
	assert.Equal(t, "Alan Turing", rows[0].OwnerName)
	// p2 is connected to both users; the earliest connection wins.
	assert.Equal(t, "Grace Hopper", rows[1].OwnerName)
	assert.Equal(t, "Admiral", rows[1].OwnerTitle)
}

func TestProfiles_OneCachedListing(t *testing.T) {
	ctx := context.Background()
	s, _, views := newService(t)

	for _, limit := range []int{1, 2, 7, 0} {
		rows, err := s.Profiles(ctx, limit)
		require.NoError(t, err)
		want := 3
		if limit > 0 && limit < want {
			want = limit
		}
		assert.Len(t, rows, want, "limit %d", limit)
	}

	var cached []ProfileRow
	ok, err := views.Get(ctx, "profiles", &cached)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, cached, 3)
	ok, _ = views.Get(ctx, "profiles:1", &cached)
	assert.False(t, ok, "limits share one cache entry")
}

func TestLeaderboard(t *testing.T) {
	s, _, _ := newService(t)

	board, err := s.Leaderboard(context.Background())
	require.NoError(t, err)
	want := []LeaderboardEntry{
		{Name: "Flora", Actions: 2, LastActive: base.Add(2 * time.Minute)},
		{Name: "Kevin", Actions: 1, LastActive: base.Add(time.Minute)},
	}
	if diff := cmp.Diff(want, board); diff != "" {
		t.Errorf("leaderboard mismatch (-want +got):\n%s", diff)
	}
}

func TestRankOperators_Empty(t *testing.T) {
	assert.Empty(t, RankOperators(nil))
}

func TestQuality(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newService(t)

	q, err := s.Quality(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 4, q.Sampled)
	// p1 and p4 score 6, p2 loses city (5), p3 loses linkedin (5).
	assert.Equal(t, [7]int{0, 0, 0, 0, 0, 2, 2}, q.Histogram)
	assert.Equal(t, 5.5, q.Average)
	assert.Zero(t, q.LowCount)

	q, err = s.Quality(ctx, "low")
	require.NoError(t, err)
	assert.Equal(t, 1, q.Sampled)
	assert.Equal(t, 5.0, q.Average)
}

func TestQuality_LowScores(t *testing.T) {
	s := New(nil, nil, nil, nil)
	bare := schema.Record{Email: "bare@example.com", Status: schema.StatusCompleted}
	q := s.score([]schema.Record{bare}, "")
	assert.Equal(t, 1, q.LowCount)
	require.Len(t, q.Low, 1)
	assert.Equal(t, "bare@example.com", q.Low[0].Email)
	assert.Equal(t, 0, q.Low[0].Score)
}

func TestPersona(t *testing.T) {
	s, _, _ := newService(t)

	p, err := s.Persona(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Count{{Name: "London", Value: 3}}, p.Cities)
	assert.Equal(t, []Count{{Name: "Home", Value: 4}}, p.Schools)
	assert.Equal(t, []Count{{Name: "Engine Co", Value: 4}}, p.Companies)
	assert.Equal(t, []Count{{Name: "high", Value: 3}, {Name: "low", Value: 1}}, p.Probability)
	assert.Empty(t, p.JobTitles)
}

func TestPersona_TitlesAndCompanies(t *testing.T) {
	s := New(nil, nil, nil, nil)
	orgs, _ := schema.ParseCollection([]byte(`[
		{"name": "Acme Corporation International Holdings", "title": "Intern"},
		{"name": "Startup", "title": "Co-Founder & CEO"}
	]`))
	r := schema.Record{Organizations: orgs}

	p := s.persona([]schema.Record{r, r})
	assert.Equal(t, []Count{{Name: "Founder / Co-Founder", Value: 2}}, p.JobTitles)
	assert.Equal(t, "Acme Corporation International...", p.Companies[0].Name)
	assert.Equal(t, []Count{{Name: "Unknown", Value: 2}}, p.Probability)
}

func TestNormalizeJobTitle(t *testing.T) {
	tests := map[string]string{
		"Founding Engineer":        "Founder / Co-Founder",
		"Chief Technology Officer": "CTO",
		"Senior Software Engineer": "Engineer / Developer",
		"Management Consultant":    "Consultant",
		"Gardener":                 "Other",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeJobTitle(in), in)
	}
}
