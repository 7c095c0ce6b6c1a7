package insights

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/celerix-dev/celerix-enrich/internal/cache"
	"github.com/celerix-dev/celerix-enrich/pkg/schema"
)

// LeaderboardWindow is how many of the newest action log entries the
// leaderboard counts.
const LeaderboardWindow = 1000

// LeaderboardEntry is one operator's activity.
type LeaderboardEntry struct {
	Name       string    `json:"name"`
	Actions    int       `json:"actions"`
	LastActive time.Time `json:"last_active"`
}

// Leaderboard ranks operators by logged actions.
func (s *Service) Leaderboard(ctx context.Context) ([]LeaderboardEntry, error) {
	return cache.Load(ctx, s.cache, "leaderboard", func(ctx context.Context) ([]LeaderboardEntry, error) {
		logs, err := s.store.ListActionLogs(ctx, LeaderboardWindow)
		if err != nil {
			return nil, fmt.Errorf("list action logs: %w", err)
		}
		return RankOperators(logs), nil
	})
}

// RankOperators counts entries per user name, most active first. Ties keep
// the order in which operators first appear in logs.
func RankOperators(logs []schema.ActionLogEntry) []LeaderboardEntry {
	index := make(map[string]int)
	var out []LeaderboardEntry
	for _, l := range logs {
		i, ok := index[l.UserName]
		if !ok {
			i = len(out)
			index[l.UserName] = i
			out = append(out, LeaderboardEntry{Name: l.UserName, LastActive: l.CreatedAt})
		}
		out[i].Actions++
		if l.CreatedAt.After(out[i].LastActive) {
			out[i].LastActive = l.CreatedAt
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Actions > out[j].Actions
	})
	return out
}
