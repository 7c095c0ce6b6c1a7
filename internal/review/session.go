// Package review implements the ops review loop: one operator walks a user's
// network record by record, partials first, then fulls, then failed.
package review

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"go.uber.org/zap"

	"github.com/celerix-dev/celerix-enrich/internal/cache"
	"github.com/celerix-dev/celerix-enrich/internal/engine"
	"github.com/celerix-dev/celerix-enrich/pkg/resolution"
	"github.com/celerix-dev/celerix-enrich/pkg/schema"
)

// DefaultResubmitStatus is written to a failed record sent back to the pipeline.
const DefaultResubmitStatus = "not_resolved_yet"

var (
	// ErrBusy is returned when a Save or Skip is issued while another is in flight.
	ErrBusy = errors.New("review session busy")
	// ErrComplete is returned by Save and Skip once the queue is exhausted.
	ErrComplete = errors.New("review complete")
)

// State of a Session.
type State int

const (
	StateReviewing State = iota
	StateComplete
)

func (s State) String() string {
	if s == StateComplete {
		return "complete"
	}
	return "reviewing"
}

// Form holds the editable field values shown to the operator.
type Form map[schema.Field]string

var (
	qualityFields = []schema.Field{
		schema.FieldProfilePic, schema.FieldLastname, schema.FieldCity,
		schema.FieldLinkedinURL, schema.FieldBio,
	}
	failedFields = []schema.Field{schema.FieldLinkedinURL}

	cleanedFields = mapset.NewSet(schema.FieldLastname, schema.FieldCity, schema.FieldBio)

	escapeSeq = regexp.MustCompile(`\\u[0-9a-fA-F]{4}`)
)

// CleanText strips literal \uXXXX escape sequences left in scraped text.
func CleanText(s string) string {
	return escapeSeq.ReplaceAllString(s, "")
}

// EditableFields returns the fields an operator may edit for a record of tier t.
func EditableFields(t resolution.Tier) []schema.Field {
	if t == resolution.TierFailed {
		return failedFields
	}
	return qualityFields
}

// Item is the record under review.
type Item struct {
	Record   schema.Record   `json:"record"`
	Tier     resolution.Tier `json:"tier"`
	Form     Form            `json:"form"`
	Editable []schema.Field  `json:"editable"`
}

// Progress reports the position in the queue.
type Progress struct {
	Cursor    int    `json:"cursor"`
	Total     int    `json:"total"`
	Partially int    `json:"partially"`
	Fully     int    `json:"fully"`
	Failed    int    `json:"failed"`
	State     string `json:"state"`
}

// Deps are the collaborators a Session writes through.
type Deps struct {
	Store          engine.Store
	Rules          *resolution.Rules
	Cache          cache.ViewCache
	Logger         *zap.Logger
	ResubmitStatus string
}

func (d Deps) withDefaults() Deps {
	if d.Rules == nil {
		d.Rules = resolution.Default
	}
	if d.Cache == nil {
		d.Cache = cache.Nop{}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.ResubmitStatus == "" {
		d.ResubmitStatus = DefaultResubmitStatus
	}
	return d
}

// Session is one operator's pass over one user's network. It is not shared
// between operators and is never persisted.
type Session struct {
	op   schema.Operator
	user schema.User
	deps Deps

	// busy serialises Save and Skip; a second caller gets ErrBusy.
	busy sync.Mutex
	// mu guards the fields below for readers.
	mu     sync.RWMutex
	queue  []schema.Record
	tiers  []resolution.Tier
	cursor int
	form   Form
	counts resolution.Counts
}

// NewSession builds the review queue from records: partially resolved first,
// then fully resolved, then failed, each group in input order.
func NewSession(op schema.Operator, user schema.User, records []schema.Record, deps Deps) *Session {
	deps = deps.withDefaults()
	var partial, full, failed []schema.Record
	for _, rec := range records {
		switch deps.Rules.Classify(rec) {
		case resolution.TierPartially:
			partial = append(partial, rec)
		case resolution.TierFully:
			full = append(full, rec)
		default:
			failed = append(failed, rec)
		}
	}

	s := &Session{op: op, user: user, deps: deps}
	s.queue = make([]schema.Record, 0, len(records))
	for _, group := range []struct {
		recs []schema.Record
		tier resolution.Tier
	}{
		{partial, resolution.TierPartially},
		{full, resolution.TierFully},
		{failed, resolution.TierFailed},
	} {
		for _, rec := range group.recs {
			s.queue = append(s.queue, rec)
			s.tiers = append(s.tiers, group.tier)
		}
	}
	s.counts = resolution.Counts{
		Partially: len(partial),
		Fully:     len(full),
		Failed:    len(failed),
		Total:     len(records),
	}
	s.loadForm()
	return s
}

// Load fetches userID's network (completed and failed records reachable
// through connections) and starts a Session over it.
func Load(ctx context.Context, deps Deps, op schema.Operator, userID string) (*Session, error) {
	user, err := deps.Store.FetchUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	conns, err := deps.Store.FetchConnections(ctx, schema.ConnectionFilter{UserID: userID})
	if err != nil {
		return nil, fmt.Errorf("fetch connections of %s: %w", userID, err)
	}
	if len(conns) == 0 {
		return NewSession(op, user, nil, deps), nil
	}

	network := mapset.NewThreadUnsafeSet[string]()
	for _, c := range conns {
		network.Add(c.ProfileID)
	}
	// Large networks are filtered here rather than sent as an id list.
	records, err := deps.Store.FetchRecords(ctx, schema.Filter{
		Statuses: []string{schema.StatusCompleted, schema.StatusFailed},
	})
	if err != nil {
		return nil, fmt.Errorf("fetch records: %w", err)
	}
	mine := records[:0]
	for _, rec := range records {
		if network.Contains(rec.ProfileID) {
			mine = append(mine, rec)
		}
	}
	return NewSession(op, user, mine, deps), nil
}

// loadForm resets the form defaults from the current record. It MUST be
// called while holding s.mu.Lock, or before the session is shared.
func (s *Session) loadForm() {
	if s.cursor >= len(s.queue) {
		s.form = nil
		return
	}
	rec := s.queue[s.cursor]
	s.form = Form{}
	for _, f := range EditableFields(s.tiers[s.cursor]) {
		v := strings.TrimSpace(rec.Text(f))
		if cleanedFields.Contains(f) {
			v = CleanText(v)
		}
		s.form[f] = v
	}
}

// User returns the user whose network is reviewed.
func (s *Session) User() schema.User { return s.user }

// Operator returns the acting operator.
func (s *Session) Operator() schema.Operator { return s.op }

// State reports whether records remain.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cursor >= len(s.queue) {
		return StateComplete
	}
	return StateReviewing
}

// Current returns the record under review, or false when complete.
func (s *Session) Current() (Item, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cursor >= len(s.queue) {
		return Item{}, false
	}
	form := make(Form, len(s.form))
	for k, v := range s.form {
		form[k] = v
	}
	tier := s.tiers[s.cursor]
	return Item{
		Record:   s.queue[s.cursor],
		Tier:     tier,
		Form:     form,
		Editable: EditableFields(tier),
	}, true
}

// Progress returns the cursor position and per-tier totals.
func (s *Session) Progress() Progress {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state := StateReviewing
	if s.cursor >= len(s.queue) {
		state = StateComplete
	}
	return Progress{
		Cursor:    s.cursor,
		Total:     len(s.queue),
		Partially: s.counts.Partially,
		Fully:     s.counts.Fully,
		Failed:    s.counts.Failed,
		State:     state.String(),
	}
}

// Skip moves to the next record without writing anything.
func (s *Session) Skip() error {
	if !s.busy.TryLock() {
		return ErrBusy
	}
	defer s.busy.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cursor >= len(s.queue) {
		return ErrComplete
	}
	s.advance()
	return nil
}

// advance MUST be called while holding s.mu.Lock.
func (s *Session) advance() {
	s.cursor++
	s.loadForm()
}

// Diff returns the patch Save would write for form against the current
// record. Fields the operator did not change are never included.
func (s *Session) Diff(form Form) (schema.Patch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cursor >= len(s.queue) {
		return schema.Patch{}, ErrComplete
	}
	return s.diff(form), nil
}

// diff MUST be called while holding s.mu (read or write).
func (s *Session) diff(form Form) schema.Patch {
	rec := s.queue[s.cursor]
	tier := s.tiers[s.cursor]

	var patch schema.Patch
	for _, f := range EditableFields(tier) {
		v, ok := form[f]
		if !ok {
			continue
		}
		v = strings.TrimSpace(v)
		if cleanedFields.Contains(f) {
			v = CleanText(v)
		}
		if v == s.form[f] {
			continue
		}
		// An existing picture is never replaced from the review form.
		if f == schema.FieldProfilePic && (v == "" || s.deps.Rules.URL(rec.ProfilePic)) {
			continue
		}
		_ = patch.Set(f, v)
	}
	if tier == resolution.TierFailed {
		_ = patch.Set(schema.FieldStatus, s.deps.ResubmitStatus)
	}
	return patch
}

func actionFor(t resolution.Tier) (action, category string) {
	switch t {
	case resolution.TierPartially:
		return schema.ActionOpsPartialFix, "partial"
	case resolution.TierFully:
		return schema.ActionOpsValidate, "full"
	}
	return schema.ActionOpsTriggerLaunched, "failed"
}

// Save writes the operator's edits to the current record, logs the review
// and advances. If the write fails the cursor stays put, nothing is logged
// and the store's *engine.WriteError is returned so the save can be retried.
func (s *Session) Save(ctx context.Context, form Form) error {
	if !s.busy.TryLock() {
		return ErrBusy
	}
	defer s.busy.Unlock()

	s.mu.RLock()
	if s.cursor >= len(s.queue) {
		s.mu.RUnlock()
		return ErrComplete
	}
	rec := s.queue[s.cursor]
	tier := s.tiers[s.cursor]
	patch := s.diff(form)
	s.mu.RUnlock()

	if !patch.IsEmpty() {
		if err := s.deps.Store.UpdateRecord(ctx, rec.Email, patch); err != nil {
			return err
		}
	}

	action, category := actionFor(tier)
	entry := schema.ActionLogEntry{
		UserName:   s.op.DisplayName(),
		ActionType: action,
		ProfileID:  rec.ProfileID,
		Details:    fmt.Sprintf("Ops resolved profile in category %s", category),
	}
	logged := true
	if err := s.deps.Store.AppendActionLog(ctx, entry); err != nil {
		logged = false
		s.deps.Logger.Error("append review log",
			zap.String("profile_id", rec.ProfileID),
			zap.String("action", action),
			zap.Error(err))
	}
	// A validate with no edits still changes the log-derived views.
	if logged || !patch.IsEmpty() {
		if err := s.deps.Cache.Invalidate(ctx); err != nil {
			s.deps.Logger.Warn("invalidate view cache", zap.Error(err))
		}
	}

	s.mu.Lock()
	s.advance()
	s.mu.Unlock()
	return nil
}
