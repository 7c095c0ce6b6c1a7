package tui

import (
	"context"
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/celerix-dev/celerix-enrich/internal/engine"
	"github.com/celerix-dev/celerix-enrich/internal/review"
	"github.com/celerix-dev/celerix-enrich/pkg/schema"
)

func partial() schema.Record {
	return schema.Record{
		ProfileID:       "p1",
		Email:           "rory@example.com",
		Firstname:       "Rory",
		Lastname:        "Williams",
		JobTitle:        "Nurse",
		Company:         "Leadworth Hospital",
		Bio:             "Waited 2000 years",
		ProfilePic:      "https://img/p1",
		LinkedinURL:     "https://linkedin.com/in/rory",
		SchoolsAttended: schema.ListOf("Leadworth"),
		Organizations:   schema.ListOf("NHS"),
		SocialProfiles:  schema.ListOf("x"),
		Status:          schema.StatusCompleted,
	}
}

func failedRecord() schema.Record {
	r := partial()
	r.ProfileID, r.Email = "p2", "brian@example.com"
	r.LinkedinURL = ""
	r.Status = schema.StatusFailed
	return r
}

type failingStore struct {
	*engine.MemStore
}

func (f failingStore) UpdateRecord(_ context.Context, email string, _ schema.Patch) error {
	return &engine.WriteError{Email: email, Err: errors.New("offline")}
}

func newModel(store engine.Store, recs ...schema.Record) Model {
	s := review.NewSession(schema.Operator{Name: "Amy"}, schema.User{UserID: "u1", FullName: "The Doctor"}, recs, review.Deps{Store: store})
	return New(context.Background(), s)
}

func key(s string) tea.KeyMsg {
	switch s {
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "ctrl+n":
		return tea.KeyMsg{Type: tea.KeyCtrlN}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// press feeds msgs through Update, running any returned save command.
func press(m Model, msgs ...tea.Msg) (Model, tea.Cmd) {
	var cmd tea.Cmd
	for _, msg := range msgs {
		var next tea.Model
		next, cmd = m.Update(msg)
		m = next.(Model)
	}
	return m, cmd
}

func TestModel_EditAndSave(t *testing.T) {
	store := engine.NewMemStore(&engine.Snapshot{Records: []schema.Record{partial(), failedRecord()}}, nil, nil)
	m := newModel(store, partial(), failedRecord())

	require.Equal(t, []schema.Field{schema.FieldProfilePic, schema.FieldLastname, schema.FieldCity, schema.FieldLinkedinURL, schema.FieldBio}, m.fields)
	assert.Contains(t, m.View(), "PARTIALLY")

	m, _ = press(m, key("tab"), key("tab"), key("Leadworth"))
	assert.Equal(t, 2, m.focus)

	m, cmd := press(m, key("enter"))
	require.NotNil(t, cmd)
	assert.True(t, m.saving)

	// Keys are ignored while the write is pending.
	m, _ = press(m, key("ctrl+n"))
	assert.Equal(t, 0, m.session.Progress().Cursor)

	m, _ = press(m, cmd())
	assert.False(t, m.saving)
	assert.Equal(t, "saved", m.status)

	recs, _ := store.FetchRecords(context.Background(), schema.Filter{Emails: []string{"rory@example.com"}})
	assert.Equal(t, "Leadworth", recs[0].City)

	// The failed record only offers the LinkedIn field.
	assert.Equal(t, []schema.Field{schema.FieldLinkedinURL}, m.fields)
	assert.Contains(t, m.View(), "resubmits")
}

func TestModel_SaveFailureStays(t *testing.T) {
	store := failingStore{engine.NewMemStore(&engine.Snapshot{Records: []schema.Record{partial()}}, nil, nil)}
	m := newModel(store, partial())

	m, _ = press(m, key("tab"), key("tab"), key("Leadworth"))
	m, cmd := press(m, key("enter"))
	m, _ = press(m, cmd())

	assert.True(t, m.failed)
	assert.Contains(t, m.status, "offline")
	assert.Equal(t, 0, m.session.Progress().Cursor)
	assert.Equal(t, "Leadworth", m.inputs[2].Value(), "edits are kept for a retry")
}

func TestModel_SkipToComplete(t *testing.T) {
	m := newModel(engine.NewMemStore(nil, nil, nil), partial())

	m, _ = press(m, key("ctrl+n"))
	assert.Equal(t, review.StateComplete, m.session.State())
	assert.Contains(t, m.View(), "Review complete.")

	_, cmd := press(m, key("q"))
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}

func TestModel_EmptySession(t *testing.T) {
	m := newModel(engine.NewMemStore(nil, nil, nil))
	assert.Empty(t, m.inputs)
	assert.Contains(t, m.View(), "Review complete.")

	_, cmd := press(m, key("esc"))
	require.NotNil(t, cmd)
}
