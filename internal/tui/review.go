// Package tui is the terminal review client: one screen per record of a
// review session, with the editable fields as text inputs.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/celerix-dev/celerix-enrich/internal/review"
	"github.com/celerix-dev/celerix-enrich/pkg/resolution"
	"github.com/celerix-dev/celerix-enrich/pkg/schema"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	labelStyle   = lipgloss.NewStyle().Width(14).Foreground(lipgloss.Color("245"))
	focusedLabel = labelStyle.Foreground(lipgloss.Color("212")).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	boxStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)

	tierColors = map[resolution.Tier]lipgloss.Color{
		resolution.TierPartially: lipgloss.Color("214"),
		resolution.TierFully:     lipgloss.Color("42"),
		resolution.TierFailed:    lipgloss.Color("196"),
	}
)

// savedMsg reports the end of an asynchronous Save.
type savedMsg struct{ err error }

// Model is the bubbletea model over one review.Session.
type Model struct {
	ctx     context.Context
	session *review.Session

	item   review.Item
	fields []schema.Field
	inputs []textinput.Model
	focus  int

	saving bool
	status string
	failed bool
	width  int
}

// New builds the model positioned on the session's current record.
func New(ctx context.Context, s *review.Session) Model {
	m := Model{ctx: ctx, session: s}
	m.load()
	return m
}

// load rebuilds the inputs from the session's current item.
func (m *Model) load() {
	m.fields, m.inputs, m.focus = nil, nil, 0
	item, ok := m.session.Current()
	if !ok {
		m.item = review.Item{}
		return
	}
	m.item = item
	for _, f := range item.Editable {
		if f == schema.FieldStatus {
			continue
		}
		ti := textinput.New()
		ti.Prompt = ""
		ti.CharLimit = 2048
		ti.SetValue(item.Form[f])
		if len(m.inputs) == 0 {
			ti.Focus()
		}
		m.fields = append(m.fields, f)
		m.inputs = append(m.inputs, ti)
	}
}

func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

func (m Model) form() review.Form {
	form := make(review.Form, len(m.fields))
	for i, f := range m.fields {
		form[f] = m.inputs[i].Value()
	}
	return form
}

func (m Model) save() tea.Cmd {
	s, ctx, form := m.session, m.ctx, m.form()
	return func() tea.Msg {
		return savedMsg{err: s.Save(ctx, form)}
	}
}

func (m *Model) setFocus(i int) {
	if len(m.inputs) == 0 {
		return
	}
	m.inputs[m.focus].Blur()
	m.focus = (i + len(m.inputs)) % len(m.inputs)
	m.inputs[m.focus].Focus()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		for i := range m.inputs {
			m.inputs[i].Width = max(msg.Width-20, 20)
		}
		return m, nil

	case savedMsg:
		m.saving = false
		if msg.err != nil {
			m.status, m.failed = fmt.Sprintf("save failed: %v", msg.err), true
			return m, nil
		}
		m.status, m.failed = "saved", false
		m.load()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		}
		if m.session.State() == review.StateComplete {
			if msg.String() == "q" || msg.String() == "enter" {
				return m, tea.Quit
			}
			return m, nil
		}
		// Input is disabled while a write is pending.
		if m.saving {
			return m, nil
		}
		switch msg.String() {
		case "tab", "down":
			m.setFocus(m.focus + 1)
			return m, nil
		case "shift+tab", "up":
			m.setFocus(m.focus - 1)
			return m, nil
		case "ctrl+s", "enter":
			m.saving, m.status = true, "saving..."
			return m, m.save()
		case "ctrl+n":
			if err := m.session.Skip(); err != nil {
				m.status, m.failed = err.Error(), true
				return m, nil
			}
			m.status, m.failed = "skipped", false
			m.load()
			return m, nil
		}
	}

	if len(m.inputs) == 0 {
		return m, nil
	}
	var cmd tea.Cmd
	m.inputs[m.focus], cmd = m.inputs[m.focus].Update(msg)
	return m, cmd
}

func (m Model) header() string {
	p := m.session.Progress()
	user := m.session.User()
	return lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render(fmt.Sprintf("Reviewing network of %s", user.FullName)),
		mutedStyle.Render(fmt.Sprintf("%d/%d  partial %d  full %d  failed %d  operator %s",
			min(p.Cursor+1, p.Total), p.Total, p.Partially, p.Fully, p.Failed, m.session.Operator().DisplayName())),
	)
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(m.header())
	b.WriteString("\n\n")

	if m.session.State() == review.StateComplete {
		b.WriteString(okStyle.Render("Review complete."))
		b.WriteString("\n")
		b.WriteString(mutedStyle.Render("q to quit"))
		return b.String()
	}

	rec := m.item.Record
	tier := lipgloss.NewStyle().Bold(true).Foreground(tierColors[m.item.Tier]).Render(strings.ToUpper(string(m.item.Tier)))
	info := lipgloss.JoinVertical(lipgloss.Left,
		fmt.Sprintf("%s  %s %s <%s>", tier, rec.Firstname, rec.Lastname, rec.Email),
		mutedStyle.Render(fmt.Sprintf("%s at %s  ·  profile %s", rec.JobTitle, rec.Company, rec.ProfileID)),
	)
	if missing := resolution.Missing(rec); len(missing) > 0 {
		names := make([]string, len(missing))
		for i, f := range missing {
			names[i] = string(f)
		}
		info = lipgloss.JoinVertical(lipgloss.Left, info, mutedStyle.Render("missing: "+strings.Join(names, ", ")))
	}
	b.WriteString(boxStyle.Render(info))
	b.WriteString("\n\n")

	for i, f := range m.fields {
		label := labelStyle
		if i == m.focus {
			label = focusedLabel
		}
		b.WriteString(label.Render(string(f)))
		b.WriteString(m.inputs[i].View())
		b.WriteString("\n")
	}
	if m.item.Tier == resolution.TierFailed {
		b.WriteString(mutedStyle.Render("saving resubmits this profile to the pipeline"))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	if m.status != "" {
		style := okStyle
		if m.failed {
			style = errorStyle
		}
		b.WriteString(style.Render(m.status))
		b.WriteString("\n")
	}
	b.WriteString(mutedStyle.Render("tab next field · enter save · ctrl+n skip · esc quit"))
	return b.String()
}

// Run starts the program on the terminal and blocks until the operator quits.
func Run(ctx context.Context, s *review.Session, opts ...tea.ProgramOption) error {
	opts = append([]tea.ProgramOption{tea.WithContext(ctx)}, opts...)
	_, err := tea.NewProgram(New(ctx, s), opts...).Run()
	return err
}
