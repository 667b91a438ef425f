package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mpataki/xnmt/internal/models"
	"github.com/mpataki/xnmt/internal/storage"
)

type View int

const (
	ViewRunList View = iota
	ViewRunDetail
	ViewExperiment
)

// Store is the history the browser reads from.
type Store interface {
	ListRuns(limit int) ([]*models.Run, error)
	GetRun(id int64) (*models.Run, error)
	GetExperimentsForRun(runID int64) ([]*models.Experiment, error)
	DeleteRun(id int64) error
}

type keyMap struct {
	Up      key.Binding
	Down    key.Binding
	Enter   key.Binding
	Back    key.Binding
	Refresh key.Binding
	Delete  key.Binding
	Quit    key.Binding
}

var keys = keyMap{
	Up:      key.NewBinding(key.WithKeys("up", "k")),
	Down:    key.NewBinding(key.WithKeys("down", "j")),
	Enter:   key.NewBinding(key.WithKeys("enter")),
	Back:    key.NewBinding(key.WithKeys("esc", "q")),
	Refresh: key.NewBinding(key.WithKeys("r")),
	Delete:  key.NewBinding(key.WithKeys("d")),
	Quit:    key.NewBinding(key.WithKeys("ctrl+c")),
}

type App struct {
	store Store
	limit int

	view          View
	runs          []*models.Run
	selectedIdx   int
	selectedRun   *models.Run
	experiments   []*models.Experiment
	selectedExpIx int
	detail        viewport.Model

	width  int
	height int
	err    error
}

func NewApp(store Store) *App {
	return &App{
		store:  store,
		limit:  50,
		view:   ViewRunList,
		detail: viewport.New(80, 20),
	}
}

var _ Store = (*storage.Storage)(nil)

func (a *App) Init() tea.Cmd {
	return tea.Batch(a.loadRuns, a.tickCmd())
}

func (a *App) tickCmd() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (a *App) hasRunningRuns() bool {
	for _, run := range a.runs {
		if run.Status == models.RunStatusRunning {
			return true
		}
	}
	return false
}

type tickMsg time.Time

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return a.handleKey(msg)

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.detail.Width = msg.Width
		a.detail.Height = max(msg.Height-4, 1)
		return a, nil

	case runsLoadedMsg:
		a.runs = msg.runs
		a.err = msg.err
		if a.selectedIdx >= len(a.runs) {
			a.selectedIdx = max(len(a.runs)-1, 0)
		}
		return a, nil

	case tickMsg:
		// Another process may be recording a run; refresh while one is live.
		if a.view == ViewRunList && a.hasRunningRuns() {
			return a, tea.Batch(a.loadRuns, a.tickCmd())
		}
		return a, a.tickCmd()

	case runDetailMsg:
		a.selectedRun = msg.run
		a.experiments = msg.experiments
		a.err = msg.err
		if a.err == nil {
			a.view = ViewRunDetail
			a.selectedExpIx = 0
		}
		return a, nil

	case runDeletedMsg:
		a.err = msg.err
		return a, a.loadRuns
	}

	if a.view == ViewExperiment {
		var cmd tea.Cmd
		a.detail, cmd = a.detail.Update(msg)
		return a, cmd
	}
	return a, nil
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, keys.Quit) {
		return a, tea.Quit
	}
	switch a.view {
	case ViewRunList:
		return a.handleRunListKey(msg)
	case ViewRunDetail:
		return a.handleRunDetailKey(msg)
	case ViewExperiment:
		return a.handleExperimentKey(msg)
	}
	return a, nil
}

func (a *App) handleRunListKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case msg.String() == "q":
		return a, tea.Quit

	case key.Matches(msg, keys.Up):
		if a.selectedIdx > 0 {
			a.selectedIdx--
		}

	case key.Matches(msg, keys.Down):
		if a.selectedIdx < len(a.runs)-1 {
			a.selectedIdx++
		}

	case key.Matches(msg, keys.Enter):
		if a.selectedIdx < len(a.runs) {
			return a, a.loadRunDetail(a.runs[a.selectedIdx].ID)
		}

	case key.Matches(msg, keys.Refresh):
		return a, a.loadRuns

	case key.Matches(msg, keys.Delete):
		if a.selectedIdx < len(a.runs) {
			return a, a.deleteRun(a.runs[a.selectedIdx].ID)
		}
	}
	return a, nil
}

func (a *App) handleRunDetailKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Back):
		a.view = ViewRunList
		a.selectedRun = nil
		a.experiments = nil
		a.selectedExpIx = 0

	case key.Matches(msg, keys.Up):
		if a.selectedExpIx > 0 {
			a.selectedExpIx--
		}

	case key.Matches(msg, keys.Down):
		if a.selectedExpIx < len(a.experiments)-1 {
			a.selectedExpIx++
		}

	case key.Matches(msg, keys.Enter):
		if a.selectedExpIx < len(a.experiments) {
			a.detail.SetContent(experimentDetail(a.experiments[a.selectedExpIx]))
			a.detail.GotoTop()
			a.view = ViewExperiment
		}
	}
	return a, nil
}

func (a *App) handleExperimentKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, keys.Back) {
		a.view = ViewRunDetail
		return a, nil
	}
	var cmd tea.Cmd
	a.detail, cmd = a.detail.Update(msg)
	return a, cmd
}

func (a *App) View() string {
	switch a.view {
	case ViewRunList:
		return a.viewRunList()
	case ViewRunDetail:
		return a.viewRunDetail()
	case ViewExperiment:
		return a.viewExperiment()
	}
	return ""
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("57"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))

	statusRunning  = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	statusComplete = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	statusFailed   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	statusPartial  = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))
)

func (a *App) viewRunList() string {
	s := titleStyle.Render("xnmt runs") + "\n\n"

	if a.err != nil {
		s += fmt.Sprintf("Error: %v\n", a.err)
	}

	if len(a.runs) == 0 {
		s += "No runs recorded yet.\n"
	} else {
		for i, run := range a.runs {
			line := formatRunLine(run)
			switch {
			case i == a.selectedIdx:
				line = selectedStyle.Render("▶ " + line)
			case run.Status == models.RunStatusRunning:
				line = "  " + line
			default:
				line = "  " + dimStyle.Render(line)
			}
			s += line + "\n"
		}
	}

	s += "\n" + helpStyle.Render("[enter] view  [d] delete  [r] refresh  [q] quit")
	return s
}

func formatRunLine(run *models.Run) string {
	requested := "all"
	if len(run.Requested) > 0 {
		requested = strings.Join(run.Requested, ",")
	}
	return fmt.Sprintf("#%-3d %s  %-6s  %s [%s]",
		run.ID, formatRunStatus(run.Status), formatAge(run.CreatedAt),
		truncate(run.ConfigPath, 40), truncate(requested, 30))
}

func formatAge(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "now"
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

func formatRunStatus(status models.RunStatus) string {
	switch status {
	case models.RunStatusRunning:
		return statusRunning.Render("● running ")
	case models.RunStatusComplete:
		return statusComplete.Render("✓ complete")
	case models.RunStatusPartial:
		return statusPartial.Render("⚠ partial ")
	case models.RunStatusFailed:
		return statusFailed.Render("✗ failed  ")
	default:
		return fmt.Sprintf("%-10s", status)
	}
}

func formatExpStatus(status models.ExpStatus) string {
	switch status {
	case models.ExpStatusComplete:
		return statusComplete.Render("✓")
	case models.ExpStatusRunning:
		return statusRunning.Render("●")
	case models.ExpStatusFailed:
		return statusFailed.Render("✗")
	}
	return "○"
}

func (a *App) viewRunDetail() string {
	if a.selectedRun == nil {
		return "No run selected"
	}
	run := a.selectedRun

	header := fmt.Sprintf("Run #%d", run.ID)
	s := titleStyle.Render(header) + "  " + formatRunStatus(run.Status) + "\n\n"
	s += labelStyle.Render("Config: ") + run.ConfigPath + "\n"
	if run.Error != "" {
		s += labelStyle.Render("Error: ") + statusFailed.Render(run.Error) + "\n"
	}
	s += "\nExperiments\n"
	s += "───────────\n"

	if len(a.experiments) == 0 {
		s += "(no experiments recorded)\n"
	}
	for i, exp := range a.experiments {
		line := fmt.Sprintf("%d. %-24s %s %-13s", exp.SequenceNum, truncate(exp.Name, 24), formatExpStatus(exp.Status), exp.Stage)
		if exp.StartedAt != nil && exp.CompletedAt != nil {
			line += "  " + dimStyle.Render(fmt.Sprintf("%6s", formatDuration(exp.CompletedAt.Sub(*exp.StartedAt))))
		}
		if len(exp.Scores) > 0 {
			line += "  " + exp.Scores[0].Display
		}
		if i == a.selectedExpIx {
			line = selectedStyle.Render("▶ " + line)
		} else {
			line = "  " + line
		}
		s += line + "\n"
	}

	s += "\n" + helpStyle.Render("[↑/↓] select  [enter] details  [esc] back  [ctrl+c] quit")
	return s
}

func (a *App) viewExperiment() string {
	s := titleStyle.Render("Experiment") + "\n\n"
	s += a.detail.View() + "\n"
	s += helpStyle.Render("[↑/↓] scroll  [esc] back")
	return s
}

// experimentDetail renders everything recorded for one experiment.
func experimentDetail(exp *models.Experiment) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("Name:"), exp.Name)
	fmt.Fprintf(&b, "%s %s (%s)\n", labelStyle.Render("Status:"), exp.Status, exp.Stage)
	if exp.StartedAt != nil {
		fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("Started:"), exp.StartedAt.Format(time.DateTime))
	}
	if exp.Error != "" {
		fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("Error:"), statusFailed.Render(exp.Error))
	}
	if exp.RandomSearchReport != "" {
		fmt.Fprintf(&b, "\n%s\n%s\n", labelStyle.Render("Random search:"), exp.RandomSearchReport)
	}
	b.WriteString("\n" + labelStyle.Render("Scores:") + "\n")
	if len(exp.Scores) == 0 {
		b.WriteString("  Not evaluated\n")
	}
	for _, sc := range exp.Scores {
		fmt.Fprintf(&b, "  %s\n", sc.Display)
	}
	return b.String()
}

// Messages

type runsLoadedMsg struct {
	runs []*models.Run
	err  error
}

type runDetailMsg struct {
	run         *models.Run
	experiments []*models.Experiment
	err         error
}

type runDeletedMsg struct {
	runID int64
	err   error
}

// Commands

func (a *App) loadRuns() tea.Msg {
	runs, err := a.store.ListRuns(a.limit)
	return runsLoadedMsg{runs: runs, err: err}
}

func (a *App) loadRunDetail(id int64) tea.Cmd {
	return func() tea.Msg {
		run, err := a.store.GetRun(id)
		if err != nil {
			return runDetailMsg{err: err}
		}
		exps, err := a.store.GetExperimentsForRun(id)
		return runDetailMsg{run: run, experiments: exps, err: err}
	}
}

func (a *App) deleteRun(id int64) tea.Cmd {
	return func() tea.Msg {
		if err := a.store.DeleteRun(id); err != nil {
			return runDeletedMsg{err: err}
		}
		return runDeletedMsg{runID: id}
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh%dm", h, m)
}
