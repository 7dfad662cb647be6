package sim

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"droneops-survey/internal/telemetry"
)

const (
	maxLogLines   = 500
	tableMinRows  = 3
	tableMaxShare = 0.4
)

// teaProgram abstracts bubbletea.Program for testing.
type teaProgram interface {
	Send(msg tea.Msg)
}

type telemetryMsg struct{ telemetry.Sample }

type eventMsg struct{ telemetry.MissionEvent }

// missionRow is the latest known state of one mission in the monitor.
type missionRow struct {
	id       string
	drone    string
	waypoint int
	progress float64
	battery  float64
	status   string
	last     time.Time
}

// TUIWriter renders live mission telemetry using a bubbletea TUI.
type TUIWriter struct {
	program    teaProgram
	done       chan struct{}
	sendSignal atomic.Bool
}

// NewTUIWriter starts a bubbletea program and returns a TUIWriter. Quitting
// the program interrupts the process.
func NewTUIWriter(clusterID string) *TUIWriter {
	w := &TUIWriter{done: make(chan struct{})}
	w.sendSignal.Store(true)
	p := tea.NewProgram(newTUIModel(clusterID), tea.WithAltScreen())
	w.program = p
	go func() {
		_, _ = p.Run()
		close(w.done)
		if w.sendSignal.Load() {
			if proc, err := os.FindProcess(os.Getpid()); err == nil {
				_ = proc.Signal(os.Interrupt)
			}
		}
	}()
	return w
}

// Write implements TelemetryWriter.
func (w *TUIWriter) Write(s telemetry.Sample) error {
	w.program.Send(telemetryMsg{s})
	return nil
}

// WriteBatch implements batchWriter.
func (w *TUIWriter) WriteBatch(rows []telemetry.Sample) error {
	for _, r := range rows {
		_ = w.Write(r)
	}
	return nil
}

// WriteEvent implements EventWriter.
func (w *TUIWriter) WriteEvent(e telemetry.MissionEvent) error {
	w.program.Send(eventMsg{e})
	return nil
}

// Close stops the program and waits for it to restore the terminal.
func (w *TUIWriter) Close() error {
	w.sendSignal.Store(false)
	if w.program != nil {
		w.program.Send(tea.Quit())
	}
	if w.done != nil {
		<-w.done
	}
	return nil
}

type tuiModel struct {
	clusterID  string
	table      table.Model
	vp         viewport.Model
	missions   map[string]*missionRow
	logs       []string
	wrap       bool
	autoscroll bool
	help       bool
	width      int
	height     int
}

func newTUIModel(clusterID string) tuiModel {
	cols := []table.Column{
		{Title: "Mission", Width: 38},
		{Title: "Drone", Width: 24},
		{Title: "WP", Width: 5},
		{Title: "Progress", Width: 9},
		{Title: "Battery", Width: 8},
		{Title: "Status", Width: 12},
	}
	t := table.New(table.WithColumns(cols), table.WithHeight(tableMinRows+1))
	return tuiModel{
		clusterID:  clusterID,
		table:      t,
		vp:         viewport.New(0, 0),
		missions:   make(map[string]*missionRow),
		autoscroll: true,
	}
}

func (m tuiModel) Init() tea.Cmd { return nil }

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.table.SetWidth(msg.Width)
		m.vp.Width = msg.Width
		m.layout()
		m.refreshViewport()
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "w":
			m.wrap = !m.wrap
			m.refreshViewport()
		case "a":
			m.autoscroll = !m.autoscroll
			if m.autoscroll {
				m.vp.GotoBottom()
			}
		case "h", "?":
			m.help = !m.help
		default:
			var cmd tea.Cmd
			m.vp, cmd = m.vp.Update(msg)
			return m, cmd
		}
	case telemetryMsg:
		row := m.missions[msg.MissionID]
		if row == nil {
			row = &missionRow{id: msg.MissionID, status: "IN_PROGRESS"}
			m.missions[msg.MissionID] = row
		}
		row.drone = msg.DroneID
		row.waypoint = msg.WaypointIndex
		row.progress = msg.Progress
		row.battery = msg.BatteryPercent
		row.last = msg.Timestamp
		if msg.Status == telemetry.StatusLowBattery && row.status == "IN_PROGRESS" {
			m.appendLog(yellowStyle.Render(fmt.Sprintf("[%s] mission=%s low battery %.1f%%",
				msg.Timestamp.Format(time.RFC3339), msg.MissionID, msg.BatteryPercent)))
		}
		m.refreshTable()
	case eventMsg:
		row := m.missions[msg.MissionID]
		if row == nil {
			row = &missionRow{id: msg.MissionID}
			m.missions[msg.MissionID] = row
		}
		row.status = msg.To
		if msg.DroneID != "" {
			row.drone = msg.DroneID
		}
		line := fmt.Sprintf("[%s] mission=%s %s: %s -> %s", msg.Timestamp.Format(time.RFC3339), msg.MissionID, msg.Command, msg.From, msg.To)
		if msg.Reason != "" {
			line += " (" + msg.Reason + ")"
		}
		m.appendLog(statusStyleFor(msg.To).Render(line))
		m.refreshTable()
	}
	return m, nil
}

func statusStyleFor(status string) lipgloss.Style {
	switch status {
	case "FAILED", "ABORTED":
		return redStyle
	case "COMPLETED":
		return greenStyle
	case "PAUSED":
		return yellowStyle
	}
	return blueStyle
}

func (m *tuiModel) appendLog(line string) {
	m.logs = append(m.logs, line)
	if len(m.logs) > maxLogLines {
		m.logs = m.logs[len(m.logs)-maxLogLines:]
	}
	m.refreshViewport()
}

func (m *tuiModel) refreshTable() {
	ids := make([]string, 0, len(m.missions))
	for id := range m.missions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	rows := make([]table.Row, 0, len(ids))
	for _, id := range ids {
		r := m.missions[id]
		rows = append(rows, table.Row{
			r.id, r.drone, fmt.Sprintf("%d", r.waypoint),
			fmt.Sprintf("%.1f%%", r.progress), fmt.Sprintf("%.1f%%", r.battery), r.status,
		})
	}
	m.table.SetRows(rows)
	m.layout()
}

// layout splits the screen between the mission table and the event log.
func (m *tuiModel) layout() {
	rows := max(len(m.missions), tableMinRows)
	if limit := int(float64(m.height) * tableMaxShare); limit > tableMinRows && rows > limit {
		rows = limit
	}
	m.table.SetHeight(rows + 1)
	header := lipgloss.Height(m.renderHeader())
	m.vp.Height = max(m.height-header-lipgloss.Height(m.table.View())-lipgloss.Height(m.renderBottom())-2, 0)
	if m.autoscroll {
		m.vp.GotoBottom()
	}
}

func (m *tuiModel) refreshViewport() {
	lines := make([]string, 0, len(m.logs))
	for _, l := range m.logs {
		if m.wrap && m.vp.Width > 0 {
			lines = append(lines, wordwrap.String(l, m.vp.Width))
		} else {
			lines = append(lines, l)
		}
	}
	m.vp.SetContent(strings.Join(lines, "\n"))
	if m.autoscroll {
		m.vp.GotoBottom()
	}
}

func (m tuiModel) View() string {
	if m.help {
		return m.renderHelp()
	}
	divider := strings.Repeat("─", m.vp.Width)
	return strings.Join([]string{
		m.renderHeader(),
		m.table.View(),
		divider,
		m.vp.View(),
		divider,
		m.renderBottom(),
	}, "\n")
}

func (m tuiModel) renderHeader() string {
	active := 0
	for _, r := range m.missions {
		if r.status == "IN_PROGRESS" || r.status == "PAUSED" {
			active++
		}
	}
	return blueStyle.Render(fmt.Sprintf("droneops-survey  cluster=%s  missions=%d  active=%d", m.clusterID, len(m.missions), active))
}

func (m tuiModel) renderBottom() string {
	flag := func(on bool) string {
		if on {
			return "on"
		}
		return "off"
	}
	return grayStyle.Render(fmt.Sprintf("q quit  w wrap:%s  a autoscroll:%s  h help", flag(m.wrap), flag(m.autoscroll)))
}

func (m tuiModel) renderHelp() string {
	lines := []string{
		"Keys:",
		"  q / ctrl+c  quit",
		"  w           toggle line wrap in the event log",
		"  a           toggle autoscroll",
		"  up/down     scroll the event log",
		"  h / ?       toggle this help",
	}
	return strings.Join(lines, "\n")
}
