package display

import (
	"fmt"
	"io"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// Status is the playback and link state shown by the UI.
type Status struct {
	State       string
	BPM         float64
	Peers       uint64
	LinkEnabled bool
	LowLatency  bool
	Measure     int
	Phase       float64
}

// UI is a terminal UI with a status table, a step bar and a log view.
type UI struct {
	app      *tview.Application
	status   *tview.Table
	steps    *tview.TextView
	logView  *tview.TextView
	window   int
	bindings map[rune]func()
	done     chan struct{}
}

// NewUI creates the UI. bindings maps keys to actions; q and Escape quit.
func NewUI(title string, window int, bindings map[rune]func()) *UI {
	ui := &UI{
		app:      tview.NewApplication(),
		window:   window,
		bindings: bindings,
		done:     make(chan struct{}),
	}

	ui.status = tview.NewTable().SetBorders(false).SetSelectable(false, false)
	ui.status.SetTitle(" " + title + " ").SetBorder(true)

	ui.steps = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter).
		SetWrap(false)
	ui.steps.SetTitle(" Steps ").SetBorder(true)

	ui.logView = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetChangedFunc(func() {
			ui.logView.ScrollToEnd()
			ui.app.Draw()
		})
	ui.logView.SetTitle(" Log ").SetBorder(true)

	layout := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(ui.status, 9, 0, false).
		AddItem(ui.steps, 3, 0, false).
		AddItem(ui.logView, 0, 1, false)
	ui.app.SetRoot(layout, true)

	ui.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyEscape || event.Rune() == 'q' {
			ui.app.Stop()
			return nil
		}
		if f, ok := ui.bindings[event.Rune()]; ok {
			go f()
			return nil
		}
		return event
	})
	return ui
}

// LogWriter returns a writer that appends to the log view. It is meant for
// logrus.SetOutput.
func (ui *UI) LogWriter() io.Writer {
	return tview.ANSIWriter(ui.logView)
}

// Notify shows a highlighted message in the log view.
func (ui *UI) Notify(msg string) {
	fmt.Fprintf(ui.logView, "[yellow::b]%s[-::-]\n", tview.Escape(msg))
}

// SetStatus redraws the status table.
func (ui *UI) SetStatus(s Status) {
	if ui.stopped() {
		return
	}
	ui.app.QueueUpdateDraw(func() {
		for row, cells := range statusRows(s) {
			ui.status.SetCell(row, 0, tview.NewTableCell(cells[0]).SetTextColor(tcell.ColorYellow))
			ui.status.SetCell(row, 1, tview.NewTableCell(cells[1]).SetTextColor(tcell.ColorWhite))
		}
	})
}

// SetFrame redraws the step bar.
func (ui *UI) SetFrame(fr Frame) {
	if ui.stopped() {
		return
	}
	bar := StepBar(fr, ui.window)
	ui.app.QueueUpdateDraw(func() {
		ui.steps.SetText(bar)
	})
}

// Run runs the UI until it is stopped.
func (ui *UI) Run() error {
	defer close(ui.done)
	return ui.app.Run()
}

// Updates queued after Run returned would never be drained.
func (ui *UI) stopped() bool {
	select {
	case <-ui.done:
		return true
	default:
		return false
	}
}

// Stop stops the UI.
func (ui *UI) Stop() {
	ui.app.Stop()
}

func statusRows(s Status) [][2]string {
	onOff := func(b bool) string {
		if b {
			return "on"
		}
		return "off"
	}
	return [][2]string{
		{"Transport:", s.State},
		{"Position:", fmt.Sprintf("%d:%.2f", s.Measure+1, s.Phase)},
		{"Tempo:", fmt.Sprintf("%.1f BPM", s.BPM)},
		{"Link:", onOff(s.LinkEnabled)},
		{"Peers:", fmt.Sprintf("%d", s.Peers)},
		{"Low latency:", onOff(s.LowLatency)},
		{"Keys:", "space play/stop, l link, t low latency, +/- tempo, q quit"},
	}
}

// StepBar renders the visible steps of fr, highlighting the current one.
func StepBar(fr Frame, window int) string {
	if window <= 0 {
		window = 1
	}
	var b strings.Builder
	for i := fr.Offset; i < fr.Offset+window; i++ {
		if i > fr.Offset {
			b.WriteByte(' ')
		}
		if i == fr.Step {
			b.WriteString("[black:green]■[-:-]")
			continue
		}
		b.WriteString("□")
	}
	return b.String()
}
