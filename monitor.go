package main

import (
	"fmt"
	"time"

	"github.com/nsf/termbox-go"

	"github.com/binsim/binsynth-server/internal/engine"
	"github.com/binsim/binsynth-server/transport"
)

const (
	colDef     = termbox.ColorDefault
	colWhite   = termbox.ColorWhite
	colRed     = termbox.ColorRed
	colGreen   = termbox.ColorGreen
	colYellow  = termbox.ColorYellow
	colBlue    = termbox.ColorBlue
	colCyan    = termbox.ColorCyan
	colMagenta = termbox.ColorMagenta
)

// monitorState holds the read-only view over a running Engine and
// Server: there is nothing here to edit, only to display.
type monitorState struct {
	eng    *engine.Engine
	srv    *transport.Server
	listen string
	exit   bool
}

// runMonitor drives a termbox dashboard showing per-channel block
// counters and connected client count, refreshed on a timer. There are
// no adjustable parameters; 'q' or Esc closes the dashboard and returns,
// after which main shuts the server down.
func runMonitor(eng *engine.Engine, srv *transport.Server, listen string) {
	if err := termbox.Init(); err != nil {
		//nolint:forbidigo // monitor initialization error requires direct output
		fmt.Printf("monitor: failed to start terminal UI: %v\n", err)
		return
	}
	defer termbox.Close()

	termbox.SetInputMode(termbox.InputEsc)

	state := &monitorState{eng: eng, srv: srv, listen: listen}

	eventQueue := make(chan termbox.Event)
	go func() {
		for {
			eventQueue <- termbox.PollEvent()
		}
	}()

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	drawMonitor(state)

	for !state.exit {
		select {
		case ev := <-eventQueue:
			switch ev.Type {
			case termbox.EventKey:
				if ev.Key == termbox.KeyEsc || ev.Ch == 'q' {
					state.exit = true
				}
			case termbox.EventResize:
				drawMonitor(state)
			}
		case <-ticker.C:
			drawMonitor(state)
		}
	}
}

func drawMonitor(state *monitorState) {
	_ = termbox.Clear(colDef, colDef)

	printTB(0, 0, colCyan, colDef, "binsynth-server monitor")
	printTB(0, 1, colWhite, colDef, fmt.Sprintf("Listening: %s", state.listen))
	printTB(0, 2, colDef, colDef, "'q' or Esc to quit (stops the server).")
	printTB(0, 3, colDef, colDef, "----------------------------------------------------")

	printTB(0, 5, colYellow, colDef, fmt.Sprintf("Connected clients: %d", state.srv.ClientCount()))
	printTB(0, 6, colYellow, colDef, fmt.Sprintf("Block size:        %d", state.eng.BlockSize()))

	snap := state.eng.Snapshot()
	printTB(0, 8, colWhite, colDef, "Per-channel blocks processed:")
	for i, count := range snap.Channels {
		drawChannelBar(10+i, i, count)
	}

	termbox.Flush()
}

func drawChannelBar(yPos, channel int, count uint64) {
	label := fmt.Sprintf("ch %2d", channel)
	printTB(2, yPos, colDef, colDef, fmt.Sprintf("%s  %10d blocks", label, count))

	const barWidth = 40
	filled := int(count % (barWidth + 1))
	startX := 2 + 24
	for i := range barWidth {
		var barChar rune
		if i < filled {
			barChar = '█'
		} else {
			barChar = '░'
		}
		termbox.SetCell(startX+i, yPos, barChar, colGreen, colDef)
	}
}

func printTB(x, y int, fg, bg termbox.Attribute, msg string) {
	for _, c := range msg {
		termbox.SetCell(x, y, c, fg, bg)
		x++
	}
}
