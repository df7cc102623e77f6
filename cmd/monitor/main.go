// Command monitor runs one challenge locally and draws it in the terminal.
// It reads the same environment as the web server for its signal source.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"

	"mandalaquest/internal/challenge"
	"mandalaquest/internal/config"
	"mandalaquest/internal/events"
	"mandalaquest/internal/observability"
	"mandalaquest/internal/server"
	"mandalaquest/internal/session"
)

func main() {
	team := flag.String("team", "North", "team name shown in the header")
	variant := flag.String("variant", "fire", "challenge variant: fire, wave or lightning")
	level := flag.Int("level", 0, "level number")
	flag.Parse()

	if err := run(*team, *variant, *level); err != nil {
		log.Fatal(err.Error())
	}
}

func run(team, variantName string, level int) error {
	v, err := challenge.ParseVariant(variantName)
	if err != nil {
		return err
	}
	appCfg := config.Load()
	sessCfg, err := server.SessionConfig(appCfg)
	if err != nil {
		return err
	}
	// the screen owns stdout, so logs are dropped
	sources, closeSources, err := server.NewSourceFactory(appCfg, observability.Discard())
	if err != nil {
		return err
	}
	defer closeSources()

	sess := session.New(team, sessCfg, sources, events.NewBus())
	sess.Logger = observability.Discard()
	if err := sess.Setup(v, level); err != nil {
		return err
	}

	screen, err := tcell.NewScreen()
	if err != nil {
		return fmt.Errorf("creating screen: %w", err)
	}
	if err := screen.Init(); err != nil {
		return fmt.Errorf("initializing screen: %w", err)
	}
	defer screen.Fini()
	screen.HideCursor()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sess.Run(ctx, time.Duration(appCfg.TickMS)*time.Millisecond, func(snap session.Snapshot) {
		screen.PostEvent(tcell.NewEventInterrupt(snap))
	})

	draw(screen, sess.Snapshot(), "")
	for {
		var status string
		switch ev := screen.PollEvent().(type) {
		case *tcell.EventResize:
			screen.Sync()
		case *tcell.EventInterrupt:
			if snap, ok := ev.Data().(session.Snapshot); ok {
				draw(screen, snap, "")
			}
			continue
		case *tcell.EventKey:
			if ev.Key() == tcell.KeyEscape || ev.Key() == tcell.KeyCtrlC {
				return nil
			}
			switch ev.Rune() {
			case 'q':
				return nil
			case 's':
				if err := sess.Begin(time.Now()); err != nil {
					status = err.Error()
				}
			case 'r':
				sess.Reset()
				if err := sess.Setup(v, level); err != nil {
					status = err.Error()
				}
			}
		case nil:
			return nil
		}
		draw(screen, sess.Snapshot(), status)
	}
}

var (
	styleText  = tcell.StyleDefault
	styleDim   = tcell.StyleDefault.Foreground(tcell.ColorGray)
	stylePass  = tcell.StyleDefault.Foreground(tcell.ColorGreen)
	styleFail  = tcell.StyleDefault.Foreground(tcell.ColorRed)
	styleTitle = tcell.StyleDefault.Foreground(tcell.ColorYellow).Bold(true)
)

func drawText(s tcell.Screen, x, y int, style tcell.Style, text string) {
	i := 0
	for _, r := range text {
		s.SetContent(x+i, y, r, nil, style)
		i++
	}
}

// drawBar fills width cells in proportion to value/limit.
func drawBar(s tcell.Screen, x, y, width int, value, limit float64, style tcell.Style) {
	filled := 0
	if limit > 0 {
		filled = int(float64(width) * min(max(value/limit, 0), 1))
	}
	drawText(s, x, y, style, strings.Repeat("█", filled))
	drawText(s, x+filled, y, styleDim, strings.Repeat("░", width-filled))
}

func draw(s tcell.Screen, snap session.Snapshot, status string) {
	s.Clear()
	w, _ := s.Size()
	barWidth := max(w-24, 10)

	drawText(s, 1, 0, styleTitle, fmt.Sprintf("%s  level %d  %s", snap.Team, snap.Level, snap.GameMode))
	drawText(s, 1, 1, styleDim, fmt.Sprintf("%s / %s", snap.OuterPhase, snap.Phase))

	connected := "disconnected"
	connStyle := styleFail
	if snap.Connected {
		connected, connStyle = "connected", stylePass
	}
	drawText(s, w-len(connected)-1, 0, connStyle, connected)

	row := 3
	switch snap.OuterPhase {
	case session.PhaseSetup:
		drawText(s, 1, row, styleText, "press s to start")
	case session.PhaseCountdown:
		drawText(s, 1, row, styleTitle, fmt.Sprintf("starting in %d", snap.Countdown))
	default:
		valueStyle := styleFail
		if snap.Passing {
			valueStyle = stylePass
		}
		limit := max(snap.Target, snap.CurrentValue) * 1.2
		drawText(s, 1, row, styleText, fmt.Sprintf("value  %7.1f", snap.CurrentValue))
		drawBar(s, 18, row, barWidth, snap.CurrentValue, limit, valueStyle)
		drawText(s, 1, row+1, styleText, fmt.Sprintf("target %7.1f", snap.Target))
		drawBar(s, 18, row+1, barWidth, snap.Target, limit, styleDim)

		drawText(s, 1, row+3, styleText, fmt.Sprintf("elapsed %5.1fs of %.0fs   baseline %.1f   %s",
			snap.Elapsed, snap.MaxDuration, snap.Baseline, snap.TargetPhase))
		drawText(s, 1, row+4, styleText, fmt.Sprintf("score %d   in target %.1fs   below %.1fs   streak %.1fs (best %.1fs)",
			snap.Score, snap.TimeInTarget, snap.TimeBelowTarget, snap.CurrentConsecutive, snap.MaxConsecutiveTarget))
		drawText(s, 1, row+5, styleText, fmt.Sprintf("heart rate %.0f bpm   trend %+.1f   variability %.1f   %s %.0f",
			snap.HeartRate, snap.HRTrend, snap.HRVariability, snap.GameMode, snap.ThemeScore))
	}

	if snap.OuterPhase == session.PhaseComplete {
		drawText(s, 1, row+7, styleTitle, fmt.Sprintf("complete: %.1f%% in target, score %d", percent(snap), snap.Score))
	}
	if status != "" {
		drawText(s, 1, row+9, styleFail, status)
	}
	drawText(s, 1, row+10, styleDim, "s start   r reset   q quit")
	s.Show()
}

func percent(snap session.Snapshot) float64 {
	window := snap.MaxDuration - snap.ChallengeStartTime
	if window <= 0 {
		return 0
	}
	return 100 * snap.TimeInTarget / window
}
