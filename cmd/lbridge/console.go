package main

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/srg/lbridge/internal/devclass"
	"github.com/srg/lbridge/internal/notify"
	"github.com/srg/lbridge/internal/property"
	"github.com/srg/lbridge/internal/store"
)

// consolePrinter is a notify.Listener printing one line per property change.
type consolePrinter struct {
	mu  sync.Mutex
	out io.Writer

	name    *color.Color
	value   *color.Color
	unknown *color.Color
	stale   *color.Color
	cloud   *color.Color
}

var _ notify.Listener = (*consolePrinter)(nil)

func newConsolePrinter(out io.Writer) *consolePrinter {
	return &consolePrinter{
		out:     out,
		name:    color.New(color.FgCyan),
		value:   color.New(color.FgGreen, color.Bold),
		unknown: color.New(color.FgHiBlack),
		stale:   color.New(color.FgYellow),
		cloud:   color.New(color.FgMagenta),
	}
}

func (p *consolePrinter) OnChanges(_ string, changes []property.Change) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range changes {
		fmt.Fprintf(p.out, "%s  %s = %s", c.Timestamp.Format(time.TimeOnly), p.name.Sprint(c.Name), p.render(c.Value.Known(), displayOf(c)))
		if c.Source == property.Cloud {
			fmt.Fprintf(p.out, " %s", p.cloud.Sprint("(cloud)"))
		}
		fmt.Fprintln(p.out)
	}
}

// Snapshot prints the current table, flagging values restored from the last run.
func (p *consolePrinter) Snapshot(props []store.LocalProperty) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, lp := range props {
		if !lp.Value.Known() {
			continue
		}
		fmt.Fprintf(p.out, "%s = %s", p.name.Sprint(lp.Name), p.render(true, displayOf(property.Change{Name: lp.Name, Value: lp.Value})))
		if lp.Stale {
			fmt.Fprintf(p.out, " %s", p.stale.Sprint("(stale)"))
		}
		fmt.Fprintln(p.out)
	}
}

func (p *consolePrinter) render(known bool, text string) string {
	if !known {
		return p.unknown.Sprint(text)
	}
	return p.value.Sprint(text)
}

func displayOf(c property.Change) string {
	class, ok := devclass.ByModelKey(c.Name.Model())
	if !ok {
		return c.Value.String()
	}
	return displayValue(class.Table, c.Name.Field(), c.Value)
}
