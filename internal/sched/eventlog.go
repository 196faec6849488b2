// internal/sched/eventlog.go

package sched

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// EventLog prints StatusEvents as one line each and optionally mirrors them
// to a CSV file. Its Observe method fits Options.Observer.
type EventLog struct {
	mu  sync.Mutex
	out io.Writer

	csvFile   *os.File
	csvWriter *csv.Writer
}

func NewEventLog(out io.Writer) *EventLog {
	return &EventLog{out: out}
}

// EnableCSVLogging opens the given file path for CSV logging of events.
// Must be called before the system starts.
func (l *EventLog) EnableCSVLogging(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)

	// write header
	if err := w.Write([]string{"timestamp", "instant", "event", "task_id", "task", "level"}); err != nil {
		f.Close()
		return err
	}
	w.Flush()
	l.csvFile = f
	l.csvWriter = w
	return nil
}

// Observe records one event.
func (l *EventLog) Observe(ev StatusEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()

	// an auxiliary function to center the event kind in the output
	center := func(str string, width int) string {
		spaces := (width - len(str)) / 2
		if spaces < 0 {
			spaces = 0
		}
		return strings.Repeat(" ", spaces) + str + strings.Repeat(" ", max(0, width-(spaces+len(str))))
	}

	if l.out != nil {
		fmt.Fprintf(l.out, "%s = Instant: %07d [%s] => Task: %04d %-12s level=%d\n",
			ev.Time.Format("Jan 02 15:04:05.000"),
			uint64(ev.Instant),
			center(ev.Kind.String(), 12),
			ev.TaskID,
			ev.Task,
			ev.Level,
		)
	}

	if l.csvWriter != nil {
		rec := []string{
			ev.Time.Format(time.RFC3339Nano),
			strconv.FormatUint(uint64(ev.Instant), 10),
			ev.Kind.String(),
			strconv.FormatUint(uint64(ev.TaskID), 10),
			ev.Task,
			strconv.FormatUint(uint64(ev.Level), 10),
		}
		l.csvWriter.Write(rec)
		l.csvWriter.Flush()
	}
}

// Close flushes and closes the CSV file, if any.
func (l *EventLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.csvFile == nil {
		return nil
	}
	l.csvWriter.Flush()
	err := l.csvWriter.Error()
	if cerr := l.csvFile.Close(); err == nil {
		err = cerr
	}
	l.csvFile, l.csvWriter = nil, nil
	return err
}
