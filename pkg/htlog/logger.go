// Package htlog supplies the injected diagnostic callback used across the
// history tree engine in place of a process-wide global logger, per the
// "Global logger" design note: callers hand every component a Logger (and,
// for the CLI, a Progress reporter), and nothing in the engine reaches for
// a package-level logrus call directly.
package htlog

import (
	"bytes"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/vbauerster/mpb/v5"
	"github.com/vbauerster/mpb/v5/decor"
)

// Logger is the diagnostic sink every engine component is given at
// construction time.
type Logger interface {
	Debugf(format string, x ...interface{})
	Errorf(format string, x ...interface{})
	Infof(format string, x ...interface{})
	Printf(format string, x ...interface{})
	Warnf(format string, x ...interface{})
	IsInfoEnabled() bool
	IsDebugEnabled() bool
}

// Progress displays a progress bar for a long-running operation, such as
// a CLI build ingesting a large interval stream.
type Progress interface {
	Finish(success bool)
	Increment(n int64)
	Write(p []byte) (n int, err error)
}

// ProgressReporter creates Progress bars.
type ProgressReporter interface {
	NewProgress(label string, units string, total int64) Progress
}

// View bundles a Logger with the ability to report progress.
type View interface {
	Logger
	ProgressReporter
}

// CLI is a terminal-backed View: logrus underneath, colorized with
// fatih/color, with mpb progress bars for long operations.
type CLI struct {
	DisableColors bool
	DisableTTY    bool
	IsDebug       bool
	IsVerbose     bool

	lock               sync.Mutex
	isTrackingProgress bool
	bars               map[*mpb.Bar]bool
	buffer             *bytes.Buffer
	progressContainer  *mpb.Progress
}

// NewCLI returns a ready-to-use terminal logger.
func NewCLI(debug, verbose bool) *CLI {
	return &CLI{IsDebug: debug, IsVerbose: verbose}
}

func (log *CLI) Debugf(format string, x ...interface{}) {
	if log.IsDebug {
		logrus.Tracef(format, x...)
	}
}

func (log *CLI) Errorf(format string, x ...interface{}) {
	logrus.Errorf(format, x...)
}

func (log *CLI) Infof(format string, x ...interface{}) {
	if log.IsVerbose {
		logrus.Debugf(format, x...)
	}
}

func (log *CLI) Printf(format string, x ...interface{}) {
	logrus.Printf(format, x...)
}

func (log *CLI) Warnf(format string, x ...interface{}) {
	logrus.Warnf(format, x...)
}

func (log *CLI) IsInfoEnabled() bool {
	return logrus.IsLevelEnabled(logrus.InfoLevel)
}

func (log *CLI) IsDebugEnabled() bool {
	return logrus.IsLevelEnabled(logrus.DebugLevel)
}

// NewProgress creates a progress bar (or spinner, if total is 0) and
// returns it.
func (log *CLI) NewProgress(label string, units string, total int64) Progress {
	if log.DisableTTY {
		return &nilProgress{total: total}
	}

	log.lock.Lock()
	defer log.lock.Unlock()

	if !log.isTrackingProgress {
		log.isTrackingProgress = true
		log.buffer = new(bytes.Buffer)
		logrus.SetOutput(log.buffer)
		log.progressContainer = mpb.New(mpb.WithWidth(80))
		log.bars = make(map[*mpb.Bar]bool)
	}

	var decorators []decor.Decorator
	switch units {
	case "bytes":
		decorators = append(decorators, decor.Counters(decor.UnitKiB, "% .1f / % .1f"))
	default:
		decorators = append(decorators, decor.Percentage())
	}

	var p *mpb.Bar
	if total == 0 {
		p = log.progressContainer.AddSpinner(0, mpb.SpinnerOnLeft,
			mpb.PrependDecorators(
				decor.Name(label, decor.WC{W: len(label) + 1, C: decor.DidentRight}),
			),
		)
	} else {
		p = log.progressContainer.AddBar(total,
			mpb.PrependDecorators(
				decor.Name(label, decor.WC{W: len(label) + 1, C: decor.DidentRight}),
				decor.OnComplete(
					decor.AverageETA(decor.ET_STYLE_GO, decor.WC{W: 4}), "done",
				),
			),
			mpb.AppendDecorators(decorators...),
		)
	}

	log.bars[p] = true

	pb := &pb{
		log:      log,
		p:        p,
		total:    total,
		interval: time.Millisecond * 100,
	}
	pb.nextUpdate = time.Now().Add(pb.interval)

	return pb
}

type nilProgress struct {
	cursor int64
	total  int64
}

func (np *nilProgress) Increment(n int64)     {}
func (np *nilProgress) Finish(success bool)   {}
func (np *nilProgress) Write(p []byte) (int, error) {
	n := len(p)
	np.cursor += int64(n)
	return n, nil
}

type pb struct {
	log    *CLI
	p      *mpb.Bar
	closed bool
	total  int64
	cursor int64
	bar    int64

	buffered   int64
	interval   time.Duration
	nextUpdate time.Time
}

func (pb *pb) Increment(n int64) {
	pb.buffered += n
	pb.bar += n
	if !time.Now().Before(pb.nextUpdate) {
		pb.flush()
	}
}

func (pb *pb) flush() {
	pb.nextUpdate = time.Now().Add(pb.interval)
	pb.p.IncrInt64(pb.buffered)
	pb.buffered = 0
}

func (pb *pb) Finish(success bool) {
	if pb.closed {
		return
	}
	pb.flush()
	pb.closed = true
	if pb.bar != pb.total || pb.total == 0 || !success {
		pb.p.Abort(false)
	}

	pb.log.lock.Lock()
	defer pb.log.lock.Unlock()
	delete(pb.log.bars, pb.p)

	if len(pb.log.bars) == 0 {
		pb.log.bars = nil
		pb.log.isTrackingProgress = false
		pb.log.progressContainer.Wait()
		pb.log.progressContainer = nil
		logrus.SetOutput(os.Stdout)
		_, _ = pb.log.buffer.WriteTo(os.Stdout)
		pb.log.buffer = nil
	}
}

func (pb *pb) Write(p []byte) (n int, err error) {
	n = len(p)
	pb.cursor += int64(n)
	if pb.bar < pb.cursor {
		pb.Increment(pb.cursor - pb.bar)
	}
	return
}

// Format implements logrus.Formatter.
func (log *CLI) Format(entry *logrus.Entry) ([]byte, error) {
	faint := color.New(color.Faint).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	blue := color.New(color.FgBlue).SprintFunc()

	x := entry.Message
	if !log.DisableColors {
		switch entry.Level {
		case logrus.TraceLevel:
			x = fmt.Sprintf("%s\n", faint(x))
		case logrus.DebugLevel:
			x = fmt.Sprintf("%s\n", blue(x))
		case logrus.InfoLevel:
			x = fmt.Sprintf("%s\n", x)
		case logrus.WarnLevel:
			x = fmt.Sprintf("%s\n", yellow(x))
		case logrus.ErrorLevel:
			x = fmt.Sprintf("%s\n", red(x))
		default:
			x = fmt.Sprintf("%s\n", x)
		}
	} else {
		x = fmt.Sprintf("%s\n", x)
	}

	return []byte(x), nil
}

// Discard is a Logger that drops everything, used by components and
// tests that don't care to observe diagnostics.
type Discard struct{}

func (Discard) Debugf(format string, x ...interface{}) {}
func (Discard) Errorf(format string, x ...interface{}) {}
func (Discard) Infof(format string, x ...interface{})  {}
func (Discard) Printf(format string, x ...interface{}) {}
func (Discard) Warnf(format string, x ...interface{})  {}
func (Discard) IsInfoEnabled() bool                    { return false }
func (Discard) IsDebugEnabled() bool                   { return false }

var _ Logger = Discard{}
