// Package progress reports extraction progress. Reporters are purely
// observational: extraction results never depend on them.
package progress

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

// Plan describes the work an extraction is about to do.
type Plan struct {
	Folders    int   // directories to create
	Files      int   // files with a matching index entry
	TotalBytes int64 // sum of their payload lengths
}

// Reporter receives extraction events. Implementations must be safe for
// concurrent use when extraction runs with more than one worker.
type Reporter interface {
	Start(plan Plan)
	FolderCreated(path string)
	FileExtracted(path string, n int64)
	FileSkipped(path string, reason error)
	Finish()
}

// Nop discards every event.
type Nop struct{}

func (Nop) Start(Plan)                  {}
func (Nop) FolderCreated(string)        {}
func (Nop) FileExtracted(string, int64) {}
func (Nop) FileSkipped(string, error)   {}
func (Nop) Finish()                     {}

// LogReporter writes progress to a slog.Logger.
type LogReporter struct {
	logger *slog.Logger
	start  time.Time
	plan   Plan

	folders atomic.Int64
	files   atomic.Int64
	skipped atomic.Int64
	bytes   atomic.Int64
}

// NewLogReporter returns a reporter logging to logger, or to the default
// logger if nil.
func NewLogReporter(logger *slog.Logger) *LogReporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogReporter{logger: logger}
}

func (r *LogReporter) Start(plan Plan) {
	r.plan = plan
	r.start = time.Now()

	r.logger.Info("extracting",
		"folders", plan.Folders,
		"files", plan.Files,
		"size", humanize.IBytes(uint64(max(plan.TotalBytes, 0))),
	)
}

func (r *LogReporter) FolderCreated(path string) {
	r.folders.Add(1)
	r.logger.Debug("created folder", "path", path)
}

func (r *LogReporter) FileExtracted(path string, n int64) {
	done := r.files.Add(1)
	total := r.bytes.Add(n)

	r.logger.Debug("extracted file",
		"path", path,
		"size", humanize.IBytes(uint64(n)),
		"progress", r.fraction(done, total),
	)
}

func (r *LogReporter) FileSkipped(path string, reason error) {
	r.skipped.Add(1)
	r.logger.Warn("skipped file", "path", path, "reason", reason)
}

func (r *LogReporter) Finish() {
	elapsed := time.Since(r.start)
	total := r.bytes.Load()

	rate := "n/a"
	if secs := elapsed.Seconds(); secs > 0 {
		rate = humanize.IBytes(uint64(float64(total)/secs)) + "/s"
	}

	r.logger.Info("all done",
		"folders", r.folders.Load(),
		"files", r.files.Load(),
		"skipped", r.skipped.Load(),
		"extracted", humanize.IBytes(uint64(total)),
		"elapsed", elapsed.Round(time.Millisecond),
		"rate", rate,
	)
}

// Counts returns the number of folders, files, skipped files and bytes seen.
func (r *LogReporter) Counts() (folders, files, skipped, bytes int64) {
	return r.folders.Load(), r.files.Load(), r.skipped.Load(), r.bytes.Load()
}

// fraction renders "files/total (pct)" against the plan.
func (r *LogReporter) fraction(files, bytes int64) string {
	pct := 100.0
	if r.plan.TotalBytes > 0 {
		pct = float64(bytes) / float64(r.plan.TotalBytes) * 100
	}
	return humanize.Comma(files) + "/" + humanize.Comma(int64(r.plan.Files)) +
		" (" + humanize.FormatFloat("#.#", pct) + "%)"
}
