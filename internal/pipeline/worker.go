package pipeline

import (
	"context"
	"log/slog"

	"github.com/dgallion1/mapread/internal/parser"
)

// Worker processes batch read jobs.
type Worker struct {
	reader   MappingReader
	resolver parser.EntityResolver
	log      *slog.Logger

	maxConcurrentReads int
}

func NewWorker(r MappingReader, resolver parser.EntityResolver, log *slog.Logger, maxReads int) *Worker {
	return &Worker{
		reader:             r,
		resolver:           resolver,
		log:                log,
		maxConcurrentReads: maxReads,
	}
}

// Process reads every document in the job and records the outcomes. One
// failing document does not fail the job.
func (w *Worker) Process(ctx context.Context, job *Job) {
	log := w.log.With("job_id", job.ID)

	inputs := job.Inputs()
	if len(inputs) == 0 {
		job.AddError("no documents")
		job.SetStatus(StatusFailed, "reading")
		return
	}

	job.SetStatus(StatusReading, "reading")
	outcomes, err := ReadAll(ctx, w.reader, w.resolver, inputs, w.maxConcurrentReads)
	job.Record(outcomes)
	job.release()

	invalid := 0
	for _, o := range outcomes {
		if o.Valid || o.ErrorKind == KindCanceled {
			continue
		}
		invalid++
		log.Warn("mapping rejected",
			"origin_kind", o.Origin.Kind,
			"origin_name", o.Origin.Name,
			"kind", o.ErrorKind,
			"error", o.Error,
		)
	}

	switch {
	case err != nil:
		log.Error("batch interrupted", "error", err)
		job.AddError(err.Error())
		job.SetStatus(StatusFailed, "canceled")
	case invalid > 0:
		job.SetStatus(StatusPartial, "done")
	default:
		job.SetStatus(StatusCompleted, "done")
	}
	log.Info("batch complete", "files", len(outcomes), "invalid", invalid)
}
