package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/voicenote/internal/chunk"
	"github.com/snarg/voicenote/internal/media"
	"github.com/snarg/voicenote/internal/metrics"
	"github.com/snarg/voicenote/internal/session"
	"github.com/snarg/voicenote/internal/transcribe"
)

// Result is the terminal outcome of one run.
type Result struct {
	RunID  string
	State  State
	Chunks int
	Err    error
}

// Run executes one job to a terminal state. Stages run strictly in order.
// Local files are released and usage is recorded exactly once on every
// exit path; the stored clip is deleted afterwards.
func (o *Orchestrator) Run(ctx context.Context, job Job) (res Result) {
	if o.opts.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.opts.RunTimeout)
		defer cancel()
	}

	sess := job.Session
	log := o.log.With().
		Str("user_id", sess.UserID).
		Str("run_id", job.RunID).
		Str("mode", sess.Mode.String()).
		Logger()
	res.RunID = job.RunID

	ws := newWorkspace(log)
	defer func() {
		ws.Release()
		o.discard(ctx, sess.Media, log)
		o.recordUsage(ctx, sess, log)
		o.finish(ctx, sess.UserID, &res, log)
	}()

	o.notify(ctx, sess.UserID, job.RunID, StatusProcessing, log)

	asset, err := o.fetch(ctx, job, ws)
	if err != nil {
		res.Err = err
		return res
	}

	asset, err = o.normalize(ctx, job, asset, ws)
	if err != nil {
		res.Err = err
		return res
	}

	o.notify(ctx, sess.UserID, job.RunID, StatusTranscribing, log)
	var tr transcribe.Transcript
	err = o.stage(job.RunID, Transcribing, func() error {
		var err error
		tr, err = o.opts.Transcriber.Transcribe(ctx, asset.LocalPath)
		return err
	})
	if err != nil {
		res.Err = err
		return res
	}
	// Audio is no longer needed once the text exists.
	ws.Release()

	text := tr.Text
	if sess.Mode == session.ModeSummary {
		o.notify(ctx, sess.UserID, job.RunID, StatusRewriting, log)
		err = o.stage(job.RunID, Rewriting, func() error {
			var err error
			text, err = o.opts.Rewriter.Rewrite(ctx, tr, job.Request)
			return err
		})
		if err != nil {
			res.Err = err
			return res
		}
	}

	err = o.stage(job.RunID, Chunking, func() error {
		for _, c := range chunk.Split(text, o.opts.ChunkMaxLength) {
			if err := o.opts.Sink.SendText(ctx, sess.UserID, job.RunID, c); err != nil {
				return fmt.Errorf("%w: chunk %d: %v", ErrDelivery, res.Chunks, err)
			}
			res.Chunks++
			metrics.ChunksDeliveredTotal.Inc()
		}
		return nil
	})
	if err != nil {
		res.Err = err
		return res
	}
	return res
}

func (o *Orchestrator) fetch(ctx context.Context, job Job, ws *workspace) (asset media.Asset, err error) {
	err = o.stage(job.RunID, Fetching, func() error {
		a, err := o.opts.Fetcher.Fetch(ctx, job.Session.Media)
		if err != nil {
			return err
		}
		ws.Track(a.LocalPath)
		asset = a
		return nil
	})
	return asset, err
}

func (o *Orchestrator) normalize(ctx context.Context, job Job, in media.Asset, ws *workspace) (out media.Asset, err error) {
	err = o.stage(job.RunID, Normalizing, func() error {
		a, err := o.opts.Normalizer.Normalize(ctx, in)
		if err != nil {
			return err
		}
		if a.LocalPath != in.LocalPath {
			ws.Replace(in.LocalPath, a.LocalPath)
		}
		out = a
		return nil
	})
	return out, err
}

// stage enters s, runs fn and records its duration.
func (o *Orchestrator) stage(runID string, s State, fn func() error) error {
	o.trace(runID, s)
	start := time.Now()
	err := fn()
	metrics.PipelineStageDuration.WithLabelValues(string(s)).Observe(time.Since(start).Seconds())
	return err
}

func (o *Orchestrator) trace(runID string, s State) {
	if o.opts.Trace != nil {
		o.opts.Trace(runID, s)
	}
}

func (o *Orchestrator) notify(ctx context.Context, userID, runID, msg string, log zerolog.Logger) {
	if err := o.opts.Sink.EditStatus(ctx, userID, runID, msg); err != nil {
		log.Warn().Err(err).Str("status", msg).Msg("status notice not delivered")
	}
}

// recordUsage runs on a context detached from the run's deadline so a
// timed-out run is still accounted.
func (o *Orchestrator) recordUsage(ctx context.Context, sess session.Session, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := o.opts.Ledger.RecordUsage(ctx, sess.UserID, sess.Media.DurationSeconds); err != nil {
		log.Error().Err(err).Int("duration", sess.Media.DurationSeconds).Msg("usage not recorded")
	}
}

func (o *Orchestrator) finish(ctx context.Context, userID string, res *Result, log zerolog.Logger) {
	if res.Err == nil {
		res.State = Delivered
		o.trace(res.RunID, Delivered)
		metrics.PipelineRunsTotal.WithLabelValues(string(Delivered)).Inc()
		log.Info().Int("chunks", res.Chunks).Str("state", string(Delivered)).Msg("run delivered")
		return
	}

	res.State = Failed
	kind := Kind(res.Err)
	o.trace(res.RunID, Failed)
	metrics.PipelineRunsTotal.WithLabelValues(string(Failed)).Inc()
	metrics.PipelineFailuresTotal.WithLabelValues(kind).Inc()
	log.Error().Err(res.Err).Str("error_kind", kind).Str("state", string(Failed)).Msg("run failed")

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	o.notify(ctx, userID, res.RunID, FailureMessage, log)
}
