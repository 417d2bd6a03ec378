// Package pipeline runs a submitted clip from quota check to delivered text.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/snarg/voicenote/internal/chunk"
	"github.com/snarg/voicenote/internal/delivery"
	"github.com/snarg/voicenote/internal/media"
	"github.com/snarg/voicenote/internal/metrics"
	"github.com/snarg/voicenote/internal/quota"
	"github.com/snarg/voicenote/internal/rewrite"
	"github.com/snarg/voicenote/internal/session"
	"github.com/snarg/voicenote/internal/transcribe"
)

// User-facing notices. Failures of any kind surface as FailureMessage.
const (
	StatusProcessing   = "Processing your clip..."
	StatusTranscribing = "Transcribing..."
	StatusRewriting    = "Rewriting..."
	FailureMessage     = "Failed to process audio and rewrite transcript."
)

// Fetcher materializes stored clips locally and deletes them from storage.
type Fetcher interface {
	Fetch(ctx context.Context, ref media.Ref) (media.Asset, error)
	Discard(ctx context.Context, ref media.Ref) error
}

// Rewriter polishes a transcript.
type Rewriter interface {
	Rewrite(ctx context.Context, t transcribe.Transcript, req rewrite.Request) (string, error)
}

// UsageLedger is the part of ledger.Ledger the orchestrator writes to.
type UsageLedger interface {
	EnsureUser(ctx context.Context, userID string) error
	RecordUsage(ctx context.Context, userID string, durationSeconds int) error
}

// Options wires an Orchestrator to its collaborators.
type Options struct {
	Sessions    *session.Store
	Guard       quota.Guard
	Fetcher     Fetcher
	Normalizer  media.Normalizer
	Transcriber transcribe.Transcriber
	Rewriter    Rewriter
	Ledger      UsageLedger
	Sink        delivery.Sink

	IsPrivileged   func(userID string) bool
	HasAuthorVoice func(userID string) bool

	ChunkMaxLength int
	RunTimeout     time.Duration
	Workers        int
	QueueSize      int

	// Trace, when set, observes every state a run enters.
	Trace func(runID string, s State)

	Log zerolog.Logger
}

// Orchestrator owns the request lifecycle: Submit gates a clip and parks
// it in the session store, Choose hands it to a worker, Run executes it.
type Orchestrator struct {
	opts Options
	pool *workerPool
	log  zerolog.Logger
}

func New(opts Options) *Orchestrator {
	if opts.IsPrivileged == nil {
		opts.IsPrivileged = func(string) bool { return false }
	}
	if opts.HasAuthorVoice == nil {
		opts.HasAuthorVoice = func(string) bool { return false }
	}
	if opts.ChunkMaxLength <= 0 {
		opts.ChunkMaxLength = chunk.DefaultMaxLength
	}
	o := &Orchestrator{
		opts: opts,
		log:  opts.Log.With().Str("component", "pipeline").Logger(),
	}
	o.pool = newWorkerPool(opts.Workers, opts.QueueSize, o.Run, o.log)
	return o
}

// Submission is the outcome of Submit.
type Submission struct {
	State         State
	Ref           media.Ref
	EstimatedCost float64
}

// Submit registers the user, applies the quota and parks an accepted clip
// until a mode is chosen. The orchestrator takes ownership of ref: it is
// deleted from storage on rejection, error, or when displaced by a newer
// clip. A rejection returns an error wrapping quota.ErrQuotaExceeded.
func (o *Orchestrator) Submit(ctx context.Context, userID string, ref media.Ref) (Submission, error) {
	log := o.log.With().Str("user_id", userID).Str("media_key", ref.Key).Logger()

	if err := o.opts.Ledger.EnsureUser(ctx, userID); err != nil {
		o.discard(ctx, ref, log)
		return Submission{}, fmt.Errorf("ensure user: %w", err)
	}

	d := o.opts.Guard.Evaluate(userID, ref.DurationSeconds, o.opts.IsPrivileged(userID))
	if !d.Accepted {
		o.discard(ctx, ref, log)
		metrics.QuotaRejectionsTotal.Inc()
		metrics.PipelineRunsTotal.WithLabelValues(string(Rejected)).Inc()
		log.Info().
			Int("duration", ref.DurationSeconds).
			Float64("estimated_cost", d.EstimatedCost).
			Str("state", string(Rejected)).
			Msg("clip rejected by quota")
		msg := fmt.Sprintf("Clip is too long to process; estimated cost $%.2f.", d.EstimatedCost)
		if err := o.opts.Sink.EditStatus(ctx, userID, "", msg); err != nil {
			log.Warn().Err(err).Msg("rejection notice not delivered")
		}
		return Submission{State: Rejected, EstimatedCost: d.EstimatedCost}, d.Err()
	}

	prev, replaced := o.opts.Sessions.Put(userID, ref)
	if replaced && prev.Media.Key != ref.Key {
		log.Info().Str("displaced_key", prev.Media.Key).Msg("pending clip replaced")
		o.discard(ctx, prev.Media, log)
	}
	log.Debug().Int("duration", ref.DurationSeconds).Str("state", string(AwaitingChoice)).Msg("clip awaiting choice")
	return Submission{State: AwaitingChoice, Ref: ref}, nil
}

// Choice is a user's answer to the mode prompt.
type Choice struct {
	UserID      string
	Mode        session.Mode
	Style       string // empty selects the default for the user
	Instruction string
}

// Job is one queued run.
type Job struct {
	RunID   string
	Session session.Session
	Request rewrite.Request
}

// Choose claims the user's pending session and queues a run for it. It
// returns session.ErrNotFound when nothing is pending and ErrQueueFull when
// the queue cannot take the job.
func (o *Orchestrator) Choose(ctx context.Context, c Choice) (string, error) {
	sess, err := o.opts.Sessions.Claim(c.UserID, c.Mode)
	if err != nil {
		return "", err
	}

	job := Job{
		RunID:   uuid.NewString(),
		Session: sess,
		Request: o.resolveRequest(c),
	}
	if o.pool.enqueue(job) {
		return job.RunID, nil
	}

	sess.Mode = session.ModeUnset
	if !o.opts.Sessions.Restore(sess) {
		// A newer clip arrived meanwhile and displaced this one.
		o.discard(ctx, sess.Media, o.log)
	}
	return "", ErrQueueFull
}

// resolveRequest picks the rewrite style. The author-voice template is only
// available to users holding that role, and is their default.
func (o *Orchestrator) resolveRequest(c Choice) rewrite.Request {
	authorVoice := o.opts.HasAuthorVoice(c.UserID)
	style, _ := rewrite.ParseStyle(c.Style)
	switch {
	case c.Style == "" && authorVoice:
		style = rewrite.StyleAuthorVoice
	case style == rewrite.StyleAuthorVoice && !authorVoice:
		style = rewrite.StyleKeyPoints
	}
	return rewrite.Request{Style: style, Instruction: c.Instruction}
}

// Evict releases the media of a session that expired awaiting a choice.
func (o *Orchestrator) Evict(sess session.Session) {
	metrics.SessionsExpiredTotal.Inc()
	o.discard(context.Background(), sess.Media, o.log.With().Str("user_id", sess.UserID).Logger())
}

func (o *Orchestrator) discard(ctx context.Context, ref media.Ref, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := o.opts.Fetcher.Discard(ctx, ref); err != nil {
		log.Warn().Err(err).Str("media_key", ref.Key).Msg("failed to delete stored clip")
	}
}

// Start launches the worker pool.
func (o *Orchestrator) Start() { o.pool.Start() }

// Stop drains queued runs and waits for in-flight runs to finish.
func (o *Orchestrator) Stop() { o.pool.Stop() }

// Stats returns current queue statistics.
func (o *Orchestrator) Stats() QueueStats { return o.pool.Stats() }

func (o *Orchestrator) PendingSessions() int { return o.opts.Sessions.Len() }
func (o *Orchestrator) QueueDepth() int      { return o.pool.Stats().Pending }
func (o *Orchestrator) InFlight() int        { return o.pool.Stats().InFlight }
