package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/snarg/voicenote/internal/media"
	"github.com/snarg/voicenote/internal/quota"
	"github.com/snarg/voicenote/internal/rewrite"
	"github.com/snarg/voicenote/internal/session"
	"github.com/snarg/voicenote/internal/transcribe"
)

type fakeFetcher struct {
	mu        sync.Mutex
	dir       string
	err       error
	fetched   []string
	discarded []string
}

func (f *fakeFetcher) Fetch(_ context.Context, ref media.Ref) (media.Asset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, ref.Key)
	if f.err != nil {
		return media.Asset{}, f.err
	}
	p := filepath.Join(f.dir, fmt.Sprintf("%d-%s", len(f.fetched), filepath.Base(ref.Key)))
	if err := os.WriteFile(p, []byte("media"), 0o644); err != nil {
		return media.Asset{}, err
	}
	return media.Asset{LocalPath: p, Kind: ref.Kind, DurationSeconds: ref.DurationSeconds}, nil
}

func (f *fakeFetcher) Discard(_ context.Context, ref media.Ref) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discarded = append(f.discarded, ref.Key)
	return nil
}

func (f *fakeFetcher) counts() (fetched, discarded int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fetched), len(f.discarded)
}

// fakeNormalizer extracts video into a sibling .m4a and removes the source.
type fakeNormalizer struct {
	err error
}

func (n *fakeNormalizer) Normalize(_ context.Context, a media.Asset) (media.Asset, error) {
	if n.err != nil {
		return media.Asset{}, n.err
	}
	if a.Kind != media.KindVideo {
		return a, nil
	}
	out := a.LocalPath + ".m4a"
	if err := os.WriteFile(out, []byte("audio"), 0o644); err != nil {
		return media.Asset{}, err
	}
	os.Remove(a.LocalPath)
	return media.Asset{LocalPath: out, Kind: media.KindAudio, DurationSeconds: a.DurationSeconds}, nil
}

type fakeTranscriber struct {
	mu       sync.Mutex
	text     string
	err      error
	paths    []string
	sawAudio bool
}

func (f *fakeTranscriber) Name() string { return "fake" }

func (f *fakeTranscriber) Transcribe(_ context.Context, path string) (transcribe.Transcript, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths = append(f.paths, path)
	if _, err := os.Stat(path); err == nil {
		f.sawAudio = true
	}
	if f.err != nil {
		return transcribe.Transcript{}, f.err
	}
	return transcribe.Transcript{Text: f.text}, nil
}

type fakeRewriter struct {
	mu    sync.Mutex
	out   string
	err   error
	calls []rewrite.Request
}

func (f *fakeRewriter) Rewrite(_ context.Context, _ transcribe.Transcript, req rewrite.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	return f.out, f.err
}

type usageCall struct {
	userID   string
	duration int
}

type fakeLedger struct {
	mu       sync.Mutex
	ensured  []string
	recorded []usageCall
	err      error
}

func (l *fakeLedger) EnsureUser(_ context.Context, userID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ensured = append(l.ensured, userID)
	return l.err
}

func (l *fakeLedger) RecordUsage(_ context.Context, userID string, d int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recorded = append(l.recorded, usageCall{userID, d})
	return nil
}

func (l *fakeLedger) records() []usageCall {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]usageCall(nil), l.recorded...)
}

type fakeSink struct {
	mu       sync.Mutex
	texts    []string
	statuses []string
	textErr  error
}

func (s *fakeSink) SendText(_ context.Context, _, _, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.textErr != nil {
		return s.textErr
	}
	s.texts = append(s.texts, text)
	return nil
}

func (s *fakeSink) EditStatus(_ context.Context, _, _, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, msg)
	return nil
}

func (s *fakeSink) snapshot() (texts, statuses []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...), append([]string(nil), s.statuses...)
}

type harness struct {
	o           *Orchestrator
	sessions    *session.Store
	fetcher     *fakeFetcher
	normalizer  *fakeNormalizer
	transcriber *fakeTranscriber
	rewriter    *fakeRewriter
	ledger      *fakeLedger
	sink        *fakeSink
	workDir     string

	mu     sync.Mutex
	states []State
}

func newHarness(t *testing.T, mods ...func(*Options)) *harness {
	t.Helper()
	h := &harness{
		sessions:    session.NewStore(),
		workDir:     t.TempDir(),
		normalizer:  &fakeNormalizer{},
		transcriber: &fakeTranscriber{text: "Hello there. How are you?"},
		rewriter:    &fakeRewriter{out: "Greeting."},
		ledger:      &fakeLedger{},
		sink:        &fakeSink{},
	}
	h.fetcher = &fakeFetcher{dir: h.workDir}
	opts := Options{
		Sessions:    h.sessions,
		Guard:       quota.NewGuard(60, 0.0001),
		Fetcher:     h.fetcher,
		Normalizer:  h.normalizer,
		Transcriber: h.transcriber,
		Rewriter:    h.rewriter,
		Ledger:      h.ledger,
		Sink:        h.sink,
		Workers:     2,
		QueueSize:   8,
		Trace: func(_ string, s State) {
			h.mu.Lock()
			h.states = append(h.states, s)
			h.mu.Unlock()
		},
		Log: zerolog.Nop(),
	}
	for _, m := range mods {
		m(&opts)
	}
	h.o = New(opts)
	return h
}

func (h *harness) trace() []State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]State(nil), h.states...)
}

// claim submits a clip and claims it as a Job without going through the
// worker pool.
func (h *harness) claim(t *testing.T, userID string, ref media.Ref, c Choice) Job {
	t.Helper()
	if _, err := h.o.Submit(context.Background(), userID, ref); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	c.UserID = userID
	sess, err := h.sessions.Claim(userID, c.Mode)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	return Job{RunID: "run-" + userID, Session: sess, Request: h.o.resolveRequest(c)}
}

func (h *harness) workFiles(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(h.workDir)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}
