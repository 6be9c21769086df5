package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zulandar/jobscout/internal/broker"
	"github.com/zulandar/jobscout/internal/config"
	"github.com/zulandar/jobscout/internal/db"
	"github.com/zulandar/jobscout/internal/llm"
	"github.com/zulandar/jobscout/internal/models"
	"github.com/zulandar/jobscout/internal/profile"
	"github.com/zulandar/jobscout/internal/search"
	"github.com/zulandar/jobscout/internal/session"
	"github.com/zulandar/jobscout/internal/stream"
	"github.com/zulandar/jobscout/internal/worker"
)

// --- fakes ---

type fakeSearcher struct {
	name string
	fail bool

	mu      sync.Mutex
	queries []string
}

func (f *fakeSearcher) Name() string { return f.name }

func (f *fakeSearcher) Search(_ context.Context, q string, _ int) ([]search.Record, error) {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	f.mu.Unlock()
	if f.fail {
		return nil, fmt.Errorf("%w: %s down", search.ErrUnavailable, f.name)
	}
	slug := strings.ReplaceAll(q, " ", "-")
	return []search.Record{
		{Title: "Backend Engineer at Acme", URL: "https://jobs.example/acme/" + slug, Content: "Remote. Go and Kubernetes."},
		{Title: "Go Developer - Initech", URL: "https://jobs.example/initech/" + slug, Content: "Onsite in Austin. Go."},
	}, nil
}

func (f *fakeSearcher) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

type fakeFetcher struct {
	mu   sync.Mutex
	urls []string
}

func (f *fakeFetcher) Name() string { return "firecrawl" }

func (f *fakeFetcher) Fetch(_ context.Context, url string) (*search.Page, error) {
	f.mu.Lock()
	f.urls = append(f.urls, url)
	f.mu.Unlock()
	return &search.Page{URL: url, Text: "Senior Go role. Pays $150k."}, nil
}

func (f *fakeFetcher) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.urls)
}

type fakeExtractor struct{ text string }

func (x fakeExtractor) Extract(_ context.Context, _ string, _ []byte) (string, error) {
	return x.text, nil
}

func scriptedLLM() *llm.Mock {
	return &llm.Mock{Respond: func(req llm.Request) (string, error) {
		switch {
		case strings.Contains(req.System, "structured profile"):
			return `{"skills":["Go","Kubernetes"],"experience_years":5,"titles":["Backend Engineer"],"summary":"Backend engineer."}`, nil
		case strings.Contains(req.System, "details from a job posting"):
			return `{"salary":"$150k","description":"Build services.","requirements":["Go"],"benefits":["Remote"]}`, nil
		case strings.Contains(req.System, "rank job postings"):
			return "no ranking today", nil
		default:
			return "Happy to help with your job search.", nil
		}
	}}
}

// --- harness ---

type harness struct {
	store    *session.Store
	broker   *broker.Broker
	profiles *profile.Store
	primary  *fakeSearcher
	fetcher  *fakeFetcher
	llm      *llm.Mock
	engine   *Engine
}

func newHarness(t *testing.T, storeOpts session.StoreOpts) *harness {
	t.Helper()
	gdb, err := db.Connect(config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(gdb))

	storeOpts.DB = gdb
	store, err := session.NewStore(storeOpts)
	require.NoError(t, err)
	b, err := broker.New(broker.Opts{DB: gdb})
	require.NoError(t, err)
	profiles, err := profile.NewStore(gdb)
	require.NoError(t, err)

	h := &harness{
		store:    store,
		broker:   b,
		profiles: profiles,
		primary:  &fakeSearcher{name: "tavily"},
		fetcher:  &fakeFetcher{},
		llm:      scriptedLLM(),
	}
	h.engine = h.newEngine(t)
	return h
}

// newEngine builds an engine over the same durable state, as after a
// restart.
func (h *harness) newEngine(t *testing.T) *Engine {
	t.Helper()
	qm, err := worker.NewQuickMatch(worker.QuickMatchOpts{Primary: h.primary, LLM: h.llm})
	require.NoError(t, err)
	det, err := worker.NewDetail(h.fetcher, nil, h.llm)
	require.NoError(t, err)
	e, err := New(Opts{
		Store:    h.store,
		Broker:   h.broker,
		Profiles: h.profiles,
		Workers: []worker.Worker{
			worker.NewProfileWorker(h.llm, 4000),
			qm,
			det,
			worker.NewChat(h.llm),
		},
		Extractor:    fakeExtractor{text: "Jane Doe\nSkills: Go, Kubernetes\nExperience: 5 years"},
		StreamBuffer: 256,
	})
	require.NoError(t, err)
	return e
}

// seedProfile creates an owned session whose owner has a profile.
func (h *harness) seedProfile(t *testing.T, sessionID string) string {
	t.Helper()
	ctx := context.Background()
	owner, err := h.profiles.CreateOwner(ctx, "")
	require.NoError(t, err)
	require.NoError(t, h.profiles.Save(ctx, owner.ID, worker.Profile{Skills: []string{"Go"}, ExperienceYears: 5}, ""))
	_, err = h.store.Create(ctx, sessionID)
	require.NoError(t, err)
	require.NoError(t, h.store.SetOwner(ctx, sessionID, owner.ID))
	return owner.ID
}

func collect(t *testing.T, r *Run) []stream.Event {
	t.Helper()
	evs := stream.Drain(r.Stream)
	r.Wait()
	require.NotEmpty(t, evs, "run emitted no events")
	return evs
}

func eventNames(evs []stream.Event) []string {
	out := make([]string, len(evs))
	for i, ev := range evs {
		out[i] = ev.Name
	}
	return out
}

func countEvents(evs []stream.Event, name string) int {
	n := 0
	for _, ev := range evs {
		if ev.Name == name {
			n++
		}
	}
	return n
}

func agentEvents(evs []stream.Event, kind string) int {
	n := 0
	for _, ev := range evs {
		if d, ok := ev.Data.(stream.AgentData); ok && d.Type == kind {
			n++
		}
	}
	return n
}

func doneTurn(t *testing.T, evs []stream.Event) TurnView {
	t.Helper()
	last := evs[len(evs)-1]
	require.Equal(t, stream.EventDone, last.Name, "events: %v", eventNames(evs))
	done, ok := last.Data.(stream.DoneData)
	require.True(t, ok)
	turn, ok := done.Turn.(TurnView)
	require.True(t, ok)
	return turn
}

func payloadCandidates(t *testing.T, turn TurnView) []worker.Candidate {
	t.Helper()
	var p candidatesPayload
	require.NoError(t, json.Unmarshal(turn.Payload, &p))
	return p.Candidates
}

// searchAndPark runs a search turn up to its confirmation.
func (h *harness) searchAndPark(t *testing.T, sessionID, owner string) []stream.Event {
	t.Helper()
	r, err := h.engine.HandleTurn(context.Background(), TurnRequest{SessionID: sessionID, UserID: owner, Text: "find me backend jobs"})
	require.NoError(t, err)
	evs := collect(t, r)
	require.Equal(t, stream.EventConfirmation, evs[len(evs)-1].Name, "events: %v", eventNames(evs))
	require.Equal(t, AwaitingApproval, r.State())
	return evs
}

// --- scenarios ---

func TestScenarioA_SearchApproveDone(t *testing.T) {
	h := newHarness(t, session.StoreOpts{})
	ctx := context.Background()
	owner := h.seedProfile(t, "s1")

	evs := h.searchAndPark(t, "s1", owner)
	assert.Contains(t, eventNames(evs), stream.EventStatus)
	assert.Equal(t, 1, countEvents(evs, stream.EventConfirmation))
	assert.Zero(t, h.primary.calls(), "no search before approval")
	conf := evs[len(evs)-1].Data.(stream.ConfirmationData)
	assert.True(t, conf.RequiresConfirmation)
	assert.Equal(t, "s1", conf.SessionID)

	holder, err := h.store.LockHolder(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, holder, "no lock while awaiting approval")

	r, err := h.engine.Resume(ctx, ResumeRequest{SessionID: "s1", UserID: owner, Approved: true})
	require.NoError(t, err)
	evs = collect(t, r)

	queries := worker.BuildQueries(worker.Profile{Skills: []string{"Go"}, ExperienceYears: 5}, worker.DefaultPreferences(), "")
	require.GreaterOrEqual(t, len(queries), 3)
	assert.Zero(t, countEvents(evs, stream.EventConfirmation), "later gated calls are auto-approved")
	assert.Equal(t, 1, agentEvents(evs, "approved"))
	assert.Equal(t, len(queries)-1, agentEvents(evs, "auto_approve"))
	assert.Equal(t, len(queries), h.primary.calls())

	turn := doneTurn(t, evs)
	assert.Equal(t, models.KindResultSelection, turn.Kind)
	cands := payloadCandidates(t, turn)
	assert.Len(t, cands, 2, "duplicates across queries collapse")
	assert.LessOrEqual(t, len(cands), 15)
	assert.Equal(t, Completed, r.State())

	_, err = h.store.LoadCheckpoint(ctx, mustSession(t, h, "s1").ThreadID)
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestScenarioB_RejectCancels(t *testing.T) {
	h := newHarness(t, session.StoreOpts{})
	ctx := context.Background()
	owner := h.seedProfile(t, "s1")
	h.searchAndPark(t, "s1", owner)

	r, err := h.engine.Resume(ctx, ResumeRequest{SessionID: "s1", UserID: owner, Approved: false})
	require.NoError(t, err)
	evs := collect(t, r)

	assert.Equal(t, []string{stream.EventStatus, stream.EventDone}, eventNames(evs))
	turn := doneTurn(t, evs)
	assert.Contains(t, turn.Content, "cancelled")
	assert.Zero(t, h.primary.calls(), "no external lookup after rejection")

	turns, err := h.store.History(ctx, "s1")
	require.NoError(t, err)
	for _, tr := range turns {
		assert.NotEqual(t, models.KindApprovalRequest, tr.Kind)
	}
	var rewritten bool
	for _, tr := range turns {
		if tr.Content == "Search cancelled." && tr.Kind == models.KindText {
			rewritten = true
		}
	}
	assert.True(t, rewritten, "approval turn rewritten as plain text")
}

func TestScenarioC_DetailsMergeOntoSelected(t *testing.T) {
	h := newHarness(t, session.StoreOpts{})
	ctx := context.Background()
	owner := h.seedProfile(t, "s1")

	prior := make([]worker.Candidate, 15)
	for i := range prior {
		prior[i] = worker.Candidate{
			Title:   fmt.Sprintf("Role %d", i),
			Org:     fmt.Sprintf("Org %d", i),
			Score:   90 - i,
			Locator: fmt.Sprintf("https://jobs.example/%d", i),
		}
	}
	_, err := h.store.AppendTurn(ctx, "s1", session.NewTurn{
		Role: models.RoleAssistant, Kind: models.KindResultSelection,
		Content: "results", Payload: candidatesPayload{Candidates: prior},
	})
	require.NoError(t, err)

	picked := []string{prior[3].Locator, prior[7].Locator, "https://unknown.example"}
	r, err := h.engine.Details(ctx, DetailsRequest{SessionID: "s1", UserID: owner, Locators: picked})
	require.NoError(t, err)
	evs := collect(t, r)
	conf := evs[len(evs)-1].Data.(stream.ConfirmationData)
	assert.Contains(t, conf.Message, "details for 2 selected jobs")

	r, err = h.engine.Resume(ctx, ResumeRequest{SessionID: "s1", UserID: owner, Approved: true})
	require.NoError(t, err)
	evs = collect(t, r)
	turn := doneTurn(t, evs)
	assert.Equal(t, models.KindEnrichedResults, turn.Kind)
	assert.Equal(t, 2, h.fetcher.calls())

	got := payloadCandidates(t, turn)
	require.Len(t, got, 15)
	for i, c := range got {
		if i == 3 || i == 7 {
			require.NotNil(t, c.Details, "entry %d", i)
			assert.Equal(t, "$150k", c.Details.Salary)
			assert.Equal(t, prior[i].Locator, c.Details.ApplyLocator)
			continue
		}
		assert.Equal(t, prior[i], c, "entry %d unchanged", i)
	}
}

func TestScenarioD_ResumeAfterRestart(t *testing.T) {
	h := newHarness(t, session.StoreOpts{})
	ctx := context.Background()
	owner := h.seedProfile(t, "s1")
	h.searchAndPark(t, "s1", owner)

	restarted := h.newEngine(t)
	assert.Zero(t, restarted.Cache().Len())

	r, err := restarted.Resume(ctx, ResumeRequest{SessionID: "s1", UserID: owner, Approved: true})
	require.NoError(t, err)
	evs := collect(t, r)
	turn := doneTurn(t, evs)
	assert.Equal(t, models.KindResultSelection, turn.Kind)
	assert.NotEmpty(t, payloadCandidates(t, turn))
}

// --- invariants ---

func TestResume_ConcurrentSingleWinner(t *testing.T) {
	h := newHarness(t, session.StoreOpts{})
	owner := h.seedProfile(t, "s1")
	h.searchAndPark(t, "s1", owner)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		runs []*Run
		errs []error
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := h.engine.Resume(context.Background(), ResumeRequest{SessionID: "s1", UserID: owner, Approved: true})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			runs = append(runs, r)
		}()
	}
	wg.Wait()

	require.Len(t, runs, 1)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrNoPendingApproval)
	doneTurn(t, collect(t, runs[0]))
}

func TestResume_NothingPending(t *testing.T) {
	h := newHarness(t, session.StoreOpts{})
	owner := h.seedProfile(t, "s1")
	_, err := h.engine.Resume(context.Background(), ResumeRequest{SessionID: "s1", UserID: owner, Approved: true})
	assert.ErrorIs(t, err, ErrNoPendingApproval)

	_, err = h.engine.Resume(context.Background(), ResumeRequest{SessionID: "missing", Approved: true})
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestHandleTurn_ConcurrentRunRejected(t *testing.T) {
	h := newHarness(t, session.StoreOpts{})
	ctx := context.Background()
	_, err := h.store.Create(ctx, "s1")
	require.NoError(t, err)
	require.NoError(t, h.store.AcquireLock(ctx, "s1", "other-run"))

	_, err = h.engine.HandleTurn(ctx, TurnRequest{SessionID: "s1", Text: "hello"})
	assert.ErrorIs(t, err, ErrConcurrentRun)

	err = h.engine.DeleteSession(ctx, "s1", "")
	assert.ErrorIs(t, err, ErrConcurrentRun)
}

func TestNewTurnSupersedesPendingApproval(t *testing.T) {
	h := newHarness(t, session.StoreOpts{})
	ctx := context.Background()
	owner := h.seedProfile(t, "s1")
	h.searchAndPark(t, "s1", owner)

	r, err := h.engine.HandleTurn(ctx, TurnRequest{SessionID: "s1", UserID: owner, Text: "hello there"})
	require.NoError(t, err)
	doneTurn(t, collect(t, r))

	_, err = h.broker.Pending(ctx, "s1")
	assert.ErrorIs(t, err, broker.ErrNoPendingApproval)
	_, err = h.store.LoadCheckpoint(ctx, mustSession(t, h, "s1").ThreadID)
	assert.ErrorIs(t, err, session.ErrNotFound)

	turns, err := h.store.History(ctx, "s1")
	require.NoError(t, err)
	var found bool
	for _, tr := range turns {
		if tr.Content == "Superseded by a newer request." {
			found = true
		}
	}
	assert.True(t, found)

	_, err = h.engine.Resume(ctx, ResumeRequest{SessionID: "s1", UserID: owner, Approved: true})
	assert.ErrorIs(t, err, ErrNoPendingApproval)
}

func TestReconstructionIsIdempotent(t *testing.T) {
	h := newHarness(t, session.StoreOpts{})
	ctx := context.Background()
	owner := h.seedProfile(t, "s1")
	h.searchAndPark(t, "s1", owner)
	r, err := h.engine.Resume(ctx, ResumeRequest{SessionID: "s1", UserID: owner, Approved: true})
	require.NoError(t, err)
	collect(t, r)

	first, err := h.engine.execContext(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, h.engine.Cache().Delete("s1"))
	second, err := h.engine.execContext(ctx, "s1")
	require.NoError(t, err)

	assert.NotSame(t, first, second)
	assert.Equal(t, first.OwnerID, second.OwnerID)
	assert.Equal(t, first.ThreadID, second.ThreadID)
	assert.Equal(t, first.Profile, second.Profile)
	assert.Equal(t, first.Preferences, second.Preferences)
	assert.Equal(t, first.Candidates, second.Candidates)
	assert.Len(t, second.Candidates, 2)
}

func TestAccessDenied(t *testing.T) {
	h := newHarness(t, session.StoreOpts{})
	ctx := context.Background()
	h.seedProfile(t, "s1")

	_, err := h.engine.HandleTurn(ctx, TurnRequest{SessionID: "s1", UserID: "intruder", Text: "hello"})
	assert.ErrorIs(t, err, ErrAccessDenied)
	_, err = h.engine.History(ctx, "s1", "")
	assert.ErrorIs(t, err, ErrAccessDenied)
	err = h.engine.DeleteSession(ctx, "s1", "intruder")
	assert.ErrorIs(t, err, ErrAccessDenied)
	_, err = h.engine.Sessions(ctx, "")
	assert.ErrorIs(t, err, ErrAccessDenied)
}

func TestMaxTurnsFailsRun(t *testing.T) {
	h := newHarness(t, session.StoreOpts{MaxTurnsPerSession: 2})
	ctx := context.Background()

	r, err := h.engine.HandleTurn(ctx, TurnRequest{SessionID: "s1", Text: "hello"})
	require.NoError(t, err)
	doneTurn(t, collect(t, r))

	r, err = h.engine.HandleTurn(ctx, TurnRequest{SessionID: "s1", Text: "hello again"})
	require.NoError(t, err)
	evs := collect(t, r)
	last := evs[len(evs)-1]
	require.Equal(t, stream.EventError, last.Name)
	assert.Contains(t, last.Data.(stream.ErrorData).Message, "turn limit")
	assert.Equal(t, Failed, r.State())

	// The failed run still ends with exactly one assistant turn.
	turns, err := h.store.History(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, turns, 3)
	assert.Equal(t, models.RoleAssistant, turns[2].Role)
	assert.Contains(t, turns[2].Content, "turn limit")
}

// --- other flows ---

func TestSearchWithoutProfileOnboards(t *testing.T) {
	h := newHarness(t, session.StoreOpts{})
	r, err := h.engine.HandleTurn(context.Background(), TurnRequest{Text: "find me backend jobs"})
	require.NoError(t, err)
	turn := doneTurn(t, collect(t, r))
	assert.Equal(t, models.KindOnboardingPrompt, turn.Kind)
	assert.Equal(t, Completed, r.State())
	assert.Zero(t, h.primary.calls())
}

func TestChatTurnsReuseCachedContext(t *testing.T) {
	h := newHarness(t, session.StoreOpts{})
	ctx := context.Background()
	owner := h.seedProfile(t, "s1")

	chat := func() *ExecutionContext {
		t.Helper()
		r, err := h.engine.HandleTurn(ctx, TurnRequest{SessionID: "s1", UserID: owner, Text: "hello there"})
		require.NoError(t, err)
		doneTurn(t, collect(t, r))
		ec, ok := h.engine.Cache().Get("s1")
		require.True(t, ok, "context should stay cached after a chat turn")
		return ec
	}
	first := chat()
	second := chat()
	assert.Same(t, first, second, "second chat turn rebuilt the context")
	require.NotNil(t, second.Profile)

	// A search saves preferences, so the cached context is dropped.
	h.searchAndPark(t, "s1", owner)
	_, ok := h.engine.Cache().Get("s1")
	assert.False(t, ok)

	r, err := h.engine.Resume(ctx, ResumeRequest{SessionID: "s1", UserID: owner, Approved: true})
	require.NoError(t, err)
	doneTurn(t, collect(t, r))
	_, ok = h.engine.Cache().Get("s1")
	assert.False(t, ok, "new results must not be served from a stale context")

	third := chat()
	assert.NotEmpty(t, third.Candidates)
}

func TestResume_LockHeldKeepsApprovalPending(t *testing.T) {
	h := newHarness(t, session.StoreOpts{})
	ctx := context.Background()
	owner := h.seedProfile(t, "s1")
	h.searchAndPark(t, "s1", owner)

	require.NoError(t, h.store.AcquireLock(ctx, "s1", "other-run"))
	_, err := h.engine.Resume(ctx, ResumeRequest{SessionID: "s1", UserID: owner, Approved: true})
	require.ErrorIs(t, err, ErrConcurrentRun)

	_, err = h.broker.Pending(ctx, "s1")
	require.NoError(t, err, "approval should still be pending")
	_, err = h.store.LoadCheckpoint(ctx, mustSession(t, h, "s1").ThreadID)
	require.NoError(t, err)

	require.NoError(t, h.store.ReleaseLock(ctx, "s1", "other-run"))
	r, err := h.engine.Resume(ctx, ResumeRequest{SessionID: "s1", UserID: owner, Approved: true})
	require.NoError(t, err)
	turn := doneTurn(t, collect(t, r))
	assert.Equal(t, models.KindResultSelection, turn.Kind)
}

func TestChatStreamsDeltas(t *testing.T) {
	h := newHarness(t, session.StoreOpts{})
	r, err := h.engine.HandleTurn(context.Background(), TurnRequest{SessionID: "s1", Text: "hello there"})
	require.NoError(t, err)
	evs := collect(t, r)
	assert.Greater(t, agentEvents(evs, "delta"), 1)
	turn := doneTurn(t, evs)
	assert.Equal(t, models.KindText, turn.Kind)
	assert.Equal(t, "Happy to help with your job search.", turn.Content)

	for i := 1; i < len(evs); i++ {
		assert.Greater(t, evs[i].Seq, evs[i-1].Seq)
	}
}

func TestUploadCreatesOwnerAndProfile(t *testing.T) {
	h := newHarness(t, session.StoreOpts{})
	ctx := context.Background()

	r, err := h.engine.Upload(ctx, UploadRequest{SessionID: "s1", UserID: "user-1", Filename: "cv.pdf", Data: []byte("%PDF-1.4 fake")})
	require.NoError(t, err)
	evs := collect(t, r)
	turn := doneTurn(t, evs)
	assert.Equal(t, models.KindProfileSummary, turn.Kind)

	done := evs[len(evs)-1].Data.(stream.DoneData)
	require.NotNil(t, done.OwnerID)
	assert.Equal(t, "user-1", *done.OwnerID)

	sess := mustSession(t, h, "s1")
	require.NotNil(t, sess.OwnerID)
	assert.Equal(t, "user-1", *sess.OwnerID)
	p, err := h.profiles.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Contains(t, p.Skills, "Go")

	// A new session for the same user starts attached to the profile.
	r, err = h.engine.HandleTurn(ctx, TurnRequest{SessionID: "s2", UserID: "user-1", Text: "find me backend jobs"})
	require.NoError(t, err)
	evs = collect(t, r)
	assert.Equal(t, stream.EventConfirmation, evs[len(evs)-1].Name)
}

func TestUploadAnonymousMintsOwner(t *testing.T) {
	h := newHarness(t, session.StoreOpts{})
	r, err := h.engine.Upload(context.Background(), UploadRequest{SessionID: "s1", Filename: "cv.pdf", Data: []byte("%PDF-1.4 fake")})
	require.NoError(t, err)
	evs := collect(t, r)
	doneTurn(t, evs)
	done := evs[len(evs)-1].Data.(stream.DoneData)
	require.NotNil(t, done.OwnerID)
	assert.NotEmpty(t, *done.OwnerID)
}

func TestUploadRejectsNonPDF(t *testing.T) {
	h := newHarness(t, session.StoreOpts{})
	ctx := context.Background()

	r, err := h.engine.Upload(ctx, UploadRequest{SessionID: "s1", Filename: "cv.docx", Data: []byte("PK..")})
	require.NoError(t, err)
	turn := doneTurn(t, collect(t, r))
	assert.Equal(t, "Please upload a PDF file.", turn.Content)
	assert.Nil(t, mustSession(t, h, "s1").OwnerID)

	_, err = h.engine.Upload(ctx, UploadRequest{SessionID: "s1", Filename: "cv.pdf", Data: make([]byte, 6<<20)})
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestRefineUpdatesPreferences(t *testing.T) {
	h := newHarness(t, session.StoreOpts{})
	ctx := context.Background()
	owner := h.seedProfile(t, "s1")
	h.searchAndPark(t, "s1", owner)
	r, err := h.engine.Resume(ctx, ResumeRequest{SessionID: "s1", UserID: owner, Approved: true})
	require.NoError(t, err)
	collect(t, r)

	r, err = h.engine.HandleTurn(ctx, TurnRequest{SessionID: "s1", UserID: owner, Text: "only remote ones please"})
	require.NoError(t, err)
	evs := collect(t, r)
	require.Equal(t, stream.EventConfirmation, evs[len(evs)-1].Name)

	prefs, err := h.profiles.Preferences(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, worker.LocationRemote, prefs.LocationType)

	r, err = h.engine.Resume(ctx, ResumeRequest{SessionID: "s1", UserID: owner, Approved: true})
	require.NoError(t, err)
	cands := payloadCandidates(t, doneTurn(t, collect(t, r)))
	require.Len(t, cands, 1)
	assert.Equal(t, "Acme", cands[0].Org)
}

func TestSearchProvidersDownFails(t *testing.T) {
	h := newHarness(t, session.StoreOpts{})
	ctx := context.Background()
	h.primary.fail = true
	owner := h.seedProfile(t, "s1")
	h.searchAndPark(t, "s1", owner)

	r, err := h.engine.Resume(ctx, ResumeRequest{SessionID: "s1", UserID: owner, Approved: true})
	require.NoError(t, err)
	evs := collect(t, r)
	last := evs[len(evs)-1]
	require.Equal(t, stream.EventError, last.Name)
	assert.Contains(t, last.Data.(stream.ErrorData).Message, "unavailable")
	assert.Equal(t, Failed, r.State())

	// The session stays usable.
	r, err = h.engine.HandleTurn(ctx, TurnRequest{SessionID: "s1", UserID: owner, Text: "hello there"})
	require.NoError(t, err)
	doneTurn(t, collect(t, r))
}

func TestCorruptCheckpointFlagsReset(t *testing.T) {
	h := newHarness(t, session.StoreOpts{})
	ctx := context.Background()
	owner := h.seedProfile(t, "s1")
	h.searchAndPark(t, "s1", owner)

	sess := mustSession(t, h, "s1")
	require.NoError(t, h.store.SaveCheckpoint(ctx, &models.Checkpoint{
		ThreadID: sess.ThreadID, SessionID: "s1", RunID: "r", Version: checkpointVersion, Data: "{not json",
	}))

	r, err := h.engine.Resume(ctx, ResumeRequest{SessionID: "s1", UserID: owner, Approved: true})
	require.NoError(t, err)
	evs := collect(t, r)
	assert.Equal(t, stream.EventError, evs[len(evs)-1].Name)
	assert.True(t, mustSession(t, h, "s1").NeedsReset)

	_, err = h.engine.HandleTurn(ctx, TurnRequest{SessionID: "s1", UserID: owner, Text: "hello"})
	assert.ErrorIs(t, err, ErrCheckpointCorrupt)

	require.NoError(t, h.engine.ResetSession(ctx, "s1", owner))
	assert.False(t, mustSession(t, h, "s1").NeedsReset)
	r, err = h.engine.HandleTurn(ctx, TurnRequest{SessionID: "s1", UserID: owner, Text: "hello"})
	require.NoError(t, err)
	doneTurn(t, collect(t, r))
}

func TestHistoryAndDelete(t *testing.T) {
	h := newHarness(t, session.StoreOpts{})
	ctx := context.Background()
	owner := h.seedProfile(t, "s1")
	h.searchAndPark(t, "s1", owner)

	view, err := h.engine.History(ctx, "s1", owner)
	require.NoError(t, err)
	require.NotNil(t, view.Pending)
	assert.Contains(t, view.Pending.Message, "Approve to proceed?")
	require.Len(t, view.Turns, 2)
	assert.Equal(t, models.KindApprovalRequest, view.Turns[1].Kind)

	list, err := h.engine.Sessions(ctx, owner)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "find me backend jobs", list[0].Title)

	require.NoError(t, h.engine.DeleteSession(ctx, "s1", owner))
	_, err = h.engine.History(ctx, "s1", owner)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestEmptyTurnRejected(t *testing.T) {
	h := newHarness(t, session.StoreOpts{})
	_, err := h.engine.HandleTurn(context.Background(), TurnRequest{Text: "   "})
	assert.ErrorIs(t, err, ErrWorkerInputInvalid)
	_, err = h.engine.Details(context.Background(), DetailsRequest{SessionID: "s1"})
	assert.ErrorIs(t, err, ErrWorkerInputInvalid)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Opts{})
	assert.Error(t, err)
}

// --- state machine and codec ---

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{Idle, Routing, true},
		{Routing, Executing, true},
		{Routing, Completed, true},
		{Executing, AwaitingApproval, true},
		{AwaitingApproval, Executing, true},
		{AwaitingApproval, Completed, true},
		{Executing, Failed, true},
		{Completed, Idle, true},
		{Idle, Executing, false},
		{Completed, Failed, false},
		{AwaitingApproval, Routing, false},
		{Failed, Completed, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
	assert.ErrorIs(t, checkTransition(Idle, Completed), ErrInvalidTransition)
}

func TestCheckpointCodec(t *testing.T) {
	task := worker.NewTask("quickmatch", worker.Input{Profile: &worker.Profile{Skills: []string{"Go"}}})
	task.Steps = []worker.Step{{Key: "search:tavily:go", Output: json.RawMessage(`[]`)}}
	in := &Suspended{RunID: "r1", Worker: "quickmatch", Action: worker.Action{Kind: "search", Provider: "tavily", Target: "go"}, Task: task}

	cp, err := encodeCheckpoint("t1", "s1", in)
	require.NoError(t, err)
	assert.Equal(t, checkpointVersion, cp.Version)

	out, err := decodeCheckpoint(cp)
	require.NoError(t, err)
	assert.Equal(t, in.Action, out.Action)
	assert.Equal(t, in.Task.Steps, out.Task.Steps)
	assert.Equal(t, []string{"Go"}, out.Task.Input.Profile.Skills)

	bad := *cp
	bad.Version = 99
	_, err = decodeCheckpoint(&bad)
	assert.ErrorIs(t, err, ErrCheckpointCorrupt)

	bad = *cp
	bad.Data = `{"run_id":"r1","worker":"quickmatch"}`
	_, err = decodeCheckpoint(&bad)
	assert.ErrorIs(t, err, ErrCheckpointCorrupt)
}

func TestUserMessage(t *testing.T) {
	assert.Contains(t, userMessage(fmt.Errorf("%w: all down", ErrExternalUnavailable)), "unavailable")
	assert.Contains(t, userMessage(fmt.Errorf("%w: no jobs selected", ErrWorkerInputInvalid)), "no jobs selected")
	assert.Equal(t, "Something went wrong. Please try again.", userMessage(errors.New("boom")))
}

func mustSession(t *testing.T, h *harness, id string) *models.ChatSession {
	t.Helper()
	sess, err := h.store.Get(context.Background(), id)
	require.NoError(t, err)
	return sess
}
