package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/zulandar/jobscout/internal/broker"
	"github.com/zulandar/jobscout/internal/document"
	"github.com/zulandar/jobscout/internal/llm"
	"github.com/zulandar/jobscout/internal/models"
	"github.com/zulandar/jobscout/internal/router"
	"github.com/zulandar/jobscout/internal/session"
	"github.com/zulandar/jobscout/internal/stream"
	"github.com/zulandar/jobscout/internal/worker"
)

const (
	onboardingMessage = "Upload your CV as a PDF and I'll find jobs that match your profile."
	cancelledMessage  = "Search cancelled. Let me know if you'd like to try something else."
)

// Run is one pass of the state machine for a session. It holds the
// session lock from creation until it reaches a rest point.
type Run struct {
	ID        string
	SessionID string
	ThreadID  string
	Stream    *stream.Stream

	userID  string
	done    chan struct{}
	changed bool // the run wrote owner, profile, preferences or results

	mu    sync.Mutex
	state State
}

func newRun(id string, sess *models.ChatSession, userID string, from State, buffer int) *Run {
	return &Run{
		ID:        id,
		SessionID: sess.ID,
		ThreadID:  sess.ThreadID,
		Stream:    stream.New(buffer),
		userID:    userID,
		done:      make(chan struct{}),
		state:     from,
	}
}

// Wait blocks until the run has reached a rest point and emitted its
// terminal event.
func (r *Run) Wait() { <-r.done }

// Done is closed when the run ends.
func (r *Run) Done() <-chan struct{} { return r.done }

// State returns the run's current state.
func (r *Run) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Run) advance(to State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := checkTransition(r.state, to); err != nil {
		return fmt.Errorf("engine: run %s: %w", r.ID, err)
	}
	r.state = to
	return nil
}

// start runs body on its own goroutine, detached from the caller's
// cancellation. body returns the terminal emission, which is sent only
// after the session lock is released so that a client reacting to it
// never races the lock.
func (e *Engine) start(parent context.Context, r *Run, body func(ctx context.Context) func()) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer close(r.done)

		ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
		hb := StartHeartbeat(ctx, e.store, r.SessionID, r.ID, e.heartbeat)
		go func() {
			select {
			case err := <-hb:
				log.Printf("engine: run %s: %v", r.ID, err)
			case <-ctx.Done():
			}
		}()

		emit := e.guard(ctx, r, body)
		cancel()
		e.release(r)
		emit()
	}()
}

func (e *Engine) guard(ctx context.Context, r *Run, body func(ctx context.Context) func()) (emit func()) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("engine: run %s panicked: %v\n%s", r.ID, rec, debug.Stack())
			emit = e.fail(ctx, r, fmt.Errorf("engine: run %s panicked: %v", r.ID, rec))
		}
	}()
	return body(ctx)
}

// --- run bodies ---

func (e *Engine) runTurn(ctx context.Context, r *Run, text string) func() {
	if err := r.advance(Routing); err != nil {
		return e.fail(ctx, r, err)
	}
	if _, err := e.store.AppendTurn(ctx, r.SessionID, session.NewTurn{Role: models.RoleUser, Content: text}); err != nil {
		return e.fail(ctx, r, err)
	}
	ec, err := e.execContext(ctx, r.SessionID)
	if err != nil {
		return e.fail(ctx, r, err)
	}

	d := router.Classify(text, router.Context{
		HasProfile: ec.Profile != nil,
		HasResults: len(ec.Candidates) > 0,
	})
	if !d.Matched {
		log.Printf("engine: session %s: %v, answering as chat", r.SessionID, ErrClassificationAmbiguous)
	}
	r.Stream.Event("intent", string(d.Intent))

	var in worker.Input
	switch d.Intent {
	case router.Search, router.Refine:
		if ec.Profile == nil {
			return e.complete(ctx, r, session.NewTurn{
				Role:    models.RoleAssistant,
				Kind:    models.KindOnboardingPrompt,
				Content: onboardingMessage,
			}, ec.OwnerID)
		}
		prefs := worker.RefinePreferences(ec.Preferences, text)
		if ec.OwnerID != "" {
			r.changed = true
			if err := e.profiles.SavePreferences(ctx, ec.OwnerID, prefs); err != nil {
				log.Printf("engine: session %s: save preferences: %v", r.SessionID, err)
			}
		}
		in = worker.Input{Profile: ec.Profile, Preferences: &prefs}
		if d.Intent == router.Refine {
			in.Text = text
		}
	default:
		hist, err := e.history(ctx, r.SessionID)
		if err != nil {
			return e.fail(ctx, r, err)
		}
		in = worker.Input{Text: text, Profile: ec.Profile, History: hist}
	}
	return e.dispatch(ctx, r, ec, router.Select(d.Intent), in)
}

func (e *Engine) runUpload(ctx context.Context, r *Run, req UploadRequest) func() {
	if err := r.advance(Routing); err != nil {
		return e.fail(ctx, r, err)
	}
	name := filepath.Base(req.Filename)
	if name == "." || name == "/" {
		name = "document"
	}
	if _, err := e.store.AppendTurn(ctx, r.SessionID, session.NewTurn{Role: models.RoleUser, Content: "Uploaded " + name}); err != nil {
		return e.fail(ctx, r, err)
	}
	ec, err := e.execContext(ctx, r.SessionID)
	if err != nil {
		return e.fail(ctx, r, err)
	}
	if !document.IsPDF(req.Filename, req.Data) {
		return e.complete(ctx, r, session.NewTurn{Role: models.RoleAssistant, Content: "Please upload a PDF file."}, ec.OwnerID)
	}

	r.Stream.Event("tool_start", "Reading "+name+"...")
	text, err := e.extractor.Extract(ctx, req.Filename, req.Data)
	if err != nil {
		return e.fail(ctx, r, err)
	}
	d := router.Classify("", router.Context{HasDocument: true, HasProfile: ec.Profile != nil})
	return e.dispatch(ctx, r, ec, router.Select(d.Intent), worker.Input{Document: text})
}

func (e *Engine) runDetails(ctx context.Context, r *Run, locators []string) func() {
	if err := r.advance(Routing); err != nil {
		return e.fail(ctx, r, err)
	}
	msg := fmt.Sprintf("Show details for %d selected jobs.", len(locators))
	if _, err := e.store.AppendTurn(ctx, r.SessionID, session.NewTurn{Role: models.RoleUser, Content: msg}); err != nil {
		return e.fail(ctx, r, err)
	}
	ec, err := e.execContext(ctx, r.SessionID)
	if err != nil {
		return e.fail(ctx, r, err)
	}
	if len(ec.Candidates) == 0 {
		return e.fail(ctx, r, fmt.Errorf("%w: there are no search results to pick from", ErrWorkerInputInvalid))
	}
	in := worker.Input{Locators: locators, Candidates: ec.Candidates, Profile: ec.Profile}
	return e.dispatch(ctx, r, ec, router.WorkerDetail, in)
}

func (e *Engine) runResume(ctx context.Context, r *Run, approved bool) func() {
	cp, err := e.store.LoadCheckpoint(ctx, r.ThreadID)
	if errors.Is(err, session.ErrNotFound) {
		err = fmt.Errorf("%w: no saved run for thread %s", ErrCheckpointCorrupt, r.ThreadID)
	}
	if err != nil {
		return e.fail(ctx, r, err)
	}
	susp, err := decodeCheckpoint(cp)
	if err != nil {
		return e.fail(ctx, r, err)
	}
	ec, err := e.execContext(ctx, r.SessionID)
	if err != nil {
		return e.fail(ctx, r, err)
	}

	if !approved {
		if err := e.store.ResolveApprovalTurn(ctx, r.SessionID, "Search cancelled."); err != nil && !errors.Is(err, session.ErrNotFound) {
			return e.fail(ctx, r, err)
		}
		log.Printf("engine: session %s: %s rejected", r.SessionID, susp.Action.Key())
		r.Stream.Status("cancelled", "Search cancelled.")
		return e.complete(ctx, r, session.NewTurn{Role: models.RoleAssistant, Content: cancelledMessage}, ec.OwnerID)
	}

	if err := e.store.ResolveApprovalTurn(ctx, r.SessionID, "Approved."); err != nil && !errors.Is(err, session.ErrNotFound) {
		return e.fail(ctx, r, err)
	}
	// The grant covers the rest of the run, including after a restart.
	susp.Granted = true
	susp.RunID = r.ID
	if cp, err := encodeCheckpoint(r.ThreadID, r.SessionID, susp); err != nil {
		return e.fail(ctx, r, err)
	} else if err := e.store.SaveCheckpoint(ctx, cp); err != nil {
		return e.fail(ctx, r, err)
	}

	stage, msg := approvedStatus(susp.Worker)
	r.Stream.Status(stage, msg)
	task := susp.Task
	task.Rewind()
	return e.execute(ctx, r, ec, task, e.gate(r, true))
}

// --- execution ---

func (e *Engine) dispatch(ctx context.Context, r *Run, ec *ExecutionContext, name string, in worker.Input) func() {
	w, ok := e.workers[name]
	if !ok {
		return e.fail(ctx, r, fmt.Errorf("engine: no worker registered as %q", name))
	}
	if !w.Accepts(in) {
		return e.fail(ctx, r, fmt.Errorf("%w: %s has nothing to work with", ErrWorkerInputInvalid, name))
	}
	return e.execute(ctx, r, ec, worker.NewTask(name, in), e.gate(r, false))
}

func (e *Engine) execute(ctx context.Context, r *Run, ec *ExecutionContext, task *worker.Task, gate *broker.Gate) func() {
	w, ok := e.workers[task.Worker]
	if !ok {
		return e.fail(ctx, r, fmt.Errorf("engine: no worker registered as %q", task.Worker))
	}
	if err := r.advance(Executing); err != nil {
		return e.fail(ctx, r, err)
	}

	res, err := w.Run(ctx, task, gate, r.Stream)
	if sig, ok := worker.AsInterrupt(err); ok {
		return e.suspend(ctx, r, task, sig)
	}
	if err != nil {
		return e.fail(ctx, r, err)
	}
	if gate.AutoApproved() > 0 {
		log.Printf("engine: run %s: %d gated calls auto-approved", r.ID, gate.AutoApproved())
	}
	return e.finish(ctx, r, ec, task, res)
}

// gate returns the run's Approver. Calls that proceed without asking are
// reported as agent events; the first is the call the user approved.
func (e *Engine) gate(r *Run, granted bool) *broker.Gate {
	g := broker.NewGate(granted)
	var n atomic.Int32
	g.OnAuto = func(a worker.Action) {
		kind := "auto_approve"
		if n.Add(1) == 1 {
			kind = "approved"
		}
		r.Stream.Event(kind, a.Label)
	}
	return g
}

// --- rest points ---

// suspend parks the run: checkpoint first, then the approval request and
// its turn, so a visible request always has a run to resume.
func (e *Engine) suspend(ctx context.Context, r *Run, task *worker.Task, sig *worker.InterruptSignal) func() {
	if err := r.advance(AwaitingApproval); err != nil {
		return e.fail(ctx, r, err)
	}
	cp, err := encodeCheckpoint(r.ThreadID, r.SessionID, &Suspended{
		RunID:  r.ID,
		Worker: task.Worker,
		Action: sig.Action,
		Task:   task,
	})
	if err != nil {
		return e.fail(ctx, r, err)
	}
	if err := e.store.SaveCheckpoint(ctx, cp); err != nil {
		return e.fail(ctx, r, err)
	}

	msg := confirmationMessage(task)
	if _, err := e.broker.Request(ctx, r.SessionID, r.ID, msg); err != nil {
		return e.fail(ctx, r, err)
	}
	if _, err := e.store.AppendTurn(ctx, r.SessionID, session.NewTurn{
		Role:    models.RoleAssistant,
		Kind:    models.KindApprovalRequest,
		Content: msg,
		Payload: approvalPayload{Worker: task.Worker, Action: sig.Action},
	}); err != nil {
		return e.fail(ctx, r, err)
	}

	log.Printf("engine: run %s parked awaiting approval for %s", r.ID, sig.Action.Key())
	return func() { r.Stream.Confirmation(r.SessionID, msg) }
}

// finish persists a worker's result. A profile result attaches the session
// to an owner first.
func (e *Engine) finish(ctx context.Context, r *Run, ec *ExecutionContext, task *worker.Task, res *worker.Result) func() {
	nt := session.NewTurn{Role: models.RoleAssistant, Kind: res.Kind, Content: res.Content}
	owner := ec.OwnerID

	switch {
	case res.Profile != nil:
		r.changed = true
		id, err := e.adopt(ctx, r, ec)
		if err != nil {
			return e.fail(ctx, r, err)
		}
		owner = id
		if err := e.profiles.Save(ctx, owner, *res.Profile, task.Input.Document); err != nil {
			return e.fail(ctx, r, err)
		}
		prefs, err := e.profiles.Preferences(ctx, owner)
		if err != nil {
			return e.fail(ctx, r, err)
		}
		if err := e.profiles.SavePreferences(ctx, owner, prefs); err != nil {
			return e.fail(ctx, r, err)
		}
		nt.Payload = profilePayload{OwnerID: owner, Profile: *res.Profile}
	case res.Kind == models.KindResultSelection || res.Kind == models.KindEnrichedResults:
		r.changed = true
		cands := res.Candidates
		if cands == nil {
			cands = []worker.Candidate{}
		}
		nt.Payload = candidatesPayload{Candidates: cands}
	}
	return e.complete(ctx, r, nt, owner)
}

// adopt returns the session's owner, attaching one if the session has
// none: the caller's user id when given, otherwise a new identity.
func (e *Engine) adopt(ctx context.Context, r *Run, ec *ExecutionContext) (string, error) {
	if ec.OwnerID != "" {
		return ec.OwnerID, nil
	}
	var (
		o   *models.Owner
		err error
	)
	if r.userID != "" {
		o, err = e.profiles.EnsureOwner(ctx, r.userID)
	} else {
		o, err = e.profiles.CreateOwner(ctx, "")
	}
	if err != nil {
		return "", err
	}
	if err := e.store.SetOwner(ctx, r.SessionID, o.ID); err != nil {
		return "", err
	}
	log.Printf("engine: session %s owned by %s", r.SessionID, o.ID)
	return o.ID, nil
}

func (e *Engine) complete(ctx context.Context, r *Run, nt session.NewTurn, ownerID string) func() {
	turn, err := e.store.AppendTurn(ctx, r.SessionID, nt)
	if err != nil {
		return e.fail(ctx, r, err)
	}
	if err := e.store.ClearCheckpoint(ctx, r.ThreadID); err != nil {
		log.Printf("engine: run %s: %v", r.ID, err)
	}
	e.evict(r)
	if err := r.advance(Completed); err != nil {
		log.Printf("engine: %v", err)
	}

	done := stream.DoneData{SessionID: r.SessionID, Turn: viewTurn(turn)}
	if ownerID != "" {
		done.OwnerID = &ownerID
	}
	return func() { r.Stream.Done(done) }
}

// fail records a failed run. The session stays usable unless its saved
// run was unreadable, in which case it is flagged for reset and the
// checkpoint is kept for inspection.
func (e *Engine) fail(ctx context.Context, r *Run, err error) func() {
	log.Printf("engine: run %s session %s failed: %v", r.ID, r.SessionID, err)
	msg := userMessage(err)

	if _, aerr := e.store.AppendTurn(ctx, r.SessionID, session.NewTurn{Role: models.RoleAssistant, Content: msg}); aerr != nil {
		log.Printf("engine: run %s: record failure: %v", r.ID, aerr)
	}
	if errors.Is(err, ErrCheckpointCorrupt) {
		if merr := e.store.MarkNeedsReset(ctx, r.SessionID, true); merr != nil {
			log.Printf("engine: run %s: %v", r.ID, merr)
		}
	} else {
		if _, serr := e.broker.Supersede(ctx, r.SessionID); serr != nil {
			log.Printf("engine: run %s: %v", r.ID, serr)
		}
		if cerr := e.store.ClearCheckpoint(ctx, r.ThreadID); cerr != nil {
			log.Printf("engine: run %s: %v", r.ID, cerr)
		}
	}
	e.evict(r)
	if aerr := r.advance(Failed); aerr != nil {
		log.Printf("engine: %v", aerr)
	}
	return func() { r.Stream.Error(msg) }
}

// --- helpers ---

// evict drops the session's cached context when the run changed what it
// is built from. Runs that only add conversation turns keep it.
func (e *Engine) evict(r *Run) {
	if r.changed {
		e.cache.Delete(r.SessionID)
	}
}

// history returns the turns before the current one as completion messages.
func (e *Engine) history(ctx context.Context, sessionID string) ([]llm.Message, error) {
	turns, err := e.store.Recent(ctx, sessionID, e.historyTurns+1)
	if err != nil {
		return nil, err
	}
	if len(turns) > 0 {
		turns = turns[:len(turns)-1]
	}
	msgs := make([]llm.Message, 0, len(turns))
	for _, t := range turns {
		role := "assistant"
		if t.Role == models.RoleUser {
			role = "user"
		}
		msgs = append(msgs, llm.Message{Role: role, Content: t.Content})
	}
	return msgs, nil
}

func confirmationMessage(t *worker.Task) string {
	if t.Worker == router.WorkerDetail {
		return fmt.Sprintf("I'd like to fetch details for %d selected jobs from their posting pages. Approve to proceed?", selectedCount(t.Input))
	}
	return "I'd like to search for jobs matching your profile. This will call external search APIs. Approve to proceed?"
}

// selectedCount counts distinct locators present in the candidate list.
func selectedCount(in worker.Input) int {
	known := make(map[string]bool, len(in.Candidates))
	for _, c := range in.Candidates {
		known[c.Locator] = true
	}
	n := 0
	seen := make(map[string]bool, len(in.Locators))
	for _, l := range in.Locators {
		if known[l] && !seen[l] {
			seen[l] = true
			n++
		}
	}
	return n
}

func approvedStatus(workerName string) (stage, message string) {
	if workerName == router.WorkerDetail {
		return "scraping", "Approved! Fetching job details..."
	}
	return "searching", "Approved! Searching for jobs..."
}
