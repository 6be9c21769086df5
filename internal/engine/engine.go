// Package engine runs conversation turns: it routes each turn to a worker,
// drives the run through the orchestration state machine, parks runs that
// need a human decision, and streams progress to the caller.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zulandar/jobscout/internal/broker"
	"github.com/zulandar/jobscout/internal/cache"
	"github.com/zulandar/jobscout/internal/document"
	"github.com/zulandar/jobscout/internal/models"
	"github.com/zulandar/jobscout/internal/profile"
	"github.com/zulandar/jobscout/internal/session"
	"github.com/zulandar/jobscout/internal/worker"
)

// DefaultHistoryTurns is how many earlier turns the chat worker sees.
const DefaultHistoryTurns = 10

const supersededNote = "Superseded by a newer request."

// Engine orchestrates runs. One run per session executes at a time.
type Engine struct {
	store     *session.Store
	broker    *broker.Broker
	profiles  *profile.Store
	workers   map[string]worker.Worker
	extractor document.Extractor
	cache     *cache.Cache[*ExecutionContext]

	maxUpload    int64
	historyTurns int
	heartbeat    time.Duration
	streamBuffer int

	wg sync.WaitGroup
}

// Opts holds parameters for creating an Engine.
type Opts struct {
	Store    *session.Store  // required
	Broker   *broker.Broker  // required
	Profiles *profile.Store  // required
	Workers  []worker.Worker // keyed by Name(); profile, quickmatch, detail, chat

	Extractor      document.Extractor              // defaults to document.PDF
	Cache          *cache.Cache[*ExecutionContext] // defaults to cache.New with default options
	MaxUploadBytes int64                           // defaults to document.MaxUploadBytes
	HistoryTurns   int                             // defaults to DefaultHistoryTurns
	Heartbeat      time.Duration                   // defaults to a third of the lock timeout
	StreamBuffer   int                             // event buffer per run
}

// New creates an Engine.
func New(opts Opts) (*Engine, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("engine: store is required")
	}
	if opts.Broker == nil {
		return nil, fmt.Errorf("engine: broker is required")
	}
	if opts.Profiles == nil {
		return nil, fmt.Errorf("engine: profile store is required")
	}
	workers := make(map[string]worker.Worker, len(opts.Workers))
	for _, w := range opts.Workers {
		if _, dup := workers[w.Name()]; dup {
			return nil, fmt.Errorf("engine: duplicate worker %q", w.Name())
		}
		workers[w.Name()] = w
	}

	e := &Engine{
		store:        opts.Store,
		broker:       opts.Broker,
		profiles:     opts.Profiles,
		workers:      workers,
		extractor:    opts.Extractor,
		cache:        opts.Cache,
		maxUpload:    opts.MaxUploadBytes,
		historyTurns: opts.HistoryTurns,
		heartbeat:    opts.Heartbeat,
		streamBuffer: opts.StreamBuffer,
	}
	if e.maxUpload <= 0 {
		e.maxUpload = document.MaxUploadBytes
	}
	if e.extractor == nil {
		e.extractor = document.PDF{MaxBytes: e.maxUpload}
	}
	if e.cache == nil {
		e.cache = cache.New(cache.Options[*ExecutionContext]{})
	}
	if e.historyTurns <= 0 {
		e.historyTurns = DefaultHistoryTurns
	}
	if e.heartbeat <= 0 {
		e.heartbeat = opts.Store.LockTimeout() / 3
	}
	return e, nil
}

// Cache exposes the execution context cache.
func (e *Engine) Cache() *cache.Cache[*ExecutionContext] { return e.cache }

// Wait blocks until every started run has reached a rest point.
func (e *Engine) Wait() { e.wg.Wait() }

// TurnRequest is a user message.
type TurnRequest struct {
	SessionID string // empty starts a new session
	UserID    string // optional caller identity
	Text      string
}

// UploadRequest is a CV upload.
type UploadRequest struct {
	SessionID string
	UserID    string
	Filename  string
	Data      []byte
}

// ResumeRequest answers a pending approval.
type ResumeRequest struct {
	SessionID string
	UserID    string
	Approved  bool
}

// DetailsRequest asks for details of selected results.
type DetailsRequest struct {
	SessionID string
	UserID    string
	Locators  []string
}

// HandleTurn starts a run for a user message. The returned Run streams the
// run's events; the run itself continues even if the caller goes away.
func (e *Engine) HandleTurn(ctx context.Context, req TurnRequest) (*Run, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, fmt.Errorf("%w: empty message", ErrWorkerInputInvalid)
	}
	sess, err := e.open(ctx, req.SessionID, req.UserID)
	if err != nil {
		return nil, err
	}
	r, err := e.begin(ctx, sess, req.UserID, Idle)
	if err != nil {
		return nil, err
	}
	e.start(ctx, r, func(ctx context.Context) func() {
		return e.runTurn(ctx, r, text)
	})
	return r, nil
}

// Upload starts a run that extracts a profile from an uploaded CV.
func (e *Engine) Upload(ctx context.Context, req UploadRequest) (*Run, error) {
	if int64(len(req.Data)) > e.maxUpload {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrTooLarge, len(req.Data), e.maxUpload)
	}
	sess, err := e.open(ctx, req.SessionID, req.UserID)
	if err != nil {
		return nil, err
	}
	r, err := e.begin(ctx, sess, req.UserID, Idle)
	if err != nil {
		return nil, err
	}
	e.start(ctx, r, func(ctx context.Context) func() {
		return e.runUpload(ctx, r, req)
	})
	return r, nil
}

// Resume answers the session's pending approval and continues the parked
// run. Of two concurrent resumes exactly one succeeds; the other gets
// ErrNoPendingApproval.
func (e *Engine) Resume(ctx context.Context, req ResumeRequest) (*Run, error) {
	sess, err := e.store.Get(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	if err := checkAccess(sess, req.UserID); err != nil {
		return nil, err
	}
	in, err := e.broker.Resolve(ctx, sess.ID, req.Approved)
	if err != nil {
		return nil, err
	}
	r, err := e.lock(ctx, sess, req.UserID, AwaitingApproval)
	if err != nil {
		// The decision stands only if its run starts.
		if _, rerr := e.broker.Reopen(context.WithoutCancel(ctx), in.ID); rerr != nil {
			log.Printf("engine: resume %s: reopen approval: %v", sess.ID, rerr)
		}
		return nil, err
	}
	e.start(ctx, r, func(ctx context.Context) func() {
		return e.runResume(ctx, r, req.Approved)
	})
	return r, nil
}

// Details starts a run that enriches selected results from the latest
// result set.
func (e *Engine) Details(ctx context.Context, req DetailsRequest) (*Run, error) {
	locs := make([]string, 0, len(req.Locators))
	for _, l := range req.Locators {
		if l = strings.TrimSpace(l); l != "" {
			locs = append(locs, l)
		}
	}
	if len(locs) == 0 {
		return nil, fmt.Errorf("%w: no jobs selected", ErrWorkerInputInvalid)
	}
	sess, err := e.open(ctx, req.SessionID, req.UserID)
	if err != nil {
		return nil, err
	}
	r, err := e.begin(ctx, sess, req.UserID, Idle)
	if err != nil {
		return nil, err
	}
	e.start(ctx, r, func(ctx context.Context) func() {
		return e.runDetails(ctx, r, locs)
	})
	return r, nil
}

// Sessions lists the user's sessions, most recent first.
func (e *Engine) Sessions(ctx context.Context, userID string) ([]session.Summary, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: a user id is required to list sessions", ErrAccessDenied)
	}
	return e.store.List(ctx, userID)
}

// History returns a session's turns and any pending approval.
func (e *Engine) History(ctx context.Context, sessionID, userID string) (*SessionView, error) {
	sess, err := e.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := checkAccess(sess, userID); err != nil {
		return nil, err
	}
	turns, err := e.store.History(ctx, sess.ID)
	if err != nil {
		return nil, err
	}
	view := &SessionView{
		SessionID:  sess.ID,
		OwnerID:    sess.OwnerID,
		NeedsReset: sess.NeedsReset,
		Turns:      viewTurns(turns),
	}
	in, err := e.broker.Pending(ctx, sess.ID)
	switch {
	case err == nil:
		view.Pending = &PendingView{Message: in.Action, RequestedAt: in.RequestedAt}
	case !errors.Is(err, ErrNoPendingApproval):
		return nil, err
	}
	return view, nil
}

// DeleteSession removes a session and everything keyed by it. A session
// with an executing run cannot be deleted.
func (e *Engine) DeleteSession(ctx context.Context, sessionID, userID string) error {
	sess, err := e.store.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := checkAccess(sess, userID); err != nil {
		return err
	}
	holder, err := e.store.LockHolder(ctx, sess.ID)
	if err != nil {
		return err
	}
	if holder != "" {
		return fmt.Errorf("%w: run %s", ErrConcurrentRun, holder)
	}
	if err := e.store.Delete(ctx, sess.ID); err != nil {
		return err
	}
	e.cache.Delete(sess.ID)
	return nil
}

// ResetSession discards a session's parked run and clears the reset flag
// set after a corrupt checkpoint. Turns are kept.
func (e *Engine) ResetSession(ctx context.Context, sessionID, userID string) error {
	sess, err := e.store.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := checkAccess(sess, userID); err != nil {
		return err
	}
	holder, err := e.store.LockHolder(ctx, sess.ID)
	if err != nil {
		return err
	}
	if holder != "" {
		return fmt.Errorf("%w: run %s", ErrConcurrentRun, holder)
	}
	if err := e.discardPending(ctx, sess, "Cancelled by a session reset."); err != nil {
		return err
	}
	if err := e.store.MarkNeedsReset(ctx, sess.ID, false); err != nil {
		return err
	}
	e.cache.Delete(sess.ID)
	log.Printf("engine: session %s reset", sess.ID)
	return nil
}

// open loads or creates the session a new run targets.
func (e *Engine) open(ctx context.Context, sessionID, userID string) (*models.ChatSession, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	sess, created, err := e.store.GetOrCreate(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := checkAccess(sess, userID); err != nil {
		return nil, err
	}
	if created && userID != "" {
		// A returning user starts new sessions already attached to their
		// profile.
		if _, err := e.profiles.Get(ctx, userID); err == nil {
			if err := e.store.SetOwner(ctx, sess.ID, userID); err != nil {
				return nil, err
			}
			sess.OwnerID = &userID
		} else if !errors.Is(err, profile.ErrNotFound) {
			return nil, err
		}
	}
	if sess.NeedsReset {
		return nil, fmt.Errorf("%w: session %s needs reset", ErrCheckpointCorrupt, sess.ID)
	}
	return sess, nil
}

// begin takes the session lock for a fresh run and discards any approval
// the new turn supersedes.
func (e *Engine) begin(ctx context.Context, sess *models.ChatSession, userID string, from State) (*Run, error) {
	r, err := e.lock(ctx, sess, userID, from)
	if err != nil {
		return nil, err
	}
	if err := e.discardPending(ctx, sess, supersededNote); err != nil {
		e.release(r)
		return nil, err
	}
	return r, nil
}

func (e *Engine) lock(ctx context.Context, sess *models.ChatSession, userID string, from State) (*Run, error) {
	r := newRun(uuid.NewString(), sess, userID, from, e.streamBuffer)
	if err := e.store.AcquireLock(ctx, sess.ID, r.ID); err != nil {
		if errors.Is(err, session.ErrLockHeld) {
			return nil, fmt.Errorf("%w: %v", ErrConcurrentRun, err)
		}
		return nil, err
	}
	return r, nil
}

func (e *Engine) release(r *Run) {
	if err := e.store.ReleaseLock(context.Background(), r.SessionID, r.ID); err != nil {
		log.Printf("engine: release lock %s run %s: %v", r.SessionID, r.ID, err)
	}
}

// discardPending drops the session's parked run, if any. A live approval
// is superseded and a stale one expires; either way its turn is rewritten.
func (e *Engine) discardPending(ctx context.Context, sess *models.ChatSession, note string) error {
	// Pending marks a request older than the approval TTL as expired.
	if _, err := e.broker.Pending(ctx, sess.ID); err != nil && !errors.Is(err, ErrNoPendingApproval) {
		return err
	}
	superseded, err := e.broker.Supersede(ctx, sess.ID)
	if err != nil {
		return err
	}
	if superseded {
		log.Printf("engine: session %s: pending approval superseded", sess.ID)
	} else if note == supersededNote {
		note = "This request expired."
	}
	if err := e.store.ResolveApprovalTurn(ctx, sess.ID, note); err != nil && !errors.Is(err, session.ErrNotFound) {
		return err
	}
	return e.store.ClearCheckpoint(ctx, sess.ThreadID)
}

// checkAccess enforces ownership: unowned sessions are open, owned ones
// require the owner's id.
func checkAccess(sess *models.ChatSession, userID string) error {
	if sess.OwnerID == nil || *sess.OwnerID == "" {
		return nil
	}
	if userID != *sess.OwnerID {
		return fmt.Errorf("%w: session %s", ErrAccessDenied, sess.ID)
	}
	return nil
}
