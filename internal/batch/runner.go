// Package batch runs unattended job searches for owners with a stored
// profile and records the ranked results.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/zulandar/jobscout/internal/broker"
	"github.com/zulandar/jobscout/internal/models"
	"github.com/zulandar/jobscout/internal/notify"
	"github.com/zulandar/jobscout/internal/profile"
	"github.com/zulandar/jobscout/internal/worker"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// Run triggers.
const (
	TriggerCron   = "cron"
	TriggerManual = "manual"
)

// Run statuses.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// ErrNotFound is returned when a search run does not exist.
var ErrNotFound = errors.New("batch: search run not found")

// Runner executes search runs.
type Runner struct {
	db          *gorm.DB
	profiles    *profile.Store
	search      worker.Worker
	notifier    notify.Notifier
	concurrency int
	now         func() time.Time
}

// RunnerOpts holds parameters for creating a Runner.
type RunnerOpts struct {
	DB       *gorm.DB
	Profiles *profile.Store
	// Search is the worker that finds and ranks postings.
	Search worker.Worker
	// Notifier receives a digest after each completed run. Optional.
	Notifier    notify.Notifier
	Concurrency int // default 2
}

// NewRunner creates a Runner.
func NewRunner(opts RunnerOpts) (*Runner, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("batch: db is required")
	}
	if opts.Profiles == nil {
		return nil, fmt.Errorf("batch: profiles is required")
	}
	if opts.Search == nil {
		return nil, fmt.Errorf("batch: search worker is required")
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 2
	}
	return &Runner{
		db:          opts.DB,
		profiles:    opts.Profiles,
		search:      opts.Search,
		notifier:    opts.Notifier,
		concurrency: opts.Concurrency,
		now:         time.Now,
	}, nil
}

// RunOwner performs one search for ownerID. The run record is returned
// even when the search fails; its Status and Error describe the outcome.
func (r *Runner) RunOwner(ctx context.Context, ownerID, trigger string) (*models.SearchRun, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("batch: owner id is required")
	}
	if trigger == "" {
		trigger = TriggerManual
	}
	run := &models.SearchRun{OwnerID: ownerID, Trigger: trigger, Status: StatusPending}
	if err := r.db.WithContext(ctx).Create(run).Error; err != nil {
		return nil, fmt.Errorf("batch: create run for %s: %w", ownerID, err)
	}

	res, err := r.execute(ctx, run)
	if err != nil {
		log.Printf("batch: run %d for %s failed: %v", run.ID, ownerID, err)
		if ferr := r.finish(context.WithoutCancel(ctx), run, StatusFailed, nil, err.Error()); ferr != nil {
			return run, ferr
		}
		return run, fmt.Errorf("batch: run %d: %w", run.ID, err)
	}
	if err := r.finish(ctx, run, StatusCompleted, res.Candidates, ""); err != nil {
		return run, err
	}
	log.Printf("batch: run %d for %s completed with %d results", run.ID, ownerID, run.ResultCount)

	if r.notifier != nil && len(res.Candidates) > 0 {
		d := notify.Digest{
			OwnerID:    ownerID,
			RunID:      run.ID,
			Trigger:    trigger,
			Candidates: res.Candidates,
			At:         *run.CompletedAt,
		}
		if err := r.notifier.Notify(ctx, d); err != nil {
			log.Printf("batch: notify run %d: %v", run.ID, err)
		}
	}
	return run, nil
}

func (r *Runner) execute(ctx context.Context, run *models.SearchRun) (*worker.Result, error) {
	if err := r.db.WithContext(ctx).Model(run).Update("status", StatusRunning).Error; err != nil {
		return nil, fmt.Errorf("mark running: %w", err)
	}
	run.Status = StatusRunning

	p, err := r.profiles.Get(ctx, run.OwnerID)
	if err != nil {
		return nil, err
	}
	prefs, err := r.profiles.Preferences(ctx, run.OwnerID)
	if err != nil {
		return nil, err
	}
	in := worker.Input{Profile: p, Preferences: &prefs}
	if !r.search.Accepts(in) {
		return nil, fmt.Errorf("%w: profile has no skills or titles", worker.ErrInputInvalid)
	}

	// Unattended runs are approved when scheduled.
	gate := broker.NewGate(true)
	task := worker.NewTask(r.search.Name(), in)
	return r.search.Run(ctx, task, gate, logEmitter{runID: run.ID})
}

// finish stores results and the final status in one transaction.
func (r *Runner) finish(ctx context.Context, run *models.SearchRun, status string, cands []worker.Candidate, msg string) error {
	now := r.now()
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(cands) > 0 {
			rows := make([]models.SearchResult, len(cands))
			for i, c := range cands {
				rows[i] = models.SearchResult{
					RunID:         run.ID,
					Title:         c.Title,
					Org:           c.Org,
					Score:         c.Score,
					Reason:        c.Reason,
					Locator:       c.Locator,
					LocationClass: c.LocationClass,
				}
			}
			if err := tx.Create(&rows).Error; err != nil {
				return err
			}
		}
		return tx.Model(run).Updates(map[string]interface{}{
			"status":       status,
			"result_count": len(cands),
			"error":        msg,
			"completed_at": now,
		}).Error
	})
	if err != nil {
		return fmt.Errorf("batch: finish run %d: %w", run.ID, err)
	}
	run.Status = status
	run.ResultCount = len(cands)
	run.Error = msg
	run.CompletedAt = &now
	return nil
}

// RunAll runs a search for every owner with a profile, at most
// Concurrency at a time. A failed owner does not stop the others.
func (r *Runner) RunAll(ctx context.Context, trigger string) (ok, failed int, err error) {
	owners, err := r.profiles.OwnersWithProfile(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("batch: %w", err)
	}
	var nOK, nFailed atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, id := range owners {
		g.Go(func() error {
			if _, err := r.RunOwner(gctx, id, trigger); err != nil {
				nFailed.Add(1)
			} else {
				nOK.Add(1)
			}
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return int(nOK.Load()), int(nFailed.Load()), fmt.Errorf("batch: run all: %w", err)
	}
	return int(nOK.Load()), int(nFailed.Load()), nil
}

// Get returns a run with its results ordered by score.
func (r *Runner) Get(ctx context.Context, id uint) (*models.SearchRun, error) {
	var run models.SearchRun
	err := r.db.WithContext(ctx).
		Preload("Results", func(db *gorm.DB) *gorm.DB { return db.Order("score DESC, id ASC") }).
		First(&run, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("batch: get run %d: %w", id, err)
	}
	return &run, nil
}

// List returns an owner's most recent runs, newest first. An empty
// ownerID lists every owner.
func (r *Runner) List(ctx context.Context, ownerID string, limit int) ([]models.SearchRun, error) {
	if limit <= 0 {
		limit = 20
	}
	q := r.db.WithContext(ctx).Order("id DESC").Limit(limit)
	if ownerID != "" {
		q = q.Where("owner_id = ?", ownerID)
	}
	var runs []models.SearchRun
	if err := q.Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("batch: list runs: %w", err)
	}
	return runs, nil
}

// logEmitter records worker progress in the process log.
type logEmitter struct {
	runID uint
}

func (e logEmitter) Status(stage, message string) {
	log.Printf("batch: run %d: %s: %s", e.runID, stage, message)
}

func (e logEmitter) Event(kind, message string) {
	log.Printf("batch: run %d: %s: %s", e.runID, kind, message)
}
