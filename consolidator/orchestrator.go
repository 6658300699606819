// Package consolidator drives a run: optional acquisition of new partitions,
// then one isolated merge per (table, coordinate) unit, then a single
// manifest upsert.
package consolidator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pannadata/consolidator/consolidator/acquire"
	"github.com/pannadata/consolidator/consolidator/common"
	"github.com/pannadata/consolidator/consolidator/filters"
	"github.com/pannadata/consolidator/consolidator/manifest"
	"github.com/pannadata/consolidator/consolidator/merge"
	"github.com/pannadata/consolidator/consolidator/policy"
	"github.com/pannadata/consolidator/dataset"
	"github.com/pannadata/consolidator/metrics"
	"github.com/pannadata/consolidator/middleware"
	"github.com/pannadata/consolidator/storage"
)

// Notifier receives unit outcomes and the run summary.
type Notifier interface {
	PublishOutcome(ctx context.Context, state, table string, payload any) error
	PublishSummary(ctx context.Context, payload any) error
}

// Plan selects what a run processes.
type Plan struct {
	// Targets restricts the run to these groups and sub-groups. Empty means
	// every coordinate found in the partition store.
	Targets []filters.Target
	// Tables restricts consolidation to these tables. Empty means every
	// table found in the partition store.
	Tables []string
	// Acquire fetches new partitions for Targets before consolidating.
	Acquire bool

	Force            bool
	RetryUnavailable bool
}

// Options wires an Orchestrator. Fetcher, Notifier and Recorder are optional.
type Options struct {
	Reader   *storage.PartitionReader
	Writer   *storage.PartitionWriter
	Store    *storage.ConsolidatedStore
	Registry *policy.Registry
	Engine   *merge.Engine
	Fetcher  acquire.Fetcher
	Notifier Notifier
	Recorder *metrics.Recorder

	ManifestPath string
	SummaryPath  string
	MetricsPath  string

	PrimaryCategory string
	Categories      []string
	Freshness       time.Duration
	Workers         int
	Debug           bool
}

// Orchestrator runs consolidation units and aggregates their outcomes.
type Orchestrator struct {
	opts Options
	now  func() time.Time
}

func NewOrchestrator(opts Options) *Orchestrator {
	if opts.Notifier == nil {
		opts.Notifier = middleware.NopPublisher{}
	}
	if opts.Recorder == nil {
		opts.Recorder = metrics.NewRecorder()
	}
	if opts.Engine == nil {
		opts.Engine = merge.NewEngine(opts.Registry, merge.DefaultMinRetainRatio)
	}
	if opts.Workers <= 0 {
		opts.Workers = common.DefaultWorkers
	}
	return &Orchestrator{opts: opts, now: time.Now}
}

// Run executes plan. Rejected units do not stop the run; check
// Summary.Failed. The returned error reports cancellation or a failure to
// persist run state (manifest, summary), never a single unit's outcome.
func (o *Orchestrator) Run(ctx context.Context, plan Plan) (Summary, error) {
	summary := Summary{RunID: uuid.NewString(), StartedAt: o.now().UTC()}
	log.Printf("action: run_start | run_id: %s | targets: %d | acquire: %t | force: %t | retry_unavailable: %t",
		summary.RunID, len(plan.Targets), plan.Acquire, plan.Force, plan.RetryUnavailable)

	snapshot := manifest.Load(o.opts.ManifestPath, o.opts.PrimaryCategory)
	accumulator := manifest.NewAccumulator()

	if plan.Acquire && o.opts.Fetcher != nil {
		o.acquire(ctx, plan, snapshot, accumulator, &summary)
	}

	units, err := o.planUnits(plan)
	if err != nil {
		return summary, fmt.Errorf("plan units: %w", err)
	}
	log.Printf("action: plan_units | result: success | run_id: %s | units: %d", summary.RunID, len(units))

	runErr := common.ProcessAndMerge(ctx, units, o.opts.Workers,
		func(ctx context.Context, u Unit) UnitResult {
			return o.processUnit(ctx, u, plan.Force)
		},
		func(results []UnitResult, started []bool) {
			for i, r := range results {
				if !started[i] {
					summary.Cancelled++
					continue
				}
				summary.add(r)
				o.report(ctx, r)
			}
		})

	if accumulator.Len() > 0 {
		summary.ManifestEntries = accumulator.Flush(snapshot)
		if err := snapshot.Save(o.opts.ManifestPath); err != nil {
			return summary, fmt.Errorf("save manifest: %w", err)
		}
	}

	summary.FinishedAt = o.now().UTC()
	o.finish(ctx, &summary)

	log.Printf("action: run_finish | result: %s | run_id: %s | written: %d | skipped: %d | rejected: %d | cancelled: %d | rows_added: %d | duplicates_removed: %d | read_failures: %d",
		runResult(summary, runErr), summary.RunID, summary.Written, summary.Skipped, summary.Rejected, summary.Cancelled,
		summary.RowsAdded, summary.DuplicatesRemoved, summary.ReadFailures)

	return summary, runErr
}

func (o *Orchestrator) acquire(ctx context.Context, plan Plan, snapshot *manifest.Manifest, accumulator *manifest.Accumulator, summary *Summary) {
	runner := acquire.NewRunner(o.opts.Fetcher, o.opts.Writer, acquire.RunnerConfig{
		Categories:  o.opts.Categories,
		Primary:     o.opts.PrimaryCategory,
		EntityField: o.opts.Registry.EntityField(),
		Freshness:   manifest.NewFreshness(o.opts.Freshness),
		Skip:        manifest.SkipOptions{Force: plan.Force, RetryUnavailable: plan.RetryUnavailable},
	})

	for _, target := range plan.Targets {
		report, err := runner.Acquire(ctx, dataset.Coordinate{Group: target.Group, SubGroup: target.SubGroup}, snapshot)
		accumulator.Add(report.Entries...)
		summary.Acquisitions = append(summary.Acquisitions, report)
		if err != nil {
			summary.AcquisitionErrors++
			log.Printf("action: acquire | result: fail | group: %s | sub_group: %s | error: %v",
				target.Group, target.SubGroup, err)
			if ctx.Err() != nil {
				return
			}
		}
	}
}

// planUnits lists the units of plan in (table, group, sub_group) order.
// Tables consolidated per group yield one unit per group.
func (o *Orchestrator) planUnits(plan Plan) ([]Unit, error) {
	tables := plan.Tables
	if len(tables) == 0 {
		var err error
		tables, err = o.opts.Reader.Tables()
		if err != nil {
			return nil, err
		}
	}
	sort.Strings(tables)

	var units []Unit
	for _, table := range tables {
		p := o.opts.Registry.Lookup(table)
		coords, err := o.opts.Reader.Coordinates(table)
		if err != nil {
			return nil, err
		}

		seen := make(map[dataset.Coordinate]bool)
		for _, c := range coords {
			if !selected(plan.Targets, c, p.Granularity) {
				continue
			}
			if p.Granularity == policy.PerGroup {
				c.SubGroup = ""
			}
			if seen[c] {
				continue
			}
			seen[c] = true
			units = append(units, Unit{Coordinate: c, Policy: p})
		}
	}
	return units, nil
}

func selected(targets []filters.Target, c dataset.Coordinate, g policy.Granularity) bool {
	if len(targets) == 0 {
		return true
	}
	for _, t := range targets {
		if t.Group != c.Group {
			continue
		}
		if g == policy.PerGroup || t.SubGroup == "" || t.SubGroup == c.SubGroup {
			return true
		}
	}
	return false
}

// processUnit drives one unit to a terminal state. Durable state changes
// only through the store's atomic replace.
func (o *Orchestrator) processUnit(ctx context.Context, u Unit, force bool) (res UnitResult) {
	started := o.now()
	r := UnitResult{Table: u.Coordinate.Table, Coordinate: u.Coordinate.String(), State: StatePending}
	defer func() { res.Elapsed = o.now().Sub(started) }()

	if ctx.Err() != nil {
		return skip(&r, ReasonCancelled, o.opts.Debug)
	}
	if !force && o.upToDate(u.Coordinate) {
		return skip(&r, ReasonUpToDate, o.opts.Debug)
	}

	r.transition(StateReading, o.opts.Debug)
	scanner, err := o.opts.Reader.Scan(u.Coordinate)
	if err != nil {
		r.Error = err.Error()
		return skip(&r, ReasonReadFailed, o.opts.Debug)
	}
	var partitions []*dataset.Batch
	for scanner.Next() {
		partitions = append(partitions, scanner.Batch())
	}
	r.Files = len(partitions)
	r.ReadFailures = len(scanner.Failures())

	if ctx.Err() != nil {
		return skip(&r, ReasonCancelled, o.opts.Debug)
	}

	r.transition(StateMerging, o.opts.Debug)
	result, err := o.opts.Engine.MergeInto(o.opts.Store, u.Coordinate, partitions)
	r.Key = result.Key
	r.DegradedKey = result.DegradedKey
	r.ExistingRows = result.ExistingRows
	r.PartitionRows = result.PartitionRows
	r.Rows = result.Rows
	r.DuplicatesRemoved = result.DuplicatesRemoved

	switch {
	case err == nil:
		r.RowsAdded = result.Added()
		r.transition(StateWritten, o.opts.Debug)
	case errors.Is(err, merge.ErrNothingToMerge):
		return skip(&r, ReasonNothingToMerge, o.opts.Debug)
	case errors.Is(err, merge.ErrDataLoss):
		reject(&r, ReasonDataLoss, err)
	case errors.Is(err, merge.ErrExistingUnreadable):
		reject(&r, ReasonUnreadable, err)
	default:
		reject(&r, ReasonWriteFailed, err)
	}

	logUnit(&r, "consolidate_unit", r.State.String())
	return r
}

// upToDate reports whether the consolidated file of coord is at least as
// new as every partition file.
func (o *Orchestrator) upToDate(coord dataset.Coordinate) bool {
	consolidated, err := o.opts.Store.ModTime(coord)
	if err != nil {
		return false
	}
	newest, err := o.opts.Reader.Newest(coord)
	if err != nil || newest.IsZero() {
		return false
	}
	return !newest.After(consolidated)
}

func skip(r *UnitResult, reason string, debug bool) UnitResult {
	r.Reason = reason
	r.transition(StateSkipped, debug)
	logUnit(r, "consolidate_unit", r.State.String())
	return *r
}

func reject(r *UnitResult, reason string, err error) {
	r.Reason = reason
	r.Error = err.Error()
	r.State = StateRejected
}

// report publishes and records one finished unit.
func (o *Orchestrator) report(ctx context.Context, r UnitResult) {
	o.opts.Recorder.ObserveUnit(r.Table, r.State.String(), r.RowsAdded, r.DuplicatesRemoved, r.ReadFailures, r.Elapsed)
	if err := o.opts.Notifier.PublishOutcome(ctx, r.State.String(), r.Table, r); err != nil {
		log.Printf("action: publish_outcome | result: fail | coordinate: %s | error: %v", r.Coordinate, err)
	}
}

// finish persists the summary and metrics. Failures are logged; the
// consolidated files and manifest are already durable at this point.
func (o *Orchestrator) finish(ctx context.Context, summary *Summary) {
	if o.opts.SummaryPath != "" {
		if err := storage.WriteJSONFile(o.opts.SummaryPath, summary); err != nil {
			log.Printf("action: write_summary | result: fail | path: %s | error: %v", o.opts.SummaryPath, err)
		}
	}
	if err := o.opts.Notifier.PublishSummary(context.WithoutCancel(ctx), summary); err != nil {
		log.Printf("action: publish_summary | result: fail | run_id: %s | error: %v", summary.RunID, err)
	}
	if err := o.opts.Recorder.Flush(o.opts.MetricsPath, summary.FinishedAt); err != nil {
		log.Printf("action: flush_metrics | result: fail | error: %v", err)
	}
}

func logUnit(r *UnitResult, action, state string) {
	switch state {
	case StateRejected.String():
		log.Printf("action: %s | result: fail | coordinate: %s | state: %s | reason: %s | error: %s",
			action, r.Coordinate, state, r.Reason, r.Error)
	case StateSkipped.String():
		log.Printf("action: %s | result: success | coordinate: %s | state: %s | reason: %s",
			action, r.Coordinate, state, r.Reason)
	case StateWritten.String():
		log.Printf("action: %s | result: success | coordinate: %s | state: %s | files: %d | read_failures: %d | existing: %d | rows: %d | added: %d | duplicates_removed: %d",
			action, r.Coordinate, state, r.Files, r.ReadFailures, r.ExistingRows, r.Rows, r.RowsAdded, r.DuplicatesRemoved)
	default:
		log.Printf("action: %s | coordinate: %s | state: %s", action, r.Coordinate, state)
	}
}

func runResult(s Summary, err error) string {
	switch {
	case err != nil:
		return "interrupted"
	case s.Failed():
		return "partial_fail"
	default:
		return "success"
	}
}
