package acquire

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/pannadata/consolidator/consolidator/manifest"
	"github.com/pannadata/consolidator/dataset"
	"github.com/pannadata/consolidator/storage"
)

// Report summarizes the acquisition of one group and sub-group.
type Report struct {
	Group    string `json:"group"`
	SubGroup string `json:"sub_group"`

	Listed  int `json:"listed"`
	Skipped int `json:"skipped"`
	Fetched int `json:"fetched"`
	// Failed counts entities for which every category failed transiently.
	Failed int `json:"failed"`

	// Rows is the number of records written per category.
	Rows  map[string]int `json:"rows"`
	Files []string       `json:"files"`
	// Entries are the manifest entries produced for fetched entities.
	Entries []manifest.Entry `json:"-"`
}

// Runner fetches every category of the entities a manifest does not
// already cover and appends the results as new partition files.
type Runner struct {
	fetcher     Fetcher
	writer      *storage.PartitionWriter
	categories  []string
	primary     string
	entityField string
	freshness   manifest.Freshness
	skip        manifest.SkipOptions
	now         func() time.Time
}

// RunnerConfig configures a Runner.
type RunnerConfig struct {
	Categories  []string
	Primary     string
	EntityField string
	Freshness   manifest.Freshness
	Skip        manifest.SkipOptions
}

// NewRunner creates a Runner writing partitions through writer
func NewRunner(fetcher Fetcher, writer *storage.PartitionWriter, cfg RunnerConfig) *Runner {
	return &Runner{
		fetcher:     fetcher,
		writer:      writer,
		categories:  cfg.Categories,
		primary:     cfg.Primary,
		entityField: cfg.EntityField,
		freshness:   cfg.Freshness,
		skip:        cfg.Skip,
		now:         time.Now,
	}
}

// Acquire fetches the entities of coord's group and sub-group that the
// snapshot does not skip. Fetched records are written even when ctx is
// cancelled part way; the error then reports the cancellation.
func (r *Runner) Acquire(ctx context.Context, coord dataset.Coordinate, snapshot *manifest.Manifest) (Report, error) {
	report := Report{Group: coord.Group, SubGroup: coord.SubGroup, Rows: make(map[string]int)}

	entities, err := r.fetcher.ListEntities(ctx, coord.Group, coord.SubGroup)
	if err != nil {
		return report, fmt.Errorf("list entities %s/%s: %w", coord.Group, coord.SubGroup, err)
	}
	report.Listed = len(entities)

	skip := snapshot.SkipSet(coord, r.skip)
	collected := make(map[string][]*dataset.Batch, len(r.categories))

	var ctxErr error
	for i, entity := range entities {
		if skip.Has(entity.ID) {
			report.Skipped++
			continue
		}
		if err := ctx.Err(); err != nil {
			ctxErr = err
			break
		}

		entry, batches, ok := r.fetchEntity(ctx, coord, entity)
		if !ok {
			report.Failed++
			log.Printf("action: acquire_entity | result: fail | group: %s | sub_group: %s | entity: %s | progress: %d/%d",
				coord.Group, coord.SubGroup, entity.ID, i+1, len(entities))
			continue
		}
		for category, b := range batches {
			collected[category] = append(collected[category], b)
		}
		report.Entries = append(report.Entries, entry)
		report.Fetched++
	}

	var writeErrs []error
	for _, category := range r.categories {
		parts := collected[category]
		if len(parts) == 0 {
			continue
		}
		target := dataset.Coordinate{Table: category, Group: coord.Group, SubGroup: coord.SubGroup}
		b := dataset.Concat(target, parts...)
		path, err := r.writer.Write(b)
		if err != nil {
			// Entries must not claim records that never reached disk.
			unflag(report.Entries, category)
			writeErrs = append(writeErrs, fmt.Errorf("write partition %s: %w", target, err))
			log.Printf("action: write_partition | result: fail | coordinate: %s | error: %v", target, err)
			continue
		}
		report.Rows[category] = b.Len()
		report.Files = append(report.Files, path)
	}
	if len(writeErrs) > 0 {
		return report, errors.Join(append(writeErrs, ctxErr)...)
	}

	log.Printf("action: acquire | result: success | group: %s | sub_group: %s | listed: %d | skipped: %d | fetched: %d | failed: %d | files: %d",
		coord.Group, coord.SubGroup, report.Listed, report.Skipped, report.Fetched, report.Failed, len(report.Files))

	return report, ctxErr
}

func unflag(entries []manifest.Entry, category string) {
	for _, e := range entries {
		if e.Flags[category] {
			e.Flags[category] = false
		}
	}
}

// fetchEntity fetches every category of entity. ok is false when every
// category failed transiently, leaving the entity for a later run.
func (r *Runner) fetchEntity(ctx context.Context, coord dataset.Coordinate, entity Entity) (manifest.Entry, map[string]*dataset.Batch, bool) {
	entry := manifest.Entry{
		EntityID:   entity.ID,
		Group:      coord.Group,
		SubGroup:   coord.SubGroup,
		Flags:      make(map[string]bool, len(r.categories)),
		EntityDate: entity.Date,
		UpdatedAt:  r.now().UTC(),
	}
	batches := make(map[string]*dataset.Batch)

	transient := 0
	for _, category := range r.categories {
		b, err := r.fetcher.FetchCategory(ctx, coord.Group, coord.SubGroup, entity.ID, category)
		outcome := Classify(b, err)
		switch outcome {
		case OutcomePresent:
			if r.entityField != "" && !b.Schema().Has(r.entityField) {
				b.SetColumn(r.entityField, entity.ID)
			}
			batches[category] = b
			entry.Flags[category] = true
		case OutcomeEmpty:
			entry.Flags[category] = false
		case OutcomeUnavailable:
			entry.Flags[category] = false
			if category == r.primary && r.freshness.Eligible(entity.Date) {
				entry.Unavailable = true
			}
		case OutcomeTransient:
			transient++
			entry.Flags[category] = false
			log.Printf("action: fetch_category | result: fail | entity: %s | category: %s | error: %v",
				entity.ID, category, err)
		}
	}

	if len(r.categories) > 0 && transient == len(r.categories) {
		return manifest.Entry{}, nil, false
	}
	return entry, batches, true
}
