package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/pannadata/consolidator/common"
	"github.com/pannadata/consolidator/consolidator"
	"github.com/pannadata/consolidator/consolidator/acquire"
	"github.com/pannadata/consolidator/consolidator/filters"
	"github.com/pannadata/consolidator/consolidator/manifest"
	"github.com/pannadata/consolidator/consolidator/merge"
	"github.com/pannadata/consolidator/dataset"
	"github.com/pannadata/consolidator/metrics"
	"github.com/pannadata/consolidator/middleware"
	"github.com/pannadata/consolidator/storage"
	"github.com/spf13/cobra"
)

var errRejected = errors.New("one or more units were rejected")

type selection struct {
	groups           []string
	subGroups        []string
	tables           []string
	recent           int
	force            bool
	retryUnavailable bool
}

func (s *selection) register(cmd *cobra.Command, withAcquisition bool) {
	flags := cmd.Flags()
	flags.StringSliceVar(&s.groups, "groups", nil, "groups to process, default all")
	flags.StringSliceVar(&s.subGroups, "sub-groups", nil, "sub-groups to process, default all")
	flags.StringSliceVar(&s.tables, "tables", nil, "tables to consolidate, default every table with partitions")
	flags.BoolVar(&s.force, "force", false, "ignore the manifest and consolidate units that look up to date")
	if withAcquisition {
		flags.IntVar(&s.recent, "recent", 1, "most recent sub-groups per group when --sub-groups is not set, 0 for all")
		flags.BoolVar(&s.retryUnavailable, "retry-unavailable", false, "re-fetch entities marked unavailable")
	}
}

func (s *selection) narrowed() bool {
	return len(s.groups) > 0 || len(s.subGroups) > 0
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "consolidator",
		Short:        "Incremental partition consolidation",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config.ini", "path to the ini configuration")

	root.AddCommand(newRunCommand(&configPath))
	root.AddCommand(newConsolidateCommand(&configPath))
	root.AddCommand(newManifestCommand(&configPath))
	return root
}

func newRunCommand(configPath *string) *cobra.Command {
	var sel selection
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Fetch new entities into partitions, then consolidate",
		Long: `
Fetches every entity the manifest does not already cover for the selected
groups and sub-groups, writes them as new partition files and consolidates
every affected unit. Exits non-zero when a unit is rejected.
`,
		RunE: func(c *cobra.Command, args []string) error {
			return execute(c, *configPath, sel, true)
		},
	}
	sel.register(cmd, true)
	return cmd
}

func newConsolidateCommand(configPath *string) *cobra.Command {
	var sel selection
	cmd := &cobra.Command{
		Use:   "consolidate",
		Short: "Merge partitions into consolidated files",
		RunE: func(c *cobra.Command, args []string) error {
			return execute(c, *configPath, sel, false)
		},
	}
	sel.register(cmd, false)
	return cmd
}

func newManifestCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "manifest",
		Short: "Inspect or rebuild the manifest",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild the manifest from the partition files",
		RunE: func(c *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			paths := cfg.GetPathsConfig()
			run := cfg.GetRunConfig()

			reader := storage.NewPartitionReader(paths.PartitionsDir, storage.Tagging{}, false)
			m, err := manifest.Rebuild(reader, run.PrimaryCategory, run.EntityField, run.Categories, time.Now())
			if err != nil {
				return err
			}
			if err := m.Save(paths.ManifestPath); err != nil {
				return err
			}
			fmt.Fprintf(c.OutOrStdout(), "rebuilt manifest %s with %d entries\n", paths.ManifestPath, m.Len())
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print manifest counts per group and sub-group",
		RunE: func(c *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			m := manifest.Load(cfg.GetPathsConfig().ManifestPath, cfg.GetRunConfig().PrimaryCategory)
			return printManifest(c, m)
		},
	})
	return cmd
}

func loadConfig(path string) (*common.Config, bool, error) {
	cfg, err := common.NewConfig(path)
	if err != nil {
		return nil, false, err
	}
	debug := common.InitializeLog(cfg.GetLoggingLevel())
	return cfg, debug, nil
}

func execute(c *cobra.Command, configPath string, sel selection, withAcquisition bool) error {
	cfg, debug, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	paths := cfg.GetPathsConfig()
	run := cfg.GetRunConfig()

	registry, err := cfg.BuildRegistry()
	if err != nil {
		return err
	}
	store, err := storage.NewConsolidatedStore(paths.ConsolidatedDir)
	if err != nil {
		return err
	}
	reader := storage.NewPartitionReader(paths.PartitionsDir,
		storage.Tagging{GroupField: run.GroupField, SubGroupField: run.SubGroupField}, debug)

	plan := consolidator.Plan{
		Tables:           sel.tables,
		Acquire:          withAcquisition,
		Force:            sel.force,
		RetryUnavailable: sel.retryUnavailable,
	}
	if withAcquisition {
		plan.Targets, err = acquisitionTargets(paths, sel)
	} else if sel.narrowed() {
		plan.Targets, err = partitionTargets(reader, sel)
	}
	if err != nil {
		return err
	}
	if (withAcquisition || sel.narrowed()) && len(plan.Targets) == 0 {
		log.Printf("action: plan | result: skipped | msg: no groups or sub-groups selected")
		return nil
	}

	notifier, closeNotifier := connectNotifier(cfg.GetRabbitmqConfig())
	defer closeNotifier()

	opts := consolidator.Options{
		Reader:          reader,
		Writer:          storage.NewPartitionWriter(paths.PartitionsDir),
		Store:           store,
		Registry:        registry,
		Engine:          merge.NewEngine(registry, run.MinRetainRatio),
		Notifier:        notifier,
		Recorder:        metrics.NewRecorder(),
		ManifestPath:    paths.ManifestPath,
		SummaryPath:     paths.SummaryPath,
		MetricsPath:     paths.MetricsPath,
		PrimaryCategory: run.PrimaryCategory,
		Categories:      run.Categories,
		Freshness:       run.Freshness,
		Workers:         run.Workers,
		Debug:           debug,
	}
	if withAcquisition {
		opts.Fetcher = acquire.NewRawCache(paths.RawDir, run.Categories)
	}

	summary, err := consolidator.NewOrchestrator(opts).Run(c.Context(), plan)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.OutOrStdout(), "written: %d | skipped: %d | rejected: %d | rows added: %d | duplicates removed: %d\n",
		summary.Written, summary.Skipped, summary.Rejected, summary.RowsAdded, summary.DuplicatesRemoved)
	if summary.Failed() {
		return errRejected
	}
	return nil
}

// acquisitionTargets lists the catalog targets, or the raw cache
// directories when there is no catalog, narrowed by sel and without
// sub-groups that have not started yet.
func acquisitionTargets(paths *common.PathsConfig, sel selection) ([]filters.Target, error) {
	recent := sel.recent
	if len(sel.subGroups) > 0 {
		recent = 0
	}

	var targets []filters.Target
	catalog, err := common.LoadCatalog(paths.CatalogPath)
	switch {
	case err == nil:
		targets = catalog.Targets(recent)
	case errors.Is(err, fs.ErrNotExist):
		log.Printf("action: catalog_load | result: skipped | path: %s | msg: listing raw cache instead", paths.CatalogPath)
		targets, err = rawTargets(paths.RawDir)
		if err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	return filters.Apply(targets,
		filters.NewSelectionFilter(sel.groups, sel.subGroups),
		filters.NewFutureFilter(time.Now),
	), nil
}

func rawTargets(root string) ([]filters.Target, error) {
	groups, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []filters.Target
	for _, g := range groups {
		if !g.IsDir() {
			continue
		}
		subGroups, err := os.ReadDir(filepath.Join(root, g.Name()))
		if err != nil {
			return nil, err
		}
		for _, s := range subGroups {
			if s.IsDir() {
				out = append(out, filters.Target{Group: g.Name(), SubGroup: s.Name()})
			}
		}
	}
	return out, nil
}

// partitionTargets lists the (group, sub_group) pairs present in the
// partition store and narrowed by sel.
func partitionTargets(reader *storage.PartitionReader, sel selection) ([]filters.Target, error) {
	tables, err := reader.Tables()
	if err != nil {
		return nil, err
	}
	seen := make(map[dataset.Coordinate]bool)
	var targets []filters.Target
	for _, table := range tables {
		coords, err := reader.Coordinates(table)
		if err != nil {
			return nil, err
		}
		for _, c := range coords {
			key := dataset.Coordinate{Group: c.Group, SubGroup: c.SubGroup}
			if seen[key] {
				continue
			}
			seen[key] = true
			targets = append(targets, filters.Target{Group: c.Group, SubGroup: c.SubGroup})
		}
	}
	sort.Slice(targets, func(i, j int) bool {
		if targets[i].Group != targets[j].Group {
			return targets[i].Group < targets[j].Group
		}
		return targets[i].SubGroup < targets[j].SubGroup
	})
	return filters.Apply(targets, filters.NewSelectionFilter(sel.groups, sel.subGroups)), nil
}

// connectNotifier returns a RabbitMQ publisher when enabled and reachable,
// and a no-op one otherwise.
func connectNotifier(cfg *common.RabbitmqConfig) (consolidator.Notifier, func()) {
	if !cfg.Enabled {
		return middleware.NopPublisher{}, func() {}
	}
	qm := middleware.NewQueueManager(cfg)
	if err := qm.Connect(); err != nil {
		qm.Close()
		return middleware.NopPublisher{}, func() {}
	}
	publisher, err := qm.Publisher()
	if err != nil {
		qm.Close()
		return middleware.NopPublisher{}, func() {}
	}
	return publisher, func() { qm.Close() }
}

func printManifest(c *cobra.Command, m *manifest.Manifest) error {
	type counts struct{ total, complete, unavailable int }
	byCoord := make(map[string]*counts)
	var order []string
	for _, e := range m.Entries() {
		key := e.Group + "/" + e.SubGroup
		if byCoord[key] == nil {
			byCoord[key] = &counts{}
			order = append(order, key)
		}
		n := byCoord[key]
		n.total++
		if e.Has(m.Primary()) {
			n.complete++
		} else if e.Unavailable {
			n.unavailable++
		}
	}

	w := tabwriter.NewWriter(c.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "COORDINATE\tENTITIES\tCOMPLETE\tUNAVAILABLE")
	for _, key := range order {
		n := byCoord[key]
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", key, n.total, n.complete, n.unavailable)
	}
	return w.Flush()
}
