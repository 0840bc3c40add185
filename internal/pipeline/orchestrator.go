// Package pipeline orchestrates a batch run: scrapers, API ingestion, then
// every source file group in order, each extracted (through the cache),
// geofiltered, joined, reshaped and handed to its loader.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/trafficgeo/accident-etl/internal/cache"
	"github.com/trafficgeo/accident-etl/internal/config"
	"github.com/trafficgeo/accident-etl/internal/domain"
	"github.com/trafficgeo/accident-etl/internal/observability"
	"github.com/trafficgeo/accident-etl/internal/strategy"
)

// Orchestrator drives one batch run over the configured data folder.
type Orchestrator struct {
	cfg      *config.Config
	registry *strategy.Registry
	cache    *cache.Store
	region   *domain.RegionPolygon
	loaders  map[string]domain.Loader
	notifier domain.ChangeNotifier
	logger   *slog.Logger
	metrics  *observability.Metrics

	runID string
	ready atomic.Bool
}

// New creates an Orchestrator. Loaders are the already-constructed backend
// instances keyed by loader name; notifier may be nil when change
// notifications are disabled.
func New(
	cfg *config.Config,
	registry *strategy.Registry,
	cacheStore *cache.Store,
	region *domain.RegionPolygon,
	loaders map[string]domain.Loader,
	notifier domain.ChangeNotifier,
	logger *slog.Logger,
	metrics *observability.Metrics,
) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		registry: registry,
		cache:    cacheStore,
		region:   region,
		loaders:  loaders,
		notifier: notifier,
		logger:   logger,
		metrics:  metrics,
	}
}

// CheckReadiness returns nil once at least one group has been loaded, or an
// error describing why the service is not yet ready.
func (o *Orchestrator) CheckReadiness(_ context.Context) error {
	if !o.ready.Load() {
		return errors.New("pipeline has not loaded any group yet")
	}
	return nil
}

// Run executes one batch: scrapers, APIs, then every group in lexical
// directory order. A group whose extraction fails is skipped; loader and
// configuration errors abort the run.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.runID = domain.Now().UTC().Format("20060102T150405Z")
	o.logger.Info("batch run started", "run_id", o.runID, "data_folder", o.cfg.DataFolder)
	o.metrics.PipelineRunning.Set(1)
	defer o.metrics.PipelineRunning.Set(0)

	o.runScrapers(ctx)
	o.runAPIs(ctx)

	groups, err := DiscoverGroups(o.cfg, o.logger)
	if err != nil {
		return err
	}
	if len(groups) == 0 {
		o.logger.Warn("no source file groups found", "data_folder", o.cfg.DataFolder)
	}

	for i, g := range groups {
		if ctx.Err() != nil {
			o.logger.Info("batch run stopping", "reason", ctx.Err())
			return nil
		}
		// The last group's store is the batch-terminal mutation that lets
		// downstream recomputation fire exactly once per run.
		terminal := i == len(groups)-1

		if err := o.processGroup(ctx, g, terminal); err != nil {
			var exErr *domain.ExtractionError
			if errors.As(err, &exErr) {
				o.logger.Warn("skipping group after extraction failure", "dir", g.Dir, "error", err)
				o.metrics.GroupsSkipped.Inc()
				continue
			}
			return fmt.Errorf("group %s: %w", g.Dir, err)
		}
		o.ready.Store(true)
	}

	o.logger.Info("batch run finished", "run_id", o.runID, "groups", len(groups))
	return nil
}

func (o *Orchestrator) processGroup(ctx context.Context, g SourceFileGroup, terminal bool) error {
	start := time.Now()
	j := newJoin()

	for i, m := range g.Members {
		rs, err := o.extractFile(ctx, m)
		if err != nil {
			return err
		}

		if m.Spec.GeoFilter != "" {
			factory, err := o.registry.GeoFilter(m.Spec.GeoFilter)
			if err != nil {
				return err
			}
			gf, err := factory(o.cfg, m.Spec)
			if err != nil {
				return err
			}
			before := rs.Len()
			rs, err = gf.Filter(ctx, rs, o.region)
			if err != nil {
				return err
			}
			o.metrics.RecordsDropped.Add(float64(before - rs.Len()))
		}

		j.merge(rs, m.Spec.IDColumn, i == 0, o.logger)
	}
	o.metrics.JoinConflicts.Add(float64(j.conflicts))

	out := j.result()
	for _, m := range g.Members {
		applyReshape(&out, m.Spec)
	}

	primary := g.Members[0]
	loader, ok := o.loaders[primary.Spec.Loader]
	if !ok {
		return fmt.Errorf("loader %q is not constructed", primary.Spec.Loader)
	}

	dest := o.destSpec(primary, terminal)
	res, err := loader.Load(ctx, dest, out)
	if err != nil {
		return fmt.Errorf("loading %s: %w", dest.Table(), err)
	}

	o.metrics.GroupsLoaded.Inc()
	o.metrics.RecordsLoaded.Add(float64(out.Len()))
	o.metrics.GroupDuration.Observe(time.Since(start).Seconds())
	o.logger.Info("group loaded", "dir", g.Dir, "table", dest.Table(),
		"records", out.Len(), "inserted", res.Inserted, "updated", res.Updated, "terminal", terminal)

	o.notify(ctx, dest.Table(), res)
	return nil
}

// extractFile returns the member's record set, from cache when the source
// file is unchanged since the cached extraction.
func (o *Orchestrator) extractFile(ctx context.Context, m Member) (domain.RecordSet, error) {
	if rs, ok := o.cache.Get(m.Path); ok {
		o.metrics.CacheLookups.WithLabelValues("hit").Inc()
		o.metrics.FilesExtracted.Inc()
		o.logger.Debug("cache hit", "file", m.Path)
		return rs, nil
	}
	o.metrics.CacheLookups.WithLabelValues("miss").Inc()

	factory, err := o.registry.Extractor(m.Spec.Extractor)
	if err != nil {
		return domain.RecordSet{}, err
	}
	ex, err := factory(o.cfg, m.Spec)
	if err != nil {
		return domain.RecordSet{}, err
	}

	rs, err := ex.Extract(ctx, m.Path)
	if err != nil {
		o.metrics.ExtractionErrors.Inc()
		return domain.RecordSet{}, &domain.ExtractionError{Path: m.Path, Err: err}
	}
	o.metrics.FilesExtracted.Inc()

	if err := o.cache.Put(m.Path, rs); err != nil {
		o.logger.Warn("could not cache extraction", "file", m.Path, "error", err)
	}
	return rs, nil
}

// applyReshape applies one member's renames (in sorted key order, so the
// outcome never depends on map iteration) and drops.
func applyReshape(rs *domain.RecordSet, spec *config.DataFileSpec) {
	if len(spec.RenameColumns) > 0 {
		keys := make([]string, 0, len(spec.RenameColumns))
		for k := range spec.RenameColumns {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, from := range keys {
			rs.Rename(from, spec.RenameColumns[from])
		}
	}
	rs.Drop(spec.DropColumns...)
}

// destSpec resolves the group's destination from the primary member's
// loader export. The id column follows any rename the file spec applies.
func (o *Orchestrator) destSpec(primary Member, terminal bool) domain.TableSpec {
	idColumn := primary.Spec.IDColumn
	if to, ok := primary.Spec.RenameColumns[idColumn]; ok {
		idColumn = to
	}

	dest := domain.TableSpec{
		Name:          primary.Key,
		Kind:          domain.TableFeature,
		IDColumn:      idColumn,
		TerminalBatch: terminal,
	}

	lc := o.cfg.Loaders[primary.Spec.Loader]
	if export, ok := lc.Exports[primary.Key]; ok {
		if export.Name != "" {
			dest.Name = export.Name
		}
		dest.Dataset = export.Dataset
		dest.Filename = export.Filename
		if export.Type != "" {
			dest.Kind = domain.TableKind(export.Type)
		}
		if r := export.Relation; r != nil {
			dest.Relation = &domain.Relation{
				Name: r.Name, Origin: r.Origin, Dest: r.Dest,
				OriginKey: r.OriginKey, DestKey: r.DestKey,
			}
		}
	}
	return dest
}

func (o *Orchestrator) runScrapers(ctx context.Context) {
	for _, sc := range o.cfg.Scrapers {
		factory, err := o.registry.Scraper(sc.Scraper)
		if err != nil {
			o.logger.Warn("scraper not registered, skipping", "scraper", sc.Scraper)
			continue
		}
		s, err := factory(o.cfg, sc)
		if err != nil {
			o.logger.Warn("scraper construction failed, skipping", "scraper", sc.Scraper, "error", err)
			continue
		}
		if err := s.ScrapeFiles(ctx); err != nil {
			o.logger.Warn("scrape failed, continuing with existing files", "scraper", sc.Scraper, "error", err)
		}
	}
}

func (o *Orchestrator) runAPIs(ctx context.Context) {
	for _, api := range o.cfg.APIs {
		if api.APIExtractor == "" || api.APILoader == "" {
			o.logger.Warn("api entry missing strategy names, skipping", "url", api.URL)
			continue
		}
		if err := o.runAPI(ctx, api); err != nil {
			o.logger.Warn("api ingestion failed, continuing", "url", api.URL, "error", err)
		}
	}
}

func (o *Orchestrator) runAPI(ctx context.Context, api config.APIConfig) error {
	exFactory, err := o.registry.APIExtractor(api.APIExtractor)
	if err != nil {
		return err
	}
	ex, err := exFactory(o.cfg, api)
	if err != nil {
		return err
	}

	inner, ok := o.loaders[api.Loader]
	if !ok {
		return fmt.Errorf("loader %q is not constructed", api.Loader)
	}
	ldFactory, err := o.registry.APILoader(api.APILoader)
	if err != nil {
		return err
	}
	ld, err := ldFactory(o.cfg, api, inner)
	if err != nil {
		return err
	}

	rs, err := ex.ExtractAPI(ctx)
	if err != nil {
		return err
	}
	if err := ld.StoreAPI(ctx, rs); err != nil {
		return err
	}
	o.logger.Info("api ingested", "url", api.URL, "records", rs.Len())
	return nil
}

func (o *Orchestrator) notify(ctx context.Context, table string, res domain.LoadResult) {
	if o.notifier == nil {
		return
	}
	change := domain.TableChange{
		Table:      table,
		Inserted:   res.Inserted,
		Updated:    res.Updated,
		RunID:      o.runID,
		OccurredAt: domain.Now().UTC(),
	}
	if err := o.notifier.NotifyTableChanged(ctx, change); err != nil {
		o.logger.Warn("change notification failed", "table", table, "error", err)
	}
}
