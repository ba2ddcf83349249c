// Package service turns explorer requests into compiled, cached queries.
package service

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shadowcheck/shadowcheck/internal/cache"
	"github.com/shadowcheck/shadowcheck/internal/explorer/model"
	"github.com/shadowcheck/shadowcheck/internal/filter"
	"github.com/shadowcheck/shadowcheck/internal/query"
	"github.com/shadowcheck/shadowcheck/internal/scoring"
	"github.com/shadowcheck/shadowcheck/internal/spatial"
	"github.com/shadowcheck/shadowcheck/internal/threat"
)

// networkRepo is the persistence interface for explorer queries.
// *repository.NetworkRepository satisfies this interface.
type networkRepo interface {
	ListNetworks(ctx context.Context, q query.Query) ([]model.Network, error)
	CountNetworks(ctx context.Context, q query.Query) (int64, error)
	ListObservations(ctx context.Context, q query.Query) ([]model.Observation, error)
	GetNetwork(ctx context.Context, bssid string) (*model.Network, error)
}

// scoreRepo reads persisted threat scores.
// *repository.ScoreRepository satisfies this interface.
type scoreRepo interface {
	GetScore(ctx context.Context, bssid string) (*scoring.Record, error)
	LevelCounts(ctx context.Context) (map[threat.Level]int64, error)
}

// Request is an explorer request: the two filter documents plus sorting and
// paging.
type Request struct {
	Filters json.RawMessage `json:"filters"`
	Enabled json.RawMessage `json:"enabled"`
	Sort    string          `json:"sort"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
}

// Plan is the SQL a request would run, for inspection.
type Plan struct {
	SQL      string       `json:"sql"`
	Args     []any        `json:"args"`
	CountSQL string       `json:"count_sql"`
	Filters  model.Report `json:"filters"`
}

// Config holds explorer configuration.
type Config struct {
	DefaultLimit int
	MaxLimit     int
	Compile      query.Options
}

// CompileRecordFunc is an optional callback invoked for every compilation.
type CompileRecordFunc func(c query.Compiled)

// CacheRecordFunc is an optional callback invoked for every cache lookup.
type CacheRecordFunc func(hit bool)

// Service runs explorer queries.
type Service struct {
	networks  networkRepo
	scores    scoreRepo
	cache     cache.Cache
	cfg       Config
	logger    *zap.Logger
	onCompile CompileRecordFunc
	onCache   CacheRecordFunc
}

// New creates a Service. A nil cache disables caching.
func New(networks networkRepo, scores scoreRepo, c cache.Cache, cfg Config, logger *zap.Logger) *Service {
	if c == nil {
		c = cache.Nop{}
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = query.DefaultLimit
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = query.MaxLimit
	}
	return &Service{networks: networks, scores: scores, cache: c, cfg: cfg, logger: logger}
}

// SetCompileRecord configures the compilation metrics callback.
func (s *Service) SetCompileRecord(fn CompileRecordFunc) { s.onCompile = fn }

// SetCacheRecord configures the cache metrics callback.
func (s *Service) SetCacheRecord(fn CacheRecordFunc) { s.onCache = fn }

// compile parses, validates and compiles the filter documents.
func (s *Service) compile(req Request) (query.Compiled, error) {
	spec, err := filter.Parse(req.Filters, req.Enabled)
	if err != nil {
		return query.Compiled{}, err
	}
	if err := filter.Validate(spec); err != nil {
		return query.Compiled{}, err
	}
	c := query.Compile(spec, s.cfg.Compile)
	if s.onCompile != nil {
		s.onCompile(c)
	}
	if len(c.Ignored) > 0 || len(c.Warnings) > 0 {
		s.logger.Debug("explorer: filters not applied",
			zap.Int("ignored", len(c.Ignored)),
			zap.Strings("warnings", c.Warnings),
		)
	}
	return c, nil
}

func (s *Service) page(req Request) ([]query.SortField, query.Page, error) {
	sort, err := query.ParseSort(req.Sort)
	if err != nil {
		return nil, query.Page{}, err
	}
	page, err := query.NewPage(req.Limit, req.Offset, s.cfg.DefaultLimit, s.cfg.MaxLimit)
	if err != nil {
		return nil, query.Page{}, err
	}
	return sort, page, nil
}

// Compile returns the list and count SQL for req without running them.
func (s *Service) Compile(req Request) (*Plan, error) {
	sort, page, err := s.page(req)
	if err != nil {
		return nil, err
	}
	c, err := s.compile(req)
	if err != nil {
		return nil, err
	}
	list, err := query.NetworkList(c, sort, page)
	if err != nil {
		return nil, err
	}
	count, err := query.NetworkCount(c)
	if err != nil {
		return nil, err
	}
	return &Plan{
		SQL:      list.SQL(),
		Args:     list.Args(),
		CountSQL: count.SQL(),
		Filters:  model.NewReport(c),
	}, nil
}

// Networks returns one page of access points matching req and the total
// number of matches.
func (s *Service) Networks(ctx context.Context, req Request) (*model.NetworkPage, error) {
	sort, page, err := s.page(req)
	if err != nil {
		return nil, err
	}
	c, err := s.compile(req)
	if err != nil {
		return nil, err
	}
	list, err := query.NetworkList(c, sort, page)
	if err != nil {
		return nil, err
	}
	count, err := query.NetworkCount(c)
	if err != nil {
		return nil, err
	}

	key := cache.Key("networks", list.SQL(), list.Args())
	out := &model.NetworkPage{}
	if s.lookup(ctx, key, out) {
		return out, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rows, err := s.networks.ListNetworks(gctx, list)
		out.Networks = rows
		return err
	})
	g.Go(func() error {
		n, err := s.networks.CountNetworks(gctx, count)
		out.Total = n
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out.Limit, out.Offset = page.Limit, page.Offset
	out.Filters = model.NewReport(c)
	if circle, ok := radiusCenter(c); ok {
		annotateDistance(out.Networks, circle)
	}

	s.store(ctx, key, out)
	return out, nil
}

// radiusCenter returns the applied radius filter, if any.
func radiusCenter(c query.Compiled) (filter.Circle, bool) {
	for _, a := range c.Applied {
		if a.Field != string(filter.KeyRadiusFilter) {
			continue
		}
		if circle, ok := a.Value.(filter.Circle); ok {
			return circle, true
		}
	}
	return filter.Circle{}, false
}

func annotateDistance(networks []model.Network, center filter.Circle) {
	for i := range networks {
		n := &networks[i]
		if n.Latitude == nil || n.Longitude == nil {
			continue
		}
		d := spatial.DistanceMeters(center.Latitude, center.Longitude, *n.Latitude, *n.Longitude)
		n.DistanceMeters = &d
	}
}

// Observations returns one page of observations matching req.
func (s *Service) Observations(ctx context.Context, req Request) (*model.ObservationPage, error) {
	sort, page, err := s.page(req)
	if err != nil {
		return nil, err
	}
	c, err := s.compile(req)
	if err != nil {
		return nil, err
	}
	list, err := query.ObservationList(c, sort, page)
	if err != nil {
		return nil, err
	}

	key := cache.Key("observations", list.SQL(), list.Args())
	out := &model.ObservationPage{}
	if s.lookup(ctx, key, out) {
		return out, nil
	}

	rows, err := s.networks.ListObservations(ctx, list)
	if err != nil {
		return nil, err
	}
	out.Observations = rows
	out.Limit, out.Offset = page.Limit, page.Offset
	out.Filters = model.NewReport(c)

	s.store(ctx, key, out)
	return out, nil
}

// Network returns a single access point.
func (s *Service) Network(ctx context.Context, bssid string) (*model.Network, error) {
	return s.networks.GetNetwork(ctx, bssid)
}

// Threat returns the persisted score record for bssid.
func (s *Service) Threat(ctx context.Context, bssid string) (*scoring.Record, error) {
	return s.scores.GetScore(ctx, bssid)
}

// LevelCounts returns the number of scored networks per threat level.
func (s *Service) LevelCounts(ctx context.Context) (map[threat.Level]int64, error) {
	return s.scores.LevelCounts(ctx)
}

// Invalidate drops cached pages. It is registered as a scoring completion
// hook so pages never outlive the scores they show.
func (s *Service) Invalidate(ctx context.Context, sum scoring.Summary) {
	if err := s.cache.Invalidate(ctx); err != nil {
		s.logger.Warn("explorer: invalidate cache",
			zap.String("run_id", sum.RunID.String()),
			zap.Error(err),
		)
	}
}

// lookup decodes a cached value into out. Cache failures count as misses.
func (s *Service) lookup(ctx context.Context, key string, out any) bool {
	b, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.Warn("explorer: cache get", zap.Error(err))
		ok = false
	}
	if ok {
		if err := json.Unmarshal(b, out); err != nil {
			s.logger.Warn("explorer: cache decode", zap.Error(err))
			ok = false
		}
	}
	if s.onCache != nil {
		s.onCache(ok)
	}
	return ok
}

func (s *Service) store(ctx context.Context, key string, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		s.logger.Warn("explorer: cache encode", zap.Error(fmt.Errorf("%s: %w", key, err)))
		return
	}
	if err := s.cache.Set(ctx, key, b); err != nil {
		s.logger.Warn("explorer: cache set", zap.Error(err))
	}
}
