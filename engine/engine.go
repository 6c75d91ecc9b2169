// Copyright 2024 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/juju/errors"
	"github.com/taletrail/recommender/base/log"
	"github.com/taletrail/recommender/common/parallel"
	"github.com/taletrail/recommender/config"
	"github.com/taletrail/recommender/dataset"
	"github.com/taletrail/recommender/logics"
	"github.com/taletrail/recommender/model/cf"
	"github.com/taletrail/recommender/model/feature"
	"github.com/taletrail/recommender/storage/cache"
	"github.com/taletrail/recommender/storage/data"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

var (
	ErrRebuildInProgress = errors.New("rebuild in progress")
	ErrDataUnavailable   = errors.New("data unavailable")
)

const (
	StatusSuccess    = "success"
	StatusFailed     = "failed"
	StatusInProgress = "in_progress"

	ModelTrained = "trained"
	ModelFailed  = "failed"
)

const (
	stepLoad          = "load"
	stepDataset       = "dataset"
	stepFeature       = "feature"
	stepSimilarity    = "similarity"
	stepCollaborative = "collaborative"
	stepRankers       = "rankers"
)

// Loader supplies the records a generation is built from.
type Loader interface {
	LoadItems(ctx context.Context) ([]data.Item, error)
	LoadRatings(ctx context.Context) ([]data.Rating, error)
	LoadInteractions(ctx context.Context) ([]data.Interaction, error)
}

// Summary is the result of a rebuild.
type Summary struct {
	Status             string        `json:"status"`
	ItemCount          int           `json:"item_count"`
	RatingCount        int           `json:"rating_count"`
	InteractionCount   int           `json:"interaction_count"`
	ContentModel       string        `json:"content_model"`
	CollaborativeModel string        `json:"collaborative_model"`
	Version            int64         `json:"version"`
	Duration           time.Duration `json:"duration"`
}

// generation holds every structure derived from one load. It is never modified
// after it is published.
type generation struct {
	version int64
	dataset *dataset.Dataset
	similar *logics.ItemToItem
	content *logics.ContentBased
	nmf     *cf.NMF
	rankers *logics.NonPersonalized
	blender *logics.Blender
	summary Summary
}

// Engine serves recommendations from the latest generation. Rebuilds run one at a
// time and publish a new generation atomically, reads never block.
type Engine struct {
	config     *config.Config
	loader     Loader
	cache      cache.Database
	now        func() time.Time
	tracer     trace.Tracer
	current    atomic.Pointer[generation]
	rebuilding atomic.Bool
	version    atomic.Int64
}

type Option func(*Engine)

// WithClock sets the reference time of trending windows.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithCache caches query results.
func WithCache(database cache.Database) Option {
	return func(e *Engine) {
		e.cache = database
	}
}

func NewEngine(cfg *config.Config, loader Loader, opts ...Option) *Engine {
	e := &Engine{
		config: cfg,
		loader: loader,
		cache:  cache.NoDatabase{},
		now:    time.Now,
		tracer: otel.Tracer("taletrail/engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Ready reports whether a generation has been published.
func (e *Engine) Ready() bool {
	return e.current.Load() != nil
}

// Version returns the version of the serving generation, zero if there is none.
func (e *Engine) Version() int64 {
	if g := e.current.Load(); g != nil {
		return g.version
	}
	return 0
}

// LastSummary returns the summary of the serving generation.
func (e *Engine) LastSummary() (Summary, bool) {
	if g := e.current.Load(); g != nil {
		return g.summary, true
	}
	return Summary{}, false
}

// Rebuild loads data, rebuilds every model and publishes a new generation. A rebuild
// that is already running makes it return ErrRebuildInProgress. On failure the
// previous generation keeps serving.
func (e *Engine) Rebuild(ctx context.Context) (Summary, error) {
	if !e.rebuilding.CompareAndSwap(false, true) {
		return Summary{Status: StatusInProgress}, ErrRebuildInProgress
	}
	defer e.rebuilding.Store(false)

	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "Rebuild")
	defer span.End()
	g, err := e.build(ctx)
	if err != nil {
		RebuildFailuresTotal.Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Logger().Error("failed to rebuild recommender", zap.Error(err))
		return Summary{Status: StatusFailed, Duration: time.Since(start)}, err
	}
	g.summary.Duration = time.Since(start)
	e.current.Store(g)

	RebuildTotalSeconds.Set(g.summary.Duration.Seconds())
	GenerationItems.Set(float64(g.summary.ItemCount))
	GenerationRatings.Set(float64(g.summary.RatingCount))
	GenerationInteractions.Set(float64(g.summary.InteractionCount))
	span.SetAttributes(attribute.Int64("version", g.version))
	log.Logger().Info("rebuild recommender complete",
		zap.Int64("version", g.version),
		zap.Int("n_items", g.summary.ItemCount),
		zap.Int("n_ratings", g.summary.RatingCount),
		zap.Int("n_interactions", g.summary.InteractionCount),
		zap.String("content_model", g.summary.ContentModel),
		zap.String("collaborative_model", g.summary.CollaborativeModel),
		zap.Duration("duration", g.summary.Duration))
	return g.summary, nil
}

func (e *Engine) build(ctx context.Context) (*generation, error) {
	cfg := e.config.Recommend
	var (
		items        []data.Item
		ratings      []data.Rating
		interactions []data.Interaction
	)
	if err := e.step(ctx, stepLoad, func(ctx context.Context) error {
		// items, ratings and interactions are independent tables
		return parallel.Parallel(ctx, 3, 3, func(_, jobId int) (err error) {
			switch jobId {
			case 0:
				if items, err = e.loader.LoadItems(ctx); err != nil {
					return fmt.Errorf("%w: load items: %w", ErrDataUnavailable, err)
				}
			case 1:
				if ratings, err = e.loader.LoadRatings(ctx); err != nil {
					return fmt.Errorf("%w: load ratings: %w", ErrDataUnavailable, err)
				}
			case 2:
				if interactions, err = e.loader.LoadInteractions(ctx); err != nil {
					return fmt.Errorf("%w: load interactions: %w", ErrDataUnavailable, err)
				}
			}
			return nil
		})
	}); err != nil {
		return nil, err
	}

	g := &generation{version: e.nextVersion()}
	if err := e.step(ctx, stepDataset, func(ctx context.Context) error {
		g.dataset = dataset.NewDataset(e.now(), items, ratings, interactions, cfg.Content.FavoriteTypes)
		return nil
	}); err != nil {
		return nil, err
	}
	g.summary = Summary{
		Status:             StatusSuccess,
		ItemCount:          g.dataset.CountItems(),
		RatingCount:        g.dataset.CountRatings(),
		InteractionCount:   g.dataset.CountInteractions(),
		ContentModel:       ModelFailed,
		CollaborativeModel: ModelFailed,
		Version:            g.version,
	}

	// content-based model
	var features *feature.Matrix
	if err := e.step(ctx, stepFeature, func(ctx context.Context) error {
		encoder, err := feature.Fit(g.dataset.Items(), cfg.Feature)
		if err != nil {
			return errors.Trace(err)
		}
		features = encoder.Build(g.dataset.Items(), cfg.Jobs)
		return nil
	}); err != nil {
		log.Logger().Error("failed to build feature vectors", zap.Error(err))
	} else if err = e.step(ctx, stepSimilarity, func(ctx context.Context) (err error) {
		g.similar = logics.NewItemToItem(g.dataset, features, cfg.Similarity.MaxCachedItems, cfg.Jobs)
		g.content, err = logics.NewContentBased(g.dataset, g.similar, cfg.Content.ContentConfig())
		return errors.Trace(err)
	}); err != nil {
		log.Logger().Error("failed to build content-based model", zap.Error(err))
		g.similar, g.content = nil, nil
	} else {
		g.summary.ContentModel = ModelTrained
	}

	// collaborative model
	if cfg.Collaborative.Enable {
		if err := e.step(ctx, stepCollaborative, func(ctx context.Context) error {
			g.nmf = cf.NewNMF(cfg.Collaborative.GetParams())
			return g.nmf.Fit(context.WithoutCancel(ctx), g.dataset.Matrix(), cf.NewFitConfig().SetJobs(cfg.Jobs))
		}); err != nil {
			log.Logger().Warn("collaborative model is unavailable", zap.Error(err))
			g.nmf = nil
		} else {
			g.summary.CollaborativeModel = ModelTrained
		}
	}

	// rankers
	if err := e.step(ctx, stepRankers, func(ctx context.Context) (err error) {
		g.rankers, err = logics.NewNonPersonalized(g.dataset, cfg.ItemFilter, cfg.Content.LikeThreshold, e.now)
		return errors.Annotate(err, "invalid item filter")
	}); err != nil {
		return nil, err
	}
	g.blender = logics.NewBlender(g.dataset, g.content, g.nmf, g.rankers, cfg.Trending.Days)
	return g, nil
}

// step runs a rebuild step in its own span and records its duration.
func (e *Engine) step(ctx context.Context, name string, f func(ctx context.Context) error) error {
	ctx, span := e.tracer.Start(ctx, name)
	defer span.End()
	start := time.Now()
	err := f(ctx)
	RebuildStepSecondsVec.WithLabelValues(name).Set(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// nextVersion returns a version greater than every previous one. Versions are based on
// wall time so that cache keys of a restarted process do not collide.
func (e *Engine) nextVersion() int64 {
	for {
		prev := e.version.Load()
		next := max(prev+1, time.Now().UnixNano())
		if e.version.CompareAndSwap(prev, next) {
			return next
		}
	}
}

// Schedule rebuilds periodically until the context is done.
func (e *Engine) Schedule(ctx context.Context, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.Rebuild(ctx); err != nil && !errors.Is(err, ErrRebuildInProgress) {
				log.Logger().Error("scheduled rebuild failed", zap.Error(err))
			}
		}
	}
}
