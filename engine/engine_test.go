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
	"math/rand"
	"testing"
	"time"

	"github.com/jaswdr/faker"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"github.com/taletrail/recommender/config"
	"github.com/taletrail/recommender/logics"
	"github.com/taletrail/recommender/storage/cache"
	"github.com/taletrail/recommender/storage/data"
)

var (
	testNow    = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	testGenres = []string{"Fantasy", "Romance", "Mystery", "Science Fiction", "History"}
)

const (
	numItems = 40
	numUsers = 20
)

// generateCatalogue creates a reproducible catalogue. Users 1..numUsers rate five
// distinct items each, user numUsers+1 has no ratings.
func generateCatalogue() ([]data.Item, []data.Rating, []data.Interaction) {
	fake := faker.NewWithSeed(rand.NewSource(42))
	items := make([]data.Item, 0, numItems)
	for i := 1; i <= numItems; i++ {
		avg := float64(fake.IntBetween(10, 50)) / 10
		items = append(items, data.Item{
			ItemId:        int64(i),
			Title:         fake.Lorem().Sentence(3),
			Author:        fake.Person().Name(),
			Description:   fake.Lorem().Paragraph(2),
			Genres:        []string{testGenres[i%len(testGenres)]},
			Country:       fake.RandomStringElement([]string{"England", "France", "United States"}),
			CountryCode:   fake.RandomStringElement([]string{"GB", "FR", "US"}),
			AverageRating: &avg,
			RatingCount:   fake.IntBetween(0, 1000),
		})
	}
	var ratings []data.Rating
	for u := 1; u <= numUsers; u++ {
		for j := 0; j < 5; j++ {
			ratings = append(ratings, data.Rating{
				UserId:    int64(u),
				ItemId:    int64((u*7+j*3)%numItems + 1),
				Rating:    float64(1 + (u+j)%5),
				Timestamp: testNow.AddDate(0, 0, -(u + j)),
			})
		}
	}
	var interactions []data.Interaction
	for u := 1; u <= numUsers; u++ {
		interactions = append(interactions, data.Interaction{
			UserId:    int64(u),
			ItemId:    int64(u%numItems + 1),
			Type:      fake.RandomStringElement([]string{"view", "favorite"}),
			Timestamp: testNow.Add(-time.Duration(u) * time.Hour),
		})
	}
	return items, ratings, interactions
}

func newTestConfig() *config.Config {
	cfg := config.GetDefaultConfig()
	cfg.Recommend.Collaborative.NFactors = 5
	cfg.Recommend.Collaborative.NEpochs = 50
	return cfg
}

// mockLoader serves records from memory. It fails with err if set and blocks in
// LoadItems while block is open.
type mockLoader struct {
	items        []data.Item
	ratings      []data.Rating
	interactions []data.Interaction
	err          error
	started      chan struct{}
	block        chan struct{}
}

func (m *mockLoader) LoadItems(context.Context) ([]data.Item, error) {
	if m.block != nil {
		close(m.started)
		<-m.block
	}
	if m.err != nil {
		return nil, m.err
	}
	return m.items, nil
}

func (m *mockLoader) LoadRatings(context.Context) ([]data.Rating, error) {
	return m.ratings, nil
}

func (m *mockLoader) LoadInteractions(context.Context) ([]data.Interaction, error) {
	return m.interactions, nil
}

type EngineTestSuite struct {
	suite.Suite
	database data.Database
	cache    cache.Database
	engine   *Engine
}

func (suite *EngineTestSuite) SetupTest() {
	var err error
	suite.database, err = data.Open(fmt.Sprintf("sqlite://%s/data.db", suite.T().TempDir()), "")
	suite.NoError(err)
	suite.NoError(suite.database.Init())
	items, ratings, interactions := generateCatalogue()
	ctx := context.Background()
	suite.NoError(suite.database.BatchInsertItems(ctx, items))
	suite.NoError(suite.database.BatchInsertRatings(ctx, ratings))
	suite.NoError(suite.database.BatchInsertInteractions(ctx, interactions))
	suite.cache, err = cache.Open("memory://", "", time.Minute)
	suite.NoError(err)
	suite.engine = NewEngine(newTestConfig(), suite.database,
		WithCache(suite.cache),
		WithClock(func() time.Time { return testNow }))
}

func (suite *EngineTestSuite) TearDownTest() {
	suite.NoError(suite.database.Close())
	suite.NoError(suite.cache.Close())
}

func (suite *EngineTestSuite) TestNotReady() {
	ctx := context.Background()
	suite.False(suite.engine.Ready())
	suite.Zero(suite.engine.Version())
	similar, err := suite.engine.Similar(ctx, 1, 5)
	suite.NoError(err)
	suite.Empty(similar)
	recommend, err := suite.engine.RecommendForUser(ctx, 1, 5, 0.6, 0.4)
	suite.NoError(err)
	suite.Empty(recommend)
	trending, err := suite.engine.Trending(ctx, 5, 7)
	suite.NoError(err)
	suite.Empty(trending)
	_, err = suite.engine.Explain(ctx, 1, 2)
	suite.True(errors.IsNotFound(err))
}

func (suite *EngineTestSuite) TestRebuild() {
	summary, err := suite.engine.Rebuild(context.Background())
	suite.NoError(err)
	suite.Equal(StatusSuccess, summary.Status)
	suite.Equal(numItems, summary.ItemCount)
	suite.Equal(numUsers*5, summary.RatingCount)
	suite.Equal(numUsers, summary.InteractionCount)
	suite.Equal(ModelTrained, summary.ContentModel)
	suite.Equal(ModelTrained, summary.CollaborativeModel)
	suite.True(suite.engine.Ready())
	suite.Equal(summary.Version, suite.engine.Version())
	last, ok := suite.engine.LastSummary()
	suite.True(ok)
	suite.Equal(summary, last)

	// versions increase
	next, err := suite.engine.Rebuild(context.Background())
	suite.NoError(err)
	suite.Greater(next.Version, summary.Version)
}

func (suite *EngineTestSuite) TestCollaborativeDisabled() {
	cfg := newTestConfig()
	cfg.Recommend.Collaborative.Enable = false
	e := NewEngine(cfg, suite.database, WithClock(func() time.Time { return testNow }))
	summary, err := e.Rebuild(context.Background())
	suite.NoError(err)
	suite.Equal(ModelTrained, summary.ContentModel)
	suite.Equal(ModelFailed, summary.CollaborativeModel)
	recommend, err := e.RecommendForUser(context.Background(), 1, 5, 0.6, 0.4)
	suite.NoError(err)
	suite.Len(recommend, 5)
}

func (suite *EngineTestSuite) TestInvalidParameters() {
	ctx := context.Background()
	_, err := suite.engine.Rebuild(ctx)
	suite.NoError(err)
	_, err = suite.engine.Similar(ctx, 1, 0)
	suite.True(errors.IsNotValid(err))
	_, err = suite.engine.RecommendForUser(ctx, 1, 5, -1, 0.4)
	suite.True(errors.IsNotValid(err))
	_, err = suite.engine.RecommendForUser(ctx, 1, 5, 0.6, -0.1)
	suite.True(errors.IsNotValid(err))
	_, err = suite.engine.Trending(ctx, 5, 0)
	suite.True(errors.IsNotValid(err))
	_, err = suite.engine.ByGenre(ctx, "fantasy", -1)
	suite.True(errors.IsNotValid(err))
	_, err = suite.engine.ByCountry(ctx, "us", 0)
	suite.True(errors.IsNotValid(err))
	_, err = suite.engine.GenreRecommendationsForUser(ctx, 1, 0)
	suite.True(errors.IsNotValid(err))
}

func (suite *EngineTestSuite) TestSimilar() {
	ctx := context.Background()
	_, err := suite.engine.Rebuild(ctx)
	suite.NoError(err)
	similar, err := suite.engine.Similar(ctx, 1, 5)
	suite.NoError(err)
	suite.Len(similar, 5)
	for i, item := range similar {
		suite.NotEqual(int64(1), item.ItemId)
		suite.Equal(logics.TypeSimilar, item.Type)
		if i > 0 {
			suite.GreaterOrEqual(similar[i-1].Score, item.Score)
		}
	}

	// results are cached under the generation version
	key := fmt.Sprintf("similar/%d/%d/%d", suite.engine.Version(), 1, 5)
	cachedItems, ok, err := cache.GetJSON[[]logics.ScoredItem](ctx, suite.cache, key)
	suite.NoError(err)
	suite.True(ok)
	suite.Equal(similar, cachedItems)
	again, err := suite.engine.Similar(ctx, 1, 5)
	suite.NoError(err)
	suite.Equal(similar, again)

	// unknown item
	similar, err = suite.engine.Similar(ctx, 1000, 5)
	suite.NoError(err)
	suite.Empty(similar)
}

func (suite *EngineTestSuite) TestRecommendForUser() {
	ctx := context.Background()
	_, err := suite.engine.Rebuild(ctx)
	suite.NoError(err)
	_, ratings, interactions := generateCatalogue()
	seen := make(map[int64]struct{})
	for _, rating := range ratings {
		if rating.UserId == 1 {
			seen[rating.ItemId] = struct{}{}
		}
	}
	for _, interaction := range interactions {
		if interaction.UserId == 1 && interaction.Type == "favorite" {
			seen[interaction.ItemId] = struct{}{}
		}
	}
	recommend, err := suite.engine.RecommendForUser(ctx, 1, 10, 0.6, 0.4)
	suite.NoError(err)
	suite.Len(recommend, 10)
	ids := make(map[int64]struct{})
	for _, item := range recommend {
		suite.NotContains(seen, item.ItemId)
		suite.NotContains(ids, item.ItemId)
		ids[item.ItemId] = struct{}{}
	}

	// cold start users get trending items
	coldStart, err := suite.engine.RecommendForUser(ctx, numUsers+1, 5, 0.6, 0.4)
	suite.NoError(err)
	trending, err := suite.engine.Trending(ctx, 5, newTestConfig().Recommend.Trending.Days)
	suite.NoError(err)
	suite.Equal(trending, coldStart)

	// personalized results are cached, trending results follow the clock
	key := fmt.Sprintf("recommend/%d/%d/%d/%g/%g", suite.engine.Version(), 1, 10, 0.6, 0.4)
	cachedItems, ok, err := cache.GetJSON[[]logics.ScoredItem](ctx, suite.cache, key)
	suite.NoError(err)
	suite.Equal(!lo.ContainsBy(recommend, func(item logics.ScoredItem) bool {
		return item.Type == logics.TypeTrending
	}), ok)
	if ok {
		suite.Equal(recommend, cachedItems)
	}
	key = fmt.Sprintf("recommend/%d/%d/%d/%g/%g", suite.engine.Version(), numUsers+1, 5, 0.6, 0.4)
	_, ok, err = cache.GetJSON[[]logics.ScoredItem](ctx, suite.cache, key)
	suite.NoError(err)
	suite.False(ok)
}

func (suite *EngineTestSuite) TestRankers() {
	ctx := context.Background()
	_, err := suite.engine.Rebuild(ctx)
	suite.NoError(err)

	trending, err := suite.engine.Trending(ctx, 100, 7)
	suite.NoError(err)
	suite.NotEmpty(trending)
	for _, item := range trending {
		suite.Equal(logics.TypeTrending, item.Type)
	}

	genre, err := suite.engine.ByGenre(ctx, "fantasy", 100)
	suite.NoError(err)
	suite.Len(genre, numItems/len(testGenres))
	for _, item := range genre {
		suite.Equal([]string{"Fantasy"}, item.Genres)
	}

	country, err := suite.engine.ByCountry(ctx, " us ", 100)
	suite.NoError(err)
	for _, item := range country {
		suite.Equal("US", item.CountryCode)
	}

	genres, err := suite.engine.GenreRecommendationsForUser(ctx, 1, 10)
	suite.NoError(err)
	suite.NotEmpty(genres)
}

func (suite *EngineTestSuite) TestExplain() {
	ctx := context.Background()
	_, err := suite.engine.Rebuild(ctx)
	suite.NoError(err)
	explanation, err := suite.engine.Explain(ctx, 1, 1+int64(len(testGenres)))
	suite.NoError(err)
	suite.Equal(int64(1), explanation.Item1.ItemId)
	suite.Equal([]string{testGenres[1]}, explanation.CommonGenres)
	_, err = suite.engine.Explain(ctx, 1, 1000)
	suite.True(errors.IsNotFound(err))
}

func TestEngine(t *testing.T) {
	suite.Run(t, new(EngineTestSuite))
}

func TestRebuildDeterministic(t *testing.T) {
	items, ratings, interactions := generateCatalogue()
	for _, jobs := range []int{1, 4} {
		cfg := newTestConfig()
		cfg.Recommend.Jobs = jobs
		loader := &mockLoader{items: items, ratings: ratings, interactions: interactions}
		e := NewEngine(cfg, loader, WithClock(func() time.Time { return testNow }))
		_, err := e.Rebuild(context.Background())
		assert.NoError(t, err)
		first := e.current.Load()
		_, err = e.Rebuild(context.Background())
		assert.NoError(t, err)
		second := e.current.Load()
		assert.NotSame(t, first, second)

		for i := 0; i < numItems; i++ {
			for j := 0; j < numItems; j++ {
				assert.Equal(t, first.similar.Similarity(i, j), second.similar.Similarity(i, j))
			}
		}
		assert.NotNil(t, first.nmf)
		assert.Equal(t, first.nmf.UserFactor, second.nmf.UserFactor, "jobs = %d", jobs)
		assert.Equal(t, first.nmf.ItemFactor, second.nmf.ItemFactor, "jobs = %d", jobs)
		for u := int64(1); u <= numUsers; u++ {
			a, err := first.blender.Blend(u, 10, 0.6, 0.4)
			assert.NoError(t, err)
			b, err := second.blender.Blend(u, 10, 0.6, 0.4)
			assert.NoError(t, err)
			assert.Equal(t, a, b)
		}
	}
}

func TestColdStartFollowsClock(t *testing.T) {
	items, ratings, interactions := generateCatalogue()
	db, err := cache.Open("memory://", "", time.Hour)
	assert.NoError(t, err)
	defer db.Close()
	now := testNow
	e := NewEngine(newTestConfig(), &mockLoader{items: items, ratings: ratings, interactions: interactions},
		WithCache(db), WithClock(func() time.Time { return now }))
	_, err = e.Rebuild(context.Background())
	assert.NoError(t, err)

	ctx := context.Background()
	for _, days := range []int{0, 2, 5} {
		now = testNow.AddDate(0, 0, days)
		coldStart, err := e.RecommendForUser(ctx, numUsers+1, 5, 0.6, 0.4)
		assert.NoError(t, err)
		trending, err := e.Trending(ctx, 5, newTestConfig().Recommend.Trending.Days)
		assert.NoError(t, err)
		assert.Equal(t, trending, coldStart, "%d days later", days)
	}
}

func TestEmptyCatalogue(t *testing.T) {
	e := NewEngine(newTestConfig(), &mockLoader{}, WithClock(func() time.Time { return testNow }))
	summary, err := e.Rebuild(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, StatusSuccess, summary.Status)
	assert.Zero(t, summary.ItemCount)
	assert.Equal(t, ModelFailed, summary.CollaborativeModel)
	ctx := context.Background()
	similar, err := e.Similar(ctx, 1, 5)
	assert.NoError(t, err)
	assert.Empty(t, similar)
	recommend, err := e.RecommendForUser(ctx, 1, 5, 0.6, 0.4)
	assert.NoError(t, err)
	assert.NotNil(t, recommend)
	assert.Empty(t, recommend)
	trending, err := e.Trending(ctx, 5, 7)
	assert.NoError(t, err)
	assert.Empty(t, trending)
}

func TestRebuildInProgress(t *testing.T) {
	items, ratings, interactions := generateCatalogue()
	loader := &mockLoader{
		items:        items,
		ratings:      ratings,
		interactions: interactions,
		started:      make(chan struct{}),
		block:        make(chan struct{}),
	}
	e := NewEngine(newTestConfig(), loader)
	done := make(chan error)
	go func() {
		_, err := e.Rebuild(context.Background())
		done <- err
	}()
	<-loader.started
	summary, err := e.Rebuild(context.Background())
	assert.ErrorIs(t, err, ErrRebuildInProgress)
	assert.Equal(t, StatusInProgress, summary.Status)
	close(loader.block)
	assert.NoError(t, <-done)
	assert.True(t, e.Ready())
}

func TestDataUnavailable(t *testing.T) {
	items, ratings, interactions := generateCatalogue()
	loader := &mockLoader{items: items, ratings: ratings, interactions: interactions}
	e := NewEngine(newTestConfig(), loader)

	// no generation yet
	loader.err = errors.New("connection refused")
	summary, err := e.Rebuild(context.Background())
	assert.ErrorIs(t, err, ErrDataUnavailable)
	assert.Equal(t, StatusFailed, summary.Status)
	assert.False(t, e.Ready())

	// the previous generation keeps serving
	loader.err = nil
	summary, err = e.Rebuild(context.Background())
	assert.NoError(t, err)
	loader.err = errors.New("connection refused")
	_, err = e.Rebuild(context.Background())
	assert.ErrorIs(t, err, ErrDataUnavailable)
	assert.Equal(t, summary.Version, e.Version())
	similar, err := e.Similar(context.Background(), 1, 3)
	assert.NoError(t, err)
	assert.Len(t, similar, 3)
}

func TestInvalidItemFilter(t *testing.T) {
	items, ratings, interactions := generateCatalogue()
	cfg := newTestConfig()
	cfg.Recommend.ItemFilter = "item.RatingCount + 1"
	e := NewEngine(cfg, &mockLoader{items: items, ratings: ratings, interactions: interactions})
	_, err := e.Rebuild(context.Background())
	assert.Error(t, err)
	assert.False(t, e.Ready())
}
