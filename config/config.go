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

package config

import (
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/juju/errors"
	"github.com/spf13/viper"
	"github.com/taletrail/recommender/base/log"
	"github.com/taletrail/recommender/logics"
	"github.com/taletrail/recommender/model"
	"github.com/taletrail/recommender/model/feature"
	"github.com/taletrail/recommender/storage"
	"go.uber.org/zap"
)

// Config is the configuration for the recommender.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Server    ServerConfig    `mapstructure:"server"`
	Recommend RecommendConfig `mapstructure:"recommend"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
}

// DatabaseConfig is the configuration for the data store and the result cache.
type DatabaseConfig struct {
	DataStore      string        `mapstructure:"data_store" validate:"required,data_store"`
	CacheStore     string        `mapstructure:"cache_store" validate:"omitempty,cache_store"`
	TablePrefix    string        `mapstructure:"table_prefix"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl" validate:"gte=0"`
	ConnectRetries uint          `mapstructure:"connect_retries"`
}

// ServerConfig is the configuration for the REST server.
type ServerConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port" validate:"gte=0,lte=65535"`
	APIKey   string `mapstructure:"api_key"`
	DefaultN int    `mapstructure:"default_n" validate:"gt=0"`
}

type RecommendConfig struct {
	Jobs          int                 `mapstructure:"jobs" validate:"gt=0"`
	RebuildPeriod time.Duration       `mapstructure:"rebuild_period" validate:"gte=0"`
	ItemFilter    string              `mapstructure:"item_filter"`
	Feature       feature.Config      `mapstructure:"feature"`
	Similarity    SimilarityConfig    `mapstructure:"similarity"`
	Content       ContentConfig       `mapstructure:"content"`
	Collaborative CollaborativeConfig `mapstructure:"collaborative"`
	Blend         BlendConfig         `mapstructure:"blend"`
	Trending      TrendingConfig      `mapstructure:"trending"`
}

type SimilarityConfig struct {
	MaxCachedItems int `mapstructure:"max_cached_items" validate:"gte=0"`
}

type ContentConfig struct {
	LikeThreshold       float64  `mapstructure:"like_threshold"`
	CandidateMultiplier int      `mapstructure:"candidate_multiplier" validate:"gte=2"`
	Strategy            string   `mapstructure:"strategy" validate:"oneof=accumulate best_match"`
	GenreBonus          float64  `mapstructure:"genre_bonus" validate:"gte=0"`
	FavoriteTypes       []string `mapstructure:"favorite_types"`
}

func (c *ContentConfig) ContentConfig() logics.ContentConfig {
	return logics.ContentConfig{
		LikeThreshold:       c.LikeThreshold,
		CandidateMultiplier: c.CandidateMultiplier,
		Strategy:            c.Strategy,
		GenreBonus:          c.GenreBonus,
	}
}

type CollaborativeConfig struct {
	Enable      bool    `mapstructure:"enable"`
	NFactors    int     `mapstructure:"n_factors" validate:"gt=0"`
	NEpochs     int     `mapstructure:"n_epochs" validate:"gt=0"`
	RandomState int64   `mapstructure:"random_state"`
	Tol         float32 `mapstructure:"tol" validate:"gte=0"`
	MinRatings  int     `mapstructure:"min_ratings" validate:"gte=0"`
}

func (c *CollaborativeConfig) GetParams() model.Params {
	return model.Params{
		model.NFactors:    c.NFactors,
		model.NEpochs:     c.NEpochs,
		model.RandomState: c.RandomState,
		model.Tol:         c.Tol,
		model.MinRatings:  c.MinRatings,
	}
}

type BlendConfig struct {
	ContentWeight       float64 `mapstructure:"content_weight" validate:"gte=0"`
	CollaborativeWeight float64 `mapstructure:"collaborative_weight" validate:"gte=0"`
}

type TrendingConfig struct {
	Days int `mapstructure:"days" validate:"gt=0"`
}

func GetDefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			CacheTTL:       time.Hour,
			ConnectRetries: 5,
		},
		Server: ServerConfig{
			Host:     "0.0.0.0",
			Port:     8087,
			DefaultN: 10,
		},
		Recommend: RecommendConfig{
			Jobs:    1,
			Feature: feature.DefaultConfig(),
			Similarity: SimilarityConfig{
				MaxCachedItems: 5000,
			},
			Content: ContentConfig{
				LikeThreshold:       4,
				CandidateMultiplier: 3,
				Strategy:            logics.StrategyAccumulate,
				GenreBonus:          0.2,
				FavoriteTypes:       []string{"favorite"},
			},
			Collaborative: CollaborativeConfig{
				Enable:      true,
				NFactors:    50,
				NEpochs:     200,
				RandomState: 42,
				Tol:         1e-4,
				MinRatings:  1,
			},
			Blend: BlendConfig{
				ContentWeight:       0.6,
				CollaborativeWeight: 0.4,
			},
			Trending: TrendingConfig{
				Days: 7,
			},
		},
		Tracing: TracingConfig{
			Exporter: "otlp",
			Sampler:  "always",
			Ratio:    1,
		},
	}
}

func setDefault(v *viper.Viper) {
	defaultConfig := GetDefaultConfig()
	// [database]
	v.SetDefault("database.cache_ttl", defaultConfig.Database.CacheTTL)
	v.SetDefault("database.connect_retries", defaultConfig.Database.ConnectRetries)
	// [server]
	v.SetDefault("server.host", defaultConfig.Server.Host)
	v.SetDefault("server.port", defaultConfig.Server.Port)
	v.SetDefault("server.default_n", defaultConfig.Server.DefaultN)
	// [recommend]
	v.SetDefault("recommend.jobs", defaultConfig.Recommend.Jobs)
	// [recommend.feature]
	v.SetDefault("recommend.feature.genre_weight", defaultConfig.Recommend.Feature.GenreWeight)
	v.SetDefault("recommend.feature.text_weight", defaultConfig.Recommend.Feature.TextWeight)
	v.SetDefault("recommend.feature.author_weight", defaultConfig.Recommend.Feature.AuthorWeight)
	v.SetDefault("recommend.feature.country_weight", defaultConfig.Recommend.Feature.CountryWeight)
	v.SetDefault("recommend.feature.rating_weight", defaultConfig.Recommend.Feature.RatingWeight)
	v.SetDefault("recommend.feature.max_text_features", defaultConfig.Recommend.Feature.MaxTextFeatures)
	v.SetDefault("recommend.feature.min_df", defaultConfig.Recommend.Feature.MinDF)
	v.SetDefault("recommend.feature.top_authors", defaultConfig.Recommend.Feature.TopAuthors)
	// [recommend.similarity]
	v.SetDefault("recommend.similarity.max_cached_items", defaultConfig.Recommend.Similarity.MaxCachedItems)
	// [recommend.content]
	v.SetDefault("recommend.content.like_threshold", defaultConfig.Recommend.Content.LikeThreshold)
	v.SetDefault("recommend.content.candidate_multiplier", defaultConfig.Recommend.Content.CandidateMultiplier)
	v.SetDefault("recommend.content.strategy", defaultConfig.Recommend.Content.Strategy)
	v.SetDefault("recommend.content.genre_bonus", defaultConfig.Recommend.Content.GenreBonus)
	v.SetDefault("recommend.content.favorite_types", defaultConfig.Recommend.Content.FavoriteTypes)
	// [recommend.collaborative]
	v.SetDefault("recommend.collaborative.enable", defaultConfig.Recommend.Collaborative.Enable)
	v.SetDefault("recommend.collaborative.n_factors", defaultConfig.Recommend.Collaborative.NFactors)
	v.SetDefault("recommend.collaborative.n_epochs", defaultConfig.Recommend.Collaborative.NEpochs)
	v.SetDefault("recommend.collaborative.random_state", defaultConfig.Recommend.Collaborative.RandomState)
	v.SetDefault("recommend.collaborative.tol", defaultConfig.Recommend.Collaborative.Tol)
	v.SetDefault("recommend.collaborative.min_ratings", defaultConfig.Recommend.Collaborative.MinRatings)
	// [recommend.blend]
	v.SetDefault("recommend.blend.content_weight", defaultConfig.Recommend.Blend.ContentWeight)
	v.SetDefault("recommend.blend.collaborative_weight", defaultConfig.Recommend.Blend.CollaborativeWeight)
	// [recommend.trending]
	v.SetDefault("recommend.trending.days", defaultConfig.Recommend.Trending.Days)
	// [tracing]
	v.SetDefault("tracing.exporter", defaultConfig.Tracing.Exporter)
	v.SetDefault("tracing.sampler", defaultConfig.Tracing.Sampler)
	v.SetDefault("tracing.ratio", defaultConfig.Tracing.Ratio)
}

type configBinding struct {
	key string
	env string
}

var bindings = []configBinding{
	{"database.data_store", "TALETRAIL_DATA_STORE"},
	{"database.cache_store", "TALETRAIL_CACHE_STORE"},
	{"database.table_prefix", "TALETRAIL_TABLE_PREFIX"},
	{"server.host", "TALETRAIL_SERVER_HOST"},
	{"server.port", "TALETRAIL_SERVER_PORT"},
	{"server.api_key", "TALETRAIL_SERVER_API_KEY"},
}

// LoadDotEnv exports variables in a dotenv file that are not set in the environment.
// A missing file is ignored.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("dotenv")
	if err := v.ReadInConfig(); err != nil {
		return errors.Trace(err)
	}
	for _, key := range v.AllKeys() {
		env := strings.ToUpper(key)
		if _, exist := os.LookupEnv(env); !exist {
			if err := os.Setenv(env, v.GetString(key)); err != nil {
				return errors.Trace(err)
			}
		}
	}
	return nil
}

// LoadConfig loads configuration from a TOML file. Environment variables override
// the file and the .env file in the working directory fills unset variables.
func LoadConfig(path string) (*Config, error) {
	if err := LoadDotEnv(".env"); err != nil {
		return nil, errors.Annotate(err, "failed to load .env")
	}
	v := viper.New()
	setDefault(v)
	for _, binding := range bindings {
		if err := v.BindEnv(binding.key, binding.env); err != nil {
			log.Logger().Fatal("failed to bind a Viper key to a ENV variable", zap.Error(err))
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Trace(err)
		}
	}
	var conf Config
	if err := v.Unmarshal(&conf, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, errors.Trace(err)
	}
	if err := conf.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &conf, nil
}

func (config *Config) Validate() error {
	validate := validator.New()
	if err := validate.RegisterValidation("data_store", func(fl validator.FieldLevel) bool {
		prefixes := []string{
			storage.MySQLPrefix,
			storage.PostgresPrefix,
			storage.PostgreSQLPrefix,
			storage.MongoPrefix,
			storage.MongoSrvPrefix,
			storage.SQLitePrefix,
		}
		return hasAnyPrefix(fl.Field().String(), prefixes)
	}); err != nil {
		return errors.Trace(err)
	}
	if err := validate.RegisterValidation("cache_store", func(fl validator.FieldLevel) bool {
		prefixes := []string{
			storage.MemoryPrefix,
			storage.RedisPrefix,
			storage.RedissPrefix,
		}
		return hasAnyPrefix(fl.Field().String(), prefixes)
	}); err != nil {
		return errors.Trace(err)
	}
	return validate.Struct(config)
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}
