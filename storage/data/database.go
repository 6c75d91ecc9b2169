// Copyright 2020 gorse Project Authors
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

package data

import (
	"context"
	"strings"
	"time"

	"github.com/XSAM/otelsql"
	"github.com/cenkalti/backoff/v5"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"github.com/taletrail/recommender/base/log"
	"github.com/taletrail/recommender/storage"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/x/mongo/driver/connstring"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"
	semconv "go.opentelemetry.io/otel/semconv/v1.12.0"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var (
	ErrItemNotExist = errors.NotFoundf("item")
	ErrNoDatabase   = errors.NotAssignedf("database")
)

// Item stores meta data about a book.
type Item struct {
	ItemId        int64    `json:"item_id" bson:"_id"`
	Title         string   `json:"title" bson:"title"`
	Author        string   `json:"author" bson:"author"`
	Description   string   `json:"description" bson:"description"`
	Genres        []string `json:"genres" bson:"genres"`
	Country       string   `json:"country" bson:"country"`
	CountryCode   string   `json:"country_code" bson:"country_code"`
	AverageRating *float64 `json:"average_rating" bson:"average_rating"`
	RatingCount   int      `json:"rating_count" bson:"rating_count"`
}

// Rating is an explicit 1-5 score given by a user to an item.
type Rating struct {
	UserId    int64     `json:"user_id" bson:"user_id"`
	ItemId    int64     `json:"item_id" bson:"item_id"`
	Rating    float64   `json:"rating" bson:"rating"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
}

// Interaction is an implicit event such as a view or a favorite.
type Interaction struct {
	UserId    int64     `json:"user_id" bson:"user_id"`
	ItemId    int64     `json:"item_id" bson:"item_id"`
	Type      string    `json:"type" bson:"type"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
}

// SplitGenres splits comma separated genre tags. Tags are trimmed and empty tags dropped.
func SplitGenres(s string) []string {
	var genres []string
	for _, genre := range strings.Split(s, ",") {
		if genre = strings.TrimSpace(genre); genre != "" {
			genres = append(genres, genre)
		}
	}
	return genres
}

// JoinGenres is the inverse of SplitGenres.
func JoinGenres(genres []string) string {
	return strings.Join(genres, ",")
}

// Database is the source of items, ratings and interactions. Loading is the only
// operation used when serving, the rest exist for schema setup and seeding.
type Database interface {
	Init() error
	Ping() error
	Close() error
	Purge() error
	BatchInsertItems(ctx context.Context, items []Item) error
	BatchInsertRatings(ctx context.Context, ratings []Rating) error
	BatchInsertInteractions(ctx context.Context, interactions []Interaction) error
	LoadItems(ctx context.Context) ([]Item, error)
	LoadRatings(ctx context.Context) ([]Rating, error)
	LoadInteractions(ctx context.Context) ([]Interaction, error)
}

// Open a connection to a database.
func Open(path, tablePrefix string) (Database, error) {
	var err error
	if strings.HasPrefix(path, storage.MySQLPrefix) {
		name := path[len(storage.MySQLPrefix):]
		// append parameters
		if name, err = storage.AppendMySQLParams(name, map[string]string{
			"sql_mode":  "'ONLY_FULL_GROUP_BY,STRICT_TRANS_TABLES,ERROR_FOR_DIVISION_BY_ZERO,NO_ENGINE_SUBSTITUTION'",
			"parseTime": "true",
		}); err != nil {
			return nil, errors.Trace(err)
		}
		// connect to database
		database := new(SQLDatabase)
		database.driver = MySQL
		database.TablePrefix = storage.TablePrefix(tablePrefix)
		if database.client, err = otelsql.Open("mysql", name,
			otelsql.WithAttributes(semconv.DBSystemMySQL),
			otelsql.WithSpanOptions(otelsql.SpanOptions{DisableErrSkip: true}),
		); err != nil {
			return nil, errors.Trace(err)
		}
		database.gormDB, err = gorm.Open(mysql.New(mysql.Config{Conn: database.client}), storage.NewGORMConfig(tablePrefix))
		if err != nil {
			return nil, errors.Trace(err)
		}
		return database, nil
	} else if strings.HasPrefix(path, storage.PostgresPrefix) || strings.HasPrefix(path, storage.PostgreSQLPrefix) {
		database := new(SQLDatabase)
		database.driver = Postgres
		database.TablePrefix = storage.TablePrefix(tablePrefix)
		if database.client, err = otelsql.Open("postgres", path,
			otelsql.WithAttributes(semconv.DBSystemPostgreSQL),
			otelsql.WithSpanOptions(otelsql.SpanOptions{DisableErrSkip: true}),
		); err != nil {
			return nil, errors.Trace(err)
		}
		database.gormDB, err = gorm.Open(postgres.New(postgres.Config{Conn: database.client}), storage.NewGORMConfig(tablePrefix))
		if err != nil {
			return nil, errors.Trace(err)
		}
		return database, nil
	} else if strings.HasPrefix(path, storage.MongoPrefix) || strings.HasPrefix(path, storage.MongoSrvPrefix) {
		// connect to database
		database := new(MongoDB)
		opts := options.Client()
		opts.Monitor = otelmongo.NewMonitor()
		opts.ApplyURI(path)
		if database.client, err = mongo.Connect(context.Background(), opts); err != nil {
			return nil, errors.Trace(err)
		}
		// parse DSN and extract database name
		if cs, err := connstring.ParseAndValidate(path); err != nil {
			return nil, errors.Trace(err)
		} else {
			database.dbName = cs.Database
			database.TablePrefix = storage.TablePrefix(tablePrefix)
		}
		return database, nil
	} else if strings.HasPrefix(path, storage.SQLitePrefix) {
		// append parameters
		if path, err = storage.AppendURLParams(path, []lo.Tuple2[string, string]{
			{A: "_pragma", B: "busy_timeout(10000)"},
			{A: "_pragma", B: "journal_mode(wal)"},
		}); err != nil {
			return nil, errors.Trace(err)
		}
		// connect to database
		name := path[len(storage.SQLitePrefix):]
		database := new(SQLDatabase)
		database.driver = SQLite
		database.TablePrefix = storage.TablePrefix(tablePrefix)
		if database.client, err = otelsql.Open("sqlite", name,
			otelsql.WithAttributes(semconv.DBSystemSqlite),
			otelsql.WithSpanOptions(otelsql.SpanOptions{DisableErrSkip: true}),
		); err != nil {
			return nil, errors.Trace(err)
		}
		database.gormDB, err = gorm.Open(sqlite.Dialector{Conn: database.client}, storage.NewGORMConfig(tablePrefix))
		if err != nil {
			return nil, errors.Trace(err)
		}
		return database, nil
	}
	return nil, errors.Errorf("Unknown database: %s", path)
}

// Connect opens a database and waits until it answers a ping. Pings are retried
// with exponential backoff at most maxTries times.
func Connect(ctx context.Context, path, tablePrefix string, maxTries uint) (Database, error) {
	database, err := Open(path, tablePrefix)
	if err != nil {
		return nil, errors.Trace(err)
	}
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		if err := database.Ping(); err != nil {
			log.Logger().Warn("data store is not ready",
				zap.String("data_store", log.RedactDBURL(path)), zap.Error(err))
			return struct{}{}, err
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(maxTries))
	if err != nil {
		_ = database.Close()
		return nil, errors.Annotate(err, "failed to connect data store")
	}
	return database, nil
}
