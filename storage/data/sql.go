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
	"database/sql"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/juju/errors"
	_ "github.com/lib/pq"
	"github.com/samber/lo"
	"github.com/taletrail/recommender/storage"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	_ "modernc.org/sqlite"
)

type SQLDriver int

const (
	MySQL SQLDriver = iota
	Postgres
	SQLite
)

type SQLItem struct {
	ItemId        int64    `gorm:"column:item_id;primaryKey;autoIncrement:false"`
	Title         string   `gorm:"column:title;type:varchar(512)"`
	Author        string   `gorm:"column:author;type:varchar(256)"`
	Description   string   `gorm:"column:description;type:text"`
	Genres        string   `gorm:"column:genres;type:text"`
	Country       string   `gorm:"column:country_name;type:varchar(128)"`
	CountryCode   string   `gorm:"column:country_code;type:varchar(8)"`
	AverageRating *float64 `gorm:"column:average_rating"`
	RatingCount   int      `gorm:"column:rating_count"`
}

func NewSQLItem(item Item) SQLItem {
	return SQLItem{
		ItemId:        item.ItemId,
		Title:         item.Title,
		Author:        item.Author,
		Description:   item.Description,
		Genres:        JoinGenres(item.Genres),
		Country:       item.Country,
		CountryCode:   item.CountryCode,
		AverageRating: item.AverageRating,
		RatingCount:   item.RatingCount,
	}
}

func (item SQLItem) ToItem() Item {
	return Item{
		ItemId:        item.ItemId,
		Title:         item.Title,
		Author:        item.Author,
		Description:   item.Description,
		Genres:        SplitGenres(item.Genres),
		Country:       item.Country,
		CountryCode:   item.CountryCode,
		AverageRating: item.AverageRating,
		RatingCount:   item.RatingCount,
	}
}

type SQLRating struct {
	UserId    int64     `gorm:"column:user_id;primaryKey;autoIncrement:false"`
	ItemId    int64     `gorm:"column:item_id;primaryKey;autoIncrement:false;index"`
	Rating    float64   `gorm:"column:rating"`
	Timestamp time.Time `gorm:"column:created_at;index"`
}

type SQLInteraction struct {
	Id        uint64    `gorm:"column:id;primaryKey"`
	UserId    int64     `gorm:"column:user_id;index"`
	ItemId    int64     `gorm:"column:item_id"`
	Type      string    `gorm:"column:interaction_type;type:varchar(64)"`
	Timestamp time.Time `gorm:"column:created_at;index"`
}

// SQLDatabase use MySQL, Postgres or SQLite as data storage.
type SQLDatabase struct {
	storage.TablePrefix
	gormDB *gorm.DB
	client *sql.DB
	driver SQLDriver
}

// Init tables and indices.
func (d *SQLDatabase) Init() error {
	db := d.gormDB
	if d.driver == MySQL {
		db = db.Set("gorm:table_options", "ENGINE=InnoDB")
	}
	if err := db.AutoMigrate(SQLItem{}, SQLRating{}, SQLInteraction{}); err != nil {
		return errors.Trace(err)
	}
	return nil
}

func (d *SQLDatabase) Ping() error {
	return d.client.Ping()
}

// Close connection.
func (d *SQLDatabase) Close() error {
	return d.client.Close()
}

// Purge deletes all rows.
func (d *SQLDatabase) Purge() error {
	for _, table := range []string{d.ItemsTable(), d.RatingsTable(), d.InteractionsTable()} {
		if err := d.gormDB.Exec("DELETE FROM " + table).Error; err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// BatchInsertItems inserts items. Existing items are overwritten.
func (d *SQLDatabase) BatchInsertItems(ctx context.Context, items []Item) error {
	if len(items) == 0 {
		return nil
	}
	rows := lo.Map(items, func(item Item, _ int) SQLItem {
		return NewSQLItem(item)
	})
	err := d.gormDB.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&rows).Error
	return errors.Trace(err)
}

// BatchInsertRatings inserts ratings. A rating of the same user and item is overwritten.
func (d *SQLDatabase) BatchInsertRatings(ctx context.Context, ratings []Rating) error {
	if len(ratings) == 0 {
		return nil
	}
	rows := lo.Map(ratings, func(rating Rating, _ int) SQLRating {
		return SQLRating{
			UserId:    rating.UserId,
			ItemId:    rating.ItemId,
			Rating:    rating.Rating,
			Timestamp: rating.Timestamp,
		}
	})
	err := d.gormDB.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&rows).Error
	return errors.Trace(err)
}

// BatchInsertInteractions appends interactions.
func (d *SQLDatabase) BatchInsertInteractions(ctx context.Context, interactions []Interaction) error {
	if len(interactions) == 0 {
		return nil
	}
	rows := lo.Map(interactions, func(interaction Interaction, _ int) SQLInteraction {
		return SQLInteraction{
			UserId:    interaction.UserId,
			ItemId:    interaction.ItemId,
			Type:      interaction.Type,
			Timestamp: interaction.Timestamp,
		}
	})
	err := d.gormDB.WithContext(ctx).Create(&rows).Error
	return errors.Trace(err)
}

// LoadItems returns all items ordered by id.
func (d *SQLDatabase) LoadItems(ctx context.Context) ([]Item, error) {
	var rows []SQLItem
	if err := d.gormDB.WithContext(ctx).Order("item_id").Find(&rows).Error; err != nil {
		return nil, errors.Trace(err)
	}
	return lo.Map(rows, func(row SQLItem, _ int) Item {
		return row.ToItem()
	}), nil
}

// LoadRatings returns all ratings ordered by user and item.
func (d *SQLDatabase) LoadRatings(ctx context.Context) ([]Rating, error) {
	var rows []SQLRating
	if err := d.gormDB.WithContext(ctx).Order("user_id, item_id").Find(&rows).Error; err != nil {
		return nil, errors.Trace(err)
	}
	return lo.Map(rows, func(row SQLRating, _ int) Rating {
		return Rating{
			UserId:    row.UserId,
			ItemId:    row.ItemId,
			Rating:    row.Rating,
			Timestamp: row.Timestamp.In(time.UTC),
		}
	}), nil
}

// LoadInteractions returns all interactions in insertion order.
func (d *SQLDatabase) LoadInteractions(ctx context.Context) ([]Interaction, error) {
	var rows []SQLInteraction
	if err := d.gormDB.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, errors.Trace(err)
	}
	return lo.Map(rows, func(row SQLInteraction, _ int) Interaction {
		return Interaction{
			UserId:    row.UserId,
			ItemId:    row.ItemId,
			Type:      row.Type,
			Timestamp: row.Timestamp.In(time.UTC),
		}
	}), nil
}
