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
	"time"

	"github.com/juju/errors"
	"github.com/taletrail/recommender/storage"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoDB is the data storage based on MongoDB.
type MongoDB struct {
	storage.TablePrefix
	client *mongo.Client
	dbName string
}

// Init collections and indices in MongoDB.
func (db *MongoDB) Init() error {
	ctx := context.Background()
	d := db.client.Database(db.dbName)
	// list collections
	collections, err := d.ListCollectionNames(ctx, bson.M{})
	if err != nil {
		return errors.Trace(err)
	}
	exists := make(map[string]struct{}, len(collections))
	for _, name := range collections {
		exists[name] = struct{}{}
	}
	// create collections
	for _, name := range []string{db.ItemsTable(), db.RatingsTable(), db.InteractionsTable()} {
		if _, ok := exists[name]; !ok {
			if err = d.CreateCollection(ctx, name); err != nil {
				return errors.Trace(err)
			}
		}
	}
	// create index
	_, err = d.Collection(db.RatingsTable()).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "item_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return errors.Trace(err)
	}
	_, err = d.Collection(db.InteractionsTable()).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.M{"timestamp": 1},
	})
	return errors.Trace(err)
}

func (db *MongoDB) Ping() error {
	return db.client.Ping(context.Background(), nil)
}

// Close connection to MongoDB.
func (db *MongoDB) Close() error {
	return db.client.Disconnect(context.Background())
}

// Purge deletes all documents.
func (db *MongoDB) Purge() error {
	ctx := context.Background()
	d := db.client.Database(db.dbName)
	for _, name := range []string{db.ItemsTable(), db.RatingsTable(), db.InteractionsTable()} {
		if _, err := d.Collection(name).DeleteMany(ctx, bson.M{}); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// BatchInsertItems upserts items by id.
func (db *MongoDB) BatchInsertItems(ctx context.Context, items []Item) error {
	if len(items) == 0 {
		return nil
	}
	c := db.client.Database(db.dbName).Collection(db.ItemsTable())
	var models []mongo.WriteModel
	for _, item := range items {
		models = append(models, mongo.NewReplaceOneModel().
			SetUpsert(true).
			SetFilter(bson.M{"_id": item.ItemId}).
			SetReplacement(item))
	}
	_, err := c.BulkWrite(ctx, models)
	return errors.Trace(err)
}

// BatchInsertRatings upserts ratings by user and item.
func (db *MongoDB) BatchInsertRatings(ctx context.Context, ratings []Rating) error {
	if len(ratings) == 0 {
		return nil
	}
	c := db.client.Database(db.dbName).Collection(db.RatingsTable())
	var models []mongo.WriteModel
	for _, rating := range ratings {
		models = append(models, mongo.NewReplaceOneModel().
			SetUpsert(true).
			SetFilter(bson.M{"user_id": rating.UserId, "item_id": rating.ItemId}).
			SetReplacement(rating))
	}
	_, err := c.BulkWrite(ctx, models)
	return errors.Trace(err)
}

// BatchInsertInteractions appends interactions.
func (db *MongoDB) BatchInsertInteractions(ctx context.Context, interactions []Interaction) error {
	if len(interactions) == 0 {
		return nil
	}
	c := db.client.Database(db.dbName).Collection(db.InteractionsTable())
	docs := make([]interface{}, len(interactions))
	for i := range interactions {
		docs[i] = interactions[i]
	}
	_, err := c.InsertMany(ctx, docs)
	return errors.Trace(err)
}

// LoadItems returns all items ordered by id.
func (db *MongoDB) LoadItems(ctx context.Context) ([]Item, error) {
	c := db.client.Database(db.dbName).Collection(db.ItemsTable())
	r, err := c.Find(ctx, bson.M{}, options.Find().SetSort(bson.M{"_id": 1}))
	if err != nil {
		return nil, errors.Trace(err)
	}
	var items []Item
	if err = r.All(ctx, &items); err != nil {
		return nil, errors.Trace(err)
	}
	return items, nil
}

// LoadRatings returns all ratings ordered by user and item.
func (db *MongoDB) LoadRatings(ctx context.Context) ([]Rating, error) {
	c := db.client.Database(db.dbName).Collection(db.RatingsTable())
	r, err := c.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "user_id", Value: 1}, {Key: "item_id", Value: 1}}))
	if err != nil {
		return nil, errors.Trace(err)
	}
	var ratings []Rating
	if err = r.All(ctx, &ratings); err != nil {
		return nil, errors.Trace(err)
	}
	for i := range ratings {
		ratings[i].Timestamp = ratings[i].Timestamp.In(time.UTC)
	}
	return ratings, nil
}

// LoadInteractions returns all interactions in insertion order.
func (db *MongoDB) LoadInteractions(ctx context.Context) ([]Interaction, error) {
	c := db.client.Database(db.dbName).Collection(db.InteractionsTable())
	r, err := c.Find(ctx, bson.M{}, options.Find().SetSort(bson.M{"_id": 1}))
	if err != nil {
		return nil, errors.Trace(err)
	}
	var interactions []Interaction
	if err = r.All(ctx, &interactions); err != nil {
		return nil, errors.Trace(err)
	}
	for i := range interactions {
		interactions[i].Timestamp = interactions[i].Timestamp.In(time.UTC)
	}
	return interactions, nil
}
