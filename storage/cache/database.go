// Copyright 2021 gorse Project Authors
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

package cache

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/juju/errors"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"github.com/taletrail/recommender/storage"
)

var ErrObjectNotExist = errors.NotFoundf("object")

// Database caches serialized recommendation results. Every value expires after the
// TTL given to Open.
type Database interface {
	Ping() error
	Close() error
	// Get returns ErrObjectNotExist if the key is absent or expired.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}

// Open a cache. An empty path disables caching.
func Open(path, tablePrefix string, ttl time.Duration) (Database, error) {
	if path == "" {
		return NoDatabase{}, nil
	} else if strings.HasPrefix(path, storage.MemoryPrefix) {
		cache := ttlcache.New[string, []byte](
			ttlcache.WithTTL[string, []byte](ttl),
			ttlcache.WithDisableTouchOnHit[string, []byte](),
		)
		go cache.Start()
		return &Memory{TablePrefix: storage.TablePrefix(tablePrefix), cache: cache}, nil
	} else if strings.HasPrefix(path, storage.RedisPrefix) || strings.HasPrefix(path, storage.RedissPrefix) {
		opt, err := redis.ParseURL(path)
		if err != nil {
			return nil, errors.Trace(err)
		}
		database := new(Redis)
		database.client = redis.NewClient(opt)
		database.TablePrefix = storage.TablePrefix(tablePrefix)
		database.ttl = ttl
		if err = redisotel.InstrumentTracing(database.client); err != nil {
			return nil, errors.Trace(err)
		}
		return database, nil
	}
	return nil, errors.Errorf("Unknown database: %s", path)
}

// GetJSON reads a cached value and decodes it into T. The boolean is false on a miss.
func GetJSON[T any](ctx context.Context, database Database, key string) (T, bool, error) {
	var value T
	data, err := database.Get(ctx, key)
	if errors.Is(err, ErrObjectNotExist) {
		return value, false, nil
	} else if err != nil {
		return value, false, errors.Trace(err)
	}
	if err = json.Unmarshal(data, &value); err != nil {
		return value, false, errors.Trace(err)
	}
	return value, true, nil
}

// SetJSON encodes value and stores it.
func SetJSON[T any](ctx context.Context, database Database, key string, value T) error {
	data, err := json.Marshal(value)
	if err != nil {
		return errors.Trace(err)
	}
	return database.Set(ctx, key, data)
}
