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

	"github.com/jellydator/ttlcache/v3"
	"github.com/juju/errors"
	"github.com/taletrail/recommender/storage"
)

// Memory is an in-process cache.
type Memory struct {
	storage.TablePrefix
	cache *ttlcache.Cache[string, []byte]
}

func (m *Memory) Ping() error {
	return nil
}

// Close stops the expiration loop.
func (m *Memory) Close() error {
	m.cache.Stop()
	return nil
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	item := m.cache.Get(m.Key(key))
	if item == nil {
		return nil, errors.Annotate(ErrObjectNotExist, key)
	}
	return item.Value(), nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte) error {
	m.cache.Set(m.Key(key), value, ttlcache.DefaultTTL)
	return nil
}
