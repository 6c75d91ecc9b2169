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

	"github.com/juju/errors"
)

// NoDatabase disables caching: every read misses and every write is dropped.
type NoDatabase struct{}

func (NoDatabase) Ping() error {
	return nil
}

func (NoDatabase) Close() error {
	return nil
}

func (NoDatabase) Get(_ context.Context, key string) ([]byte, error) {
	return nil, errors.Annotate(ErrObjectNotExist, key)
}

func (NoDatabase) Set(_ context.Context, _ string, _ []byte) error {
	return nil
}
