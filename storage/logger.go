// Copyright 2022 gorse Project Authors
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

package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/juju/errors"
	"github.com/taletrail/recommender/base/log"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const slowThreshold = 10 * time.Second

// GORMLogger forwards gorm logs to the global zap logger.
type GORMLogger struct {
	level logger.LogLevel
}

func NewGORMLogger() *GORMLogger {
	return &GORMLogger{level: logger.Warn}
}

func (l *GORMLogger) LogMode(level logger.LogLevel) logger.Interface {
	return &GORMLogger{level: level}
}

func (l *GORMLogger) Info(_ context.Context, msg string, args ...interface{}) {
	if l.level >= logger.Info {
		log.Logger().Info(fmt.Sprintf(msg, args...))
	}
}

func (l *GORMLogger) Warn(_ context.Context, msg string, args ...interface{}) {
	if l.level >= logger.Warn {
		log.Logger().Warn(fmt.Sprintf(msg, args...))
	}
}

func (l *GORMLogger) Error(_ context.Context, msg string, args ...interface{}) {
	if l.level >= logger.Error {
		log.Logger().Error(fmt.Sprintf(msg, args...))
	}
}

func (l *GORMLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= logger.Silent {
		return
	}
	elapsed := time.Since(begin)
	switch {
	case err != nil && l.level >= logger.Error && !errors.Is(err, gorm.ErrRecordNotFound):
		sql, rows := fc()
		log.Logger().Error("failed to execute sql", zap.Error(err),
			zap.Duration("elapsed", elapsed), zap.Int64("rows", rows), zap.String("sql", sql))
	case elapsed > slowThreshold && l.level >= logger.Warn:
		sql, rows := fc()
		log.Logger().Warn("slow sql", zap.Duration("elapsed", elapsed),
			zap.Int64("rows", rows), zap.String("sql", sql))
	case l.level >= logger.Info:
		sql, rows := fc()
		log.Logger().Debug("execute sql", zap.Duration("elapsed", elapsed),
			zap.Int64("rows", rows), zap.String("sql", sql))
	}
}
