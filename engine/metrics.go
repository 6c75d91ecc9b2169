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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	LabelStep      = "step"
	LabelOperation = "operation"
)

var (
	RebuildStepSecondsVec = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "taletrail",
		Subsystem: "engine",
		Name:      "rebuild_step_seconds",
	}, []string{LabelStep})
	RebuildTotalSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "taletrail",
		Subsystem: "engine",
		Name:      "rebuild_total_seconds",
	})
	RebuildFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "taletrail",
		Subsystem: "engine",
		Name:      "rebuild_failures_total",
	})
	GenerationItems = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "taletrail",
		Subsystem: "engine",
		Name:      "generation_items",
	})
	GenerationRatings = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "taletrail",
		Subsystem: "engine",
		Name:      "generation_ratings",
	})
	GenerationInteractions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "taletrail",
		Subsystem: "engine",
		Name:      "generation_interactions",
	})
	QueriesTotalVec = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "taletrail",
		Subsystem: "engine",
		Name:      "queries_total",
	}, []string{LabelOperation})
	CacheHitsTotalVec = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "taletrail",
		Subsystem: "engine",
		Name:      "cache_hits_total",
	}, []string{LabelOperation})
)
