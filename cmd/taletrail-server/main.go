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

package main

import (
	"context"
	"fmt"
	_ "net/http/pprof"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/taletrail/recommender/base/log"
	"github.com/taletrail/recommender/cmd/version"
	"github.com/taletrail/recommender/config"
	"github.com/taletrail/recommender/engine"
	"github.com/taletrail/recommender/server"
	"github.com/taletrail/recommender/storage/cache"
	"github.com/taletrail/recommender/storage/data"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

var serverCommand = &cobra.Command{
	Use:   "taletrail-server",
	Short: "The recommendation server of TaleTrail.",
	Run: func(cmd *cobra.Command, args []string) {
		// show version
		if showVersion, _ := cmd.PersistentFlags().GetBool("version"); showVersion {
			fmt.Println(version.BuildInfo())
			return
		}
		// setup logger
		debug, _ := cmd.PersistentFlags().GetBool("debug")
		log.SetLogger(cmd.PersistentFlags(), debug)

		configPath, _ := cmd.PersistentFlags().GetString("config")
		log.Logger().Info("load config", zap.String("config", configPath))
		cfg, err := config.LoadConfig(configPath)
		if err != nil {
			log.Logger().Fatal("failed to load config", zap.Error(err))
		}

		// setup trace provider
		tp, err := cfg.Tracing.NewTracerProvider()
		if err != nil {
			log.Logger().Fatal("failed to create trace provider", zap.Error(err))
		}
		otel.SetTracerProvider(tp)
		otel.SetErrorHandler(log.GetErrorHandler())
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
		if sdk, ok := tp.(*tracesdk.TracerProvider); ok {
			defer func() {
				if err := sdk.Shutdown(context.Background()); err != nil {
					log.Logger().Error("failed to flush traces", zap.Error(err))
				}
			}()
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		database, err := data.Connect(ctx, cfg.Database.DataStore, cfg.Database.TablePrefix, cfg.Database.ConnectRetries)
		if err != nil {
			log.Logger().Fatal("failed to connect data store", zap.Error(err),
				zap.String("data_store", log.RedactDBURL(cfg.Database.DataStore)))
		}
		defer database.Close()
		if initSchema, _ := cmd.PersistentFlags().GetBool("init-schema"); initSchema {
			if err = database.Init(); err != nil {
				log.Logger().Fatal("failed to init data store", zap.Error(err))
			}
		}
		cacheStore, err := cache.Open(cfg.Database.CacheStore, cfg.Database.TablePrefix, cfg.Database.CacheTTL)
		if err != nil {
			log.Logger().Fatal("failed to open cache store", zap.Error(err),
				zap.String("cache_store", log.RedactDBURL(cfg.Database.CacheStore)))
		}
		defer cacheStore.Close()

		e := engine.NewEngine(cfg, database, engine.WithCache(cacheStore))
		if _, err = e.Rebuild(ctx); err != nil {
			log.Logger().Error("initial rebuild failed, serving empty results until the next rebuild", zap.Error(err))
		}
		if cfg.Recommend.RebuildPeriod > 0 {
			go e.Schedule(ctx, cfg.Recommend.RebuildPeriod)
		}

		s := server.NewRestServer(e, cfg)
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := s.Shutdown(shutdownCtx); err != nil {
				log.Logger().Error("failed to shutdown http server", zap.Error(err))
			}
		}()
		if err = s.StartHttpServer(); err != nil {
			log.Logger().Fatal("failed to start http server", zap.Error(err))
		}
	},
}

func init() {
	log.AddFlags(serverCommand.PersistentFlags())
	serverCommand.PersistentFlags().BoolP("version", "v", false, "taletrail version")
	serverCommand.PersistentFlags().StringP("config", "c", "", "configuration file path")
	serverCommand.PersistentFlags().Bool("debug", false, "use debug log mode")
	serverCommand.PersistentFlags().Bool("init-schema", true, "create tables or collections if missing")
}

func main() {
	if err := serverCommand.Execute(); err != nil {
		log.Logger().Fatal("failed to execute", zap.Error(err))
	}
}
