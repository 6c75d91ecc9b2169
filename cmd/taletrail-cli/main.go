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
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/taletrail/recommender/base/log"
	"github.com/taletrail/recommender/cmd/version"
	"github.com/taletrail/recommender/config"
	"github.com/taletrail/recommender/engine"
	"github.com/taletrail/recommender/logics"
	"github.com/taletrail/recommender/storage/data"
	"go.uber.org/zap"
)

var (
	cfg      *config.Config
	database data.Database
	e        *engine.Engine
)

var cliCommand = &cobra.Command{
	Use:   "taletrail-cli",
	Short: "Query TaleTrail recommendations from the command line.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd == versionCommand {
			return nil
		}
		debug, _ := cmd.Flags().GetBool("debug")
		if debug {
			log.SetLogger(cmd.Flags(), true)
		} else {
			log.CloseLogger()
		}
		configPath, _ := cmd.Flags().GetString("config")
		var err error
		if cfg, err = config.LoadConfig(configPath); err != nil {
			return err
		}
		now := time.Now
		if nowString, _ := cmd.Flags().GetString("now"); nowString != "" {
			timestamp, err := parseNow(nowString)
			if err != nil {
				return err
			}
			now = func() time.Time { return timestamp }
		}
		ctx := cmd.Context()
		if database, err = data.Connect(ctx, cfg.Database.DataStore, cfg.Database.TablePrefix, cfg.Database.ConnectRetries); err != nil {
			return err
		}
		e = engine.NewEngine(cfg, database, engine.WithClock(now))
		if cmd == rebuildCommand {
			return nil
		}
		_, err = e.Rebuild(ctx)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if database != nil {
			if err := database.Close(); err != nil {
				log.Logger().Error("failed to close data store", zap.Error(err))
			}
		}
	},
	SilenceUsage: true,
}

var versionCommand = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Print(version.BuildInfo())
	},
}

func init() {
	log.AddFlags(cliCommand.PersistentFlags())
	cliCommand.PersistentFlags().StringP("config", "c", "", "configuration file path")
	cliCommand.PersistentFlags().String("now", "", "reference time of trending windows, in any common date format")
	cliCommand.PersistentFlags().Bool("debug", false, "print logs")
	cliCommand.AddCommand(versionCommand)
}

// parseNow parses a reference time. Dates without a zone are read as UTC.
func parseNow(s string) (time.Time, error) {
	timestamp, err := dateparse.ParseIn(s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --now %q: %w", s, err)
	}
	return timestamp, nil
}

func parseInt64(s string) (int64, error) {
	value, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return value, nil
}

func formatRating(rating *float64) string {
	if rating == nil {
		return "-"
	}
	return strconv.FormatFloat(*rating, 'f', 2, 64)
}

// printItems renders scored items as a table.
func printItems(w io.Writer, items []logics.ScoredItem) error {
	table := tablewriter.NewWriter(w)
	table.Header("Item ID", "Title", "Author", "Genres", "Country", "Rating", "Score", "Type")
	for _, item := range items {
		if err := table.Append([]string{
			strconv.FormatInt(item.ItemId, 10),
			item.Title,
			item.Author,
			strings.Join(item.Genres, ", "),
			item.Country,
			formatRating(item.AverageRating),
			strconv.FormatFloat(item.Score, 'f', 4, 64),
			item.Type,
		}); err != nil {
			return err
		}
	}
	return table.Render()
}

func printExplanation(w io.Writer, explanation logics.Explanation) error {
	table := tablewriter.NewWriter(w)
	table.Header("Property", "Value")
	rows := [][]string{
		{"Item 1", fmt.Sprintf("%d (%s)", explanation.Item1.ItemId, explanation.Item1.Title)},
		{"Item 2", fmt.Sprintf("%d (%s)", explanation.Item2.ItemId, explanation.Item2.Title)},
		{"Common genres", strings.Join(explanation.CommonGenres, ", ")},
		{"Same author", strconv.FormatBool(explanation.SameAuthor)},
		{"Same country", strconv.FormatBool(explanation.SameCountry)},
		{"Rating difference", strconv.FormatFloat(explanation.RatingDiff, 'f', 2, 64)},
	}
	if err := table.Bulk(rows); err != nil {
		return err
	}
	return table.Render()
}

func printSummary(w io.Writer, summary engine.Summary) error {
	table := tablewriter.NewWriter(w)
	table.Header("Property", "Value")
	rows := [][]string{
		{"Status", summary.Status},
		{"Items", strconv.Itoa(summary.ItemCount)},
		{"Ratings", strconv.Itoa(summary.RatingCount)},
		{"Interactions", strconv.Itoa(summary.InteractionCount)},
		{"Content model", summary.ContentModel},
		{"Collaborative model", summary.CollaborativeModel},
		{"Version", strconv.FormatInt(summary.Version, 10)},
		{"Duration", summary.Duration.String()},
	}
	if err := table.Bulk(rows); err != nil {
		return err
	}
	return table.Render()
}

func main() {
	if err := cliCommand.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
