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

import "github.com/spf13/cobra"

var similarCommand = &cobra.Command{
	Use:   "similar <item-id>",
	Short: "Show items similar to an item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		itemId, err := parseInt64(args[0])
		if err != nil {
			return err
		}
		n, _ := cmd.Flags().GetInt("n")
		items, err := e.Similar(cmd.Context(), itemId, n)
		if err != nil {
			return err
		}
		return printItems(cmd.OutOrStdout(), items)
	},
}

var recommendCommand = &cobra.Command{
	Use:   "recommend <user-id>",
	Short: "Show recommendations for a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userId, err := parseInt64(args[0])
		if err != nil {
			return err
		}
		n, _ := cmd.Flags().GetInt("n")
		contentWeight, collaborativeWeight := cfg.Recommend.Blend.ContentWeight, cfg.Recommend.Blend.CollaborativeWeight
		if cmd.Flags().Changed("content-weight") {
			contentWeight, _ = cmd.Flags().GetFloat64("content-weight")
		}
		if cmd.Flags().Changed("collaborative-weight") {
			collaborativeWeight, _ = cmd.Flags().GetFloat64("collaborative-weight")
		}
		items, err := e.RecommendForUser(cmd.Context(), userId, n, contentWeight, collaborativeWeight)
		if err != nil {
			return err
		}
		return printItems(cmd.OutOrStdout(), items)
	},
}

var genresCommand = &cobra.Command{
	Use:   "genres <user-id>",
	Short: "Show items from the favorite genres of a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userId, err := parseInt64(args[0])
		if err != nil {
			return err
		}
		n, _ := cmd.Flags().GetInt("n")
		items, err := e.GenreRecommendationsForUser(cmd.Context(), userId, n)
		if err != nil {
			return err
		}
		return printItems(cmd.OutOrStdout(), items)
	},
}

var trendingCommand = &cobra.Command{
	Use:   "trending",
	Short: "Show trending items",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		n, _ := cmd.Flags().GetInt("n")
		days := cfg.Recommend.Trending.Days
		if cmd.Flags().Changed("days") {
			days, _ = cmd.Flags().GetInt("days")
		}
		items, err := e.Trending(cmd.Context(), n, days)
		if err != nil {
			return err
		}
		return printItems(cmd.OutOrStdout(), items)
	},
}

var genreCommand = &cobra.Command{
	Use:   "genre <genre>",
	Short: "Show top rated items of a genre",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, _ := cmd.Flags().GetInt("n")
		items, err := e.ByGenre(cmd.Context(), args[0], n)
		if err != nil {
			return err
		}
		return printItems(cmd.OutOrStdout(), items)
	},
}

var countryCommand = &cobra.Command{
	Use:   "country <country-code>",
	Short: "Show top rated items of a country",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, _ := cmd.Flags().GetInt("n")
		items, err := e.ByCountry(cmd.Context(), args[0], n)
		if err != nil {
			return err
		}
		return printItems(cmd.OutOrStdout(), items)
	},
}

var explainCommand = &cobra.Command{
	Use:   "explain <item-id-1> <item-id-2>",
	Short: "Explain the similarity of two items",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := parseInt64(args[0])
		if err != nil {
			return err
		}
		b, err := parseInt64(args[1])
		if err != nil {
			return err
		}
		explanation, err := e.Explain(cmd.Context(), a, b)
		if err != nil {
			return err
		}
		return printExplanation(cmd.OutOrStdout(), explanation)
	},
}

var rebuildCommand = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild all models and show the summary",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		summary, err := e.Rebuild(cmd.Context())
		if err != nil {
			return err
		}
		return printSummary(cmd.OutOrStdout(), summary)
	},
}

func init() {
	for _, command := range []*cobra.Command{similarCommand, recommendCommand, genresCommand, trendingCommand, genreCommand, countryCommand} {
		defaultN := 10
		if command == similarCommand {
			defaultN = 5
		}
		command.Flags().IntP("n", "n", defaultN, "number of returned items")
	}
	recommendCommand.Flags().Float64("content-weight", 0, "weight of content-based scores (default from config)")
	recommendCommand.Flags().Float64("collaborative-weight", 0, "weight of collaborative scores (default from config)")
	trendingCommand.Flags().Int("days", 0, "length of the trending window in days (default from config)")
	cliCommand.AddCommand(similarCommand, recommendCommand, genresCommand, trendingCommand,
		genreCommand, countryCommand, explainCommand, rebuildCommand)
}
