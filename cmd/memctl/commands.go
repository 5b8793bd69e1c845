package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/MundoTango/Mundo-Tango-sub004/pkg/core"
	"github.com/MundoTango/Mundo-Tango-sub004/pkg/knowledge"
)

func (a *app) storeCmd() *cobra.Command {
	var (
		domain     string
		memType    string
		importance int
		metadata   []string
	)
	cmd := &cobra.Command{
		Use:   "store [owner] [content]",
		Short: "Store a memory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			mt, err := core.ParseMemoryType(memType)
			if err != nil {
				return err
			}
			meta, err := parseMetadata(metadata)
			if err != nil {
				return err
			}

			id, err := a.client.Store(cmd.Context(), args[0], domain, args[1], mt,
				core.WithImportance(importance), core.WithMetadata(meta))
			if err != nil {
				return err
			}
			fmt.Println(id)
			return nil
		},
	}
	cmd.Flags().StringVarP(&domain, "domain", "d", "", "domain (agent) id")
	cmd.Flags().StringVarP(&memType, "type", "t", string(core.MemoryTypeFact), "memory type")
	cmd.Flags().IntVarP(&importance, "importance", "i", core.DefaultImportance, "importance from 1 to 10")
	cmd.Flags().StringArrayVarP(&metadata, "meta", "m", nil, "metadata as key=value, repeatable")
	return cmd
}

func (a *app) retrieveCmd() *cobra.Command {
	var (
		domain        string
		limit         int
		minSimilarity float64
		types         []string
	)
	cmd := &cobra.Command{
		Use:   "retrieve [owner] [query]",
		Short: "Find memories similar to a query",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := []core.RetrieveOption{core.WithLimit(limit), core.WithMinSimilarity(minSimilarity)}
			if len(types) > 0 {
				parsed := make([]core.MemoryType, 0, len(types))
				for _, t := range types {
					mt, err := core.ParseMemoryType(t)
					if err != nil {
						return err
					}
					parsed = append(parsed, mt)
				}
				opts = append(opts, core.WithTypes(parsed...))
			}

			results, err := a.client.Retrieve(cmd.Context(), args[0], domain, args[1], opts...)
			if err != nil {
				return err
			}
			for _, r := range results {
				r.Memory.Embedding = nil
			}
			return printJSON(results)
		},
	}
	cmd.Flags().StringVarP(&domain, "domain", "d", "", "domain (agent) id")
	cmd.Flags().IntVarP(&limit, "limit", "l", core.DefaultLimit, "maximum number of results")
	cmd.Flags().Float64Var(&minSimilarity, "min-similarity", core.DefaultMinSimilarity, "similarity threshold in [0, 1]")
	cmd.Flags().StringSliceVarP(&types, "type", "t", nil, "restrict to memory types")
	return cmd
}

func (a *app) recentCmd() *cobra.Command {
	var (
		domain string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "recent [owner]",
		Short: "List the most recent memories",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			memories, err := a.client.GetRecent(cmd.Context(), args[0], domain, limit)
			if err != nil {
				return err
			}
			for _, m := range memories {
				m.Embedding = nil
			}
			return printJSON(memories)
		},
	}
	cmd.Flags().StringVarP(&domain, "domain", "d", "", "domain (agent) id")
	cmd.Flags().IntVarP(&limit, "limit", "l", core.DefaultLimit, "maximum number of results")
	return cmd
}

func (a *app) statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats [owner]",
		Short: "Summarise an owner's memories",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := a.client.GetStats(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(stats)
		},
	}
}

func (a *app) forgetCmd() *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "forget [memory-id]",
		Short: "Delete one memory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts []core.ForgetOption
			if owner != "" {
				opts = append(opts, core.WithOwner(owner))
			}
			deleted, err := a.client.Forget(cmd.Context(), args[0], opts...)
			if err != nil {
				return err
			}
			if !deleted {
				return fmt.Errorf("memory %s not found", args[0])
			}
			fmt.Println("deleted")
			return nil
		},
	}
	cmd.Flags().StringVarP(&owner, "owner", "o", "", "only delete if the memory belongs to this owner")
	return cmd
}

func (a *app) forgetAllCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "forget-all [owner]",
		Short: "Delete everything stored for an owner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to delete all data for %s without --yes", args[0])
			}
			// Register the pattern and knowledge tables so they are covered too.
			if _, err := a.learner(); err != nil {
				return err
			}
			if _, err := a.knowledgeStore(); err != nil {
				return err
			}

			n, err := a.client.ForgetAll(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("deleted %d rows\n", n)
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")
	return cmd
}

func (a *app) cleanupCmd() *cobra.Command {
	var patternAge time.Duration
	cmd := &cobra.Command{
		Use:   "cleanup [owner]",
		Short: "Apply retention and the per-owner cap",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := a.client.Cleanup(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if patternAge <= 0 && a.cfg.Patterns.RetentionDays > 0 {
				patternAge = time.Duration(a.cfg.Patterns.RetentionDays) * 24 * time.Hour
			}
			var pruned int64
			if patternAge > 0 {
				learner, err := a.learner()
				if err != nil {
					return err
				}
				if pruned, err = learner.Prune(cmd.Context(), args[0], patternAge); err != nil {
					return err
				}
			}

			return printJSON(map[string]interface{}{
				"expired":         report.Expired,
				"evicted":         report.Evicted,
				"patterns_pruned": pruned,
			})
		},
	}
	cmd.Flags().DurationVar(&patternAge, "prune-patterns", 0, "also drop patterns not seen for this long")
	return cmd
}

func (a *app) observeCmd() *cobra.Command {
	var domain string
	cmd := &cobra.Command{
		Use:   "observe [owner] [text]",
		Short: "Record one observation of a behaviour pattern",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			learner, err := a.learner()
			if err != nil {
				return err
			}
			p, err := learner.Observe(cmd.Context(), args[0], domain, args[1])
			if err != nil {
				return err
			}
			return printJSON(p)
		},
	}
	cmd.Flags().StringVarP(&domain, "domain", "d", "", "domain (agent) id")
	return cmd
}

func (a *app) patternsCmd() *cobra.Command {
	var domain string
	cmd := &cobra.Command{
		Use:   "patterns [owner]",
		Short: "List learned behaviour patterns with their decayed confidence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			learner, err := a.learner()
			if err != nil {
				return err
			}
			patterns, err := learner.GetPatterns(cmd.Context(), args[0], domain)
			if err != nil {
				return err
			}

			now := time.Now()
			type row struct {
				Text       string    `json:"text"`
				Frequency  int       `json:"frequency"`
				Confidence float64   `json:"confidence"`
				Effective  float64   `json:"effective_confidence"`
				LastSeen   time.Time `json:"last_seen"`
			}
			rows := make([]row, 0, len(patterns))
			for _, p := range patterns {
				rows = append(rows, row{
					Text:       p.Text,
					Frequency:  p.Frequency,
					Confidence: p.Confidence,
					Effective:  learner.EffectiveConfidence(p, now),
					LastSeen:   p.LastSeen,
				})
			}
			return printJSON(rows)
		},
	}
	cmd.Flags().StringVarP(&domain, "domain", "d", "", "domain (agent) id")
	return cmd
}

func (a *app) learnCmd() *cobra.Command {
	var (
		taskType string
		failed   bool
	)
	cmd := &cobra.Command{
		Use:   "learn [agent] [context] [solution]",
		Short: "Record a task outcome in the knowledge store",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ks, err := a.knowledgeStore()
			if err != nil {
				return err
			}
			outcome := knowledge.OutcomeSuccess
			if failed {
				outcome = knowledge.OutcomeFailure
			}
			result, err := ks.RecordOutcome(cmd.Context(), knowledge.TaskOutcome{
				AgentID:  args[0],
				TaskType: taskType,
				Context:  args[1],
				Solution: args[2],
				Outcome:  outcome,
			})
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
	cmd.Flags().StringVar(&taskType, "task-type", "", "kind of task, e.g. bug_fix")
	cmd.Flags().BoolVar(&failed, "failed", false, "the task failed")
	return cmd
}

func (a *app) similarCmd() *cobra.Command {
	var (
		category string
		limit    int
	)
	cmd := &cobra.Command{
		Use:   "similar [task description]",
		Short: "Find learned solution patterns for a task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var cat knowledge.Category
			if category != "" {
				parsed, err := knowledge.ParseCategory(category)
				if err != nil {
					return err
				}
				cat = parsed
			}
			ks, err := a.knowledgeStore()
			if err != nil {
				return err
			}
			results, err := ks.FindSimilar(cmd.Context(), strings.Join(args, " "), cat, limit)
			if err != nil {
				return err
			}
			return printJSON(results)
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "restrict to one category")
	cmd.Flags().IntVarP(&limit, "limit", "l", 3, "maximum number of results")
	return cmd
}

// parseMetadata turns key=value pairs into a metadata map.
func parseMetadata(pairs []string) (map[string]interface{}, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]interface{}, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("metadata %q is not key=value", pair)
		}
		out[strings.TrimSpace(k)] = v
	}
	return out, nil
}
