package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fractal-lba/banditd/internal/orchestrator"
	"github.com/fractal-lba/banditd/internal/simulate"
	"github.com/spf13/cobra"
)

func simulateCmd() *cobra.Command {
	var (
		rounds       int
		seed         uint64
		signal       float64
		permutations int
		domains      []string
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Compare both algorithms offline against a synthetic environment",
		Long: `Draws one context per domain per round from a seeded synthetic
environment, serves it to both algorithms and feeds back Bernoulli rewards.
Prints per-domain cumulative reward and regret, the orchestrator comparison
and a paired permutation test on the two reward series.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer logger.Sync()

			oc := cfg.Orchestrator()
			if len(domains) > 0 {
				oc.Domains = domains
			}
			if oc.Seed == 0 {
				oc.Seed = seed
			}

			orch, err := orchestrator.New(oc, logger)
			if err != nil {
				return err
			}
			env, err := simulate.NewEnvironment(simulate.EnvironmentConfig{
				Domains:          orch.Domains(),
				NumActions:       oc.NumActions,
				ContextDimension: oc.ContextDimension,
				Signal:           signal,
				Seed:             seed,
			})
			if err != nil {
				return err
			}

			report, err := simulate.NewRunner(env, orch, simulate.RunConfig{
				Rounds:       rounds,
				Permutations: permutations,
			}, logger).Run(cmd.Context())
			if err != nil {
				return fmt.Errorf("simulation failed: %w", err)
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}

	cmd.Flags().IntVar(&rounds, "rounds", 1000, "Rounds per domain")
	cmd.Flags().Uint64Var(&seed, "seed", 1, "Environment seed")
	cmd.Flags().Float64Var(&signal, "signal", 0.3, "Scale of the context-dependent reward component")
	cmd.Flags().IntVar(&permutations, "permutations", 1000, "Permutation test resamples")
	cmd.Flags().StringSliceVar(&domains, "domains", nil, "Domains to simulate (defaults to bandit.domains)")
	return cmd
}
