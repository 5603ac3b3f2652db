package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/volley/internal/config"
	"github.com/wesleyorama2/volley/internal/engine"
	"github.com/wesleyorama2/volley/internal/executor"
)

func newValidateCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE...",
		Short: "Check test configuration files without sending requests",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			failed := 0
			for _, path := range args {
				if err := a.validate(path); err != nil {
					failed++
					fmt.Fprintf(a.out, "✗ %s\n%v\n", path, err)
					continue
				}
			}
			if failed > 0 {
				return withCode(ExitConfig, fmt.Errorf("%d of %d files invalid", failed, len(args)))
			}
			return nil
		},
	}
}

func (a *app) validate(path string) error {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return err
	}
	// Building the engine compiles payloads, checks and thresholds too.
	eng, err := engine.New(cfg, engine.WithLogger(a.logger))
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "✓ %s: %d scenario(s), %d threshold(s)\n", path, len(eng.Scenarios()), len(eng.Thresholds()))
	for _, name := range eng.Scenarios() {
		t := executor.Type(cfg.Scenarios[name].Executor)
		fmt.Fprintf(a.out, "    %s: %s (%s)\n", name, t, executor.Describe(t))
	}
	return nil
}
