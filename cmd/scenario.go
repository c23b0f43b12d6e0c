package cmd

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/parthshah1/flow-harness/orchestrator"
	"github.com/parthshah1/flow-harness/subgraph"
)

var ScenarioCmd = &cli.Command{
	Name:  "scenario",
	Usage: "Run deployment scenarios",
	Subcommands: []*cli.Command{
		{
			Name:      "run",
			Usage:     "Run a scenario file, or a builtin scenario with --builtin",
			ArgsUsage: "[scenario.yaml]",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  "builtin",
					Usage: "Builtin scenario to run (flow-entity, implementations)",
					Value: "flow-entity",
				},
				&cli.StringFlag{
					Name:    "status-url",
					Usage:   "Graph node status endpoint",
					EnvVars: []string{"GRAPH_NODE_STATUS_URL"},
				},
			},
			Action: runScenario,
		},
	},
}

func runScenario(c *cli.Context) error {
	var (
		sc  *orchestrator.Scenario
		err error
	)
	if c.NArg() > 0 {
		sc, err = orchestrator.LoadScenario(c.Args().Get(0))
	} else {
		sc, err = orchestrator.BuiltinScenario(c.String("builtin"))
	}
	if err != nil {
		return err
	}

	statusURL := cfg.StatusURL
	if c.IsSet("status-url") {
		statusURL = c.String("status-url")
	}

	ctx := c.Context
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	o := orchestrator.New()
	orchestrator.RegisterDefaults(o, s.deployer, subgraph.NewChecker(statusURL, cfg.PollInterval))

	fmt.Printf("Running scenario %s (%d tasks)...\n", sc.Name, len(sc.Tasks))
	results, err := o.Run(ctx, sc)
	for _, res := range results {
		if res.Error != nil {
			fmt.Printf("  ✗ %-20s %v\n", res.TaskName, res.Error)
			continue
		}
		addr, _ := res.Output[orchestrator.AddressOutput].(string)
		fmt.Printf("  ✓ %-20s %-44s %s\n", res.TaskName, addr, res.Duration.Round(time.Millisecond))
	}
	if err != nil {
		return fmt.Errorf("scenario %s failed: %w", sc.Name, err)
	}

	fmt.Printf("Scenario %s completed, %d singletons deployed\n", sc.Name, len(s.deployer.Cache().Entries()))
	return nil
}
