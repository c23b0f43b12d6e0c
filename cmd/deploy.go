package cmd

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/urfave/cli/v2"

	"github.com/parthshah1/flow-harness/deploy"
)

var deployerFlag = &cli.StringFlag{
	Name:    "deployer",
	Usage:   "Expression deployer address (runs touch-deployer when not set)",
	EnvVars: []string{"FLOW_EXPRESSION_DEPLOYER"},
}

var DeployCmd = &cli.Command{
	Name:  "deploy",
	Usage: "Deploy contracts of the flow suite",
	Subcommands: []*cli.Command{
		{
			Name:   "touch-deployer",
			Usage:  "Deploy the interpreter and store, then the expression deployer via the build tool",
			Action: runTouchDeployer,
		},
		{
			Name:      "implementation",
			Usage:     "Deploy a flow implementation",
			ArgsUsage: "<Flow|FlowERC20|FlowERC721|FlowERC1155>",
			Flags:     []cli.Flag{deployerFlag},
			Action:    runImplementation,
		},
		{
			Name:   "all-implementations",
			Usage:  "Deploy every flow implementation concurrently",
			Flags:  []cli.Flag{deployerFlag},
			Action: runAllImplementations,
		},
		{
			Name:   "clone-factory",
			Usage:  "Deploy the clone factory",
			Flags:  []cli.Flag{deployerFlag},
			Action: runCloneFactory,
		},
		{
			Name:  "flow",
			Usage: "Clone a FlowERC20 through the clone factory with the demo flow config",
			Flags: []cli.Flag{
				deployerFlag,
				&cli.IntFlag{
					Name:  "count",
					Usage: "Number of clones to create",
					Value: 1,
				},
			},
			Action: runFlow,
		},
		{
			Name:  "kinds",
			Usage: "List the contract kinds and the files they are built from",
			Action: func(c *cli.Context) error {
				for _, kind := range []deploy.Kind{deploy.KindInterpreter, deploy.KindStore, deploy.KindCloneFactory} {
					printKind(kind)
				}
				for _, kind := range deploy.Implementations {
					printKind(kind)
				}
				return nil
			},
		},
	},
}

func printKind(kind deploy.Kind) {
	artifact, meta, _ := deploy.PayloadFiles(kind)
	if meta == "" {
		meta = "-"
	}
	fmt.Printf("%-14s %-28s %s\n", kind, artifact, meta)
}

// expressionDeployer returns --deployer when set, otherwise it deploys the
// expression deployer through the session.
func expressionDeployer(ctx context.Context, c *cli.Context, s *session) (common.Address, error) {
	if v := c.String("deployer"); v != "" {
		if !common.IsHexAddress(v) {
			return common.Address{}, fmt.Errorf("invalid deployer address: %s", v)
		}
		return common.HexToAddress(v), nil
	}
	td, err := s.deployer.TouchDeployer(ctx)
	if err != nil {
		return common.Address{}, err
	}
	return td.ExpressionDeployer, nil
}

func runTouchDeployer(c *cli.Context) error {
	ctx := c.Context
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	balance, err := s.client.Balance(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Deploying expression deployer from %s (balance %s wei)...\n", s.client.Address().Hex(), balance)
	td, err := s.deployer.TouchDeployer(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Interpreter:         %s\n", td.Interpreter.Hex())
	fmt.Printf("Store:               %s\n", td.Store.Hex())
	fmt.Printf("Expression deployer: %s\n", td.ExpressionDeployer.Hex())
	return nil
}

func runImplementation(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("expected 1 argument: <kind>")
	}
	kind, err := deploy.ParseKind(c.Args().Get(0))
	if err != nil {
		return err
	}

	ctx := c.Context
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	exprDeployer, err := expressionDeployer(ctx, c, s)
	if err != nil {
		return err
	}
	addr, err := s.deployer.Implementation(ctx, kind, exprDeployer)
	if err != nil {
		return err
	}
	fmt.Printf("%s deployed at: %s\n", kind, addr.Hex())
	return nil
}

func runAllImplementations(c *cli.Context) error {
	ctx := c.Context
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	exprDeployer, err := expressionDeployer(ctx, c, s)
	if err != nil {
		return err
	}
	impls, err := s.deployer.AllImplementations(ctx, exprDeployer)
	if err != nil {
		return err
	}
	for _, kind := range deploy.Implementations {
		fmt.Printf("%-12s %s\n", kind, impls[kind].Hex())
	}
	return nil
}

func runCloneFactory(c *cli.Context) error {
	ctx := c.Context
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	exprDeployer, err := expressionDeployer(ctx, c, s)
	if err != nil {
		return err
	}
	addr, err := s.deployer.CloneFactory(ctx, exprDeployer)
	if err != nil {
		return err
	}
	fmt.Printf("CloneFactory deployed at: %s\n", addr.Hex())
	return nil
}

func runFlow(c *cli.Context) error {
	count := c.Int("count")
	if count < 1 {
		return fmt.Errorf("--count must be at least 1")
	}

	ctx := c.Context
	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	exprDeployer, err := expressionDeployer(ctx, c, s)
	if err != nil {
		return err
	}
	for i := 0; i < count; i++ {
		clone, err := s.deployer.DeployFlow(ctx, exprDeployer)
		if err != nil {
			return err
		}
		fmt.Printf("Flow clone %d: %s (implementation %s, tx %s)\n",
			i+1, clone.Address.Hex(), clone.Implementation.Hex(), clone.TxHash.Hex())
	}
	return nil
}
