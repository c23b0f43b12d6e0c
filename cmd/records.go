package cmd

import (
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/parthshah1/flow-harness/records"
)

var RecordsCmd = &cli.Command{
	Name:  "records",
	Usage: "Inspect deployment records",
	Subcommands: []*cli.Command{
		{
			Name:  "list",
			Usage: "List recorded deployments",
			Action: func(c *cli.Context) error {
				store, err := records.Open(c.Context, cfg)
				if err != nil {
					return err
				}
				defer store.Close()

				recs, err := store.List(c.Context)
				if err != nil {
					return err
				}
				if len(recs) == 0 {
					fmt.Println("No deployments recorded")
					return nil
				}

				fmt.Printf("Found %d deployment(s):\n\n", len(recs))
				for _, rec := range recs {
					fmt.Printf("%-40s %s  chain %d  block %d\n", rec.Name, rec.Address.Hex(), rec.ChainID, rec.BlockNumber)
				}
				return nil
			},
		},
		{
			Name:      "info",
			Usage:     "Show one recorded deployment",
			ArgsUsage: "<name>",
			Action: func(c *cli.Context) error {
				if c.NArg() != 1 {
					return fmt.Errorf("expected 1 argument: <name>")
				}
				name := c.Args().Get(0)

				store, err := records.Open(c.Context, cfg)
				if err != nil {
					return err
				}
				defer store.Close()

				rec, err := store.Get(c.Context, name)
				if errors.Is(err, records.ErrNotFound) {
					return fmt.Errorf("no deployment named %s", name)
				}
				if err != nil {
					return err
				}

				fmt.Printf("Name:         %s\n", rec.Name)
				fmt.Printf("Kind:         %s\n", rec.Kind)
				fmt.Printf("Address:      %s\n", rec.Address.Hex())
				fmt.Printf("Deployer:     %s\n", rec.Deployer.Hex())
				fmt.Printf("Tx hash:      %s\n", rec.TxHash.Hex())
				fmt.Printf("Payload hash: %s\n", rec.PayloadHash.Hex())
				fmt.Printf("Chain ID:     %d\n", rec.ChainID)
				fmt.Printf("Block:        %d\n", rec.BlockNumber)
				fmt.Printf("Deployed at:  %s\n", rec.DeployedAt.Format("2006-01-02 15:04:05 MST"))
				return nil
			},
		},
	},
}
