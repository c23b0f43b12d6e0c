package deploy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/parthshah1/flow-harness/config"
	"github.com/parthshah1/flow-harness/deploycache"
	"github.com/parthshah1/flow-harness/records"
)

// ErrNoAddressInOutput is returned when the expression deployer script
// finishes without printing a contract address.
var ErrNoAddressInOutput = errors.New("no contract address in script output")

var addressPattern = regexp.MustCompile(`0x[0-9a-fA-F]{40}`)

// CommandRunner runs a shell command line and returns its combined output.
type CommandRunner interface {
	Run(ctx context.Context, dir string, env []string, command string) ([]byte, error)
}

// ShellRunner runs commands with sh -c.
type ShellRunner struct{}

func (ShellRunner) Run(ctx context.Context, dir string, env []string, command string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), env...)
	return cmd.CombinedOutput()
}

// TouchDeployment holds the addresses produced by TouchDeployer.
type TouchDeployment struct {
	Interpreter        common.Address
	Store              common.Address
	ExpressionDeployer common.Address
}

// TouchDeployer deploys the interpreter and store, then runs the build-tool
// script that deploys the expression deployer against them.
func (d *Deployer) TouchDeployer(ctx context.Context) (*TouchDeployment, error) {
	interpreter, err := d.Interpreter(ctx)
	if err != nil {
		return nil, err
	}
	store, err := d.Store(ctx)
	if err != nil {
		return nil, err
	}
	d.logger.Info("Interpreter and store ready", "interpreter", interpreter, "store", store)

	exprDeployer, err := d.ExpressionDeployer(ctx, interpreter, store)
	if err != nil {
		return nil, err
	}

	config.AssertReachable("expression deployer resolved", map[string]interface{}{
		"interpreter":        interpreter.Hex(),
		"store":              store.Hex(),
		"expressionDeployer": exprDeployer.Hex(),
	})

	return &TouchDeployment{
		Interpreter:        interpreter,
		Store:              store,
		ExpressionDeployer: exprDeployer,
	}, nil
}

// ExpressionDeployer runs the configured script once per (interpreter,
// store, command) and returns the address it reports.
func (d *Deployer) ExpressionDeployer(ctx context.Context, interpreter, store common.Address) (common.Address, error) {
	command := d.cfg.HardhatCommand
	if command == "" {
		command = config.DefaultHardhatCommand
	}

	key := deploycache.NewKey(string(KindExpressionDeployer), d.chain.Address(),
		interpreter.Bytes(), store.Bytes(), []byte(command))

	return d.cache.GetOrDeploy(ctx, key, func(ctx context.Context) (common.Address, error) {
		if d.cfg.DeployTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d.cfg.DeployTimeout)
			defer cancel()
		}

		env, err := d.scriptEnv(interpreter, store)
		if err != nil {
			return common.Address{}, err
		}

		d.logger.Info("Running expression deployer script", "dir", d.cfg.HardhatDir, "command", command)
		output, err := d.runner.Run(ctx, d.cfg.HardhatDir, env, command)
		if err != nil {
			return common.Address{}, fmt.Errorf("expression deployer script failed: %w, output: %s", err, output)
		}
		d.logger.Debug("Expression deployer script output", "output", string(output))

		addr, err := ParseDeployedAddress(string(output))
		if err != nil {
			return common.Address{}, err
		}
		d.record(ctx, records.Record{
			Name:        string(KindExpressionDeployer),
			Kind:        string(KindExpressionDeployer),
			Address:     addr,
			PayloadHash: key.PayloadHash,
		})
		return addr, nil
	})
}

func (d *Deployer) scriptEnv(interpreter, store common.Address) ([]string, error) {
	key, err := d.cfg.SignerKey()
	if err != nil {
		return nil, err
	}
	return []string{
		"RPC_URL=" + d.cfg.RPC,
		"INTERPRETER=" + interpreter.Hex(),
		"STORE=" + store.Hex(),
		"PRIVATE_KEY=" + config.PrivateKeyHex(key),
	}, nil
}

// ParseDeployedAddress extracts the expression deployer address from script
// output. A line mentioning the expression deployer wins; otherwise the last
// address printed is used.
func ParseDeployedAddress(output string) (common.Address, error) {
	var last string
	for _, line := range strings.Split(output, "\n") {
		match := addressPattern.FindString(line)
		if match == "" {
			continue
		}
		lower := strings.ToLower(line)
		if strings.Contains(lower, "expressiondeployer") || strings.Contains(lower, "expression deployer") {
			return common.HexToAddress(match), nil
		}
		last = match
	}
	if last == "" {
		return common.Address{}, ErrNoAddressInOutput
	}
	return common.HexToAddress(last), nil
}
