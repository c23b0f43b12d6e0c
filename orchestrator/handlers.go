package orchestrator

import (
	"context"
	"embed"
	"fmt"
	"math/big"
	"reflect"
	"strconv"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/lmittmann/w3"

	"github.com/parthshah1/flow-harness/deploy"
	"github.com/parthshah1/flow-harness/subgraph"
)

//go:embed scenarios/*.yaml
var builtinScenarios embed.FS

// BuiltinScenario returns the embedded scenario with the given name, e.g.
// "flow-entity".
func BuiltinScenario(name string) (*Scenario, error) {
	data, err := builtinScenarios.ReadFile("scenarios/" + name + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("unknown builtin scenario %s", name)
	}
	return ParseScenario(data)
}

// RegisterDefaults registers the deployment and subgraph task types.
// checker may be nil, in which case subgraph-check is not registered.
func RegisterDefaults(o *Orchestrator, d *deploy.Deployer, checker *subgraph.Checker) {
	o.Register("touch-deployer", HandlerFunc(func(ctx context.Context, _ map[string]interface{}) (map[string]interface{}, error) {
		td, err := d.TouchDeployer(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			AddressOutput: td.ExpressionDeployer.Hex(),
			"interpreter": td.Interpreter.Hex(),
			"store":       td.Store.Hex(),
		}, nil
	}))

	o.Register("implementation", HandlerFunc(func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
		kind, err := kindParam(params, "")
		if err != nil {
			return nil, err
		}
		exprDeployer, err := addressParam(params, "deployer")
		if err != nil {
			return nil, err
		}
		addr, err := d.Implementation(ctx, kind, exprDeployer)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{AddressOutput: addr.Hex(), "kind": string(kind)}, nil
	}))

	o.Register("clone-factory", HandlerFunc(func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
		exprDeployer, err := addressParam(params, "deployer")
		if err != nil {
			return nil, err
		}
		addr, err := d.CloneFactory(ctx, exprDeployer)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{AddressOutput: addr.Hex()}, nil
	}))

	o.Register("flow", HandlerFunc(func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
		exprDeployer, err := addressParam(params, "deployer")
		if err != nil {
			return nil, err
		}
		kind, err := kindParam(params, deploy.KindFlowERC20)
		if err != nil {
			return nil, err
		}

		var clone *deploy.FlowClone
		if raw, ok := params["config"]; ok {
			s, ok := raw.(string)
			if !ok {
				return nil, fmt.Errorf("param config must be a hex string")
			}
			data, err := hexutil.Decode(s)
			if err != nil {
				return nil, fmt.Errorf("param config: %w", err)
			}
			clone, err = d.Clone(ctx, kind, exprDeployer, data)
			if err != nil {
				return nil, err
			}
		} else if kind == deploy.KindFlowERC20 {
			clone, err = d.DeployFlow(ctx, exprDeployer)
		} else {
			return nil, fmt.Errorf("param config is required for %s", kind)
		}
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			AddressOutput:    clone.Address.Hex(),
			"implementation": clone.Implementation.Hex(),
			"factory":        clone.Factory.Hex(),
			"tx":             clone.TxHash.Hex(),
		}, nil
	}))

	o.Register("call", HandlerFunc(func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
		to, err := addressParam(params, "to")
		if err != nil {
			return nil, err
		}
		sig, ok := params["method"].(string)
		if !ok || sig == "" {
			return nil, fmt.Errorf("missing param method")
		}
		args, _ := params["args"].([]interface{})
		data, err := EncodeCall(sig, args)
		if err != nil {
			return nil, err
		}
		receipt, err := d.Chain().Transact(ctx, to, data)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			AddressOutput: to.Hex(),
			"tx":          receipt.TxHash.Hex(),
		}, nil
	}))

	if checker == nil {
		return
	}
	o.Register("subgraph-check", HandlerFunc(func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
		name, _ := params["name"].(string)
		if name == "" {
			if err := checker.IsNodeInitialized(ctx); err != nil {
				return nil, err
			}
			return map[string]interface{}{"initialized": true}, nil
		}
		st, err := checker.WaitSynced(ctx, name)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"subgraph": st.Subgraph,
			"health":   st.Health,
			"synced":   st.Synced,
		}, nil
	}))
}

func addressParam(params map[string]interface{}, name string) (common.Address, error) {
	s, ok := params[name].(string)
	if !ok || !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("param %s must be an address, got %v", name, params[name])
	}
	return common.HexToAddress(s), nil
}

func kindParam(params map[string]interface{}, def deploy.Kind) (deploy.Kind, error) {
	raw, ok := params["kind"]
	if !ok {
		if def == "" {
			return "", fmt.Errorf("missing param kind")
		}
		return def, nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("param kind must be a string")
	}
	return deploy.ParseKind(s)
}

// EncodeCall packs calldata for a method signature such as
// "transfer(address to, uint256 amount)". Arguments are converted from
// their YAML form to the Go types the ABI encoder expects.
func EncodeCall(signature string, args []interface{}) ([]byte, error) {
	fn, err := w3.NewFunc(signature, "")
	if err != nil {
		return nil, fmt.Errorf("invalid method signature %q: %w", signature, err)
	}
	if len(args) != len(fn.Args) {
		return nil, fmt.Errorf("argument count mismatch: %s takes %d, got %d", signature, len(fn.Args), len(args))
	}

	converted := make([]any, len(args))
	for i, arg := range args {
		v, err := convertArgument(arg, fn.Args[i].Type)
		if err != nil {
			return nil, fmt.Errorf("failed to convert arg %d: %w", i, err)
		}
		converted[i] = v
	}
	return fn.EncodeArgs(converted...)
}

func convertArgument(arg interface{}, typ abi.Type) (any, error) {
	s := fmt.Sprint(arg)
	switch typ.T {
	case abi.AddressTy:
		if !common.IsHexAddress(s) {
			return nil, fmt.Errorf("invalid address value: %s", s)
		}
		return common.HexToAddress(s), nil
	case abi.UintTy, abi.IntTy:
		value, ok := new(big.Int).SetString(s, 0)
		if !ok {
			return nil, fmt.Errorf("invalid %s value: %s", typ, s)
		}
		if typ.T == abi.UintTy && (value.Sign() < 0 || value.BitLen() > typ.Size) {
			return nil, fmt.Errorf("%s out of range for %s", s, typ)
		}
		if typ.Size > 64 {
			return value, nil
		}
		if typ.T == abi.UintTy {
			return reflect.ValueOf(value.Uint64()).Convert(typ.GetType()).Interface(), nil
		}
		if !value.IsInt64() {
			return nil, fmt.Errorf("%s out of range for %s", s, typ)
		}
		return reflect.ValueOf(value.Int64()).Convert(typ.GetType()).Interface(), nil
	case abi.BoolTy:
		return strconv.ParseBool(s)
	case abi.StringTy:
		return s, nil
	case abi.BytesTy:
		return hexutil.Decode(s)
	case abi.FixedBytesTy:
		b, err := hexutil.Decode(s)
		if err != nil {
			return nil, err
		}
		if len(b) > typ.Size {
			return nil, fmt.Errorf("%s too long for %s", s, typ)
		}
		out := reflect.New(typ.GetType()).Elem()
		reflect.Copy(out, reflect.ValueOf(b))
		return out.Interface(), nil
	default:
		return nil, fmt.Errorf("unsupported type: %s", typ)
	}
}
