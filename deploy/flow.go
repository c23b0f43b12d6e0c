package deploy

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/lmittmann/w3"
	"golang.org/x/sync/errgroup"

	"github.com/parthshah1/flow-harness/config"
	"github.com/parthshah1/flow-harness/records"
)

var (
	funcClone = w3.MustNewFunc(
		"clone(address implementation, bytes data)", "address",
	)
	eventNewClone = w3.MustNewEvent(
		"NewClone(address sender, address implementation, address clone)",
	)
)

// ErrNoCloneEvent is returned when a clone transaction succeeds without
// emitting NewClone from the factory.
var ErrNoCloneEvent = errors.New("NewClone event not found in receipt logs")

// FlowClone describes a flow instance created through the clone factory.
type FlowClone struct {
	Address        common.Address
	Implementation common.Address
	Factory        common.Address
	Kind           Kind
	TxHash         common.Hash
}

// DeployFlow clones the FlowERC20 implementation with the demo flow config.
// Clones are not singletons: every call creates a new instance.
func (d *Deployer) DeployFlow(ctx context.Context, exprDeployer common.Address) (*FlowClone, error) {
	data, err := config.ReadMeta(d.cfg.ArtifactPath(FlowConfigFile), true)
	if err != nil {
		return nil, fmt.Errorf("failed to read flow config: %w", err)
	}
	return d.Clone(ctx, KindFlowERC20, exprDeployer, data)
}

// Clone resolves the implementation of kind and the clone factory, then
// calls clone(implementation, data) on the factory.
func (d *Deployer) Clone(ctx context.Context, kind Kind, exprDeployer common.Address, data []byte) (*FlowClone, error) {
	var implementation, factory common.Address

	// A failing sibling must not cancel a singleton that is mid-deployment,
	// so both lookups share the caller's ctx rather than a group ctx.
	var g errgroup.Group
	g.Go(func() error {
		var err error
		implementation, err = d.Implementation(ctx, kind, exprDeployer)
		return err
	})
	g.Go(func() error {
		var err error
		factory, err = d.CloneFactory(ctx, exprDeployer)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	calldata, err := funcClone.EncodeArgs(implementation, data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode clone: %w", err)
	}

	receipt, err := d.chain.Transact(ctx, factory, calldata)
	if err != nil {
		return nil, fmt.Errorf("failed to clone %s: %w", kind, err)
	}

	cloneAddr, err := CloneAddressFromReceipt(receipt, factory)
	if err != nil {
		return nil, err
	}

	config.AssertAlways(cloneAddr != (common.Address{}), "Clone factory returns a non-zero clone address", map[string]interface{}{
		"kind":           string(kind),
		"implementation": implementation.Hex(),
		"factory":        factory.Hex(),
		"tx":             receipt.TxHash.Hex(),
	})
	d.logger.Info("Flow cloned", "kind", kind, "clone", cloneAddr, "implementation", implementation, "tx", receipt.TxHash)

	d.record(ctx, records.Record{
		Name:        fmt.Sprintf("%sClone:%s", kind, cloneAddr.Hex()),
		Kind:        string(kind) + "Clone",
		Address:     cloneAddr,
		TxHash:      receipt.TxHash,
		BlockNumber: receiptBlock(receipt),
	})

	return &FlowClone{
		Address:        cloneAddr,
		Implementation: implementation,
		Factory:        factory,
		Kind:           kind,
		TxHash:         receipt.TxHash,
	}, nil
}

// NewCloneTopic is topic 0 of the clone factory's NewClone event.
var NewCloneTopic = crypto.Keccak256Hash([]byte("NewClone(address,address,address)"))

// CloneEvent is a decoded NewClone log.
type CloneEvent struct {
	Factory        common.Address
	Sender         common.Address
	Implementation common.Address
	Clone          common.Address
	BlockNumber    uint64
	TxHash         common.Hash
}

// DecodeNewClone decodes a NewClone log emitted by a clone factory.
func DecodeNewClone(log *types.Log) (*CloneEvent, error) {
	ev := &CloneEvent{
		Factory:     log.Address,
		BlockNumber: log.BlockNumber,
		TxHash:      log.TxHash,
	}
	if err := eventNewClone.DecodeArgs(log, &ev.Sender, &ev.Implementation, &ev.Clone); err != nil {
		return nil, err
	}
	return ev, nil
}

// CloneAddressFromReceipt returns the clone address of the first NewClone
// event emitted by factory.
func CloneAddressFromReceipt(receipt *types.Receipt, factory common.Address) (common.Address, error) {
	for _, log := range receipt.Logs {
		if log.Address != factory {
			continue
		}
		if ev, err := DecodeNewClone(log); err == nil {
			return ev.Clone, nil
		}
	}
	return common.Address{}, ErrNoCloneEvent
}

func receiptBlock(receipt *types.Receipt) uint64 {
	if receipt.BlockNumber == nil {
		return 0
	}
	return receipt.BlockNumber.Uint64()
}
