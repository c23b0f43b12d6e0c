package deploy

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// deployerMetaArgs is the single constructor argument shared by the clone
// factory and the flow implementations: tuple(address deployer, bytes meta).
var deployerMetaArgs = func() abi.Arguments {
	tuple, err := abi.NewType("tuple", "", []abi.ArgumentMarshaling{
		{Name: "deployer", Type: "address"},
		{Name: "meta", Type: "bytes"},
	})
	if err != nil {
		panic(fmt.Sprintf("constructor tuple type: %v", err))
	}
	return abi.Arguments{{Name: "config", Type: tuple}}
}()

type deployerMeta struct {
	Deployer common.Address
	Meta     []byte
}

// EncodeDeployerMeta ABI-encodes the construction config of a meta-aware
// contract bound to an expression deployer.
func EncodeDeployerMeta(deployer common.Address, meta []byte) ([]byte, error) {
	packed, err := deployerMetaArgs.Pack(deployerMeta{Deployer: deployer, Meta: meta})
	if err != nil {
		return nil, fmt.Errorf("failed to encode construction config: %w", err)
	}
	return packed, nil
}
