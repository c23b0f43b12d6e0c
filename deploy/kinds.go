package deploy

import (
	"fmt"
	"strings"
)

// Kind names a contract the harness knows how to deploy.
type Kind string

const (
	KindInterpreter        Kind = "Interpreter"
	KindStore              Kind = "Store"
	KindExpressionDeployer Kind = "ExpressionDeployer"
	KindCloneFactory       Kind = "CloneFactory"
	KindFlow               Kind = "Flow"
	KindFlowERC20          Kind = "FlowERC20"
	KindFlowERC721         Kind = "FlowERC721"
	KindFlowERC1155        Kind = "FlowERC1155"
)

// Implementations lists the flow implementation kinds in deployment order.
var Implementations = []Kind{KindFlow, KindFlowERC20, KindFlowERC721, KindFlowERC1155}

// payloadSource says where the bytecode and constructor meta of a kind live,
// relative to the artifacts directory.
type payloadSource struct {
	artifact string
	meta     string
	metaHex  bool
}

var sources = map[Kind]payloadSource{
	KindInterpreter:  {artifact: "RainterpreterNP.json"},
	KindStore:        {artifact: "RainterpreterStore.json"},
	KindCloneFactory: {artifact: "CloneFactory.json", meta: "CloneFactory.rain.meta"},
	KindFlow:         {artifact: "Flow.json", meta: "flowMetaDocument", metaHex: true},
	KindFlowERC20:    {artifact: "FlowERC20.json", meta: "flow20MetaDocument", metaHex: true},
	KindFlowERC721:   {artifact: "FlowERC721.json", meta: "flow721MetaDocument", metaHex: true},
	KindFlowERC1155:  {artifact: "FlowERC1155.json", meta: "flow1155MetaDocument", metaHex: true},
}

// FlowConfigFile holds the hex-encoded clone configuration used by DeployFlow.
const FlowConfigFile = "flow_config_demo"

// ParseKind accepts a kind name case-insensitively, with common aliases.
func ParseKind(s string) (Kind, error) {
	switch normalize(s) {
	case "interpreter", "rainterpreter", "rainterpreternp":
		return KindInterpreter, nil
	case "store", "rainterpreterstore":
		return KindStore, nil
	case "expressiondeployer":
		return KindExpressionDeployer, nil
	case "clonefactory":
		return KindCloneFactory, nil
	case "flow":
		return KindFlow, nil
	case "flowerc20", "flow20":
		return KindFlowERC20, nil
	case "flowerc721", "flow721":
		return KindFlowERC721, nil
	case "flowerc1155", "flow1155":
		return KindFlowERC1155, nil
	}
	return "", fmt.Errorf("unknown contract kind %q", s)
}

// IsImplementation reports whether k is one of the cloneable flow kinds.
func (k Kind) IsImplementation() bool {
	for _, impl := range Implementations {
		if k == impl {
			return true
		}
	}
	return false
}

var kindReplacer = strings.NewReplacer("-", "", "_", "", " ", "")

func normalize(s string) string {
	return kindReplacer.Replace(strings.ToLower(strings.TrimSpace(s)))
}

// PayloadFiles returns the artifact and meta file names of kind, relative
// to the artifacts directory. meta is empty for kinds without a meta
// document.
func PayloadFiles(kind Kind) (artifact, meta string, ok bool) {
	src, ok := sources[kind]
	return src.artifact, src.meta, ok
}
