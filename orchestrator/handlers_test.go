package orchestrator

import (
	"context"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parthshah1/flow-harness/client"
	"github.com/parthshah1/flow-harness/config"
	"github.com/parthshah1/flow-harness/deploy"
	"github.com/parthshah1/flow-harness/subgraph"
)

type recordingChain struct {
	mu    sync.Mutex
	calls []recordedCall
}

type recordedCall struct {
	to   common.Address
	data []byte
}

func (c *recordingChain) Address() common.Address {
	return common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
}
func (c *recordingChain) ChainID() *big.Int { return big.NewInt(1337) }

func (c *recordingChain) Deploy(context.Context, []byte, []byte) (*client.Deployment, error) {
	return &client.Deployment{Address: common.HexToAddress("0x1000")}, nil
}

func (c *recordingChain) Transact(_ context.Context, to common.Address, data []byte) (*types.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, recordedCall{to: to, data: data})
	return &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: common.HexToHash("0x02")}, nil
}

func TestBuiltinScenarios(t *testing.T) {
	o := New()
	RegisterDefaults(o, deploy.New(&recordingChain{}, &config.Config{}), subgraph.NewChecker("http://127.0.0.1:0", time.Second))

	for _, name := range []string{"flow-entity", "implementations"} {
		t.Run(name, func(t *testing.T) {
			sc, err := BuiltinScenario(name)
			require.NoError(t, err)
			require.NoError(t, o.Validate(sc))
			_, err = Stages(sc.Tasks)
			require.NoError(t, err)
		})
	}

	_, err := BuiltinScenario("nope")
	assert.Error(t, err)
}

func TestRegisterDefaults_WithoutChecker(t *testing.T) {
	o := New()
	RegisterDefaults(o, deploy.New(&recordingChain{}, &config.Config{}), nil)
	assert.Equal(t, []string{"call", "clone-factory", "flow", "implementation", "touch-deployer"}, o.Types())
}

func TestEncodeCall(t *testing.T) {
	data, err := EncodeCall("transfer(address to, uint256 amount)", []interface{}{
		"0x00000000000000000000000000000000000000aa", "1000",
	})
	require.NoError(t, err)
	require.Len(t, data, 4+64)
	assert.Equal(t, common.FromHex("0xa9059cbb"), data[:4])
	assert.Equal(t, common.HexToAddress("0xaa").Bytes(), data[4+12:4+32])
	assert.Equal(t, big.NewInt(1000), new(big.Int).SetBytes(data[36:68]))
}

func TestEncodeCall_SmallTypes(t *testing.T) {
	data, err := EncodeCall("configure(uint8 level, bool on, bytes32 tag, string label)", []interface{}{
		7, true, "0x01", "demo",
	})
	require.NoError(t, err)
	assert.Equal(t, byte(7), data[4+31])
	assert.Equal(t, byte(1), data[4+63])
	assert.Equal(t, byte(1), data[4+64])
}

func TestEncodeCall_Errors(t *testing.T) {
	tests := []struct {
		name string
		sig  string
		args []interface{}
	}{
		{"bad signature", "transfer(", nil},
		{"count mismatch", "transfer(address,uint256)", []interface{}{"0x00000000000000000000000000000000000000aa"}},
		{"bad address", "approve(address)", []interface{}{"not-an-address"}},
		{"uint8 overflow", "set(uint8)", []interface{}{300}},
		{"negative uint", "set(uint256)", []interface{}{"-1"}},
		{"unsupported", "set(address[])", []interface{}{"0x00"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := EncodeCall(tt.sig, tt.args)
			assert.Error(t, err)
		})
	}
}

func TestCallHandler(t *testing.T) {
	chain := &recordingChain{}
	o := New()
	RegisterDefaults(o, deploy.New(chain, &config.Config{}), nil)
	o.Register("fixed", echo("0x00000000000000000000000000000000000000cc"))

	results, err := o.Run(context.Background(), &Scenario{Name: "call", Tasks: []Task{
		{Name: "token", Type: "fixed"},
		{Name: "approve", Type: "call", DependsOn: []string{"token"}, Params: map[string]interface{}{
			"to":     "${token}",
			"method": "approve(address spender, uint256 amount)",
			"args":   []interface{}{"0x00000000000000000000000000000000000000dd", "5"},
		}},
	}})
	require.NoError(t, err)
	require.Len(t, chain.calls, 1)
	assert.Equal(t, common.HexToAddress("0xcc"), chain.calls[0].to)
	assert.Equal(t, common.FromHex("0x095ea7b3"), chain.calls[0].data[:4])
	assert.Equal(t, common.HexToHash("0x02").Hex(), results[1].Output["tx"])
}

func TestImplementationHandler_BadParams(t *testing.T) {
	o := New()
	RegisterDefaults(o, deploy.New(&recordingChain{}, &config.Config{}), nil)

	tests := []struct {
		name   string
		params map[string]interface{}
		want   string
	}{
		{"missing kind", map[string]interface{}{"deployer": "0x00000000000000000000000000000000000000aa"}, "missing param kind"},
		{"bad deployer", map[string]interface{}{"kind": "Flow", "deployer": "nope"}, "param deployer"},
		{"not an implementation", map[string]interface{}{"kind": "Store", "deployer": "0x00000000000000000000000000000000000000aa"}, "Store"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := o.Run(context.Background(), &Scenario{Name: "impl", Tasks: []Task{
				{Name: "impl", Type: "implementation", Params: tt.params},
			}})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSubgraphCheckHandler(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data": {"indexingStatuses": []}}`))
	}))
	t.Cleanup(srv.Close)

	o := New()
	RegisterDefaults(o, deploy.New(&recordingChain{}, &config.Config{}), subgraph.NewChecker(srv.URL, 10*time.Millisecond))

	results, err := o.Run(context.Background(), &Scenario{Name: "graph", Tasks: []Task{
		{Name: "graph-node", Type: "subgraph-check", Timeout: time.Second},
	}})
	require.NoError(t, err)
	assert.Equal(t, true, results[0].Output["initialized"])
}
