package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echo returns its params plus a fixed address output.
func echo(addr string) TaskHandler {
	return HandlerFunc(func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
		out := map[string]interface{}{AddressOutput: addr}
		for k, v := range params {
			out[k] = v
		}
		return out, nil
	})
}

func TestStages(t *testing.T) {
	tasks := []Task{
		{Name: "graph", DependsOn: []string{"flow"}},
		{Name: "touch"},
		{Name: "flow", DependsOn: []string{"touch", "factory"}},
		{Name: "factory", DependsOn: []string{"touch"}},
	}
	stages, err := Stages(tasks)
	require.NoError(t, err)

	var names [][]string
	for _, s := range stages {
		var level []string
		for _, task := range s {
			level = append(level, task.Name)
		}
		names = append(names, level)
	}
	assert.Equal(t, [][]string{{"touch"}, {"factory"}, {"flow"}, {"graph"}}, names)
}

func TestStages_Cycle(t *testing.T) {
	_, err := Stages([]Task{
		{Name: "a", DependsOn: []string{"b"}},
		{Name: "b", DependsOn: []string{"a"}},
	})
	assert.ErrorIs(t, err, ErrCycle)
}

func TestRun_ResolvesReferences(t *testing.T) {
	o := New()
	o.Register("deployer", echo("0x00000000000000000000000000000000000000aa"))
	o.Register("consumer", echo("0x00000000000000000000000000000000000000bb"))

	sc := &Scenario{
		Name:      "refs",
		Variables: map[string]string{"label": "demo"},
		Tasks: []Task{
			{Name: "touch", Type: "deployer", Params: map[string]interface{}{"store": "0x01"}},
			{Name: "use", Type: "consumer", DependsOn: []string{"touch"}, Params: map[string]interface{}{
				"deployer": "${touch}",
				"store":    "${touch.store}",
				"label":    "${label}",
				"list":     []interface{}{"${touch}", 7},
				"plain":    "value",
			}},
		},
	}

	results, err := o.Run(context.Background(), sc)
	require.NoError(t, err)
	require.Len(t, results, 2)

	out := results[1].Output
	assert.Equal(t, "use", results[1].TaskName)
	assert.Equal(t, "0x00000000000000000000000000000000000000aa", out["deployer"])
	assert.Equal(t, "0x01", out["store"])
	assert.Equal(t, "demo", out["label"])
	assert.Equal(t, []interface{}{"0x00000000000000000000000000000000000000aa", 7}, out["list"])
	assert.Equal(t, "value", out["plain"])
}

func TestRun_UnresolvedReference(t *testing.T) {
	o := New()
	o.Register("t", echo("0x01"))

	results, err := o.Run(context.Background(), &Scenario{Name: "bad", Tasks: []Task{
		{Name: "a", Type: "t", Params: map[string]interface{}{"x": "${missing}"}},
	}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "${missing}")
	assert.Empty(t, results)
}

func TestRun_MissingOutputField(t *testing.T) {
	o := New()
	o.Register("t", echo("0x01"))

	results, err := o.Run(context.Background(), &Scenario{Name: "field", Tasks: []Task{
		{Name: "a", Type: "t"},
		{Name: "b", Type: "t", DependsOn: []string{"a"}, Params: map[string]interface{}{"x": "${a.store}"}},
	}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "task a has no output store")
	require.Len(t, results, 2)
	assert.Error(t, results[1].Error)
}

func TestRun_FailureDoesNotCancelSiblings(t *testing.T) {
	o := New()
	o.Register("fail", HandlerFunc(func(context.Context, map[string]interface{}) (map[string]interface{}, error) {
		return nil, errors.New("insufficient funds")
	}))
	o.Register("slow", HandlerFunc(func(ctx context.Context, _ map[string]interface{}) (map[string]interface{}, error) {
		select {
		case <-time.After(50 * time.Millisecond):
			return map[string]interface{}{AddressOutput: "0x02"}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}))

	results, err := o.Run(context.Background(), &Scenario{Name: "siblings", Tasks: []Task{
		{Name: "bad", Type: "fail"},
		{Name: "deploy", Type: "slow"},
	}})
	require.Error(t, err)
	require.Len(t, results, 2)
	assert.Error(t, results[0].Error)
	assert.NoError(t, results[1].Error)
	assert.Equal(t, "0x02", results[1].Output[AddressOutput])
}

func TestRun_StageRunsConcurrently(t *testing.T) {
	o := New()

	var wg sync.WaitGroup
	wg.Add(2)
	barrier := HandlerFunc(func(ctx context.Context, _ map[string]interface{}) (map[string]interface{}, error) {
		wg.Done()
		done := make(chan struct{})
		go func() { wg.Wait(); close(done) }()
		select {
		case <-done:
			return map[string]interface{}{}, nil
		case <-time.After(2 * time.Second):
			return nil, errors.New("sibling task never started")
		}
	})
	o.Register("barrier", barrier)

	_, err := o.Run(context.Background(), &Scenario{Name: "parallel", Tasks: []Task{
		{Name: "a", Type: "barrier"},
		{Name: "b", Type: "barrier"},
	}})
	require.NoError(t, err)
}

func TestRun_FailureStopsLaterStages(t *testing.T) {
	o := New()
	var ran atomic.Int32
	o.Register("fail", HandlerFunc(func(context.Context, map[string]interface{}) (map[string]interface{}, error) {
		return nil, errors.New("insufficient funds")
	}))
	o.Register("count", HandlerFunc(func(context.Context, map[string]interface{}) (map[string]interface{}, error) {
		ran.Add(1)
		return map[string]interface{}{}, nil
	}))

	results, err := o.Run(context.Background(), &Scenario{Name: "fail", Tasks: []Task{
		{Name: "first", Type: "fail"},
		{Name: "second", Type: "count", DependsOn: []string{"first"}},
	}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "task first")
	assert.Len(t, results, 1)
	assert.Zero(t, ran.Load())
}

func TestRun_TaskTimeout(t *testing.T) {
	o := New()
	o.Register("slow", HandlerFunc(func(ctx context.Context, _ map[string]interface{}) (map[string]interface{}, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))

	_, err := o.Run(context.Background(), &Scenario{Name: "slow", Tasks: []Task{
		{Name: "wait", Type: "slow", Timeout: 20 * time.Millisecond},
	}})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestValidate(t *testing.T) {
	o := New()
	o.Register("t", echo("0x01"))

	tests := []struct {
		name  string
		tasks []Task
		want  string
	}{
		{"unnamed", []Task{{Type: "t"}}, "has no name"},
		{"duplicate", []Task{{Name: "a", Type: "t"}, {Name: "a", Type: "t"}}, "duplicate task name"},
		{"unknown type", []Task{{Name: "a", Type: "nope"}}, "no handler for type nope"},
		{"unknown dependency", []Task{{Name: "a", Type: "t", DependsOn: []string{"z"}}}, "unknown task z"},
		{"reference without dependency", []Task{
			{Name: "a", Type: "t"},
			{Name: "b", Type: "t", Params: map[string]interface{}{"x": "${a}"}},
		}, "does not depend on task a"},
		{"field reference without dependency", []Task{
			{Name: "a", Type: "t"},
			{Name: "b", Type: "t", Params: map[string]interface{}{"x": []interface{}{"${a.store}"}}},
		}, "does not depend on task a"},
		{"self reference", []Task{
			{Name: "a", Type: "t", Params: map[string]interface{}{"x": "${a}"}},
		}, "does not depend on task a"},
		{"unknown reference", []Task{
			{Name: "a", Type: "t", Params: map[string]interface{}{"x": "${nope}"}},
		}, "neither a task nor a variable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := o.Validate(&Scenario{Name: "v", Tasks: tt.tasks})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_TransitiveReference(t *testing.T) {
	o := New()
	o.Register("t", echo("0x01"))

	err := o.Validate(&Scenario{
		Name:      "transitive",
		Variables: map[string]string{"owner": "0x03"},
		Tasks: []Task{
			{Name: "touch", Type: "t"},
			{Name: "factory", Type: "t", DependsOn: []string{"touch"}},
			{Name: "clone", Type: "t", DependsOn: []string{"factory"}, Params: map[string]interface{}{
				"deployer": "${touch}",
				"nested":   map[string]interface{}{"store": "${touch.store}"},
				"owner":    "${owner}",
			}},
		},
	})
	assert.NoError(t, err)
}

func TestLoadScenario(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: custom
variables:
  owner: "0x00000000000000000000000000000000000000aa"
tasks:
  - name: touch
    type: touch-deployer
    timeout: 90s
  - name: flow
    type: flow
    depends_on: [touch]
    params:
      deployer: ${touch}
`), 0o644))

	sc, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, "custom", sc.Name)
	require.Len(t, sc.Tasks, 2)
	assert.Equal(t, 90*time.Second, sc.Tasks[0].Timeout)
	assert.Equal(t, []string{"touch"}, sc.Tasks[1].DependsOn)
	assert.Equal(t, "${touch}", sc.Tasks[1].Params["deployer"])
	assert.Equal(t, "0x00000000000000000000000000000000000000aa", sc.Variables["owner"])
}

func TestParseScenario_Invalid(t *testing.T) {
	_, err := ParseScenario([]byte("tasks: []"))
	assert.Error(t, err)

	_, err = ParseScenario([]byte("name: empty"))
	assert.Error(t, err)
}
