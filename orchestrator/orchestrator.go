package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/sync/errgroup"
)

// ErrCycle is returned when a scenario's dependencies cannot be ordered.
var ErrCycle = errors.New("circular dependency detected or missing dependency")

// AddressOutput is the output key a bare ${task} reference resolves to.
const AddressOutput = "address"

type Orchestrator struct {
	handlers map[string]TaskHandler
	mu       sync.RWMutex
	logger   log.Logger
}

func New() *Orchestrator {
	return &Orchestrator{
		handlers: make(map[string]TaskHandler),
		logger:   log.New("module", "orchestrator"),
	}
}

// Register binds a task type to its handler, replacing any previous one.
func (o *Orchestrator) Register(taskType string, h TaskHandler) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.handlers[taskType] = h
}

// Types returns the registered task types, sorted.
func (o *Orchestrator) Types() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]string, 0, len(o.handlers))
	for t := range o.handlers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (o *Orchestrator) handler(taskType string) (TaskHandler, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	h, ok := o.handlers[taskType]
	return h, ok
}

// Validate checks task names, handler types and dependency references.
func (o *Orchestrator) Validate(sc *Scenario) error {
	seen := make(map[string]bool, len(sc.Tasks))
	for _, t := range sc.Tasks {
		if t.Name == "" {
			return fmt.Errorf("task of type %s has no name", t.Type)
		}
		if seen[t.Name] {
			return fmt.Errorf("duplicate task name %s", t.Name)
		}
		seen[t.Name] = true
		if _, ok := o.handler(t.Type); !ok {
			return fmt.Errorf("task %s: no handler for type %s", t.Name, t.Type)
		}
	}
	deps := make(map[string][]string, len(sc.Tasks))
	for _, t := range sc.Tasks {
		for _, dep := range t.DependsOn {
			if !seen[dep] {
				return fmt.Errorf("task %s depends on unknown task %s", t.Name, dep)
			}
		}
		deps[t.Name] = t.DependsOn
	}

	for _, t := range sc.Tasks {
		upstream := ancestors(t.Name, deps)
		var err error
		walkReferences(t.Params, func(arg, name string, hasField bool) {
			if err != nil {
				return
			}
			switch {
			case seen[name] && !upstream[name]:
				err = fmt.Errorf("task %s references %s but does not depend on task %s", t.Name, arg, name)
			case !seen[name] && (hasField || !hasVariable(sc, name)):
				err = fmt.Errorf("task %s references %s, which is neither a task nor a variable", t.Name, arg)
			}
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// ancestors returns every task name reachable from name through depends_on.
func ancestors(name string, deps map[string][]string) map[string]bool {
	out := make(map[string]bool)
	stack := append([]string(nil), deps[name]...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if out[n] {
			continue
		}
		out[n] = true
		stack = append(stack, deps[n]...)
	}
	return out
}

func hasVariable(sc *Scenario, name string) bool {
	_, ok := sc.Variables[name]
	return ok
}

// walkReferences calls fn for every ${name} or ${name.field} string found
// in v, descending into lists and maps.
func walkReferences(v interface{}, fn func(arg, name string, hasField bool)) {
	switch val := v.(type) {
	case string:
		if name, _, hasField, ok := parseReference(val); ok {
			fn(val, name, hasField)
		}
	case []interface{}:
		for _, item := range val {
			walkReferences(item, fn)
		}
	case map[string]interface{}:
		for _, item := range val {
			walkReferences(item, fn)
		}
	}
}

func parseReference(arg string) (name, field string, hasField, ok bool) {
	if !strings.HasPrefix(arg, "${") || !strings.HasSuffix(arg, "}") {
		return "", "", false, false
	}
	name, field, hasField = strings.Cut(arg[2:len(arg)-1], ".")
	return name, field, hasField, true
}

// Stages groups tasks into dependency levels. Every task in a stage depends
// only on tasks of earlier stages.
func Stages(tasks []Task) ([][]Task, error) {
	var stages [][]Task
	done := make(map[string]bool, len(tasks))

	for len(done) < len(tasks) {
		var stage []Task
		for _, t := range tasks {
			if done[t.Name] {
				continue
			}
			ready := true
			for _, dep := range t.DependsOn {
				if !done[dep] {
					ready = false
					break
				}
			}
			if ready {
				stage = append(stage, t)
			}
		}
		if len(stage) == 0 {
			return nil, ErrCycle
		}
		for _, t := range stage {
			done[t.Name] = true
		}
		stages = append(stages, stage)
	}
	return stages, nil
}

// Run executes the scenario stage by stage. Tasks within a stage run
// concurrently. The first failing stage stops the run; results gathered so
// far are returned alongside the error.
func (o *Orchestrator) Run(ctx context.Context, sc *Scenario) ([]TaskResult, error) {
	if err := o.Validate(sc); err != nil {
		return nil, err
	}
	stages, err := Stages(sc.Tasks)
	if err != nil {
		return nil, err
	}

	o.logger.Info("Running scenario", "name", sc.Name, "tasks", len(sc.Tasks), "stages", len(stages))

	var (
		mu      sync.Mutex
		outputs = make(map[string]map[string]interface{}, len(sc.Tasks))
		results []TaskResult
	)

	for i, stage := range stages {
		stageResults := make([]TaskResult, len(stage))
		// Siblings keep running when one fails: a cancelled task could be
		// mid-deployment of a singleton another task depends on.
		var g errgroup.Group
		for j, task := range stage {
			g.Go(func() error {
				mu.Lock()
				params, err := resolveParams(task.Params, outputs, sc.Variables)
				mu.Unlock()

				var res TaskResult
				if err != nil {
					res = TaskResult{TaskName: task.Name, Error: err}
				} else {
					res = o.execute(ctx, task, params)
				}
				stageResults[j] = res
				if res.Error != nil {
					return fmt.Errorf("task %s: %w", task.Name, res.Error)
				}

				mu.Lock()
				outputs[task.Name] = res.Output
				mu.Unlock()
				return nil
			})
		}
		err := g.Wait()
		results = append(results, stageResults...)
		if err != nil {
			o.logger.Warn("Scenario failed", "name", sc.Name, "stage", i, "err", err)
			return results, err
		}
	}

	o.logger.Info("Scenario completed", "name", sc.Name)
	return results, nil
}

func (o *Orchestrator) execute(ctx context.Context, task Task, params map[string]interface{}) TaskResult {
	h, _ := o.handler(task.Type)
	if task.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, task.Timeout)
		defer cancel()
	}

	o.logger.Debug("Executing task", "task", task.Name, "type", task.Type)
	start := time.Now()
	out, err := h.Execute(ctx, params)
	res := TaskResult{TaskName: task.Name, Output: out, Error: err, Duration: time.Since(start)}
	if err != nil {
		o.logger.Warn("Task failed", "task", task.Name, "elapsed", res.Duration, "err", err)
	} else {
		o.logger.Info("Task completed", "task", task.Name, "elapsed", res.Duration)
	}
	return res
}

// resolveParams substitutes ${name} and ${name.field} references in string
// values. ${name} resolves to the "address" output of task name, or to the
// scenario variable name when no such task exists.
func resolveParams(params map[string]interface{}, outputs map[string]map[string]interface{}, vars map[string]string) (map[string]interface{}, error) {
	resolved := make(map[string]interface{}, len(params))
	for k, v := range params {
		rv, err := resolveValue(v, outputs, vars)
		if err != nil {
			return nil, fmt.Errorf("param %s: %w", k, err)
		}
		resolved[k] = rv
	}
	return resolved, nil
}

func resolveValue(v interface{}, outputs map[string]map[string]interface{}, vars map[string]string) (interface{}, error) {
	switch val := v.(type) {
	case string:
		return resolveReference(val, outputs, vars)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			rv, err := resolveValue(item, outputs, vars)
			if err != nil {
				return nil, err
			}
			out[i] = rv
		}
		return out, nil
	case map[string]interface{}:
		return resolveParams(val, outputs, vars)
	default:
		return v, nil
	}
}

func resolveReference(arg string, outputs map[string]map[string]interface{}, vars map[string]string) (interface{}, error) {
	name, field, hasField, ok := parseReference(arg)
	if !ok {
		return arg, nil
	}
	if !hasField {
		field = AddressOutput
	}

	if out, ok := outputs[name]; ok {
		value, ok := out[field]
		if !ok {
			return nil, fmt.Errorf("task %s has no output %s", name, field)
		}
		return value, nil
	}
	if !hasField {
		if value, ok := vars[name]; ok {
			return value, nil
		}
	}
	return nil, fmt.Errorf("reference %s not found in completed tasks or variables", arg)
}
