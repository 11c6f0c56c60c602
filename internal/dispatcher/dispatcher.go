// Package dispatcher implements the Action Dispatcher: it asks the LLM
// Gateway for a structured tool plan, groups the plan into dependency
// waves, runs each wave with bounded concurrency, folds the results back
// into the dialogue as function-role turns, and asks the Gateway once
// more for the final user-facing response.
package dispatcher

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/starpig1129/pigpig-core/internal/llmgateway"
	"github.com/starpig1129/pigpig-core/internal/providers"
	"github.com/starpig1129/pigpig-core/internal/telemetry"
	"github.com/starpig1129/pigpig-core/internal/tools"
)

// directlyAnswer is the tool name meaning "no tool call needed, answer
// from context"; it is never actually executed.
const directlyAnswer = "directly_answer"

// defaultDependencies mirrors the original's static tool_dependencies map:
// a tool only starts once every tool it names here has completed in an
// earlier wave.
var defaultDependencies = map[string][]string{
	"internet_search":     {},
	"calculate":           {},
	"gen_img":             {},
	"manage_user_data":    {"internet_search"},
	"schedule_management": {},
	"send_reminder":       {"schedule_management"},
	directlyAnswer:        {"internet_search", "calculate", "manage_user_data"},
}

// Tool is one callable action. Implementations live alongside the domain
// they automate (search, scheduling, reminders, user-data edits).
type Tool interface {
	Execute(ctx context.Context, params map[string]interface{}) *tools.Result
}

// Plan is one step of the tool plan the Gateway returns.
type Plan struct {
	ToolName   string                 `json:"tool_name"`
	Parameters map[string]interface{} `json:"parameters"`
}

// Config configures planning and execution limits.
type Config struct {
	HistoryWindow      int           // default 10
	MaxParallelWorkers int           // default 4
	DefaultToolTimeout time.Duration // default 30s
	ToolTimeouts       map[string]time.Duration
	Dependencies       map[string][]string // overrides defaultDependencies when non-nil
}

func (c Config) withDefaults() Config {
	if c.HistoryWindow <= 0 {
		c.HistoryWindow = 10
	}
	if c.MaxParallelWorkers <= 0 {
		c.MaxParallelWorkers = 4
	}
	if c.DefaultToolTimeout <= 0 {
		c.DefaultToolTimeout = 30 * time.Second
	}
	if c.Dependencies == nil {
		c.Dependencies = defaultDependencies
	}
	return c
}

// Dispatcher plans and executes tool calls for one user turn.
type Dispatcher struct {
	cfg      Config
	gateway  *llmgateway.Gateway
	tools    map[string]Tool
	reporter telemetry.ErrorReporter
}

// New builds a Dispatcher. toolset maps tool name to implementation; a
// plan naming an unregistered tool is reported and skipped.
func New(cfg Config, gateway *llmgateway.Gateway, toolset map[string]Tool, reporter telemetry.ErrorReporter) *Dispatcher {
	if reporter == nil {
		reporter = telemetry.FromContext(context.Background())
	}
	return &Dispatcher{cfg: cfg.withDefaults(), gateway: gateway, tools: toolset, reporter: reporter}
}

// ToolRunResult is the uniform outcome of one executed plan step.
type ToolRunResult struct {
	ToolName      string
	Result        *tools.Result
	Err           error
	ExecutionTime time.Duration
}

// Dispatch plans tool calls for prompt given dialogueHistory (already
// windowed/enriched by the caller), executes them in dependency order with
// bounded concurrency, folds their outputs into the history, and returns
// the final generated response text.
func (d *Dispatcher) Dispatch(ctx context.Context, systemPrompt, prompt string, dialogueHistory []providers.Message) (string, error) {
	plan := d.planActions(ctx, systemPrompt, prompt, dialogueHistory)

	runs := d.executePlan(ctx, plan)

	finalHistory := append([]providers.Message{}, dialogueHistory...)
	for _, r := range runs {
		// directly_answer is never executed as a tool; folding it into the
		// history would hand the final response call a spurious function
		// turn with no result to report.
		if r.ToolName == directlyAnswer {
			continue
		}
		finalHistory = append(finalHistory, formatToolResult(r))
	}

	var b strings.Builder
	for c := range d.gateway.Generate(ctx, llmgateway.Request{
		SystemPrompt: systemPrompt,
		Messages:     append(finalHistory, providers.Message{Role: "user", Content: prompt}),
	}) {
		if c.Err != nil {
			return "", fmt.Errorf("dispatcher: final response: %s", c.Err.Error())
		}
		b.WriteString(c.Content)
	}
	return b.String(), nil
}

// planSchema is the JSON schema the Gateway must match in structured mode.
var planSchema = map[string]interface{}{
	"type": "array",
	"items": map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"tool_name":  map[string]interface{}{"type": "string"},
			"parameters": map[string]interface{}{"type": "object"},
		},
		"required": []string{"tool_name", "parameters"},
	},
}

// planActions asks the Gateway for a tool plan, falling back to a single
// directly_answer step on any parse or generation failure, matching the
// original's defensive default.
func (d *Dispatcher) planActions(ctx context.Context, systemPrompt, prompt string, history []providers.Message) []Plan {
	var plan []Plan
	req := llmgateway.Request{
		SystemPrompt:   systemPrompt,
		Messages:       append(windowHistory(history, d.cfg.HistoryWindow), providers.Message{Role: "user", Content: prompt}),
		ResponseSchema: planSchema,
	}
	if err := d.gateway.GenerateStructured(ctx, req, &plan); err != nil {
		d.reporter.ReportError("dispatcher.plan_actions", fmt.Errorf("generate structured: %w", err), nil)
		return defaultActionList(prompt)
	}
	if len(plan) == 0 {
		return defaultActionList(prompt)
	}
	return plan
}

func defaultActionList(prompt string) []Plan {
	return []Plan{{ToolName: directlyAnswer, Parameters: map[string]interface{}{"prompt": prompt}}}
}

func windowHistory(history []providers.Message, window int) []providers.Message {
	if len(history) <= window {
		return history
	}
	return history[len(history)-window:]
}

// executePlan groups plan steps into dependency waves and runs each wave
// with bounded concurrency, skipping directly_answer (never executed as a
// tool: its role is purely to signal "no tool needed").
func (d *Dispatcher) executePlan(ctx context.Context, plan []Plan) []ToolRunResult {
	waves := d.scheduleWaves(plan)

	var results []ToolRunResult
	for _, wave := range waves {
		results = append(results, d.runWave(ctx, wave)...)
	}
	return results
}

// scheduleWaves groups plan steps so that every step in a wave has all its
// declared dependencies satisfied by a prior wave. If no step is ready
// (a dependency cycle among this batch's tools), it force-executes the
// remaining steps in declaration order rather than deadlocking.
func (d *Dispatcher) scheduleWaves(plan []Plan) [][]Plan {
	remaining := append([]Plan{}, plan...)
	completed := make(map[string]bool)
	var waves [][]Plan

	for len(remaining) > 0 {
		var ready, waiting []Plan
		for _, p := range remaining {
			deps := d.cfg.Dependencies[p.ToolName]
			if dependenciesSatisfied(deps, completed, remaining) {
				ready = append(ready, p)
			} else {
				waiting = append(waiting, p)
			}
		}
		if len(ready) == 0 {
			// Cycle among the remaining tools: force execute them all.
			ready = waiting
			waiting = nil
		}
		waves = append(waves, ready)
		for _, p := range ready {
			completed[p.ToolName] = true
		}
		remaining = waiting
	}
	return waves
}

// dependenciesSatisfied reports whether every dependency of a tool is
// either already completed or simply absent from this batch (a dependency
// on a tool that was never planned can never block execution).
func dependenciesSatisfied(deps []string, completed map[string]bool, batch []Plan) bool {
	present := make(map[string]bool, len(batch))
	for _, p := range batch {
		present[p.ToolName] = true
	}
	for _, dep := range deps {
		if present[dep] && !completed[dep] {
			return false
		}
	}
	return true
}

// runWave executes every step in wave concurrently, bounded by
// cfg.MaxParallelWorkers, each under its own timeout.
func (d *Dispatcher) runWave(ctx context.Context, wave []Plan) []ToolRunResult {
	results := make([]ToolRunResult, len(wave))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.MaxParallelWorkers)

	for i, step := range wave {
		i, step := i, step
		g.Go(func() error {
			results[i] = d.runStep(gctx, step)
			return nil
		})
	}
	_ = g.Wait() // runStep never returns an error; failures are captured per-result
	return results
}

func (d *Dispatcher) runStep(ctx context.Context, step Plan) ToolRunResult {
	if step.ToolName == directlyAnswer {
		return ToolRunResult{ToolName: step.ToolName}
	}

	tool, ok := d.tools[step.ToolName]
	if !ok {
		err := fmt.Errorf("unknown tool %q", step.ToolName)
		d.reporter.ReportError("dispatcher.run_step", err, map[string]any{"tool": step.ToolName})
		return ToolRunResult{ToolName: step.ToolName, Err: err}
	}

	timeout := d.cfg.DefaultToolTimeout
	if t, ok := d.cfg.ToolTimeouts[step.ToolName]; ok {
		timeout = t
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	done := make(chan *tools.Result, 1)
	go func() { done <- tool.Execute(runCtx, step.Parameters) }()

	select {
	case res := <-done:
		return ToolRunResult{ToolName: step.ToolName, Result: res, ExecutionTime: time.Since(start)}
	case <-runCtx.Done():
		err := fmt.Errorf("tool %s timed out after %s", step.ToolName, timeout)
		d.reporter.ReportError("dispatcher.run_step", err, map[string]any{"tool": step.ToolName})
		return ToolRunResult{ToolName: step.ToolName, Err: err, ExecutionTime: time.Since(start)}
	}
}

// formatToolResult turns one tool's outcome into a function-role history
// entry the next Gateway call can read, mirroring the original's
// format_tool_result.
func formatToolResult(r ToolRunResult) providers.Message {
	var content string
	switch {
	case r.Err != nil:
		content = fmt.Sprintf("tool %s failed: %s", r.ToolName, r.Err.Error())
	case r.Result == nil:
		content = fmt.Sprintf("tool %s completed with no result", r.ToolName)
	case r.Result.IsError:
		content = r.Result.ForLLM
	default:
		content = r.Result.ForLLM
	}
	return providers.Message{Role: "tool", Content: content, ToolCallID: r.ToolName}
}
