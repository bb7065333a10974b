package oxy

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// PlanAndSolveAgent runs a two-phase loop: a planner turn that breaks
// the query into numbered steps, then one sub-call per step with the
// accumulated step results in context, and a final synthesis turn over
// the whole trail.
type PlanAndSolveAgent struct {
	Base
	agentCore
}

var _ Component = (*PlanAndSolveAgent)(nil)
var _ permittedLister = (*PlanAndSolveAgent)(nil)

const defaultPlannerPrompt = `Devise a plan for the task below. Reply with a numbered list of
short, concrete steps, one per line, and nothing else.`

// NewPlanAndSolveAgent creates a PlanAndSolveAgent driving the named
// LLM component. WithPrompt overrides the planner instruction.
func NewPlanAndSolveAgent(name, llm string, opts ...Option) *PlanAndSolveAgent {
	cfg := buildConfig(opts)
	return &PlanAndSolveAgent{
		Base:      newBase(name, CategoryAgent, cfg),
		agentCore: newAgentCore(llm, cfg),
	}
}

var planStepRe = regexp.MustCompile(`^\s*(\d+)[.)]\s+(.*\S)\s*$`)

// parsePlan extracts the numbered steps from the planner output. Lines
// that do not look like "N. step" or "N) step" are ignored, so chatty
// preambles around the list are harmless.
func parsePlan(text string) []string {
	var steps []string
	for _, line := range strings.Split(text, "\n") {
		if m := planStepRe.FindStringSubmatch(line); m != nil {
			steps = append(steps, m[2])
		}
	}
	return steps
}

// Exec implements Component.
func (a *PlanAndSolveAgent) Exec(ctx context.Context, req *Request) (*Response, error) {
	prompt := a.prompt
	if prompt == "" {
		prompt = defaultPlannerPrompt
	}

	planMem := Memory{SystemMessage(prompt)}
	planMem = append(planMem, MemoryFromArguments(req.Arguments)...)
	planMem = append(planMem, UserMessage(req.Query))
	resp, plan, _ := a.callLLM(ctx, req, planMem, nil)
	if resp.Failed() {
		return &Response{State: StateFailed, Output: resp.OutputString(), Req: req}, nil
	}

	steps := parsePlan(plan)
	if len(steps) == 0 {
		// Model ignored the format: treat the whole reply as the answer.
		return &Response{State: StateCompleted, Output: plan, Req: req}, nil
	}
	if len(steps) > a.maxIter {
		steps = steps[:a.maxIter]
	}

	var trail strings.Builder
	fmt.Fprintf(&trail, "Task: %s\nPlan:\n%s\n", req.Query, plan)
	for i, step := range steps {
		if req.Canceled() {
			return &Response{State: StateCanceled, Output: trail.String(), Req: req}, nil
		}
		out := a.solveStep(ctx, req, step, trail.String())
		fmt.Fprintf(&trail, "\nStep %d: %s\nResult: %s\n", i+1, step, out)
	}

	synthMem := Memory{
		SystemMessage("Write the final answer to the task using the step results below."),
		UserMessage(trail.String()),
	}
	final, content, _ := a.callLLM(ctx, req, synthMem, nil)
	if final.Failed() {
		return &Response{State: StateFailed, Output: final.OutputString(), Req: req}, nil
	}
	out := &Response{State: StateCompleted, Output: content, Req: req}
	out.Extra = final.Extra
	return out, nil
}

// solveStep executes one plan step. With permitted tools the step is
// delegated to the first tool that can take it; otherwise the LLM
// answers it directly with the trail so far as context.
func (a *PlanAndSolveAgent) solveStep(ctx context.Context, req *Request, step, trail string) string {
	if len(a.tools) > 0 {
		resp := req.Call(ctx, map[string]any{
			"callee":    a.tools[0],
			"query":     step,
			"arguments": map[string]any{"query": step, "context": trail},
		})
		if !resp.Failed() {
			return resp.OutputString()
		}
		a.MAS().auditLog("plan step delegation degraded",
			"agent", a.Name(), "step", step, "error", resp.OutputString())
	}
	mem := Memory{
		SystemMessage("Carry out only the single step you are given, using the context."),
		UserMessage(fmt.Sprintf("%s\n\nCurrent step: %s", trail, step)),
	}
	resp, content, _ := a.callLLM(ctx, req, mem, nil)
	if resp.Failed() {
		return ""
	}
	return content
}
