// Package oxy is a multi-agent orchestration runtime for Go.
//
// It provides a registry of named components (agents, tools, LLM
// connectors) that call one another through a uniform request/response
// envelope, with automatic trace-chain propagation, session and group
// data scoping, and pluggable transports (in-process, HTTP/SSE
// streaming, stdio subprocess tool servers).
//
// # Quick Start
//
// Build a registry, register components, and issue a call:
//
//	mas := oxy.NewMAS("demo", oxy.WithStore(memory.New()))
//
//	hub := oxy.NewFunctionHub()
//	hub.Register("now", "Current time", func(ctx context.Context, args map[string]any) (any, error) {
//		return time.Now().Format(time.RFC3339), nil
//	}, nil)
//
//	mas.Register(oxy.NewLLM("gpt", provider))
//	mas.RegisterHub(hub)
//	mas.Register(oxy.NewReActAgent("assistant", "gpt",
//		oxy.WithTools("now"),
//	))
//	mas.Start(ctx)
//
//	resp := mas.Chat(ctx, "assistant", "What time is it?")
//
// # Core Interfaces
//
// The root package defines the contracts that all components implement:
//
//   - [Component] - a named, callable unit registered with the [MAS]
//   - [PreProcessor], [PostProcessor] - optional pipeline hooks
//   - [Provider] - LLM backend (generic chat-message schema)
//   - [Tracer], [Span], [Metrics] - pluggable observability (observer
//     package provides OTel-backed implementations)
//
// Persistence lives behind narrow contracts: the store package defines
// the document store consumed for traces, session history, and
// messages; the vector package defines the vector-search contract.
//
// # Components
//
// Agents: [ReActAgent] (reasoning loop), [ChatAgent] (single LLM turn),
// [ParallelAgent] (fan-out/fan-in), [PlanAndSolveAgent] (plan then
// execute). Transports: [SSEAgent] (remote execution over HTTP/SSE),
// [MCPTool] (stdio subprocess tool servers via the mcp package).
// Tools: [FunctionHub]/[FunctionTool] (explicitly registered functions).
//
// See cmd/oxy for a complete reference application.
package oxy
