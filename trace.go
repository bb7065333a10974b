package oxy

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/oxyrun/oxy/store"
)

// rootTraceSep joins root trace ids into the stored pipe-joined form.
const rootTraceSep = "|"

// lookupTrace fetches the trace record for traceID, or false when the
// store is unset or the lookup misses. Lookup failures are logged, not
// fatal: an unreachable store degrades tracing, never the call itself.
func (m *MAS) lookupTrace(ctx context.Context, traceID string) (map[string]any, bool) {
	if m.store == nil || traceID == "" {
		return nil, false
	}
	res, err := m.store.Search(ctx, m.indexName("trace"), store.Term("trace_id", traceID))
	if err != nil {
		m.logger.Warn("trace lookup failed", "trace_id", traceID, "error", err)
		return nil, false
	}
	return res.First()
}

// adoptLineage implements the trace-lineage rule for user-originated
// calls: when no root trace ids exist yet and a from-trace id is
// present, adopt the prior trace's stored root ids and append the
// from-trace id; when root ids already exist, simply append. The chain
// is append-only, order preserved, duplicates allowed.
//
// Returns the prior trace record when one was consulted; bindGroup
// uses it for group inheritance.
func (m *MAS) adoptLineage(ctx context.Context, req *Request) map[string]any {
	if req.CallerCategory != CategoryUser || req.FromTraceID == "" {
		return nil
	}

	if len(req.RootTraceIDs) > 0 {
		req.RootTraceIDs = append(req.RootTraceIDs, req.FromTraceID)
		return nil
	}

	prior, ok := m.lookupTrace(ctx, req.FromTraceID)
	if ok {
		req.RootTraceIDs = parseRootTraceIDs(prior["root_trace_ids"])
	}
	req.RootTraceIDs = append(req.RootTraceIDs, req.FromTraceID)
	return prior
}

// bindGroup rebinds a user-originated request onto its group's shared
// in-process scope, adopting the group id from the prior trace when
// the payload did not carry one. Merge precedence: values already live
// in the group scope win over stored ones, and stored ones win over
// values supplied in the new payload: a payload entry lands only when
// its key is still absent.
func (m *MAS) bindGroup(req *Request, prior map[string]any) {
	if req.GroupID == "" {
		if gid, ok := prior["group_id"].(string); ok {
			req.GroupID = gid
		}
	}
	if req.GroupID == "" {
		return
	}

	payload := req.Group.Snapshot()
	g := m.groupScope(req.GroupID)
	if stored := decodeJSONMap(prior["group_data"]); stored != nil {
		g.MergeIfAbsent(stored)
	}
	g.MergeIfAbsent(payload)
	req.Group = g
}

// preSave writes the trace record before execution for user-originated
// calls so partially-failed calls remain traceable. Output is empty at
// this point; postSave fills it in. Failure to write is logged, not
// fatal.
func (m *MAS) preSave(ctx context.Context, req *Request) {
	if m.store == nil || req.CallerCategory != CategoryUser {
		return
	}
	if err := m.store.Index(ctx, m.indexName("trace"), req.TraceID, traceDoc(req, "")); err != nil {
		m.logger.Warn("trace pre-save failed", "trace_id", req.TraceID, "error", err)
	}
}

// postSave updates the trace record with the final output, writes the
// per-hop node record, and, when history saving is on, the session
// history record keyed by trace id and session name.
func (m *MAS) postSave(ctx context.Context, req *Request, resp *Response) {
	if m.store == nil {
		return
	}

	if err := m.store.Index(ctx, m.indexName("node"), req.NodeID, nodeDoc(req, resp)); err != nil {
		m.logger.Warn("node record write failed", "node_id", req.NodeID, "error", err)
	}

	if req.CallerCategory != CategoryUser {
		return
	}

	if err := m.store.Index(ctx, m.indexName("trace"), req.TraceID, traceDoc(req, resp.OutputString())); err != nil {
		m.logger.Warn("trace post-save failed", "trace_id", req.TraceID, "error", err)
	}

	if req.SaveHistory && req.Session != "" {
		historyID := req.TraceID + "__" + req.Session
		memory := map[string]any{
			"query":  req.Query,
			"answer": resp.OutputString(),
		}
		for k, v := range resp.Extra {
			memory[k] = v
		}
		raw, _ := json.Marshal(memory)
		doc := map[string]any{
			"history_id":   historyID,
			"session_name": req.Session,
			"trace_id":     req.TraceID,
			"memory":       string(raw),
			"create_time":  NowUnix(),
		}
		if err := m.store.Index(ctx, m.indexName("history"), historyID, doc); err != nil {
			m.logger.Warn("history write failed", "history_id", historyID, "error", err)
		}
	}
}

// History fetches the session-history record for one trace and session
// name, returning the decoded memory map.
func (m *MAS) History(ctx context.Context, traceID, session string) (map[string]any, bool) {
	if m.store == nil {
		return nil, false
	}
	res, err := m.store.Search(ctx, m.indexName("history"), store.Term("history_id", traceID+"__"+session))
	if err != nil {
		m.logger.Warn("history lookup failed", "trace_id", traceID, "error", err)
		return nil, false
	}
	doc, ok := res.First()
	if !ok {
		return nil, false
	}
	mem := decodeJSONMap(doc["memory"])
	if mem == nil {
		return nil, false
	}
	return mem, true
}

// traceDoc renders the trace record shape.
func traceDoc(req *Request, output string) map[string]any {
	input, _ := json.Marshal(req.Arguments)
	sharedRaw, _ := json.Marshal(req.Shared.Snapshot())
	groupRaw, _ := json.Marshal(req.Group.Snapshot())
	return map[string]any{
		"request_id":     req.RequestID,
		"trace_id":       req.TraceID,
		"shared_data":    string(sharedRaw),
		"group_id":       req.GroupID,
		"group_data":     string(groupRaw),
		"from_trace_id":  req.FromTraceID,
		"root_trace_ids": strings.Join(req.RootTraceIDs, rootTraceSep),
		"input":          string(input),
		"callee":         req.Callee,
		"output":         output,
		"create_time":    NowUnix(),
	}
}

// nodeDoc renders the per-hop execution record.
func nodeDoc(req *Request, resp *Response) map[string]any {
	input, _ := json.Marshal(req.Arguments)
	father := ""
	if len(req.NodeIDStack) > 1 {
		father = req.NodeIDStack[len(req.NodeIDStack)-2]
	}
	return map[string]any{
		"node_id":         req.NodeID,
		"node_type":       string(req.CalleeCategory),
		"caller":          req.Caller,
		"callee":          req.Callee,
		"caller_category": string(req.CallerCategory),
		"callee_category": string(req.CalleeCategory),
		"parallel_id":     req.ParallelID,
		"father_node_id":  father,
		"trace_id":        req.TraceID,
		"input":           string(input),
		"output":          resp.OutputString(),
		"state":           resp.State.String(),
		"create_time":     NowUnix(),
	}
}

// parseRootTraceIDs decodes the stored pipe-joined root-trace chain.
func parseRootTraceIDs(v any) []string {
	s, ok := v.(string)
	if !ok || s == "" {
		return nil
	}
	return strings.Split(s, rootTraceSep)
}

// decodeJSONMap accepts either a JSON string or an already-decoded
// map, returning nil for anything else.
func decodeJSONMap(v any) map[string]any {
	switch t := v.(type) {
	case map[string]any:
		return t
	case string:
		if t == "" {
			return nil
		}
		var out map[string]any
		if err := json.Unmarshal([]byte(t), &out); err != nil {
			return nil
		}
		return out
	}
	return nil
}
