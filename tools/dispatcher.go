package tools

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/voxgate/voxgate/telemetry"
)

// Call is an outbound tool call emitted by the model.
type Call struct {
	ToolName  string
	Arguments json.RawMessage
	CallID    string
}

// Result is the outcome of dispatching a Call.
type Result struct {
	CallID       string
	Success      bool
	Payload      json.RawMessage
	ErrorKind    ErrorKind
	ErrorMessage string
}

// HandoffEvent is emitted instead of executing a handoff-classified call;
// the Agent Core bubbles this up to the Gateway (spec §4.4). Reason and
// TaskCompleted come from the model's own tool-call arguments, not from
// any value already held in session state: a transfer_to_<id> call may
// supply a "reason" argument, and a return_to_<routingAgentId> call must
// supply a "taskCompleted" argument (spec §4.7 "reason ... becomes the new
// userIntent only when routing-agent-initiated", "taskCompleted (required
// when isReturn)").
type HandoffEvent struct {
	TargetAgentID string
	IsReturn      bool
	Reason        string
	TaskCompleted string
}

// VerifiedUserFields carries the subset of an IDV tool result the
// Dispatcher lifts into a memory update on successful verification (spec
// §4.4).
type VerifiedUserFields struct {
	CustomerName string
	AccountID    string
	SortCode     string
}

// MemoryUpdateEvent is emitted alongside a successful IDV result.
type MemoryUpdateEvent struct {
	VerifiedUser VerifiedUserFields
}

// Executor runs a classified tool call against an external system (the
// ToolsClient capability boundary of spec §1/§4.5 — local tool server or
// remote tool gateway, out of this core's scope).
type Executor interface {
	Execute(ctx context.Context, call Call) (Result, error)
}

// Spec describes one tool's dispatch metadata: its JSON Schema (validated
// before dispatch) and whether its results may be cached.
type Spec struct {
	Name      string
	Schema    *jsonschema.Schema
	Cacheable bool
}

// Dispatcher implements C4: classifies, validates, caches, and routes tool
// calls.
type Dispatcher struct {
	classifier   *Classifier
	dataExecutor Executor
	idvExecutor  Executor
	specs        map[string]Spec

	mu    sync.Mutex
	cache map[string]map[string]Result // sessionID -> cacheKey -> Result
}

// NewDispatcher builds a Dispatcher. dataExecutor and idvExecutor may be the
// same Executor if the deployment routes both kinds to one tool gateway.
func NewDispatcher(classifier *Classifier, dataExecutor, idvExecutor Executor, specs []Spec) *Dispatcher {
	m := make(map[string]Spec, len(specs))
	for _, s := range specs {
		m[s.Name] = s
	}
	return &Dispatcher{
		classifier:   classifier,
		dataExecutor: dataExecutor,
		idvExecutor:  idvExecutor,
		specs:        m,
		cache:        make(map[string]map[string]Result),
	}
}

// Dispatch classifies call and routes it. For a handoff-classified call, it
// does not execute anything: it returns a synthetic pending Result plus a
// non-nil HandoffEvent (spec §4.4 point 1). For a data/IDV call, it
// validates arguments against the tool's declared schema, checks the
// per-session cache, executes if needed, and — for a successful IDV call
// with auth_status "VERIFIED" — also returns a MemoryUpdateEvent.
//
// A tool execution failure never returns a non-nil error from Dispatch
// itself; failures surface as Result{Success:false} so the model can
// recover (spec §4.4, §7 Network/Timeout/ToolFailure propagation policy).
// Dispatch returns a non-nil error only for a caller-side contract
// violation (unknown tool name, schema-invalid arguments).
func (d *Dispatcher) Dispatch(ctx context.Context, sessionID string, call Call) (Result, *HandoffEvent, *MemoryUpdateEvent, error) {
	class, target, isReturn := d.classifier.Classify(call.ToolName)

	if class == ClassHandoff {
		telemetry.Debugf(ctx, "tool call %s classified as handoff to %s (return=%v)", call.ToolName, target, isReturn)
		reason, taskCompleted := parseHandoffArguments(call.Arguments)
		return Result{CallID: call.CallID, Success: true, Payload: json.RawMessage(`{"status":"handoff_pending"}`)},
			&HandoffEvent{TargetAgentID: target, IsReturn: isReturn, Reason: reason, TaskCompleted: taskCompleted}, nil, nil
	}

	spec, ok := d.specs[call.ToolName]
	if !ok {
		return Result{}, nil, nil, fmt.Errorf("tools: unknown tool %q", call.ToolName)
	}
	if spec.Schema != nil {
		var v any
		if err := json.Unmarshal(call.Arguments, &v); err != nil {
			return Result{}, nil, nil, fmt.Errorf("tools: arguments for %q are not valid JSON: %w", call.ToolName, err)
		}
		if err := spec.Schema.Validate(v); err != nil {
			return Result{}, nil, nil, fmt.Errorf("tools: arguments for %q failed schema validation: %w", call.ToolName, err)
		}
	}

	if spec.Cacheable {
		if cached, ok := d.cachedResult(sessionID, call); ok {
			cached.CallID = call.CallID
			return cached, nil, nil, nil
		}
	}

	executor := d.dataExecutor
	if class == ClassIDV {
		executor = d.idvExecutor
	}

	result, err := executor.Execute(ctx, call)
	if err != nil {
		te := AsError(err)
		return Result{CallID: call.CallID, Success: false, ErrorKind: te.Kind, ErrorMessage: te.Error()}, nil, nil, nil
	}
	result.CallID = call.CallID

	if spec.Cacheable && result.Success {
		d.storeResult(sessionID, call, result)
	}

	var memEvt *MemoryUpdateEvent
	if class == ClassIDV && result.Success {
		if vu, ok := extractVerifiedUser(result.Payload); ok {
			memEvt = &MemoryUpdateEvent{VerifiedUser: vu}
		}
	}

	return result, nil, memEvt, nil
}

// handoffArguments is the declared parameter shape of transfer_to_<id>
// ("reason") and return_to_<routingAgentId> ("taskCompleted") tools; see
// agentcore's toolCatalog for the matching JSON Schema.
type handoffArguments struct {
	Reason        string `json:"reason"`
	TaskCompleted string `json:"taskCompleted"`
}

// parseHandoffArguments extracts the free-text payload from a handoff tool
// call. Malformed or absent arguments are not a dispatch error — a
// transfer_to_<id> call from a non-routing agent legitimately carries no
// reason (spec §4.7 scenario S1 step 8) — so parse failures just yield the
// zero value.
func parseHandoffArguments(raw json.RawMessage) (reason, taskCompleted string) {
	var a handoffArguments
	if len(raw) == 0 {
		return "", ""
	}
	if err := json.Unmarshal(raw, &a); err != nil {
		return "", ""
	}
	return a.Reason, a.TaskCompleted
}

type idvPayload struct {
	AuthStatus   string `json:"auth_status"`
	CustomerName string `json:"customer_name"`
	Account      string `json:"account"`
	SortCode     string `json:"sortCode"`
}

func extractVerifiedUser(payload json.RawMessage) (VerifiedUserFields, bool) {
	var p idvPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return VerifiedUserFields{}, false
	}
	if p.AuthStatus != "VERIFIED" {
		return VerifiedUserFields{}, false
	}
	return VerifiedUserFields{CustomerName: p.CustomerName, AccountID: p.Account, SortCode: p.SortCode}, true
}

func cacheKey(call Call) string {
	h := sha256.Sum256(append([]byte(call.ToolName+"|"), call.Arguments...))
	return hex.EncodeToString(h[:])
}

func (d *Dispatcher) cachedResult(sessionID string, call Call) (Result, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	session, ok := d.cache[sessionID]
	if !ok {
		return Result{}, false
	}
	r, ok := session[cacheKey(call)]
	return r, ok
}

func (d *Dispatcher) storeResult(sessionID string, call Call, result Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	session, ok := d.cache[sessionID]
	if !ok {
		session = make(map[string]Result)
		d.cache[sessionID] = session
	}
	session[cacheKey(call)] = result
}

// ClearSession drops the cache for sessionID. Called on session close.
func (d *Dispatcher) ClearSession(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.cache, sessionID)
}
