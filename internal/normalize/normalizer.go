package normalize

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/teemow/receptionist/internal/apperr"
	"github.com/teemow/receptionist/internal/dispatch"
)

// maxDepth bounds how far nested wrappers are followed.
const maxDepth = 4

// Normalizer resolves payloads against an alias table.
type Normalizer struct {
	aliases *AliasTable
}

// New creates a Normalizer. A nil table uses DefaultAliases.
func New(aliases *AliasTable) *Normalizer {
	if aliases == nil {
		aliases = DefaultAliases()
	}
	return &Normalizer{aliases: aliases}
}

// Normalize decodes a JSON request body and normalizes it.
func (n *Normalizer) Normalize(body []byte) (dispatch.Call, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return dispatch.Call{}, apperr.Normalization("empty request body", nil)
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return dispatch.Call{}, apperr.Normalization("invalid JSON", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return dispatch.Call{}, apperr.Normalization("invalid JSON", errors.New("trailing data after object"))
	}

	obj, ok := v.(map[string]any)
	if !ok {
		return dispatch.Call{}, apperr.Normalization("payload must be a JSON object", nil)
	}
	return n.NormalizeObject(obj)
}

// NormalizeObject normalizes an already decoded payload.
func (n *Normalizer) NormalizeObject(obj map[string]any) (dispatch.Call, error) {
	var call dispatch.Call
	captureMeta(&call, obj)

	name, args, found, err := findPair(obj, 0, &call)
	if err != nil {
		return dispatch.Call{}, err
	}
	if !found {
		name, found = infer(obj)
		if !found {
			return dispatch.Call{}, apperr.UnrecognizedShape(
				"payload has no tool_name/arguments pair and matches no known argument set")
		}
		args = obj
	}

	tool, ok := n.aliases.Resolve(name)
	if !ok {
		return dispatch.Call{}, apperr.UnknownTool(name)
	}
	call.Tool = tool
	call.Arguments = args
	return call, nil
}

// findPair locates the innermost tool name/arguments pair in obj, looking
// inside the arguments of a pair and one level down under wrapper keys.
func findPair(obj map[string]any, depth int, call *dispatch.Call) (string, map[string]any, bool, error) {
	if depth > maxDepth {
		return "", nil, false, nil
	}

	name, args, found, err := pairAt(obj)
	if err != nil {
		return "", nil, false, err
	}
	if found {
		captureMeta(call, obj)
		if innerName, innerArgs, innerFound, err := findPair(args, depth+1, call); err != nil || innerFound {
			return innerName, innerArgs, innerFound, err
		}
		return name, args, true, nil
	}

	if depth > 0 {
		return "", nil, false, nil
	}
	for _, key := range sortedKeys(obj) {
		nested, ok := obj[key].(map[string]any)
		if !ok {
			continue
		}
		if _, _, ok, _ := pairAt(nested); !ok {
			continue
		}
		return findPair(nested, depth+1, call)
	}
	return "", nil, false, nil
}

// pairAt reads {tool_name, arguments} or {name, args|arguments} from obj.
func pairAt(obj map[string]any) (string, map[string]any, bool, error) {
	rawName, hasName := obj["tool_name"]
	rawArgs, hasArgs := obj["arguments"]
	if !hasName || !hasArgs {
		rawName, hasName = obj["name"]
		rawArgs, hasArgs = obj["arguments"]
		if !hasArgs {
			rawArgs, hasArgs = obj["args"]
		}
	}
	if !hasName || !hasArgs {
		return "", nil, false, nil
	}

	name, ok := rawName.(string)
	if !ok {
		return "", nil, false, apperr.Normalization("tool name must be a string", fmt.Errorf("got %T", rawName))
	}
	args, err := asArguments(rawArgs)
	if err != nil {
		return "", nil, false, err
	}
	return name, args, true, nil
}

// asArguments accepts an object, null, or an object encoded as a JSON string.
func asArguments(v any) (map[string]any, error) {
	switch a := v.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return a, nil
	case string:
		if strings.TrimSpace(a) == "" {
			return map[string]any{}, nil
		}
		dec := json.NewDecoder(strings.NewReader(a))
		dec.UseNumber()
		var m map[string]any
		if err := dec.Decode(&m); err != nil {
			return nil, apperr.Normalization("arguments must be an object", err)
		}
		if m == nil {
			m = map[string]any{}
		}
		return m, nil
	default:
		return nil, apperr.Normalization("arguments must be an object", fmt.Errorf("got %T", v))
	}
}

// infer recognizes args-only payloads. Cancellation has no args-only form.
func infer(obj map[string]any) (string, bool) {
	switch {
	case has(obj, "hold_id") && has(obj, "slot_id"):
		return dispatch.ToolConfirmBooking.String(), true
	case has(obj, "action_type") && has(obj, "caller_name"):
		return dispatch.ToolManageAppointment.String(), true
	default:
		return "", false
	}
}

func has(obj map[string]any, key string) bool {
	_, ok := obj[key]
	return ok
}

// captureMeta records envelope ids; inner envelopes override outer ones.
func captureMeta(call *dispatch.Call, obj map[string]any) {
	if s, ok := obj["call_id"].(string); ok && s != "" {
		call.CallID = s
	}
	if s, ok := obj["session_id"].(string); ok && s != "" {
		call.SessionID = s
	}
	if c, ok := obj["call"].(map[string]any); ok {
		if s, ok := c["call_id"].(string); ok && s != "" && call.CallID == "" {
			call.CallID = s
		}
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
