// Package schema validates raw signal payloads before the order manager
// sees them. Producers outside this process deliver JSON; a payload that
// fails the schema is rejected as invalid_signal rather than crashing a
// handler downstream.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"quantra/internal/types"
)

const signalSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["signal_type", "symbol", "side", "quantity", "price"],
  "properties": {
    "signal_type": {"type": "string"},
    "symbol": {"type": "string", "minLength": 1},
    "side": {"type": "string", "enum": ["buy", "sell", "short", "cover"]},
    "quantity": {"type": "number", "exclusiveMinimum": 0},
    "price": {"type": "number", "exclusiveMinimum": 0},
    "strategy_name": {"type": "string"},
    "leverage": {"type": "number", "minimum": 0},
    "order_kind": {"type": "string", "enum": ["MARKET", "LIMIT"]},
    "max_slippage_pct": {"type": "number", "minimum": 0}
  }
}`

var compiled = mustCompile()

func mustCompile() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("signal.json", strings.NewReader(signalSchema)); err != nil {
		panic(fmt.Sprintf("schema: add resource: %v", err))
	}
	s, err := compiler.Compile("signal.json")
	if err != nil {
		panic(fmt.Sprintf("schema: compile: %v", err))
	}
	return s
}

// ParseSignal validates raw JSON against the signal schema and decodes it.
// The returned error is suitable for an invalid_signal log entry.
func ParseSignal(raw []byte) (*types.Signal, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("signal is not valid JSON: %w", err)
	}
	if err := compiled.Validate(doc); err != nil {
		return nil, fmt.Errorf("signal failed schema validation: %w", err)
	}
	var sig types.Signal
	if err := json.Unmarshal(raw, &sig); err != nil {
		return nil, fmt.Errorf("signal decode failed: %w", err)
	}
	return &sig, nil
}
