package store

import (
	"encoding/json"
	"fmt"

	"converse/internal/types"
)

// encodeState / decodeState keep the wire shape identical between the
// SQLite and in-memory stores.

func encodeState(state *types.AgentState) (string, error) {
	raw, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("encode state: %w", err)
	}
	return string(raw), nil
}

func decodeState(raw string) (*types.AgentState, error) {
	var state types.AgentState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	if state.RequirementAttempts == nil {
		state.RequirementAttempts = make(map[string]int)
	}
	return &state, nil
}
