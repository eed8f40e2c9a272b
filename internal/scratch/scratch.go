// Package scratch holds the identifiers of the disposable cloud resources a
// suite run depends on, and the stores that persist them between the
// provision, test and cleanup stages.
//
// A State is written once by a successful provisioning run, read by page
// objects and scenarios, and deleted by cleanup. There is a single writer by
// construction, so stores do no locking.
package scratch

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/kuitang/dashboard-e2e/internal/errs"
)

// State is the scratch record shared across stages.
type State struct {
	InstanceName string    `json:"instanceName"`
	ScriptName   string    `json:"scriptName"`
	ScriptID     int       `json:"scriptId,omitempty"`
	RunID        string    `json:"runId,omitempty"`
	Email        string    `json:"email,omitempty"`
	CreatedAt    time.Time `json:"createdAt,omitzero"`
}

// Validate checks that both resource names are present.
func (s State) Validate() error {
	var missing []string
	if strings.TrimSpace(s.InstanceName) == "" {
		missing = append(missing, "instanceName")
	}
	if strings.TrimSpace(s.ScriptName) == "" {
		missing = append(missing, "scriptName")
	}
	if len(missing) > 0 {
		return errs.New(errs.InvalidArgument, "scratch state is missing "+strings.Join(missing, ", "))
	}
	return nil
}

// Store persists one State.
type Store interface {
	Save(ctx context.Context, s State) error
	Load(ctx context.Context) (State, error)
	Delete(ctx context.Context) error
	// Location names where the state lives, for logs and CLI output.
	Location() string
}

// legacyArtifact matches the older "export default {...};" module artifact.
var legacyArtifact = regexp.MustCompile(`(?s)^\s*export\s+default\s+(\{.*\})\s*;?\s*$`)

// Decode parses a persisted artifact: plain JSON or the legacy module form.
func Decode(data []byte) (State, error) {
	body := data
	if m := legacyArtifact.FindSubmatch(data); m != nil {
		body = m[1]
	}
	var s State
	if err := json.Unmarshal(body, &s); err != nil {
		return State{}, errs.Wrap(errs.InvalidArgument, "decode scratch state", err)
	}
	if err := s.Validate(); err != nil {
		return State{}, err
	}
	return s, nil
}

// Encode renders s as indented JSON.
func Encode(s State) ([]byte, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "encode scratch state", err)
	}
	return append(data, '\n'), nil
}
