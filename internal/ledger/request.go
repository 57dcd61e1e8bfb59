package ledger

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ManuGH/cogate/internal/control/auth"
	"github.com/ManuGH/cogate/internal/core"
)

// ErrMissingWorkflow is returned when a request names no workflow template.
var ErrMissingWorkflow = errors.New("workflowTemplate is required")

// Vars are workflow variables. Decoding accepts any JSON scalar and keeps
// its text form; null values are dropped.
type Vars map[string]string

func (v *Vars) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("vars must be an object: %w", err)
	}
	out := make(Vars, len(raw))
	for k, val := range raw {
		val = bytes.TrimSpace(val)
		switch {
		case len(val) == 0 || string(val) == "null":
			continue
		case val[0] == '"':
			var s string
			if err := json.Unmarshal(val, &s); err != nil {
				return fmt.Errorf("var %q: %w", k, err)
			}
			out[k] = s
		default:
			var buf bytes.Buffer
			if err := json.Compact(&buf, val); err != nil {
				return fmt.Errorf("var %q: %w", k, err)
			}
			out[k] = buf.String()
		}
	}
	*v = out
	return nil
}

// Request is one environment creation request as submitted by an operator.
type Request struct {
	Detectors             []string `json:"detectors"`
	WorkflowTemplate      string   `json:"workflowTemplate"`
	Vars                  Vars     `json:"vars"`
	SelectedConfiguration string   `json:"selectedConfiguration,omitempty"`
	AutoTransition        bool     `json:"autoTransition"`
}

// Validate checks the preconditions the ledger itself owns.
func (r Request) Validate() error {
	if r.WorkflowTemplate == "" {
		return ErrMissingWorkflow
	}
	return nil
}

// Rehydrate replaces the request variables with a saved set. Hosts always
// come from the request; the EPN count does when EPNs are enabled.
func Rehydrate(req Vars, saved map[string]string) Vars {
	out := make(Vars, len(saved)+2)
	for k, v := range saved {
		out[k] = v
	}
	out["hosts"] = req["hosts"]
	if req["epn_enabled"] == "true" {
		out["odc_n_epns"] = req["odc_n_epns"]
	}
	return out
}

// CreationPayload builds the NewEnvironment arguments. The detector list is
// added as the "detectors" variable unless the caller set one.
func CreationPayload(r Request, vars Vars, s *auth.Session) (core.NewEnvironmentRequest, error) {
	if err := r.Validate(); err != nil {
		return core.NewEnvironmentRequest{}, err
	}
	out := make(map[string]string, len(vars)+1)
	for k, v := range vars {
		out[k] = v
	}
	if _, ok := out["detectors"]; !ok && len(r.Detectors) > 0 {
		raw, err := json.Marshal(r.Detectors)
		if err != nil {
			return core.NewEnvironmentRequest{}, fmt.Errorf("encode detectors: %w", err)
		}
		out["detectors"] = string(raw)
	}
	p := core.NewEnvironmentRequest{
		WorkflowTemplate: r.WorkflowTemplate,
		Vars:             out,
		AutoTransition:   r.AutoTransition,
	}
	if s != nil {
		p.RequestUser = &core.User{ExternalID: s.PersonID, Name: s.Name}
	}
	return p, nil
}
