package expectation

import (
	"encoding/json"
	"fmt"
)

// envelope is used for initial JSON unmarshaling to determine the expectation type.
type envelope struct {
	Type Type `json:"type"`
}

// header carries the common fields without the JSON methods of Expectation.
type header Expectation

// MarshalJSON flattens the common fields, the variant payload and the type
// discriminator into one object.
func (e *Expectation) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal((*header)(e))
	if err != nil {
		return nil, err
	}

	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}

	if e.Spec != nil {
		specData, err := json.Marshal(e.Spec)
		if err != nil {
			return nil, err
		}
		var sm map[string]any
		if err := json.Unmarshal(specData, &sm); err != nil {
			return nil, err
		}
		for k, v := range sm {
			m[k] = v
		}
		m["type"] = e.Spec.Type()
	}

	return json.Marshal(m)
}

// UnmarshalJSON selects the variant from the "type" field.
func (e *Expectation) UnmarshalJSON(data []byte) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("failed to determine expectation type: %w", err)
	}

	spec := newSpec(env.Type)
	if spec == nil {
		return fmt.Errorf("unknown expectation type: %q", env.Type)
	}

	var h header
	if err := json.Unmarshal(data, &h); err != nil {
		return fmt.Errorf("failed to unmarshal expectation: %w", err)
	}
	if err := json.Unmarshal(data, spec); err != nil {
		return fmt.Errorf("failed to unmarshal %s expectation: %w", env.Type, err)
	}

	*e = Expectation(h)
	e.Spec = spec
	return nil
}
