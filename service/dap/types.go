package dap

import (
	"encoding/json"
	"fmt"
)

// AttachConfig is the collection of launch and attach request attributes
// recognized by the gpudbg DAP implementation. The simulator is always
// started by the user, so both requests attach to it.
type AttachConfig struct {
	// StopOnEntry pauses the simulator once the session is configured.
	StopOnEntry bool `json:"stopOnEntry,omitempty"`

	// DisplayFloat shows register values as float32 instead of hex.
	DisplayFloat bool `json:"displayFloat,omitempty"`

	// PageSize is the number of registers returned by a variables request
	// that does not ask for a range. Zero returns the whole register file.
	PageSize int `json:"pageSize,omitempty"`
}

// unmarshalAttachArgs wraps unmarshalling of launch/attach request's
// arguments attribute. Upon unmarshal failure, it returns an error massaged
// to be suitable for end-users.
func unmarshalAttachArgs(input json.RawMessage, config *AttachConfig) error {
	if len(input) == 0 {
		return nil
	}
	if err := json.Unmarshal(input, config); err != nil {
		if uerr, ok := err.(*json.UnmarshalTypeError); ok {
			// "json: cannot unmarshal string into Go struct field AttachConfig.pageSize of type int"
			//   => "cannot unmarshal string into "pageSize" of type int"
			return fmt.Errorf("cannot unmarshal %v into %q of type %v", uerr.Value, uerr.Field, uerr.Type)
		}
		return err
	}
	if config.PageSize < 0 {
		return fmt.Errorf("invalid pageSize %d", config.PageSize)
	}
	return nil
}
