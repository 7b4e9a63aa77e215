package codec

import (
	"encoding/json"
)

// JSON is the standard-library JSON codec. It reads every manifest GoJSON
// writes and is kept for environments that avoid the extra dependency.
type JSON struct{}

func (JSON) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (JSON) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// Name returns "json".
func (JSON) Name() string { return "json" }
