package rpc

import (
	"encoding/json"
)

// codec carries SATP messages as JSON, the same encoding their hashes and signatures are computed over.
type codec struct{}

func (codec) Marshal(v interface{}) ([]byte, error) { return json.Marshal(v) }

func (codec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }

func (codec) Name() string { return "json" }
