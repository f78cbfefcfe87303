package upkeep

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Entry actions.
const (
	ActionExpire      = "expire"
	ActionAutoResolve = "auto_resolve"
)

// MaxEntries bounds one perform call.
const MaxEntries = 10

// ErrInvalidPayload is returned when a perform payload fails schema validation.
var ErrInvalidPayload = errors.New("invalid upkeep payload")

//go:embed payload.schema.json
var payloadSchemaJSON string

var payloadSchema = jsonschema.MustCompileString("https://gigvault.dev/schemas/upkeep-payload.json", payloadSchemaJSON)

type Entry struct {
	TaskID uint64 `json:"task_id"`
	Action string `json:"action"`
}

type Payload struct {
	Entries []Entry `json:"entries"`
}

// EncodePayload serializes entries for a later perform call.
func EncodePayload(entries []Entry) ([]byte, error) {
	return json.Marshal(Payload{Entries: entries})
}

// DecodePayload validates raw against the payload schema before decoding it.
func DecodePayload(raw []byte) (Payload, error) {
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := payloadSchema.Validate(doc); err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return p, nil
}
