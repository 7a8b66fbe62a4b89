package replay

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/lteinsight/emmkpi/nas"
)

// messageSchema constrains a JSONL record before it reaches the engine.
// EMM records must carry a message type and a direction; RRC records only
// need their information elements.
const messageSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["layer", "timestamp"],
  "properties": {
    "layer": {"enum": ["nas-emm", "rrc"]},
    "type": {"type": "integer", "minimum": 0, "maximum": 255},
    "timestamp": {"type": "string"},
    "direction": {"enum": ["uplink", "downlink"]},
    "ies": {"type": "object", "additionalProperties": {"type": "string"}},
    "raw": {"type": "string", "pattern": "^([0-9a-fA-F]{2})*$"}
  },
  "allOf": [
    {
      "if": {"properties": {"layer": {"const": "nas-emm"}}},
      "then": {"required": ["type", "direction"]}
    }
  ],
  "additionalProperties": false
}`

var compiledMessageSchema = jsonschema.MustCompileString("message.schema.json", messageSchema)

// jsonlRecord is the wire form of one line; raw is hex encoded.
type jsonlRecord struct {
	Layer     string            `json:"layer"`
	Type      int               `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Direction string            `json:"direction"`
	IEs       map[string]string `json:"ies"`
	Raw       string            `json:"raw"`
}

// LoadJSONL reads a JSON Lines dump of decoded messages.
func LoadJSONL(path string) ([]*nas.Message, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	msgs, err := ReadJSONL(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return msgs, nil
}

// ReadJSONL parses one decoded message per line, validating every record
// against the embedded schema. Blank lines are allowed; anything else
// malformed is a decode error that aborts the load.
func ReadJSONL(r io.Reader) ([]*nas.Message, error) {
	sc := bufio.NewScanner(r)
	// Raw PDUs are short, but IE dumps of concatenated messages are not.
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var msgs []*nas.Message
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		var payload any
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if err := compiledMessageSchema.Validate(payload); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		var rec jsonlRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		msg, err := rec.message(len(msgs) + 1)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		msgs = append(msgs, msg)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	return msgs, nil
}

func (r *jsonlRecord) message(index int) (*nas.Message, error) {
	if r.Timestamp.IsZero() {
		return nil, fmt.Errorf("timestamp missing or zero")
	}
	msg := &nas.Message{
		Index:     index,
		Layer:     nas.Layer(r.Layer),
		Type:      nas.MsgType(r.Type),
		Timestamp: r.Timestamp,
		Direction: nas.Direction(r.Direction),
		IEs:       r.IEs,
	}
	if r.Raw != "" {
		data, err := hex.DecodeString(r.Raw)
		if err != nil {
			return nil, fmt.Errorf("raw: %w", err)
		}
		msg.Raw = data
	}
	return msg, nil
}
