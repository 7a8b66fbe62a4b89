// Package replay loads decoded signaling logs into the message stream the
// diagnosis engine consumes. Decoding itself happens upstream (tshark or an
// equivalent exporter); replay only maps the serialized forms onto
// nas.Message and preserves file order. Two formats are supported: JSON
// Lines dumps and tshark PDML exports.
package replay

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/lteinsight/emmkpi/nas"
)

// Load reads one decoded log, picking the reader from the file extension.
// Messages come back in file order with Index assigned from 1; timestamp
// regressions are left for the engine to count and reject.
func Load(path string) ([]*nas.Message, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonl", ".ndjson":
		return LoadJSONL(path)
	case ".pdml", ".xml":
		return LoadPDML(path)
	default:
		return nil, fmt.Errorf("unrecognized log format %q (want .jsonl, .ndjson, .pdml or .xml)", filepath.Ext(path))
	}
}
