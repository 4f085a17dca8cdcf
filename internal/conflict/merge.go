package conflict

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// mergeBags overlays the newer property bag onto the older one, field by
// field. Keys present in both take the newer value; keys only in the older
// bag survive.
func mergeBags(older, newer json.RawMessage) json.RawMessage {
	if len(older) == 0 || !gjson.ValidBytes(older) {
		return newer
	}
	if len(newer) == 0 || !gjson.ValidBytes(newer) {
		return older
	}

	merged := append(json.RawMessage(nil), older...)
	gjson.ParseBytes(newer).ForEach(func(key, value gjson.Result) bool {
		// Dots in a property name are literal, not path separators.
		path := strings.ReplaceAll(key.String(), ".", `\.`)
		out, err := sjson.SetRawBytes(merged, path, []byte(value.Raw))
		if err != nil {
			// An unmergeable key leaves the bag as-is rather than corrupting it.
			return true
		}
		merged = out
		return true
	})
	return merged
}
