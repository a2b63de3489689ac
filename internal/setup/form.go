package setup

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/KevinKickass/sunspec-gateway/internal/config"
)

var integerFields = map[string]bool{"maxpower": true, "baud_rate": true}

// formAliases maps the field names of the device's original setup page.
var formAliases = map[string]string{"inmod": "input", "outmod": "output"}

// FormDocument turns an HTML form post into the JSON shape the schema
// expects. Integer fields that do not parse stay strings so the schema
// reports them.
func FormDocument(form url.Values) map[string]interface{} {
	doc := make(map[string]interface{}, len(form))
	for name := range form {
		v := form.Get(name)
		key := name
		if alias, ok := formAliases[name]; ok {
			key = alias
		}
		if integerFields[key] {
			if _, err := strconv.Atoi(v); err == nil {
				doc[key] = json.Number(v)
				continue
			}
		}
		doc[key] = v
	}
	return doc
}

// DecodeForm validates a form post and returns the setup it describes.
func (v *Validator) DecodeForm(form url.Values) (config.Setup, error) {
	data, err := json.Marshal(FormDocument(form))
	if err != nil {
		return config.Setup{}, fmt.Errorf("failed to encode form: %w", err)
	}
	return v.Decode(data)
}
