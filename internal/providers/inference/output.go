package inference

import "encoding/json"

// OutputShape tags the wire form the provider chose for the output field.
type OutputShape int

const (
	// ShapeNone marks an absent or unrecognized output.
	ShapeNone OutputShape = iota
	// ShapeString is a bare URL string.
	ShapeString
	// ShapeObject is an object carrying the URL in a lora_url field.
	ShapeObject
	// ShapeArray is a list of URLs, first element wins.
	ShapeArray
)

// Output is the provider's polymorphic output field, decoded into exactly one
// tagged shape. Keeping the classification exhaustive here removes the
// "unknown shape" guesswork from everything downstream.
type Output struct {
	Shape OutputShape
	URL   string
}

// DecodeOutput classifies a raw output payload.
func DecodeOutput(raw json.RawMessage) Output {
	if len(raw) == 0 || string(raw) == "null" {
		return Output{Shape: ShapeNone}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil && s != "" {
		return Output{Shape: ShapeString, URL: s}
	}
	var obj struct {
		LoraURL string `json:"lora_url"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.LoraURL != "" {
		return Output{Shape: ShapeObject, URL: obj.LoraURL}
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 && list[0] != "" {
		return Output{Shape: ShapeArray, URL: list[0]}
	}
	return Output{Shape: ShapeNone}
}

// Ref returns the normalized output reference. The object shape only occurs on
// training results; callers holding the simpler image contract pass
// allowObject=false and treat an object as unrecognized.
func (o Output) Ref(allowObject bool) (string, bool) {
	switch o.Shape {
	case ShapeString, ShapeArray:
		return o.URL, true
	case ShapeObject:
		if allowObject {
			return o.URL, true
		}
		return "", false
	default:
		return "", false
	}
}
