package tracing

import "go.opentelemetry.io/otel/attribute"

// attributeFor converts the loosely-typed SetAttribute(key, value) calls
// used throughout the dispatcher (spec.md §4.5's attribute list) into a
// typed OTel attribute.KeyValue.
func attributeFor(key string, value any) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	case bool:
		return attribute.Bool(key, v)
	default:
		return attribute.String(key, "")
	}
}
