package core

// Matches reports whether a runtime payload value conforms to the tag.
// The check is an explicit closed enumeration rather than reflection so the
// accepted shapes stay identical across decoders: JSON numbers arrive as
// float64, but hand-built payloads may carry any Go numeric kind.
func (t TypeTag) Matches(v any) bool {
	switch t {
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeNumber:
		switch v.(type) {
		case float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			return true
		}
		return false
	case TypeBoolean:
		_, ok := v.(bool)
		return ok
	case TypeArray:
		_, ok := v.([]any)
		return ok
	case TypeObject:
		_, ok := v.(map[string]any)
		return ok
	}
	return false
}

// Validate checks schema well-formedness: at least one field, every tag valid.
func (s PayloadSchema) Validate() error {
	if len(s) == 0 {
		return Validation("payload schema must declare at least one field")
	}
	for field, tag := range s {
		if field == "" {
			return Validation("payload schema field name must not be empty")
		}
		if !tag.Valid() {
			return Validation("payload schema field %q has unknown type %q", field, tag)
		}
	}
	return nil
}

// ValidatePayload checks an event payload against the declared schema.
// Every payload key must be declared and its runtime type must match the
// declared tag. The payload may be a strict subset of the schema: rules often
// reference only some fields, so absent keys are accepted.
func ValidatePayload(schema PayloadSchema, payload map[string]any) error {
	for key, value := range payload {
		tag, ok := schema[key]
		if !ok {
			return Validation("payload key %q is not declared in the event schema", key)
		}
		if !tag.Matches(value) {
			return Validation("payload key %q must be of type %s", key, tag)
		}
	}
	return nil
}

// DummyPayload builds one zero value per declared field, used to smoke-test a
// rule's logic at creation time. A real payload shaped differently can still
// make an evaluator fail; this only catches expressions broken for any input.
func DummyPayload(schema PayloadSchema) map[string]any {
	payload := make(map[string]any, len(schema))
	for field, tag := range schema {
		switch tag {
		case TypeString:
			payload[field] = ""
		case TypeNumber:
			payload[field] = float64(0)
		case TypeBoolean:
			payload[field] = false
		case TypeArray:
			payload[field] = []any{}
		case TypeObject:
			payload[field] = map[string]any{}
		}
	}
	return payload
}
