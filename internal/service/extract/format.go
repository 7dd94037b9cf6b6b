package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// NotApplicable is the value the model is told to use for fields the text
// says nothing about. It is normalised to "".
const NotApplicable = "N/A"

var ErrInvalidFormat = errors.New("invalid extraction format")

// Field is one key the extraction result must contain.
type Field struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Format is the ordered set of fields an extraction result must match
// exactly.
type Format []Field

// Validate rejects empty formats and duplicate or blank field names.
func (f Format) Validate() error {
	if len(f) == 0 {
		return errors.Wrap(ErrInvalidFormat, "no fields")
	}
	seen := make(map[string]struct{}, len(f))
	for _, field := range f {
		if strings.TrimSpace(field.Name) == "" {
			return errors.Wrap(ErrInvalidFormat, "blank field name")
		}
		if _, dup := seen[field.Name]; dup {
			return errors.Wrapf(ErrInvalidFormat, "duplicate field %q", field.Name)
		}
		seen[field.Name] = struct{}{}
	}
	return nil
}

func (f Format) has(name string) bool {
	for _, field := range f {
		if field.Name == name {
			return true
		}
	}
	return false
}

// example renders the format as a JSON object of name to description, in
// field order.
func (f Format) example() string {
	var buf bytes.Buffer
	buf.WriteString("{\n")
	for i, field := range f {
		name, _ := json.Marshal(field.Name)
		desc, _ := json.Marshal(field.Description)
		fmt.Fprintf(&buf, "  %s: %s", name, desc)
		if i < len(f)-1 {
			buf.WriteByte(',')
		}
		buf.WriteByte('\n')
	}
	buf.WriteByte('}')
	return buf.String()
}

// FormatError is a recoverable validation failure. Message is the corrective
// instruction sent back to the model.
type FormatError struct {
	Reason  string
	Message string
}

func (e *FormatError) Error() string {
	return "format error: " + e.Reason
}

// parse validates raw against format. Every failure is a *FormatError.
// Non-string values are kept in their JSON text form.
func parse(raw string, format Format) (map[string]string, error) {
	dec := json.NewDecoder(strings.NewReader(strings.TrimSpace(raw)))
	dec.UseNumber()

	var decoded map[string]any
	if err := dec.Decode(&decoded); err != nil || decoded == nil || dec.More() {
		return nil, &FormatError{Reason: "response is not a JSON object", Message: parseErrorRetryPrompt(format)}
	}

	result := make(map[string]string, len(decoded))
	for k, v := range decoded {
		result[k] = stringify(v)
	}

	// Count first, then membership.
	if len(result) != len(format) {
		return nil, &FormatError{
			Reason:  fmt.Sprintf("expected %d keys, got %d", len(format), len(result)),
			Message: keysInvalidRetryPrompt(format),
		}
	}
	for k := range result {
		if !format.has(k) {
			return nil, &FormatError{Reason: fmt.Sprintf("unexpected key %q", k), Message: keysInvalidRetryPrompt(format)}
		}
	}

	for k, v := range result {
		if v == NotApplicable {
			result[k] = ""
		}
	}
	return result, nil
}

func stringify(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case nil:
		return ""
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	}
}
