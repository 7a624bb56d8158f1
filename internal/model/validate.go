package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// FieldIssue names one field that failed validation and why.
type FieldIssue struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationError is returned by the Parse* constructors. It lists every
// failing field, not only the first.
type ValidationError struct {
	Entity string       `json:"entity"`
	Issues []FieldIssue `json:"issues"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Issues))
	for _, is := range e.Issues {
		if is.Field == "" {
			parts = append(parts, is.Reason)
			continue
		}
		parts = append(parts, is.Field+": "+is.Reason)
	}
	return fmt.Sprintf("invalid %s: %s", e.Entity, strings.Join(parts, "; "))
}

// fieldReader pulls typed fields out of a JSON object and records issues
// instead of stopping at the first one.
type fieldReader struct {
	entity string
	prefix string
	fields map[string]json.RawMessage
	issues *[]FieldIssue
}

func newFieldReader(entity string, raw []byte) *fieldReader {
	r := &fieldReader{entity: entity, issues: &[]FieldIssue{}}
	if err := json.Unmarshal(raw, &r.fields); err != nil || r.fields == nil {
		r.fail("", "expected JSON object")
	}
	return r
}

// nested returns a reader over a child object that shares the issue list.
func (r *fieldReader) nested(prefix string, raw json.RawMessage) *fieldReader {
	child := &fieldReader{entity: r.entity, prefix: prefix, issues: r.issues}
	if err := json.Unmarshal(raw, &child.fields); err != nil || child.fields == nil {
		child.fail("", "expected object")
	}
	return child
}

func (r *fieldReader) path(name string) string {
	switch {
	case r.prefix == "":
		return name
	case name == "":
		return r.prefix
	default:
		return r.prefix + "." + name
	}
}

func (r *fieldReader) fail(name, reason string) {
	*r.issues = append(*r.issues, FieldIssue{Field: r.path(name), Reason: reason})
}

// lookup returns the raw value of a present, non-null field.
func (r *fieldReader) lookup(name string) (json.RawMessage, bool) {
	if r.fields == nil {
		return nil, false
	}
	v, ok := r.fields[name]
	if !ok || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
		return nil, false
	}
	return v, true
}

func (r *fieldReader) number(name string) float64 {
	v, ok := r.lookup(name)
	if !ok {
		if r.fields != nil {
			r.fail(name, "required")
		}
		return 0
	}
	return r.decodeNumber(name, v)
}

func (r *fieldReader) decodeNumber(name string, v json.RawMessage) float64 {
	var f float64
	if err := json.Unmarshal(v, &f); err != nil {
		r.fail(name, "expected number")
		return 0
	}
	return f
}

func (r *fieldReader) optNumber(name string) *float64 {
	v, ok := r.lookup(name)
	if !ok {
		return nil
	}
	var f float64
	if err := json.Unmarshal(v, &f); err != nil {
		r.fail(name, "expected number")
		return nil
	}
	return &f
}

// int64 bounds as float64; 2^63 itself is out of range.
const (
	minInt64Float = -9223372036854775808.0
	maxInt64Float = 9223372036854775808.0
)

func (r *fieldReader) integer(name string) int64 {
	v, ok := r.lookup(name)
	if !ok {
		if r.fields != nil {
			r.fail(name, "required")
		}
		return 0
	}
	n, _ := r.decodeInteger(name, v)
	return n
}

func (r *fieldReader) optInteger(name string) *int64 {
	v, ok := r.lookup(name)
	if !ok {
		return nil
	}
	n, ok := r.decodeInteger(name, v)
	if !ok {
		return nil
	}
	return &n
}

// decodeInteger reads a JSON number without going through float64, so large
// values keep full precision. Exponent forms such as 1e3 are accepted when
// integral and within int64.
func (r *fieldReader) decodeInteger(name string, v json.RawMessage) (int64, bool) {
	dec := json.NewDecoder(bytes.NewReader(v))
	dec.UseNumber()
	var x any
	if err := dec.Decode(&x); err != nil {
		r.fail(name, "expected number")
		return 0, false
	}
	num, ok := x.(json.Number)
	if !ok {
		r.fail(name, "expected number")
		return 0, false
	}
	if n, err := num.Int64(); err == nil {
		return n, true
	}
	f, err := num.Float64()
	switch {
	case err == nil && f != math.Trunc(f):
		r.fail(name, "expected integer")
	case err != nil || f < minInt64Float || f >= maxInt64Float:
		r.fail(name, "integer out of range")
	default:
		return int64(f), true
	}
	return 0, false
}

func (r *fieldReader) str(name string) string {
	v, ok := r.lookup(name)
	if !ok {
		if r.fields != nil {
			r.fail(name, "required")
		}
		return ""
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		r.fail(name, "expected string")
		return ""
	}
	return s
}

func (r *fieldReader) optStr(name string) (string, bool) {
	v, ok := r.lookup(name)
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		r.fail(name, "expected string")
		return "", false
	}
	return s, true
}

func (r *fieldReader) array(name string) []json.RawMessage {
	v, ok := r.lookup(name)
	if !ok {
		if r.fields != nil {
			r.fail(name, "required")
		}
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(v, &items); err != nil {
		r.fail(name, "expected array")
		return nil
	}
	return items
}

// failed reports whether path, or an enclosing object, already has an
// issue, so rule checks do not pile onto a missing or mistyped field.
func (r *fieldReader) failed(path string) bool {
	for _, is := range *r.issues {
		if is.Field == "" || is.Field == path || strings.HasPrefix(path, is.Field+".") {
			return true
		}
	}
	return false
}

// check runs the validate tags of v and records violations on fields that
// passed the presence and type pass.
func (r *fieldReader) check(v any) {
	for _, is := range structIssues(v) {
		if !r.failed(is.Field) {
			*r.issues = append(*r.issues, is)
		}
	}
}

func (r *fieldReader) err() error {
	if len(*r.issues) == 0 {
		return nil
	}
	return &ValidationError{Entity: r.entity, Issues: *r.issues}
}

var structValidator = newStructValidator()

// newStructValidator reports fields by their JSON names and adds the
// "interval" rule for candle interval tags.
func newStructValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterValidation("interval", func(fl validator.FieldLevel) bool {
		return ValidInterval(fl.Field().String())
	})
	return v
}

// structIssues validates v against its validate tags.
func structIssues(v any) []FieldIssue {
	err := structValidator.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return []FieldIssue{{Reason: err.Error()}}
	}
	issues := make([]FieldIssue, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		issues = append(issues, FieldIssue{Field: issuePath(fe), Reason: issueReason(fe)})
	}
	return issues
}

// issuePath drops the struct name from the namespace: "OrderBook.bids[0].price"
// becomes "bids[0].price".
func issuePath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func issueReason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "must not be empty"
	case "oneof":
		return fmt.Sprintf("unsupported value %q, want one of %s", fmt.Sprint(fe.Value()), fe.Param())
	case "interval":
		return fmt.Sprintf("invalid interval %q", fmt.Sprint(fe.Value()))
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		if fe.Param() == "0" {
			return "must not be negative"
		}
		return "must be at least " + fe.Param()
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	}
	return "failed " + fe.Tag()
}
