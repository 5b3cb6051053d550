package services

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"

	"github.com/slhuckstead/accountmap/internal/config"
	"github.com/slhuckstead/accountmap/internal/domains"
	"github.com/slhuckstead/accountmap/internal/models"
)

const (
	FieldSource               = "source"
	FieldSourceIdentifier     = "sourceIdentifier"
	FieldSourceDescription    = "sourceDescription"
	FieldFinancialEdgeAccount = "financialEdgeAccount"

	maxAccountLength = 64
	maxSyncSpan      = 366 * 24 * time.Hour
	dateLayout       = "2006-01-02"
)

// A JSON string escapes one rune into at most 12 bytes (a \uXXXX surrogate pair).
const maxEncodedBytesPerRune = 12

var (
	accountPattern = regexp.MustCompile(`^[0-9]{1,4}(-[0-9A-Z]{1,8}){1,5}$`)
	scriptURI      = regexp.MustCompile(`(?i)\b(java|vb|live)script\s*:|\bdata\s*:\s*[a-z]+/[a-z0-9.+-]+`)
	eventHandler   = regexp.MustCompile(`(?i)\bon[a-z]+\s*=`)

	// markupPolicy strips every element; plain text survives a round trip.
	markupPolicy = bluemonday.StrictPolicy()
)

// writable mapping fields; read-only ones are dropped without use.
var (
	mappingFields  = []string{FieldSource, FieldSourceIdentifier, FieldSourceDescription, FieldFinancialEdgeAccount}
	readOnlyFields = map[string]bool{"id": true, "createdAt": true, "updatedAt": true}
)

// Validator turns untrusted request input into values safe to store and echo.
// Every rejection is a domains.ValidationFailed.
type Validator struct {
	limits config.LimitsConfig
}

func NewValidator(limits config.LimitsConfig) *Validator {
	return &Validator{limits: limits}
}

// DecodeMapping validates a create or update body.
func (v *Validator) DecodeMapping(body []byte) (models.MappingInput, error) {
	var in models.MappingInput

	fields, err := v.decodeObject(body)
	if err != nil {
		return in, err
	}
	for name := range fields {
		if !readOnlyFields[name] && !contains(mappingFields, name) {
			return in, domains.ValidationFailed("body", "contains an unrecognised field")
		}
	}

	source, err := v.stringField(fields, FieldSource, 32, true)
	if err != nil {
		return in, err
	}
	identifier, err := v.stringField(fields, FieldSourceIdentifier, v.limits.MaxIdentifierLength, true)
	if err != nil {
		return in, err
	}
	description, err := v.stringField(fields, FieldSourceDescription, v.limits.MaxDescriptionLength, false)
	if err != nil {
		return in, err
	}
	account, err := v.stringField(fields, FieldFinancialEdgeAccount, maxAccountLength, true)
	if err != nil {
		return in, err
	}

	in.Source = models.Source(strings.ToLower(source))
	if !in.Source.Valid() {
		return in, domains.ValidationFailed(FieldSource, "is not a supported source")
	}
	if err := CheckIdentifier(FieldSourceIdentifier, identifier); err != nil {
		return in, err
	}
	if err := CheckDescription(description); err != nil {
		return in, err
	}
	if !accountPattern.MatchString(account) {
		return in, domains.ValidationFailed(FieldFinancialEdgeAccount, "must be an account code like 10-1000-000")
	}

	in.SourceIdentifier = identifier
	in.SourceDescription = description
	in.FinancialEdgeAccount = account
	return in, nil
}

// CheckIdentifier enforces the identifier grammar: an ASCII letter or digit
// followed by letters, digits, space, '.', '_', ':' or '-'. Anything shaped
// like a query fragment or operator falls outside it.
func CheckIdentifier(field, s string) error {
	if s == "" {
		return domains.ValidationFailed(field, "is required")
	}
	for i, r := range s {
		switch {
		case r < utf8.RuneSelf && (unicode.IsLetter(r) || unicode.IsDigit(r)):
		case i > 0 && (r == ' ' || r == '.' || r == '_' || r == ':' || r == '-'):
		default:
			return domains.ValidationFailed(field, "contains characters that are not allowed")
		}
	}
	return nil
}

// CheckDescription accepts any printable text and rejects control characters
// and anything a browser could interpret as markup or a script URI.
func CheckDescription(s string) error {
	for _, r := range s {
		if unicode.IsControl(r) {
			return domains.ValidationFailed(FieldSourceDescription, "contains control characters")
		}
		if r == '<' || r == '>' {
			return domains.ValidationFailed(FieldSourceDescription, "contains markup, which is not allowed")
		}
	}
	if html.UnescapeString(markupPolicy.Sanitize(s)) != s {
		return domains.ValidationFailed(FieldSourceDescription, "contains markup, which is not allowed")
	}
	if scriptURI.MatchString(s) || eventHandler.MatchString(s) {
		return domains.ValidationFailed(FieldSourceDescription, "contains script content, which is not allowed")
	}
	return nil
}

// DecodeSync validates a synchronization request body.
func (v *Validator) DecodeSync(body []byte) (models.SyncRequest, error) {
	var req models.SyncRequest

	fields, err := v.decodeObject(body)
	if err != nil {
		return req, err
	}
	for name := range fields {
		if name != "startDate" && name != "endDate" {
			return req, domains.ValidationFailed("body", "contains an unrecognised field")
		}
	}

	start, err := v.dateField(fields, "startDate")
	if err != nil {
		return req, err
	}
	end, err := v.dateField(fields, "endDate")
	if err != nil {
		return req, err
	}
	if end.Before(start) {
		return req, domains.ValidationFailed("endDate", "must not be before startDate")
	}
	if end.Sub(start) > maxSyncSpan {
		return req, domains.ValidationFailed("endDate", "must be within 366 days of startDate")
	}

	req.StartDate = start
	req.EndDate = end
	return req, nil
}

// ListQuery validates list query parameters. Limit is returned as requested;
// the registry clamps it.
func (v *Validator) ListQuery(q url.Values) (models.MappingFilter, error) {
	var f models.MappingFilter

	if s := q.Get("source"); s != "" {
		f.Source = models.Source(strings.ToLower(s))
		if !f.Source.Valid() {
			return f, domains.ValidationFailed("source", "is not a supported source")
		}
	}
	if s := q.Get("search"); s != "" {
		if utf8.RuneCountInString(s) > v.limits.MaxIdentifierLength {
			return f, domains.ValidationFailed("search", fmt.Sprintf("is too long (maximum %d characters)", v.limits.MaxIdentifierLength))
		}
		if err := CheckIdentifier("search", s); err != nil {
			return f, err
		}
		f.Search = s
	}

	var err error
	if f.Limit, err = nonNegative(q, "limit"); err != nil {
		return f, err
	}
	if f.Offset, err = nonNegative(q, "offset"); err != nil {
		return f, err
	}
	return f, nil
}

// ResolveQuery validates the natural key of a lookup.
func (v *Validator) ResolveQuery(q url.Values) (models.Source, string, error) {
	source := models.Source(strings.ToLower(q.Get("source")))
	if source == "" {
		return "", "", domains.ValidationFailed("source", "is required")
	}
	if !source.Valid() {
		return "", "", domains.ValidationFailed("source", "is not a supported source")
	}

	identifier := strings.TrimSpace(q.Get(FieldSourceIdentifier))
	if utf8.RuneCountInString(identifier) > v.limits.MaxIdentifierLength {
		return "", "", domains.ValidationFailed(FieldSourceIdentifier, fmt.Sprintf("is too long (maximum %d characters)", v.limits.MaxIdentifierLength))
	}
	if err := CheckIdentifier(FieldSourceIdentifier, identifier); err != nil {
		return "", "", err
	}
	return source, identifier, nil
}

// ExportQuery validates export parameters and returns the filter and format.
func (v *Validator) ExportQuery(q url.Values) (models.MappingFilter, string, error) {
	f, err := v.ListQuery(q)
	if err != nil {
		return f, "", err
	}
	if f.Offset != 0 {
		return f, "", domains.ValidationFailed("offset", "is not supported for exports")
	}

	format := strings.ToLower(q.Get("format"))
	if format == "" {
		format = FormatCSV
	}
	if !contains(ExportFormats, format) {
		return f, "", domains.ValidationFailed("format", "must be one of "+strings.Join(ExportFormats, ", "))
	}
	return f, format, nil
}

// decodeObject walks the body token by token with an explicit depth counter
// before anything is unmarshalled, so nesting cannot grow the stack.
func (v *Validator) decodeObject(body []byte) (map[string]json.RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	depth := 0
	first := true
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, domains.ValidationFailed("body", "is not valid JSON")
		}
		if first {
			if d, ok := tok.(json.Delim); !ok || d != '{' {
				return nil, domains.ValidationFailed("body", "must be a JSON object")
			}
			first = false
		}
		switch tok {
		case json.Delim('{'), json.Delim('['):
			depth++
			if depth > v.limits.MaxJSONDepth {
				return nil, domains.ValidationFailed("body", "is nested too deeply")
			}
		case json.Delim('}'), json.Delim(']'):
			depth--
			if depth == 0 && dec.More() {
				return nil, domains.ValidationFailed("body", "is not valid JSON")
			}
		}
	}
	if first {
		return nil, domains.ValidationFailed("body", "is required")
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, domains.ValidationFailed("body", "is not valid JSON")
	}
	return fields, nil
}

// stringField reads a JSON string, bounding its size before decoding it.
func (v *Validator) stringField(fields map[string]json.RawMessage, name string, maxRunes int, required bool) (string, error) {
	raw, ok := fields[name]
	if !ok || string(raw) == "null" {
		if required {
			return "", domains.ValidationFailed(name, "is required")
		}
		return "", nil
	}

	tooLong := domains.ValidationFailed(name, fmt.Sprintf("is too long (maximum %d characters)", maxRunes))
	if len(raw) > maxRunes*maxEncodedBytesPerRune+2 {
		return "", tooLong
	}
	if len(raw) == 0 || raw[0] != '"' {
		return "", domains.ValidationFailed(name, "must be a string")
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", domains.ValidationFailed(name, "must be a string")
	}
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) > maxRunes {
		return "", tooLong
	}
	if required && s == "" {
		return "", domains.ValidationFailed(name, "is required")
	}
	return s, nil
}

func (v *Validator) dateField(fields map[string]json.RawMessage, name string) (time.Time, error) {
	s, err := v.stringField(fields, name, len(dateLayout), true)
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, domains.ValidationFailed(name, "must be a date in YYYY-MM-DD format")
	}
	return t, nil
}

// nonNegative parses a query integer; values beyond the int range saturate.
func nonNegative(q url.Values, name string) (int, error) {
	s := q.Get(name)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseUint(s, 10, 63)
	if errors.Is(err, strconv.ErrRange) {
		return math.MaxInt, nil
	}
	if err != nil {
		return 0, domains.ValidationFailed(name, "must be a non-negative integer")
	}
	if n > math.MaxInt {
		return math.MaxInt, nil
	}
	return int(n), nil
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
