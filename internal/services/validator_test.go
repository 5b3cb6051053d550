package services

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slhuckstead/accountmap/internal/config"
	"github.com/slhuckstead/accountmap/internal/domains"
	"github.com/slhuckstead/accountmap/internal/models"
)

func testLimits() config.LimitsConfig {
	return config.LimitsConfig{
		MaxBodyBytes:         2 << 20,
		MaxJSONDepth:         4,
		MaxIdentifierLength:  255,
		MaxDescriptionLength: 1000,
		ListDefaultLimit:     50,
		ListMaxLimit:         100,
	}
}

func requireValidation(t *testing.T, err error, field string) *domains.Error {
	t.Helper()
	require.Error(t, err)
	de := domains.As(err)
	require.Equal(t, domains.KindValidationFailed, de.Kind, err.Error())
	assert.Equal(t, field, de.Field)
	return de
}

func TestDecodeMapping_Valid(t *testing.T) {
	v := NewValidator(testLimits())

	in, err := v.DecodeMapping([]byte(`{
		"id": "ignored",
		"source": "Populi",
		"sourceIdentifier": "  12345 ",
		"sourceDescription": "Tuition – Fall Café",
		"financialEdgeAccount": "10-1000-000"
	}`))
	require.NoError(t, err)

	assert.Equal(t, models.SourcePopuli, in.Source)
	assert.Equal(t, "12345", in.SourceIdentifier)
	assert.Equal(t, "Tuition – Fall Café", in.SourceDescription)
	assert.Equal(t, "10-1000-000", in.FinancialEdgeAccount)
}

func TestDecodeMapping_Rejections(t *testing.T) {
	v := NewValidator(testLimits())

	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"empty body", ``, "body"},
		{"not json", `{"source":`, "body"},
		{"array", `["populi"]`, "body"},
		{"trailing data", `{"source":"populi"} {}`, "body"},
		{"unknown field", `{"source":"populi","sourceIdentifier":"1","financialEdgeAccount":"10-1000-000","admin":true}`, "body"},
		{"missing source", `{"sourceIdentifier":"1","financialEdgeAccount":"10-1000-000"}`, FieldSource},
		{"bad source", `{"source":"quickbooks","sourceIdentifier":"1","financialEdgeAccount":"10-1000-000"}`, FieldSource},
		{"number identifier", `{"source":"populi","sourceIdentifier":12345,"financialEdgeAccount":"10-1000-000"}`, FieldSourceIdentifier},
		{"blank identifier", `{"source":"populi","sourceIdentifier":"   ","financialEdgeAccount":"10-1000-000"}`, FieldSourceIdentifier},
		{"sql injection", `{"source":"populi","sourceIdentifier":"1'; DROP TABLE account_mappings;--","financialEdgeAccount":"10-1000-000"}`, FieldSourceIdentifier},
		{"operator injection", `{"source":"populi","sourceIdentifier":"$ne","financialEdgeAccount":"10-1000-000"}`, FieldSourceIdentifier},
		{"object identifier", `{"source":"populi","sourceIdentifier":{"$gt":""},"financialEdgeAccount":"10-1000-000"}`, FieldSourceIdentifier},
		{"script tag", `{"source":"populi","sourceIdentifier":"1","sourceDescription":"<script>alert(1)</script>","financialEdgeAccount":"10-1000-000"}`, FieldSourceDescription},
		{"script uri", `{"source":"populi","sourceIdentifier":"1","sourceDescription":"javascript:alert(1)","financialEdgeAccount":"10-1000-000"}`, FieldSourceDescription},
		{"data uri", `{"source":"populi","sourceIdentifier":"1","sourceDescription":"DATA : text/html;base64,PHNjcmlwdD4=","financialEdgeAccount":"10-1000-000"}`, FieldSourceDescription},
		{"entity-encoded tag", `{"source":"populi","sourceIdentifier":"1","sourceDescription":"&lt;img src=x&gt;","financialEdgeAccount":"10-1000-000"}`, FieldSourceDescription},
		{"event handler", `{"source":"populi","sourceIdentifier":"1","sourceDescription":"x onerror=alert(1)","financialEdgeAccount":"10-1000-000"}`, FieldSourceDescription},
		{"control char", `{"source":"populi","sourceIdentifier":"1","sourceDescription":"a\u0000b","financialEdgeAccount":"10-1000-000"}`, FieldSourceDescription},
		{"bad account", `{"source":"populi","sourceIdentifier":"1","financialEdgeAccount":"ten"}`, FieldFinancialEdgeAccount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.DecodeMapping([]byte(tt.body))
			requireValidation(t, err, tt.field)
		})
	}
}

func TestDecodeMapping_NestingIsBounded(t *testing.T) {
	v := NewValidator(testLimits())
	body := `{"source":` + strings.Repeat("[", 10000) + strings.Repeat("]", 10000) + `}`

	_, err := v.DecodeMapping([]byte(body))
	de := requireValidation(t, err, "body")
	assert.Equal(t, "is nested too deeply", de.Reason)
}

func TestDecodeMapping_LongValues(t *testing.T) {
	v := NewValidator(testLimits())

	huge := strings.Repeat("a", 1<<20)
	_, err := v.DecodeMapping([]byte(`{"source":"populi","sourceIdentifier":"` + huge + `","financialEdgeAccount":"10-1000-000"}`))
	de := requireValidation(t, err, FieldSourceIdentifier)
	assert.Equal(t, "is too long (maximum 255 characters)", de.Reason)
	assert.NotContains(t, de.Message, "aaaa")

	// The bound is in characters, not bytes.
	multibyte := strings.Repeat("é", 1000)
	in, err := v.DecodeMapping([]byte(`{"source":"populi","sourceIdentifier":"1","sourceDescription":"` + multibyte + `","financialEdgeAccount":"10-1000-000"}`))
	require.NoError(t, err)
	assert.Equal(t, multibyte, in.SourceDescription)
}

func TestCheckDescription(t *testing.T) {
	for _, ok := range []string{"Tuition & Fees", `Lab fee "B"`, "O'Brien Scholarship", "Fall Café – 2024", ""} {
		assert.NoError(t, CheckDescription(ok), ok)
	}

	err := CheckDescription("&lt;b&gt;bold&lt;/b&gt;")
	de := requireValidation(t, err, FieldSourceDescription)
	assert.Equal(t, "contains markup, which is not allowed", de.Reason)

	err = CheckDescription("see vbscript:msgbox")
	de = requireValidation(t, err, FieldSourceDescription)
	assert.Equal(t, "contains script content, which is not allowed", de.Reason)
}

func TestCheckIdentifier(t *testing.T) {
	for _, ok := range []string{"12345", "ABC-001", "fund.2024_q1", "a:b c"} {
		assert.NoError(t, CheckIdentifier("id", ok), ok)
	}
	for _, bad := range []string{"", "-1", " 1", "../etc/passwd", "a/b", "a\\b", "é1", "a%00", "a*"} {
		assert.Error(t, CheckIdentifier("id", bad), bad)
	}
}

func TestDecodeSync(t *testing.T) {
	v := NewValidator(testLimits())

	req, err := v.DecodeSync([]byte(`{"startDate":"2024-01-01","endDate":"2024-01-31"}`))
	require.NoError(t, err)
	assert.Equal(t, 2024, req.StartDate.Year())
	assert.Equal(t, 31, req.EndDate.Day())

	_, err = v.DecodeSync([]byte(`{"startDate":"2024-02-01","endDate":"2024-01-01"}`))
	requireValidation(t, err, "endDate")

	_, err = v.DecodeSync([]byte(`{"startDate":"2020-01-01","endDate":"2024-01-01"}`))
	requireValidation(t, err, "endDate")

	_, err = v.DecodeSync([]byte(`{"startDate":"01/01/2024","endDate":"2024-01-01"}`))
	requireValidation(t, err, "startDate")

	_, err = v.DecodeSync([]byte(`{"startDate":"2024-01-01"}`))
	requireValidation(t, err, "endDate")
}

func TestListQuery(t *testing.T) {
	v := NewValidator(testLimits())

	f, err := v.ListQuery(url.Values{"source": {"RaisersEdge"}, "search": {"12"}, "limit": {"25"}, "offset": {"50"}})
	require.NoError(t, err)
	assert.Equal(t, models.SourceRaisersEdge, f.Source)
	assert.Equal(t, "12", f.Search)
	assert.Equal(t, 25, f.Limit)
	assert.Equal(t, 50, f.Offset)

	f, err = v.ListQuery(url.Values{"limit": {"99999999999999999999999"}})
	require.NoError(t, err)
	assert.Greater(t, f.Limit, 100)

	_, err = v.ListQuery(url.Values{"limit": {"-1"}})
	requireValidation(t, err, "limit")

	_, err = v.ListQuery(url.Values{"search": {"x' OR '1'='1"}})
	requireValidation(t, err, "search")
}

func TestExportQuery(t *testing.T) {
	v := NewValidator(testLimits())

	_, format, err := v.ExportQuery(url.Values{})
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, format)

	_, format, err = v.ExportQuery(url.Values{"format": {"XLSX"}})
	require.NoError(t, err)
	assert.Equal(t, FormatXLSX, format)

	_, _, err = v.ExportQuery(url.Values{"format": {"pdf"}})
	requireValidation(t, err, "format")

	_, _, err = v.ExportQuery(url.Values{"offset": {"10"}})
	requireValidation(t, err, "offset")
}

func TestResolveQuery(t *testing.T) {
	v := NewValidator(testLimits())

	source, identifier, err := v.ResolveQuery(url.Values{"source": {"populi"}, "sourceIdentifier": {"12345"}})
	require.NoError(t, err)
	assert.Equal(t, models.SourcePopuli, source)
	assert.Equal(t, "12345", identifier)

	_, _, err = v.ResolveQuery(url.Values{"sourceIdentifier": {"12345"}})
	requireValidation(t, err, "source")

	_, _, err = v.ResolveQuery(url.Values{"source": {"populi"}})
	requireValidation(t, err, FieldSourceIdentifier)

	_, _, err = v.ResolveQuery(url.Values{"source": {"populi"}, "sourceIdentifier": {strings.Repeat("9", 256)}})
	requireValidation(t, err, FieldSourceIdentifier)
}
