package models

import "time"

// Source is the external system a mapping originates from.
type Source string

const (
	SourcePopuli      Source = "populi"
	SourceRaisersEdge Source = "raisersedge"
)

var knownSources = []Source{SourcePopuli, SourceRaisersEdge}

// Sources returns the closed set of accepted origin systems.
func Sources() []Source {
	out := make([]Source, len(knownSources))
	copy(out, knownSources)
	return out
}

func (s Source) Valid() bool {
	for _, known := range knownSources {
		if s == known {
			return true
		}
	}
	return false
}

// AccountMapping maps an external-system identifier to a Financial Edge account code.
// (Source, SourceIdentifier) is unique across live records.
type AccountMapping struct {
	ID                   string    `json:"id"`
	Source               Source    `json:"source"`
	SourceIdentifier     string    `json:"sourceIdentifier"`
	SourceDescription    string    `json:"sourceDescription"`
	FinancialEdgeAccount string    `json:"financialEdgeAccount"`
	CreatedAt            time.Time `json:"createdAt"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

// Key is the uniqueness key of the mapping.
func (m *AccountMapping) Key() string {
	return string(m.Source) + "\x00" + m.SourceIdentifier
}

func (m *AccountMapping) Clone() *AccountMapping {
	c := *m
	return &c
}

// MappingInput is the validated, client-controlled part of a mapping.
type MappingInput struct {
	Source               Source
	SourceIdentifier     string
	SourceDescription    string
	FinancialEdgeAccount string
}

// MappingFilter narrows list, count and export queries. Search is a literal
// prefix on SourceIdentifier.
type MappingFilter struct {
	Source Source
	Search string
	Limit  int
	Offset int
}

// MappingPage is one window of a list query.
type MappingPage struct {
	Mappings []*AccountMapping `json:"mappings"`
	Count    int               `json:"count"`
	Total    int               `json:"total"`
	Limit    int               `json:"limit"`
	Offset   int               `json:"offset"`
}
