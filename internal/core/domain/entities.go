package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// AnnotationType classifies what a rule says about occurrences inside its geometry.
type AnnotationType string

const (
	AnnotationNative     AnnotationType = "NATIVE"
	AnnotationIntroduced AnnotationType = "INTRODUCED"
	AnnotationManaged    AnnotationType = "MANAGED"
	AnnotationFormer     AnnotationType = "FORMER"
	AnnotationVagrant    AnnotationType = "VAGRANT"
	AnnotationSuspicious AnnotationType = "SUSPICIOUS"
	AnnotationOther      AnnotationType = "OTHER"
)

// AnnotationTypes lists every accepted annotation in display order.
var AnnotationTypes = []AnnotationType{
	AnnotationNative, AnnotationIntroduced, AnnotationManaged, AnnotationFormer,
	AnnotationVagrant, AnnotationSuspicious, AnnotationOther,
}

// ParseAnnotationType accepts any casing.
func ParseAnnotationType(s string) (AnnotationType, error) {
	want := AnnotationType(strings.ToUpper(strings.TrimSpace(s)))
	for _, t := range AnnotationTypes {
		if t == want {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: unknown annotation %q", ErrValidation, s)
}

// Rule annotates every occurrence of a taxon that falls inside Geometry.
type Rule struct {
	ID                   string         `json:"id"`
	TaxonKey             int64          `json:"taxon_key"`
	DatasetKey           string         `json:"dataset_key,omitempty"`
	Geometry             string         `json:"geometry"` // normalised WKT, lon lat order
	Annotation           AnnotationType `json:"annotation"`
	BasisOfRecord        []string       `json:"basis_of_record,omitempty"`
	BasisOfRecordNegated bool           `json:"basis_of_record_negated"`
	YearRange            string         `json:"year_range,omitempty"`
	RulesetID            string         `json:"ruleset_id,omitempty"`
	ProjectID            string         `json:"project_id,omitempty"`
	SupportedBy          []string       `json:"supported_by"`
	ContestedBy          []string       `json:"contested_by"`
	Created              time.Time      `json:"created"`
	CreatedBy            string         `json:"created_by"`
	Deleted              *time.Time     `json:"deleted,omitempty"`
	DeletedBy            string         `json:"deleted_by,omitempty"`
}

// IsDeleted reports whether the rule was logically deleted.
func (r *Rule) IsDeleted() bool { return r.Deleted != nil }

// Comment is a note attached to a rule.
type Comment struct {
	ID        string     `json:"id"`
	RuleID    string     `json:"rule_id"`
	Comment   string     `json:"comment"`
	Created   time.Time  `json:"created"`
	CreatedBy string     `json:"created_by"`
	Deleted   *time.Time `json:"deleted,omitempty"`
	DeletedBy string     `json:"deleted_by,omitempty"`
}

// RuleFilter narrows a rule listing. Zero values mean "no filter".
type RuleFilter struct {
	TaxonKey             *int64
	DatasetKey           string
	RulesetID            string
	ProjectID            string
	BasisOfRecord        []string
	BasisOfRecordNegated *bool
	YearRange            string
	Geometry             string // WKT; rules whose geometry intersects it
	CreatedBy            string
	SupportedBy          string
	ContestedBy          string
	Comment              string // substring of a non-deleted comment
	Limit                int
	Offset               int
}

// MetricsFilter narrows RuleMetrics.
type MetricsFilter struct {
	Username   string
	TaxonKey   *int64
	DatasetKey string
	RulesetID  string
	ProjectID  string
}

// RuleMetrics aggregates over the non-deleted rules matching a MetricsFilter.
type RuleMetrics struct {
	Username     string `json:"username,omitempty"`
	RuleCount    int    `json:"rule_count"`
	TaxonCount   int    `json:"taxon_count"`
	DatasetCount int    `json:"dataset_count"`
	ProjectCount int    `json:"project_count"`
	SupportCount int    `json:"support_count"`
	ContestCount int    `json:"contest_count"`
	CommentCount int    `json:"comment_count"`
}

// RuleEventType names a change published to the event stream.
type RuleEventType string

const (
	RuleCreated        RuleEventType = "created"
	RuleUpdated        RuleEventType = "updated"
	RuleDeleted        RuleEventType = "deleted"
	RuleSupported      RuleEventType = "supported"
	RuleContested      RuleEventType = "contested"
	RuleVotesCleared   RuleEventType = "votes_cleared"
	RuleCommented      RuleEventType = "commented"
	RuleNormalized     RuleEventType = "normalized"
	RuleCommentDeleted RuleEventType = "comment_deleted"
)

// RuleEvent is the payload published for every rule change.
type RuleEvent struct {
	Type     RuleEventType `json:"type"`
	RuleID   string        `json:"rule_id"`
	TaxonKey int64         `json:"taxon_key"`
	User     string        `json:"user,omitempty"`
	Time     time.Time     `json:"time"`
}

// YearRange is an inclusive year interval; nil bounds are open.
type YearRange struct {
	From *int `json:"from,omitempty"`
	To   *int `json:"to,omitempty"`
}

// ParseYearRange reads "1990,2000", "*,1990", "1990,*" or a single "1990".
func ParseYearRange(s string) (YearRange, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return YearRange{}, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) == 1 {
		parts = append(parts, parts[0])
	}
	if len(parts) != 2 {
		return YearRange{}, fmt.Errorf("%w: year range %q must be <from>,<to>", ErrValidation, s)
	}
	var yr YearRange
	bounds := []**int{&yr.From, &yr.To}
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if p == "*" || p == "" {
			continue
		}
		y, err := strconv.Atoi(p)
		if err != nil {
			return YearRange{}, fmt.Errorf("%w: year %q in range %q", ErrValidation, p, s)
		}
		*bounds[i] = &y
	}
	if yr.From != nil && yr.To != nil && *yr.From > *yr.To {
		return YearRange{}, fmt.Errorf("%w: year range %q is reversed", ErrValidation, s)
	}
	return yr, nil
}
