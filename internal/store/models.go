package store

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-multierror"
)

var ErrNotFound = errors.New("not found")

type QueryType string

const (
	QueryComplaint         QueryType = "Complaint"
	QuerySubsidyRequest    QueryType = "Subsidy Request"
	QuerySchemeInformation QueryType = "Scheme Information"
	QueryOther             QueryType = "Other"
)

// QueryTypes lists the form options in display order. The first is the
// form's default.
func QueryTypes() []QueryType {
	return []QueryType{QueryComplaint, QuerySubsidyRequest, QuerySchemeInformation, QueryOther}
}

func ParseQueryType(s string) (QueryType, error) {
	for _, qt := range QueryTypes() {
		if string(qt) == s {
			return qt, nil
		}
	}
	return "", fmt.Errorf("unknown query type %q", s)
}

// GovQuery is a complaint or request submitted through Government Connect.
type GovQuery struct {
	ID        string    `json:"id"` // Using UUID for external ID
	SessionID string    `json:"session_id,omitempty"`
	Name      string    `json:"name"`
	Location  string    `json:"location"`
	QueryType QueryType `json:"query_type"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// Validate reports every missing or invalid field at once.
func (q *GovQuery) Validate() error {
	var result *multierror.Error
	if strings.TrimSpace(q.Name) == "" {
		result = multierror.Append(result, errors.New("name is required"))
	}
	if strings.TrimSpace(q.Location) == "" {
		result = multierror.Append(result, errors.New("location is required"))
	}
	if _, err := ParseQueryType(string(q.QueryType)); err != nil {
		result = multierror.Append(result, err)
	}
	if strings.TrimSpace(q.Message) == "" {
		result = multierror.Append(result, errors.New("message is required"))
	}
	return result.ErrorOrNil()
}

type Advisory struct {
	ID       int64     `json:"id"`
	Title    string    `json:"title"`
	Content  string    `json:"content"`
	PostedAt time.Time `json:"posted_at"`
	// Posted is the relative age shown on the card, e.g. "2 days ago".
	Posted string `json:"posted"`
}

func (a *Advisory) setPosted(now time.Time) {
	a.Posted = humanize.RelTime(a.PostedAt, now, "ago", "from now")
}

// stockAdvisories are shown until an ingest replaces them.
func stockAdvisories(now time.Time) []Advisory {
	return []Advisory{
		{
			Title:    "New Subsidy on Drip Irrigation Systems",
			Content:  "Farmers can now avail a 75% subsidy on new drip irrigation system installations. Apply through the portal.",
			PostedAt: now.Add(-48 * time.Hour),
		},
		{
			Title:    "Pest Alert: Locust Swarm Warning",
			Content:  "Locust swarms have been reported in the western districts. Farmers are advised to take preventive measures immediately.",
			PostedAt: now.Add(-7 * 24 * time.Hour),
		},
		{
			Title:    "Weather Update: Heavy Rainfall Expected",
			Content:  "Heavy rainfall is predicted for the next 48 hours. Please take necessary precautions to protect your crops and livestock.",
			PostedAt: now.Add(-3 * time.Hour),
		},
	}
}
