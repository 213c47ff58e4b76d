package storage

import (
	"fmt"
	"strings"
	"time"
)

// ObjectKind selects the bucket layout for an archived object.
type ObjectKind string

const (
	KindQuoteSnapshot ObjectKind = "quote-snapshot"
	KindQuoteEmail    ObjectKind = "quote-email"
)

// PathParams identify the object being written.
type PathParams struct {
	ClinicID  string
	QuoteID   string
	CreatedAt time.Time
}

// BuildObjectPath returns the object name for kind, e.g.
// quotes/clinic-ist/2025/06/01J0ABC.json.
func BuildObjectPath(kind ObjectKind, params PathParams) (string, error) {
	quoteID, err := requireSegment("quote id", params.QuoteID)
	if err != nil {
		return "", err
	}
	clinic := "unassigned"
	if strings.TrimSpace(params.ClinicID) != "" {
		if clinic, err = requireSegment("clinic id", params.ClinicID); err != nil {
			return "", err
		}
	}
	created := params.CreatedAt.UTC()
	if created.IsZero() {
		return "", fmt.Errorf("storage: created time is required")
	}
	prefix := fmt.Sprintf("quotes/%s/%04d/%02d/%s", clinic, created.Year(), int(created.Month()), quoteID)
	switch kind {
	case KindQuoteSnapshot:
		return prefix + ".json", nil
	case KindQuoteEmail:
		return prefix + "-email.html", nil
	default:
		return "", fmt.Errorf("storage: unsupported object kind %q", kind)
	}
}

func requireSegment(name, value string) (string, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return "", fmt.Errorf("storage: %s is required", name)
	}
	if strings.ContainsAny(v, "/\\") || v == "." || v == ".." {
		return "", fmt.Errorf("storage: %s %q contains a path separator", name, v)
	}
	return v, nil
}
