package quote

import (
	"net/mail"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/smilequote/api/internal/domain"
)

const (
	maxNameLength  = 120
	maxNotesLength = 2000
)

var phonePattern = regexp.MustCompile(`^\+?[0-9][0-9 ().\-]{5,22}[0-9]$`)

// NormalizePatientInfo trims every field.
func NormalizePatientInfo(p domain.PatientInfo) domain.PatientInfo {
	return domain.PatientInfo{
		Name:          strings.Join(strings.Fields(p.Name), " "),
		Email:         strings.ToLower(strings.TrimSpace(p.Email)),
		Phone:         strings.TrimSpace(p.Phone),
		Country:       strings.TrimSpace(p.Country),
		PreferredDate: strings.TrimSpace(p.PreferredDate),
		Notes:         strings.TrimSpace(p.Notes),
	}
}

// ValidatePatientInfo checks the contact form. Name, email and phone are
// required and must be well formed.
func ValidatePatientInfo(p domain.PatientInfo) error {
	fields := make(map[string]string)
	switch {
	case p.Name == "":
		fields["name"] = "required"
	case utf8.RuneCountInString(p.Name) > maxNameLength:
		fields["name"] = "too long"
	}
	if p.Email == "" {
		fields["email"] = "required"
	} else if !ValidEmail(p.Email) {
		fields["email"] = "invalid email address"
	}
	if p.Phone == "" {
		fields["phone"] = "required"
	} else if !phonePattern.MatchString(p.Phone) || countDigits(p.Phone) < 7 {
		fields["phone"] = "invalid phone number"
	}
	if utf8.RuneCountInString(p.Notes) > maxNotesLength {
		fields["notes"] = "too long"
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// ValidEmail accepts a bare address such as "ana@example.com".
func ValidEmail(address string) bool {
	parsed, err := mail.ParseAddress(address)
	if err != nil {
		return false
	}
	return parsed.Address == address && strings.Contains(address[strings.LastIndex(address, "@")+1:], ".")
}

func countDigits(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}
