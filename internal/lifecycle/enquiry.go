package lifecycle

import (
	"fmt"
	"strings"
)

// EnquiryStatus is the canonical enquiry vocabulary.
type EnquiryStatus string

const (
	EnquiryNew       EnquiryStatus = "new"
	EnquiryContacted EnquiryStatus = "contacted"
	EnquiryQuoted    EnquiryStatus = "quoted"
	EnquiryConverted EnquiryStatus = "converted"
	EnquiryLost      EnquiryStatus = "lost"
)

// Valid reports whether s belongs to the canonical vocabulary.
func (s EnquiryStatus) Valid() bool {
	switch s {
	case EnquiryNew, EnquiryContacted, EnquiryQuoted, EnquiryConverted, EnquiryLost:
		return true
	}
	return false
}

var legacyEnquiryStatuses = map[string]EnquiryStatus{
	"in-progress": EnquiryContacted,
	"in_progress": EnquiryContacted,
	"closed":      EnquiryLost,
}

// ParseEnquiryStatus accepts canonical values and the legacy aliases.
func ParseEnquiryStatus(raw string) (EnquiryStatus, error) {
	v := strings.ToLower(strings.TrimSpace(raw))
	if s := EnquiryStatus(v); s.Valid() {
		return s, nil
	}
	if s, ok := legacyEnquiryStatuses[v]; ok {
		return s, nil
	}
	return "", fmt.Errorf("%w: enquiry status %q", ErrUnknownStatus, raw)
}

// AfterCustomerConversion is the status an enquiry takes once a customer exists for it.
// An enquiry that already produced a quote keeps the quoted status.
func AfterCustomerConversion(current EnquiryStatus) EnquiryStatus {
	if current == EnquiryQuoted {
		return current
	}
	return EnquiryConverted
}
