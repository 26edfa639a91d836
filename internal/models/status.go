package models

import (
	"fmt"
	"strings"
)

type ApplicationStatus string

const (
	StatusApplicationConfirmation ApplicationStatus = "Application Confirmation"
	StatusRejection               ApplicationStatus = "Rejection"
	StatusInterviewInvitation     ApplicationStatus = "Interview Invitation"
	StatusOfferMade               ApplicationStatus = "Offer Made"
	StatusAssessmentSent          ApplicationStatus = "Assessment Sent"
	StatusAvailabilityRequest     ApplicationStatus = "Availability Request"
	StatusInformationRequest      ApplicationStatus = "Information Request"
	StatusActionRequired          ApplicationStatus = "Action Required From Company"
	StatusHiringFreeze            ApplicationStatus = "Hiring Freeze Notification"
	StatusWithdrewApplication     ApplicationStatus = "Withdrew Application"
	StatusInboundRequest          ApplicationStatus = "Did Not Apply - Inbound Request"
	StatusOutreach                ApplicationStatus = "Outreach"

	// StatusFalsePositive is a classifier verdict, never a stored status.
	StatusFalsePositive ApplicationStatus = "False Positive"

	// StatusUnknown marks legacy rows; listings skip them.
	StatusUnknown ApplicationStatus = "unknown"
)

// StoredStatuses lists the statuses an ApplicationRecord may carry.
var StoredStatuses = []ApplicationStatus{
	StatusApplicationConfirmation,
	StatusRejection,
	StatusInterviewInvitation,
	StatusOfferMade,
	StatusAssessmentSent,
	StatusAvailabilityRequest,
	StatusInformationRequest,
	StatusActionRequired,
	StatusHiringFreeze,
	StatusWithdrewApplication,
	StatusInboundRequest,
	StatusOutreach,
}

func (s ApplicationStatus) Stored() bool {
	for _, st := range StoredStatuses {
		if st == s {
			return true
		}
	}
	return false
}

// ParseApplicationStatus is case-insensitive and tolerates the en dash some
// clients send in "Did Not Apply – Inbound Request".
func ParseApplicationStatus(raw string) (ApplicationStatus, error) {
	norm := strings.ToLower(strings.TrimSpace(raw))
	norm = strings.ReplaceAll(norm, "–", "-")
	norm = strings.Join(strings.Fields(norm), " ")
	if norm == "" {
		return "", fmt.Errorf("empty application status")
	}
	switch norm {
	case "false positive", "false positive-excluded", "false_positive":
		return StatusFalsePositive, nil
	}
	for _, st := range StoredStatuses {
		if strings.ToLower(string(st)) == norm {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown application status %q", raw)
}
