package dtos

import "time"

// ApplicationCreateRequest is the body of POST /job-applications.
type ApplicationCreateRequest struct {
	CompanyName       string     `json:"company_name" binding:"required,max=255"`
	JobTitle          string     `json:"job_title" binding:"max=255"`
	ApplicationStatus string     `json:"application_status" binding:"required"`
	ReceivedAt        *time.Time `json:"received_at"`
	Subject           string     `json:"subject" binding:"max=1000"`
	EmailFrom         string     `json:"email_from" binding:"max=255"`
}

// ApplicationUpdateRequest is the body of PUT /job-applications/{id}.
// Nil fields are left untouched.
type ApplicationUpdateRequest struct {
	CompanyName       *string    `json:"company_name" binding:"omitempty,max=255"`
	JobTitle          *string    `json:"job_title" binding:"omitempty,max=255"`
	ApplicationStatus *string    `json:"application_status"`
	ReceivedAt        *time.Time `json:"received_at"`
	Subject           *string    `json:"subject" binding:"omitempty,max=1000"`
	EmailFrom         *string    `json:"email_from" binding:"omitempty,max=255"`
}

// ApplicationListResponse is the body of GET /get-emails.
type ApplicationListResponse struct {
	Data       interface{} `json:"data"`
	Page       int         `json:"page"`
	TotalPages int         `json:"totalPages"`
	Total      int64       `json:"total"`
}

// DeleteResponse reports bulk deletions.
type DeleteResponse struct {
	Message string `json:"message"`
	Deleted int64  `json:"deleted"`
}
