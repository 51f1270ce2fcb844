package domain

import "time"

// Read models backing the registered tools. The pipeline only ever reads
// these; all writes belong to the surrounding CRM.

// Student is a CRM student row returned by the fuzzy search tool.
type Student struct {
	StudentID    string    `json:"student_id"`
	TenantID     string    `json:"-"`
	FullName     string    `json:"full_name"`
	Email        string    `json:"email,omitempty"`
	ProgramID    string    `json:"program_id,omitempty"`
	Status       string    `json:"status"`
	BalanceCents int64     `json:"balance_cents"`
	EnrolledAt   time.Time `json:"enrolled_at"`
}

// Program is a catalog entry.
type Program struct {
	ProgramID  string `json:"program_id"`
	TenantID   string `json:"-"`
	Name       string `json:"name"`
	Modality   string `json:"modality,omitempty"`
	PriceCents int64  `json:"price_cents"`
	Active     bool   `json:"active"`
}

// RevenueStats is the aggregate returned by the statistics tool.
type RevenueStats struct {
	PeriodStart      time.Time `json:"period_start"`
	PaymentCount     int       `json:"payment_count"`
	CollectedCents   int64     `json:"collected_cents"`
	OutstandingCents int64     `json:"outstanding_cents"`
}

// AgingBucket is one row of the collections aging report.
type AgingBucket struct {
	Bucket     string `json:"bucket"`
	Count      int    `json:"count"`
	TotalCents int64  `json:"total_cents"`
}

// AdvisorStats is one row of the advisor performance rollup.
type AdvisorStats struct {
	AdvisorID      string `json:"advisor_id"`
	FullName       string `json:"full_name"`
	EnrolledCount  int    `json:"enrolled_count"`
	CollectedCents int64  `json:"collected_cents"`
}
