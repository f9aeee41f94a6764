package model

import "time"

// Email is a message returned by a mailbox search.
type Email struct {
	ID         string    `json:"id"`
	Date       time.Time `json:"date"`
	DateHeader string    `json:"date_header"`
	From       string    `json:"from"`
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
}

// SearchQuery describes a mailbox search. Empty fields do not filter.
// After has day granularity on every backend: time of day is ignored.
type SearchQuery struct {
	From            string
	SubjectContains string
	After           time.Time
	Limit           int
}
