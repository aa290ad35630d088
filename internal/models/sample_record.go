package models

import "time"

// SampleRecord is one high-count sample of a merged window, appended to the
// analytics store once per tick.
type SampleRecord struct {
	ID         string    `db:"id" json:"id"`
	RuleName   string    `db:"rule_name" json:"rule_name"`
	Sample     string    `db:"sample" json:"sample"`
	Count      float64   `db:"count" json:"count"`
	ObservedAt time.Time `db:"observed_at" json:"observed_at"`
}
