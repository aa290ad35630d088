package models

import "time"

// OffenderRecord is the durable copy of a blacklist entry. RuleName, Sample
// and RejectTime identify a record; AddedAt is set when it is first stored.
type OffenderRecord struct {
	RuleName   string    `db:"rule_name" json:"rule_name"`
	Sample     string    `db:"sample" json:"sample"`
	RejectTime int64     `db:"reject_time" json:"reject_time"`
	AddedAt    time.Time `db:"added_at" json:"added_at"`
}

// Key returns the identity tuple used for deduplication.
func (o OffenderRecord) Key() OffenderKey {
	return OffenderKey{RuleName: o.RuleName, Sample: o.Sample, RejectTime: o.RejectTime}
}

type OffenderKey struct {
	RuleName   string
	Sample     string
	RejectTime int64
}
