package models

// Rule is a limit-times rule as seen by the persistence job. Thresholds are
// owned by the rule registry; the job only reads them.
type Rule struct {
	Name                 string `db:"name" json:"name"`
	StatisticSpanSeconds int    `db:"statistic_span" json:"statistic_span_seconds"`
	TimesCap             int64  `db:"times_cap" json:"times_cap"`
	Order                int    `db:"rule_order" json:"order"`
}
