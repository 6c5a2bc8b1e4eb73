package models

// AuditVerdict is the schema-validated output of an audit prompt
// (spec.md §6 "Auditor LLM schema"), prior to persistence as an
// AuditReport.
type AuditVerdict struct {
	IsSuccessful     bool              `json:"is_successful"`
	Feedback         string            `json:"feedback"`
	ReworkDirectives []ReworkDirective `json:"rework_directives"`
	Confidence       float64           `json:"confidence"`
}
