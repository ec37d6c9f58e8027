package model

// Verdict is the external validator's answer about a borderline rule match.
type Verdict string

// Verdict constants.
const (
	VerdictConfirm Verdict = "CONFIRM"
	VerdictReject  Verdict = "REJECT"
)

// ClassifyRequest asks the external classifier for a category.
type ClassifyRequest struct {
	Record     Record
	Mode       Mode
	Vocabulary []string
}

// ClassifyResponse is the external classifier's answer.
type ClassifyResponse struct {
	RecordID   string
	Category   string
	Reasoning  string
	Confidence int
}

// ValidateRequest asks the external classifier to confirm a rule match.
type ValidateRequest struct {
	Record            Record
	SuggestedCategory string
	Vocabulary        []string
	RuleConfidence    int
}

// ValidateResponse carries the validator verdict and optional alternative.
type ValidateResponse struct {
	AlternativeCategory *string
	Confidence          *int
	Verdict             Verdict
	Reasoning           string
}
