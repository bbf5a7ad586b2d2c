package domain

// ValidationReason names why an input was rejected.
type ValidationReason string

const (
	ReasonEmptyDate       ValidationReason = "EmptyDate"
	ReasonPastDate        ValidationReason = "PastDate"
	ReasonInvalidDate     ValidationReason = "InvalidDate"
	ReasonInvalidPrice    ValidationReason = "InvalidPrice"
	ReasonInvalidDiscount ValidationReason = "InvalidDiscount"
	ReasonEmptyMessage    ValidationReason = "EmptyMessage"
)

// ValidationResult is the transient outcome of a field check.
type ValidationResult struct {
	Valid  bool             `json:"valid"`
	Reason ValidationReason `json:"reason,omitempty"`
}

// Valid is the successful ValidationResult.
func Valid() ValidationResult {
	return ValidationResult{Valid: true}
}

// Invalid returns a failed ValidationResult with the given reason.
func Invalid(reason ValidationReason) ValidationResult {
	return ValidationResult{Valid: false, Reason: reason}
}
