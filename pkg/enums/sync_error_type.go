package enums

// SyncErrorType classifies a module failure. The classification feeds the
// recorded error message; every failure consumes one retry attempt either way.
type SyncErrorType string

const (
	SyncErrorTransient  SyncErrorType = "transient"
	SyncErrorPermanent  SyncErrorType = "permanent"
	SyncErrorValidation SyncErrorType = "validation"
)

// IsValid reports whether the value is a known error classification.
func (t SyncErrorType) IsValid() bool {
	switch t {
	case SyncErrorTransient, SyncErrorPermanent, SyncErrorValidation:
		return true
	}
	return false
}
