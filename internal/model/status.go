package model

// TranslationStatus is the lifecycle state of a translation row.
type TranslationStatus string

const (
	StatusPending     TranslationStatus = "PENDING"
	StatusTranslating TranslationStatus = "TRANSLATING"
	StatusTranslated  TranslationStatus = "TRANSLATED"
	StatusFailed      TranslationStatus = "FAILED"
	StatusApproved    TranslationStatus = "APPROVED"
)

// Valid reports whether s is one of the known statuses.
func (s TranslationStatus) Valid() bool {
	switch s {
	case StatusPending, StatusTranslating, StatusTranslated, StatusFailed, StatusApproved:
		return true
	}
	return false
}

// Terminal reports whether s is a final state for a processing pass.
// APPROVED rows are terminal and are never reopened by a non-forced request.
func (s TranslationStatus) Terminal() bool {
	return s == StatusTranslated || s == StatusFailed || s == StatusApproved
}
