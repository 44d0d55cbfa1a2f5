package models

import "fmt"

// ErrorType represents different categories of errors
type ErrorType int

const (
	ErrSourceNotFound ErrorType = iota
	ErrNoAssetMatch
	ErrMalformedPackage
	ErrTransfer
	ErrRepackage
	ErrSignatureInvalid
	ErrPersistence
	ErrInvalidConfig
)

// String returns the string representation of ErrorType
func (e ErrorType) String() string {
	switch e {
	case ErrSourceNotFound:
		return "SourceNotFound"
	case ErrNoAssetMatch:
		return "NoAssetMatch"
	case ErrMalformedPackage:
		return "MalformedPackage"
	case ErrTransfer:
		return "TransferFailure"
	case ErrRepackage:
		return "RepackageFailure"
	case ErrSignatureInvalid:
		return "SignatureInvalid"
	case ErrPersistence:
		return "PersistenceFailure"
	case ErrInvalidConfig:
		return "InvalidConfig"
	default:
		return "Unknown"
	}
}

// SyncError represents an error while synchronizing a package or a catalog
type SyncError struct {
	Type    ErrorType
	Package string
	Err     error
}

// Error implements the error interface
func (e *SyncError) Error() string {
	if e.Package != "" {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Package, e.Err)
	}
	return fmt.Sprintf("[%s] %v", e.Type, e.Err)
}

// Unwrap returns the wrapped error
func (e *SyncError) Unwrap() error {
	return e.Err
}

// NewSyncError builds a SyncError for the named package
func NewSyncError(t ErrorType, pkg string, err error) *SyncError {
	return &SyncError{Type: t, Package: pkg, Err: err}
}
