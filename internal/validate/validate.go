// Package validate implements the argument-error boundary spec §7 describes:
// checks that must fail synchronously, before any store interaction, rather
// than surface later as a command or write error. Adapted from the teacher's
// internal/validation/validator.go (a Validator struct with configurable
// limits whose ValidateX methods return a structured error), replacing the
// teacher's key/value/tenant-ID checks with batch-size and property-name
// checks feeding this module's dberr package.
package validate

import (
	"strings"
	"unicode"

	"github.com/devrev/docmap/dberr"
)

const (
	// MaxSliceSize is the largest batch the save pipeline will issue as a
	// single bulk command (spec §4.H, §6: "partition entries into slices of
	// at most 1000").
	MaxSliceSize = 1000
	// MaxPropertyNameLength bounds a controlled property's name.
	MaxPropertyNameLength = 256
	// MaxCollectionNameLength bounds a document kind's collection name.
	MaxCollectionNameLength = 256
)

// Validator performs the argument-error checks the repository context and
// document set run before touching the store.
type Validator struct {
	maxSliceSize            int
	maxPropertyNameLength   int
	maxCollectionNameLength int
}

// NewValidator creates a validator with the default limits.
func NewValidator() *Validator {
	return &Validator{
		maxSliceSize:            MaxSliceSize,
		maxPropertyNameLength:   MaxPropertyNameLength,
		maxCollectionNameLength: MaxCollectionNameLength,
	}
}

// NewValidatorWithLimits creates a validator with custom limits.
func NewValidatorWithLimits(maxSliceSize, maxPropertyNameLength, maxCollectionNameLength int) *Validator {
	return &Validator{
		maxSliceSize:            maxSliceSize,
		maxPropertyNameLength:   maxPropertyNameLength,
		maxCollectionNameLength: maxCollectionNameLength,
	}
}

// MaxSliceSize returns the configured slice size, for callers that need to
// partition a batch themselves (the save pipeline).
func (v *Validator) MaxSliceSize() int {
	return v.maxSliceSize
}

// ValidateDocument checks that a document presented to add/attach/update/
// remove is non-nil and carries a non-empty collection name.
func (v *Validator) ValidateDocument(doc any, collectionName string) error {
	if doc == nil {
		return dberr.Argument("document cannot be nil")
	}
	return v.ValidateCollectionName(collectionName)
}

// ValidateCollectionName checks a document kind's logical collection name.
func (v *Validator) ValidateCollectionName(name string) error {
	if name == "" {
		return dberr.Argument("collection name cannot be empty")
	}
	if len(name) > v.maxCollectionNameLength {
		return dberr.Argumentf("collection name exceeds maximum length of %d", v.maxCollectionNameLength)
	}
	if strings.ContainsRune(name, 0) {
		return dberr.Argument("collection name cannot contain null bytes")
	}
	return nil
}

// ValidatePropertyName checks a controlled or navigation property's name.
func (v *Validator) ValidatePropertyName(name string) error {
	if name == "" {
		return dberr.Argument("property name cannot be empty")
	}
	if len(name) > v.maxPropertyNameLength {
		return dberr.Argumentf("property name %q exceeds maximum length of %d", name, v.maxPropertyNameLength)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return dberr.Argumentf("property name %q cannot contain control characters", name)
		}
	}
	return nil
}

// ValidateBatchSize checks that a requested save or fetch batch is
// non-negative; the caller is responsible for slicing anything larger than
// MaxSliceSize rather than rejecting it (spec testable property 13).
func (v *Validator) ValidateBatchSize(n int) error {
	if n < 0 {
		return dberr.Argumentf("batch size cannot be negative, got %d", n)
	}
	return nil
}

// Slices partitions items into consecutive slices of at most the
// validator's configured MaxSliceSize, preserving order within and across
// slices (spec §4.H, §5 "Ordering").
func Slices[T any](items []T, sliceSize int) [][]T {
	if sliceSize <= 0 {
		sliceSize = MaxSliceSize
	}
	if len(items) == 0 {
		return nil
	}
	out := make([][]T, 0, (len(items)+sliceSize-1)/sliceSize)
	for start := 0; start < len(items); start += sliceSize {
		end := start + sliceSize
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[start:end])
	}
	return out
}
