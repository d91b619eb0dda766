package dberr_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/devrev/docmap/dberr"
	"github.com/stretchr/testify/assert"
)

func TestDocError_WrapsCause(t *testing.T) {
	cause := fmt.Errorf("boom")
	err := dberr.Command("bulk write failed", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, dberr.ErrCodeCommand, dberr.Code(err))
}

func TestIs(t *testing.T) {
	err := dberr.InvalidState("entry is detached")
	assert.True(t, dberr.Is(err, dberr.ErrCodeInvalidState))
	assert.False(t, dberr.Is(err, dberr.ErrCodeArgument))
	assert.False(t, dberr.Is(errors.New("plain"), dberr.ErrCodeArgument))
}

func TestWith_AttachesDetails(t *testing.T) {
	err := dberr.SerializerMissing("Order").With("attempt", 2)
	assert.Equal(t, "Order", err.Details["kind"])
	assert.Equal(t, 2, err.Details["attempt"])
}
