package fault

import (
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassification(t *testing.T) {
	wrapped := fmt.Errorf("upsert: %w", &NotFoundError{Kind: "relay", ID: "7"})
	assert.True(t, IsNotFound(wrapped))
	assert.False(t, IsValidation(wrapped))
	assert.Equal(t, "upsert: relay 7 not found", wrapped.Error())

	v := Invalid("days", "at least one day is required")
	assert.True(t, IsValidation(v))
	assert.Equal(t, "validation: days: at least one day is required", v.Error())

	p := &PersistenceError{Op: "write", Path: "/tmp/x.json", Err: os.ErrPermission}
	assert.True(t, IsPersistence(fmt.Errorf("save: %w", p)))
	assert.True(t, errors.Is(p, os.ErrPermission))
}

func TestMalformedRuleUnwrap(t *testing.T) {
	inner := errors.New("hour out of range")
	err := &MalformedRuleError{RelayID: "21", Field: "turn_on_time", Value: "25:00", Err: inner}
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), `"25:00"`)
}
