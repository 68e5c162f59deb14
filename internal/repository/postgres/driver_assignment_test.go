package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestIsActiveAssignmentViolation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"active index", &pq.Error{Code: uniqueViolation, Constraint: ActiveAssignmentIndex}, true},
		{"wrapped", fmt.Errorf("insert: %w", &pq.Error{Code: uniqueViolation, Constraint: ActiveAssignmentIndex}), true},
		{"other constraint", &pq.Error{Code: uniqueViolation, Constraint: "driver_assignments_pkey"}, false},
		{"other code", &pq.Error{Code: "23503", Constraint: ActiveAssignmentIndex}, false},
		{"plain error", errors.New("boom"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isActiveAssignmentViolation(tt.err))
		})
	}
}
