package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "govsign/pkg/domain-errors"
)

type sample struct {
	SessionID string  `json:"sessionId" validate:"required"`
	Action    string  `json:"action" validate:"omitempty,oneof=approve reject"`
	Amount    float64 `json:"amount" validate:"gt=0"`
}

func TestStruct(t *testing.T) {
	v := New()

	require.NoError(t, v.Struct(sample{SessionID: "s", Action: "approve", Amount: 1}))

	tests := []struct {
		name string
		in   sample
		msg  string
	}{
		{"missing field uses json name", sample{Amount: 1}, "sessionId is required"},
		{"oneof lists choices", sample{SessionID: "s", Action: "maybe", Amount: 1}, "action must be one of approve, reject"},
		{"gt", sample{SessionID: "s"}, "amount must be greater than 0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Struct(tt.in)
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeBadRequest))

			var de *dErrors.Error
			require.ErrorAs(t, err, &de)
			assert.Equal(t, tt.msg, de.Message)
		})
	}
}
