package errors

import (
	"context"
	"net/http"
	"testing"

	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestFrom(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		code   ErrorCode
		status int
	}{
		{name: "api error", err: NotFound("record not found"), code: ErrCodeNotFound, status: http.StatusNotFound},
		{name: "wrapped api error", err: pkgerrors.Wrap(InvalidArgument("bad limit"), "list"), code: ErrCodeInvalidArgument, status: http.StatusBadRequest},
		{name: "canceled", err: pkgerrors.Wrap(context.Canceled, "search"), code: ErrCodeContextCanceled, status: 499},
		{name: "deadline", err: context.DeadlineExceeded, code: ErrCodeTimeout, status: http.StatusGatewayTimeout},
		{name: "other", err: pkgerrors.New("disk full"), code: ErrCodeInternal, status: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			apiErr := From(tt.err)
			assert.Equal(t, tt.code, apiErr.Code)
			assert.Equal(t, tt.status, apiErr.HTTPStatus())
			assert.True(t, IsCode(tt.err, tt.code) || apiErr.Cause != nil)
		})
	}
}

func TestAPIErrorMessage(t *testing.T) {
	err := Internal("failed to load", pkgerrors.New("boom"))
	assert.Equal(t, "[INTERNAL] failed to load: boom", err.Error())
	assert.Equal(t, "[NOT_FOUND] gone", NotFound("gone").Error())
	assert.ErrorContains(t, Wrap(context.Canceled, ErrCodeTimeout, "slow"), "slow")
}
