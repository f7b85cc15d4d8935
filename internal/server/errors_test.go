package server

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/npezzotti/go-voicechat/internal/types"
	"github.com/stretchr/testify/assert"
)

func Test_toClientError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want types.Error
	}{
		{
			name: "validation error",
			err:  newValidationError("connectServer", "serverId failed on the 'required' rule"),
			want: types.Error{
				Name:       "ValidationError",
				Message:    "serverId failed on the 'required' rule",
				Part:       "CONNECTSERVER",
				Tag:        TagInvalidPayload,
				StatusCode: http.StatusBadRequest,
			},
		},
		{
			name: "wrapped not found",
			err:  fmt.Errorf("replay: %w", newNotFoundError("server")),
			want: types.Error{
				Name:       "ValidationError",
				Message:    "server not found",
				Part:       "SERVER",
				Tag:        TagNotFound,
				StatusCode: http.StatusNotFound,
			},
		},
		{
			name: "server error",
			err:  NewServerError("DB", sql.ErrConnDone),
			want: types.Error{
				Name:       "ServerError",
				Message:    serverErrorMessage,
				Part:       "DB",
				Tag:        TagException,
				StatusCode: http.StatusInternalServerError,
			},
		},
		{
			name: "anything else hides the cause",
			err:  errors.New("pq: password authentication failed"),
			want: types.Error{
				Name:       "ServerError",
				Message:    serverErrorMessage,
				Part:       "CONNECTSERVER",
				Tag:        TagException,
				StatusCode: http.StatusInternalServerError,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, toClientError("CONNECTSERVER", tt.err))
		})
	}
}

func TestServerError(t *testing.T) {
	err := NewServerError("DB", sql.ErrConnDone)

	assert.ErrorIs(t, err, sql.ErrConnDone)
	assert.Equal(t, "DB [EXCEPTION_ERROR]: sql: connection is already closed", err.Error())
	assert.Equal(t, "DB [EXCEPTION_ERROR]", (&ServerError{Part: "DB", Tag: TagException}).Error())
}

func Test_isNotFound(t *testing.T) {
	assert.True(t, isNotFound(newNotFoundError("channel")))
	assert.True(t, isNotFound(fmt.Errorf("wrapped: %w", newNotFoundError("channel"))))
	assert.False(t, isNotFound(newValidationError("x", "y")))
	assert.False(t, isNotFound(sql.ErrNoRows))
	assert.False(t, isNotFound(nil))
}
