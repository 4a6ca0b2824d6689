package httputil

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "proofgate/pkg/domain-errors"
)

func TestWriteJSON(t *testing.T) {
	rr := httptest.NewRecorder()
	WriteJSON(rr, http.StatusCreated, map[string]string{"hello": "world"})

	assert.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"hello":"world"}`, rr.Body.String())
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name            string
		err             error
		wantStatus      int
		wantCode        string
		wantDescription string
	}{
		{
			name:            "domain error carries code and message",
			err:             dErrors.New(dErrors.CodeSessionExpired, "session has expired"),
			wantStatus:      http.StatusGone,
			wantCode:        "session_expired",
			wantDescription: "session has expired",
		},
		{
			name:            "conflict maps to 409",
			err:             dErrors.New(dErrors.CodeSessionAlreadyActive, "an active session exists for this channel"),
			wantStatus:      http.StatusConflict,
			wantCode:        "session_already_active",
			wantDescription: "an active session exists for this channel",
		},
		{
			name:       "internal error hides the message",
			err:        dErrors.Wrap(errors.New("pq: connection refused"), dErrors.CodeInternal, "query failed"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "internal_error",
		},
		{
			name:       "unknown error defaults to internal",
			err:        errors.New("plain error"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "internal_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			WriteError(rr, tt.err)

			assert.Equal(t, tt.wantStatus, rr.Code)
			assert.Contains(t, rr.Body.String(), `"error":"`+tt.wantCode+`"`)
			if tt.wantDescription != "" {
				assert.Contains(t, rr.Body.String(), tt.wantDescription)
			} else {
				assert.NotContains(t, rr.Body.String(), "error_description")
			}
		})
	}
}

func TestDecode(t *testing.T) {
	type payload struct {
		Channel string `json:"channel"`
	}

	t.Run("valid body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"channel":"phone"}`))
		got, err := Decode[payload](req)
		require.NoError(t, err)
		assert.Equal(t, "phone", got.Channel)
	})

	t.Run("malformed body yields bad_request", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"channel":`))
		_, err := Decode[payload](req)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeBadRequest))
	})
}
