package apperrors

import (
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapKeepsBothChains(t *testing.T) {
	err := Wrap(ErrFileNotFound, os.ErrNotExist, "opening data.csv")
	assert.True(t, errors.Is(err, ErrFileNotFound))
	assert.True(t, errors.Is(err, os.ErrNotExist))
	assert.Contains(t, err.Error(), "opening data.csv")
}

func TestFromResponse(t *testing.T) {
	err := FromResponse(ErrIndexCreation, "creating index places", 400, `{"error":"exists"}`)
	require.ErrorIs(t, err, ErrIndexCreation)
	assert.Equal(t, 400, err.StatusCode)
	assert.Equal(t, `index creation failed: creating index places [400] {"error":"exists"}`, err.Error())

	var appErr *Error
	wrapped := fmt.Errorf("run: %w", err)
	require.True(t, errors.As(wrapped, &appErr))
	assert.Equal(t, `{"error":"exists"}`, appErr.Body)
}

func TestFatal(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"insert", FromResponse(ErrDocumentInsert, "row 1", 500, ""), false},
		{"parse", Newf(ErrParse, "line %d", 3), true},
		{"transport", Wrap(ErrTransport, errors.New("refused"), "PUT"), true},
		{"index", New(ErrIndexCreation, "x"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Fatal(tt.err))
		})
	}
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 1, ExitCode(New(ErrParse, "bad quote")))
	assert.Equal(t, 1, ExitCode(FromResponse(ErrDocumentInsert, "indexing", 500, "boom")))
}
