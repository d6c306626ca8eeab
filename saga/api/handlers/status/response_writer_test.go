package status

import (
	"net/http/httptest"
	"testing"

	"github.com/go-foreman/conductor/testing/log"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestResponseWriter(t *testing.T) {
	logger := log.NewNilLogger()

	t.Run("write error message", func(t *testing.T) {
		rw := NewResponseWriterFromErrMsg("lol kek", 403)
		writer := httptest.NewRecorder()

		rw.write(writer, logger)

		assert.Equal(t, `{"error":"lol kek"}`, writer.Body.String())
		assert.Equal(t, 403, writer.Code)
		assert.Equal(t, "application/json", writer.Header().Get("Content-Type"))
	})

	t.Run("write plain error", func(t *testing.T) {
		defer logger.Clear()

		rw := NewResponseWriterFromError(errors.New("foo bar"))
		writer := httptest.NewRecorder()

		rw.write(writer, logger)

		assert.Equal(t, `{"error":"foo bar"}`, writer.Body.String())
		assert.Equal(t, 500, writer.Code)
		assert.Equal(t, "responding with 500. foo bar", logger.LastMessage())
	})

	t.Run("write wrapped response error", func(t *testing.T) {
		rw := NewResponseWriterFromError(errors.Wrap(NewResponseError(401, errors.New("no access")), "checking access"))
		writer := httptest.NewRecorder()

		rw.write(writer, logger)

		assert.Equal(t, `{"error":"no access"}`, writer.Body.String())
		assert.Equal(t, 401, writer.Code)
	})

	t.Run("write object", func(t *testing.T) {
		rw := NewResponseWriter(map[string]string{
			"created": "OK",
		}, 201)
		writer := httptest.NewRecorder()

		rw.write(writer, logger)

		assert.Equal(t, `{"created":"OK"}`, writer.Body.String())
		assert.Equal(t, 201, writer.Code)
	})

	t.Run("write no content", func(t *testing.T) {
		rw := NewResponseWriter(nil, 204)
		writer := httptest.NewRecorder()

		rw.write(writer, logger)

		assert.Empty(t, writer.Body.String())
		assert.Equal(t, 204, writer.Code)
		assert.Empty(t, writer.Header().Get("Content-Type"))
	})

	t.Run("write non-writable", func(t *testing.T) {
		rw := NewResponseWriter(func() {}, 201)
		writer := httptest.NewRecorder()

		rw.write(writer, logger)

		assert.Equal(t, ``, writer.Body.String())
		assert.Equal(t, 500, writer.Code)
	})
}
