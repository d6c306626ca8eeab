package status

import (
	"encoding/json"
	"net/http"

	"github.com/go-foreman/conductor/log"
	"github.com/pkg/errors"
)

type responseWriter struct {
	body   interface{}
	status int
}

func NewResponseWriterFromError(err error) *responseWriter {
	var respErr ResponseError
	if errors.As(err, &respErr) {
		return &responseWriter{
			body:   respErr,
			status: respErr.Status(),
		}
	}

	return &responseWriter{
		body:   err,
		status: http.StatusInternalServerError,
	}
}

func NewResponseWriter(body interface{}, status int) *responseWriter {
	return &responseWriter{
		body:   body,
		status: status,
	}
}

func NewResponseWriterFromErrMsg(errMsg string, status int) *responseWriter {
	return NewResponseWriterFromError(NewResponseError(status, errors.New(errMsg)))
}

func (rw *responseWriter) encode() ([]byte, error) {
	if rw.body == nil {
		return nil, nil
	}

	if respErr, ok := rw.body.(error); ok {
		return json.Marshal(errorBody{Error: respErr.Error()})
	}

	return json.Marshal(rw.body)
}

func (rw *responseWriter) write(resp http.ResponseWriter, logger log.Logger) {
	respBody, err := rw.encode()
	if err != nil {
		logger.Log(log.ErrorLevel, err)
		resp.WriteHeader(http.StatusInternalServerError)
		return
	}

	if rw.status >= http.StatusInternalServerError {
		logger.Logf(log.ErrorLevel, "responding with %d. %s", rw.status, rw.body)
	}

	if respBody == nil {
		resp.WriteHeader(rw.status)
		return
	}

	resp.Header().Set("Content-Type", "application/json")

	resp.WriteHeader(rw.status)

	if _, err = resp.Write(respBody); err != nil {
		logger.Log(log.ErrorLevel, err)
	}
}

type errorBody struct {
	Error string `json:"error"`
}

type ResponseError struct {
	error
	status int
}

// Status returns http status code
func (e ResponseError) Status() int {
	return e.status
}

func NewResponseError(status int, err error) ResponseError {
	return ResponseError{status: status, error: err}
}
