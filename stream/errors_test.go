package stream_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gkatanacio/rangestream/stream"
)

func Test_RenderError(t *testing.T) {
	page := stream.RenderError(http.StatusNotFound, "")
	assert.Contains(t, page, "<title>Not Found</title>")
	assert.Contains(t, page, "<h4>404 : Not Found!.</h4>")

	page = stream.RenderError(http.StatusRequestedRangeNotSatisfiable, "")
	assert.Contains(t, page, "<title>Requested range not satisfiable</title>")

	page = stream.RenderError(http.StatusForbidden, "Go away")
	assert.Contains(t, page, "<title>Forbidden</title>")
	assert.Contains(t, page, "<h4>403 : Go away!.</h4>")
}

func Test_WriteError(t *testing.T) {
	testCases := map[string]struct {
		err    error
		status int
	}{
		"not found":             {err: stream.NewHTTPError(stream.ErrNotFound, "a.txt"), status: http.StatusNotFound},
		"forbidden":             {err: stream.NewHTTPError(stream.ErrForbidden, "a.txt"), status: http.StatusForbidden},
		"bad request":           {err: stream.NewHTTPError(stream.ErrBadRequest, ""), status: http.StatusBadRequest},
		"range not satisfiable": {err: stream.NewHTTPError(stream.ErrRangeNotSatisfiable, ""), status: http.StatusRequestedRangeNotSatisfiable},
		"unauthorized":          {err: stream.NewHTTPError(stream.ErrUnauthorized, ""), status: http.StatusUnauthorized},
		"plain error":           {err: errors.New("boom"), status: http.StatusInternalServerError},
	}

	for scenario, tc := range testCases {
		t.Run(scenario, func(t *testing.T) {
			rec := httptest.NewRecorder()
			rec.Header().Set("Content-Length", "1000")

			stream.WriteError(rec, tc.err)
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
			assert.Empty(t, rec.Header().Get("Content-Length"))
			assert.Contains(t, rec.Body.String(), "<html>")
		})
	}
}

func Test_WriteError_Message(t *testing.T) {
	testCases := map[string]struct {
		err  error
		want string
	}{
		"http error message": {
			err:  stream.NewHTTPError(stream.ErrRangeNotSatisfiable, "invalid range start"),
			want: "<h4>416 : range not satisfiable: invalid range start!.</h4>",
		},
		"escaped message": {
			err:  stream.NewHTTPError(stream.ErrNotFound, "<script>.txt"),
			want: "<h4>404 : file not found: &lt;script&gt;.txt!.</h4>",
		},
		"empty message uses title": {
			err:  stream.NewHTTPError(stream.ErrUnauthorized, ""),
			want: "<h4>401 : Unauthorized!.</h4>",
		},
		"plain error uses title": {
			err:  errors.New("open /srv/secret: permission denied"),
			want: "<h4>500 : Internal Server Error!.</h4>",
		},
	}

	for scenario, tc := range testCases {
		t.Run(scenario, func(t *testing.T) {
			rec := httptest.NewRecorder()
			stream.WriteError(rec, tc.err)
			assert.Contains(t, rec.Body.String(), tc.want)
		})
	}
}

func Test_HTTPError_Is(t *testing.T) {
	err := stream.NewHTTPError(stream.ErrNotFound, "docs/a.pdf")
	assert.ErrorIs(t, err, stream.ErrNotFound)
	assert.Equal(t, stream.CodeNotFound, err.Code)
	assert.Equal(t, "file not found: docs/a.pdf", err.Error())
}
