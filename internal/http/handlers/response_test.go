package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/tbourn/match-results-backend/internal/query"
)

func Test_fail_500_LogsAndBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	// capture logs from LoggerFrom(c)
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	// simulate RequestID + request-scoped logger
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("X-Request-ID", "rid-500")
		c.Set("logger", &logger)
		c.Next()
	})

	r.GET("/boom", func(c *gin.Context) {
		fail(c, http.StatusInternalServerError, "internal_error", "kaboom")
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", w.Code)
	}

	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if resp.RequestID != "rid-500" || resp.Code != "internal_error" || resp.Message != "kaboom" {
		t.Fatalf("unexpected body: %+v", resp)
	}

	// ensure something was logged at error level
	if !strings.Contains(buf.String(), `"level":"error"`) {
		t.Fatalf("expected error log, got: %s", buf.String())
	}
}

func Test_Fail_404_And_SuccessHelpers(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	// set request id for envelope
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("X-Request-ID", "rid-404")
		c.Next()
	})

	// exported Fail (4xx path)
	r.GET("/missing", func(c *gin.Context) {
		Fail(c, http.StatusNotFound, "not_found", "nope")
	})

	// ok helper
	r.GET("/ok", func(c *gin.Context) {
		ok(c, http.StatusCreated, gin.H{"ok": true, "n": 1})
	})

	// 404
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/missing", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status=%d", w.Code)
	}
	var er ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
		t.Fatalf("json 404: %v", err)
	}
	if er.RequestID != "rid-404" || er.Code != "not_found" || er.Message != "nope" {
		t.Fatalf("unexpected 404 body: %+v", er)
	}

	// ok (201)
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/ok", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("status=%d", w.Code)
	}
	var okBody map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &okBody); err != nil {
		t.Fatalf("json 201: %v", err)
	}
	if okBody["ok"] != true || int(okBody["n"].(float64)) != 1 {
		t.Fatalf("unexpected ok body: %#v", okBody)
	}
}

func Test_failErr_LogsCauseButHidesIt(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("X-Request-ID", "rid-err")
		c.Set("logger", &logger)
		c.Next()
	})
	r.GET("/err", func(c *gin.Context) {
		failErr(c, errors.New("dial tcp 10.0.0.7:6379: refused"), ErrCodeQueryFailed)
	})
	r.GET("/invalid", func(c *gin.Context) {
		failErr(c, fmt.Errorf("wrapped: %w", query.NewValidationError("page", "min", "must be at least 1")), ErrCodeQueryFailed)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/err", nil))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", w.Code)
	}
	var er ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
		t.Fatalf("json: %v", err)
	}
	if er.RequestID != "rid-err" || er.Code != ErrCodeQueryFailed || er.Message != msgInternal {
		t.Fatalf("unexpected body: %+v", er)
	}
	if strings.Contains(w.Body.String(), "10.0.0.7") {
		t.Fatalf("cause leaked to client: %s", w.Body.String())
	}
	if !strings.Contains(buf.String(), "10.0.0.7") || !strings.Contains(buf.String(), `"level":"error"`) {
		t.Fatalf("cause not logged: %s", buf.String())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/invalid", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", w.Code)
	}
	er = ErrorResponse{}
	_ = json.Unmarshal(w.Body.Bytes(), &er)
	if len(er.Details) != 1 || er.Details[0].Field != "page" {
		t.Fatalf("details = %+v", er.Details)
	}
}
