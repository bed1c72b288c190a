package httputil

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/riftwatch/easm/internal/platform/apierr"
	"github.com/riftwatch/easm/pkg/logger"
)

type echoReq struct {
	Name string `json:"name"`
}

type echoResp struct {
	Greeting string `json:"greeting"`
}

func testLogger() *logger.Logger {
	return logger.New(logger.LoggingConfig{Level: "error", Format: "text", Output: "stdout"})
}

func TestHandleJSON_Success(t *testing.T) {
	h := HandleJSON[echoReq, echoResp](testLogger(), func(_ context.Context, req *echoReq) (echoResp, error) {
		return echoResp{Greeting: "hello " + req.Name}, nil
	})

	body := strings.NewReader(`{"name":"world"}`)
	r := httptest.NewRequest(http.MethodPost, "/", body)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp echoResp
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Greeting != "hello world" {
		t.Errorf("greeting = %q, want %q", resp.Greeting, "hello world")
	}
}

func TestHandleJSON_BadBody(t *testing.T) {
	h := HandleJSON[echoReq, echoResp](testLogger(), func(_ context.Context, req *echoReq) (echoResp, error) {
		t.Fatal("handler should not be called")
		return echoResp{}, nil
	})

	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{invalid`))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestHandleJSON_HandlerError(t *testing.T) {
	h := HandleJSON[echoReq, echoResp](testLogger(), func(_ context.Context, req *echoReq) (echoResp, error) {
		return echoResp{}, fmt.Errorf("boom")
	})

	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"x"}`))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}

func TestHandleJSON_NotFoundError(t *testing.T) {
	h := HandleJSON[echoReq, echoResp](testLogger(), func(_ context.Context, req *echoReq) (echoResp, error) {
		return echoResp{}, apierr.NotFound("thing", "gone")
	})

	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"x"}`))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestHandleJSON_ConflictError(t *testing.T) {
	h := HandleJSON[echoReq, echoResp](testLogger(), func(_ context.Context, req *echoReq) (echoResp, error) {
		return echoResp{}, apierr.Conflict("dup")
	})

	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"x"}`))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusConflict)
	}
}

func TestHandleNoBody_Success(t *testing.T) {
	h := HandleNoBody[echoResp](testLogger(), func(_ context.Context) (echoResp, error) {
		return echoResp{Greeting: "hi"}, nil
	})

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp echoResp
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Greeting != "hi" {
		t.Errorf("greeting = %q, want %q", resp.Greeting, "hi")
	}
}

func TestHandleNoBody_ServiceUnavailable(t *testing.T) {
	h := HandleNoBody[echoResp](testLogger(), func(_ context.Context) (echoResp, error) {
		return echoResp{}, apierr.TransientBackend(fmt.Errorf("down"))
	})

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestHandleJSON_NilLogger(t *testing.T) {
	h := HandleJSON[echoReq, echoResp](nil, func(_ context.Context, req *echoReq) (echoResp, error) {
		return echoResp{}, fmt.Errorf("boom")
	})

	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"x"}`))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}
