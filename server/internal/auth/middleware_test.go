package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func init() { gin.SetMode(gin.TestMode) }

// call runs one GET through a router guarded by mw and returns the status code.
func call(t *testing.T, mw gin.HandlerFunc, header, key string) int {
	t.Helper()
	r := gin.New()
	r.Use(mw)
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	if key != "" {
		req.Header.Set(header, key)
	}
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr.Code
}

func TestAPIKey_ModeNone_PassesThrough(t *testing.T) {
	// No key on the request; should still pass because mode != "apikey".
	if code := call(t, APIKey("none", "x-api-key", "secret"), "x-api-key", ""); code != http.StatusOK {
		t.Errorf("status: got %d, want 200", code)
	}
}

func TestAPIKey_EmptyKey_PassesThrough(t *testing.T) {
	// key="" means auth is not configured → allow all.
	if code := call(t, APIKey("apikey", "x-api-key", ""), "x-api-key", ""); code != http.StatusOK {
		t.Errorf("status: got %d, want 200", code)
	}
}

func TestAPIKey_CorrectKey_Passes(t *testing.T) {
	if code := call(t, APIKey("apikey", "x-api-key", "supersecret"), "x-api-key", "supersecret"); code != http.StatusOK {
		t.Errorf("status: got %d, want 200", code)
	}
}

func TestAPIKey_WrongKey_Unauthorized(t *testing.T) {
	if code := call(t, APIKey("apikey", "x-api-key", "supersecret"), "x-api-key", "wrong"); code != http.StatusUnauthorized {
		t.Errorf("status: got %d, want 401", code)
	}
}

func TestAPIKey_MissingHeader_Unauthorized(t *testing.T) {
	if code := call(t, APIKey("apikey", "x-api-key", "supersecret"), "x-api-key", ""); code != http.StatusUnauthorized {
		t.Errorf("status: got %d, want 401", code)
	}
}

func TestAPIKey_CustomHeader(t *testing.T) {
	mw := APIKey("apikey", "x-device-token", "tok")
	if code := call(t, mw, "x-device-token", "tok"); code != http.StatusOK {
		t.Errorf("custom header: got %d, want 200", code)
	}
	// Key sent under the default header name is not accepted.
	if code := call(t, mw, "x-api-key", "tok"); code != http.StatusUnauthorized {
		t.Errorf("default header: got %d, want 401", code)
	}
}
