package httpmiddleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestAllowExhaustsBucket(t *testing.T) {
	l := NewTokenBucket(3, 60)

	for i := 0; i < 3; i++ {
		if !l.allow("10.0.0.1") {
			t.Fatalf("request %d rejected within capacity", i+1)
		}
	}
	if l.allow("10.0.0.1") {
		t.Error("request over capacity allowed")
	}

	// Other clients have their own bucket.
	if !l.allow("10.0.0.2") {
		t.Error("fresh client rejected")
	}
}

func TestAllowCapacityDefaultsToRate(t *testing.T) {
	l := NewTokenBucket(0, 2)
	if !l.allow("a") || !l.allow("a") {
		t.Fatal("requests within rate rejected")
	}
	if l.allow("a") {
		t.Error("third request allowed with rate 2")
	}
}

func TestGinMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(NewTokenBucket(2, 60).GinMiddleware())
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	for i, want := range []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		r.ServeHTTP(w, req)
		if w.Code != want {
			t.Errorf("request %d: status = %d, want %d", i+1, w.Code, want)
		}
	}
}
