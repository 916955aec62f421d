package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/productx/backoffice/internal/pkg"
)

const testCSRFSecret = "test-secret-key-for-csrf"

func setupCSRFRouter() *gin.Engine {
	r := gin.New()
	r.Use(CSRF(testCSRFSecret))
	r.GET("/r/countries", func(c *gin.Context) {
		c.String(http.StatusOK, GetCSRFToken(c))
	})
	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete} {
		r.Handle(method, "/r/countries/1", func(c *gin.Context) {
			c.String(http.StatusOK, "ok")
		})
	}
	return r
}

// issueToken performs a GET and returns the token from the body and the cookie.
func issueToken(t *testing.T, r *gin.Engine) (token string, cookie string) {
	t.Helper()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/r/countries", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("GET: expected 200, got %d", w.Code)
	}
	for _, c := range w.Result().Cookies() {
		if c.Name == csrfCookieName {
			return w.Body.String(), c.Value
		}
	}
	t.Fatal("expected _csrf_token cookie to be set")
	return "", ""
}

func TestCSRF_GET_IssuesToken(t *testing.T) {
	r := setupCSRFRouter()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/r/countries", nil))

	var cookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == csrfCookieName {
			cookie = c
		}
	}
	if cookie == nil {
		t.Fatal("_csrf_token cookie not found")
	}
	if cookie.Value != w.Body.String() {
		t.Errorf("cookie value %q != context token %q", cookie.Value, w.Body.String())
	}
	if !validToken(cookie.Value, testCSRFSecret) {
		t.Error("generated token has invalid HMAC signature")
	}
	if cookie.HttpOnly || cookie.Path != "/" || cookie.SameSite != http.SameSiteStrictMode {
		t.Errorf("cookie attributes = HttpOnly:%v Path:%q SameSite:%v", cookie.HttpOnly, cookie.Path, cookie.SameSite)
	}
}

func TestCSRF_GET_ReusesValidCookie(t *testing.T) {
	r := setupCSRFRouter()
	_, cookie := issueToken(t, r)

	req := httptest.NewRequest(http.MethodGet, "/r/countries", nil)
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: cookie})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Body.String() != cookie {
		t.Errorf("expected same token %q, got %q", cookie, w.Body.String())
	}
	if len(w.Result().Cookies()) != 0 {
		t.Error("expected no new cookie when the existing one is valid")
	}
}

func TestCSRF_GET_InvalidCookieRegenerates(t *testing.T) {
	r := setupCSRFRouter()
	req := httptest.NewRequest(http.MethodGet, "/r/countries", nil)
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "garbage"})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	cookies := w.Result().Cookies()
	if len(cookies) != 1 || !validToken(cookies[0].Value, testCSRFSecret) {
		t.Errorf("expected one regenerated valid cookie, got %v", cookies)
	}
}

func TestCSRF_UnsafeMethods(t *testing.T) {
	r := setupCSRFRouter()
	_, cookie := issueToken(t, r)

	valid := mustGenerateToken(testCSRFSecret)
	nonce, _, _ := strings.Cut(valid, ".")
	tampered := nonce + "." + signNonce(nonce, "wrong-secret")

	tests := []struct {
		name       string
		method     string
		cookie     string
		header     string
		form       string
		wantStatus int
	}{
		{"post header", http.MethodPost, cookie, cookie, "", http.StatusOK},
		{"post form field", http.MethodPost, cookie, "", cookie, http.StatusOK},
		{"put header", http.MethodPut, cookie, cookie, "", http.StatusOK},
		{"patch header", http.MethodPatch, cookie, cookie, "", http.StatusOK},
		{"delete header", http.MethodDelete, cookie, cookie, "", http.StatusOK},
		{"missing cookie", http.MethodPost, "", "", "some-token", http.StatusForbidden},
		{"missing token", http.MethodPost, cookie, "", "", http.StatusForbidden},
		{"invalid token", http.MethodPost, cookie, "", "invalid-token", http.StatusForbidden},
		{"different valid token", http.MethodPost, cookie, valid, "", http.StatusForbidden},
		{"forged equal tokens", http.MethodPost, "forged", "forged", "", http.StatusForbidden},
		{"tampered signature", http.MethodPost, tampered, tampered, "", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req *http.Request
			if tt.form != "" {
				form := url.Values{csrfFormField: {tt.form}}
				req = httptest.NewRequest(tt.method, "/r/countries/1", strings.NewReader(form.Encode()))
				req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			} else {
				req = httptest.NewRequest(tt.method, "/r/countries/1", nil)
			}
			if tt.header != "" {
				req.Header.Set(csrfHeaderName, tt.header)
			}
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: tt.cookie})
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d; body: %s", tt.wantStatus, w.Code, w.Body.String())
			}
		})
	}
}

func TestCSRF_RejectJSONEnvelope(t *testing.T) {
	r := setupCSRFRouter()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/r/countries/1", nil))

	var resp pkg.Response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if resp.Code != http.StatusForbidden || resp.Message != "CSRF token missing" {
		t.Errorf("response = %+v", resp)
	}
}

func TestCSRF_RejectHTMXToast(t *testing.T) {
	r := setupCSRFRouter()
	req := httptest.NewRequest(http.MethodPost, "/r/countries/1", nil)
	req.Header.Set("HX-Request", "true")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	if !strings.Contains(w.Header().Get("HX-Trigger"), "showToast") || w.Header().Get("HX-Reswap") != "none" {
		t.Errorf("headers = %v; want toast without swap", w.Header())
	}
}

func TestCSRF_EmptySecret(t *testing.T) {
	r := gin.New()
	r.Use(CSRF("  "))
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", w.Code)
	}
}

func TestGetCSRFToken(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	if got := GetCSRFToken(c); got != "" {
		t.Errorf("expected empty string, got %q", got)
	}
	c.Set(csrfContextKey, "my-token")
	if got := GetCSRFToken(c); got != "my-token" {
		t.Errorf("expected my-token, got %q", got)
	}
}

func TestValidToken(t *testing.T) {
	tests := []struct {
		name   string
		token  string
		secret string
		want   bool
	}{
		{"valid token", mustGenerateToken(testCSRFSecret), testCSRFSecret, true},
		{"wrong secret", mustGenerateToken(testCSRFSecret), "wrong-secret", false},
		{"empty token", "", testCSRFSecret, false},
		{"no dot separator", "abcdef1234", testCSRFSecret, false},
		{"empty nonce", "." + signNonce("", testCSRFSecret), testCSRFSecret, false},
		{"empty signature", "abcdef.", testCSRFSecret, false},
		{"tampered nonce", "tampered." + signNonce("original", testCSRFSecret), testCSRFSecret, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := validToken(tt.token, tt.secret); got != tt.want {
				t.Errorf("validToken() = %v, want %v", got, tt.want)
			}
		})
	}
}

// API groups are registered without CSRF and accept unsafe methods as is.
func TestCSRF_APIGroupExempt(t *testing.T) {
	r := gin.New()
	pages := r.Group("/")
	pages.Use(CSRF(testCSRFSecret))
	pages.POST("/r/countries", func(c *gin.Context) { c.String(http.StatusOK, "page ok") })

	api := r.Group("/api/v1")
	api.POST("/resources", func(c *gin.Context) { c.String(http.StatusOK, "api ok") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/resources", nil))
	if w.Code != http.StatusOK {
		t.Errorf("api: expected 200, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/r/countries", nil))
	if w.Code != http.StatusForbidden {
		t.Errorf("page: expected 403, got %d", w.Code)
	}
}

func mustGenerateToken(secret string) string {
	token, err := generateToken(secret)
	if err != nil {
		panic(err)
	}
	return token
}
