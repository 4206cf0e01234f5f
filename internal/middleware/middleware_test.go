package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"atum-server/internal/log"
	"atum-server/internal/models"
	"atum-server/internal/services"
	"atum-server/internal/session"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/idtoken"
)

type stubVerifier struct {
	identity session.Identity
	err      error
	tokens   []string
}

func (v *stubVerifier) Verify(token string) (session.Identity, error) {
	v.tokens = append(v.tokens, token)
	return v.identity, v.err
}

type stubProfiles struct {
	err error
}

func (p stubProfiles) GetProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &models.UserProfile{ID: userID}, nil
}

func newEngine(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	handlers = append(handlers, func(c *gin.Context) {
		identity, ok := session.FromContext(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{
			"user":     identity.UserID,
			"signedIn": ok,
			"trace":    c.GetString("trace_id"),
			"ctxUser":  c.Request.Context().Value(log.UserIDKey),
		})
	})
	engine.GET("/", handlers...)
	return engine
}

func serve(engine *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestAuthenticate(t *testing.T) {
	t.Run("bearer token attaches identity", func(t *testing.T) {
		verifier := &stubVerifier{identity: session.Identity{UserID: "alice"}}
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer tok")

		w := serve(newEngine(Authenticate(verifier)), req)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"user":"alice"`)
		assert.Contains(t, w.Body.String(), `"ctxUser":"alice"`)
		assert.Equal(t, []string{"tok"}, verifier.tokens)
	})

	t.Run("cookie is used without header", func(t *testing.T) {
		verifier := &stubVerifier{identity: session.Identity{UserID: "bob"}}
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: SessionCookie, Value: "cookie-tok"})

		w := serve(newEngine(Authenticate(verifier)), req)

		assert.Contains(t, w.Body.String(), `"user":"bob"`)
		assert.Equal(t, []string{"cookie-tok"}, verifier.tokens)
	})

	t.Run("invalid token leaves request anonymous", func(t *testing.T) {
		verifier := &stubVerifier{err: session.ErrInvalidToken}
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer bad")

		w := serve(newEngine(Authenticate(verifier)), req)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"signedIn":false`)
	})

	t.Run("no token skips verification", func(t *testing.T) {
		verifier := &stubVerifier{}
		w := serve(newEngine(Authenticate(verifier)), httptest.NewRequest(http.MethodGet, "/", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, verifier.tokens)
	})
}

func TestRequireUser(t *testing.T) {
	verifier := &stubVerifier{identity: session.Identity{UserID: "alice"}}
	engine := newEngine(Authenticate(verifier), RequireUser())

	w := serve(engine, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), `"redirect":"/login"`)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer tok")
	assert.Equal(t, http.StatusOK, serve(engine, req).Code)
}

func TestRequireProfile(t *testing.T) {
	verifier := &stubVerifier{identity: session.Identity{UserID: "alice"}}
	tests := []struct {
		name     string
		err      error
		status   int
		redirect bool
	}{
		{"profile exists", nil, http.StatusOK, false},
		{"no profile yet", services.ErrProfileNotFound, http.StatusForbidden, true},
		{"lookup fails", errors.New("firestore down"), http.StatusInternalServerError, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := newEngine(Authenticate(verifier), RequireUser(), RequireProfile(stubProfiles{err: tt.err}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Authorization", "Bearer tok")

			w := serve(engine, req)

			assert.Equal(t, tt.status, w.Code)
			if tt.redirect {
				assert.Contains(t, w.Body.String(), `"redirect":"/onboarding"`)
			}
		})
	}
}

func TestRequestLogging_TraceID(t *testing.T) {
	engine := newEngine(RequestLogging())

	tests := []struct {
		name   string
		header string
		value  string
		want   string
	}{
		{"cloud trace header", "X-Cloud-Trace-Context", "105445aa7843bc8bf206b12000100000/1;o=1", "105445aa7843bc8bf206b12000100000"},
		{"explicit trace header", "X-Trace-ID", "trace-42", "trace-42"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set(tt.header, tt.value)
			w := serve(engine, req)
			assert.Equal(t, tt.want, w.Header().Get("X-Trace-ID"))
			assert.Contains(t, w.Body.String(), `"trace":"`+tt.want+`"`)
		})
	}

	t.Run("generated when absent", func(t *testing.T) {
		w := serve(engine, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Len(t, w.Header().Get("X-Trace-ID"), 36)
	})
}

func TestJobSecretAuth(t *testing.T) {
	engine := newEngine(JobSecretAuth("s3cret"))

	tests := []struct {
		name   string
		secret string
		status int
	}{
		{"valid", "s3cret", http.StatusOK},
		{"wrong", "guess", http.StatusUnauthorized},
		{"missing", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.secret != "" {
				req.Header.Set(JobSecretHeader, tt.secret)
			}
			assert.Equal(t, tt.status, serve(engine, req).Code)
		})
	}
}

func TestJobOIDCAuth(t *testing.T) {
	const (
		audience = "https://atum.example.com/jobs/process"
		account  = "tasks@atum.iam.gserviceaccount.com"
	)
	validator := func(claims map[string]interface{}, err error) TokenValidator {
		return func(ctx context.Context, token, aud string) (*idtoken.Payload, error) {
			if err != nil {
				return nil, err
			}
			if aud != audience {
				return nil, errors.New("audience mismatch")
			}
			return &idtoken.Payload{Audience: aud, Claims: claims}, nil
		}
	}

	tests := []struct {
		name     string
		account  string
		validate TokenValidator
		token    string
		status   int
	}{
		{
			name:     "valid service account",
			account:  account,
			validate: validator(map[string]interface{}{"email": account, "email_verified": true}, nil),
			token:    "Bearer tok",
			status:   http.StatusOK,
		},
		{
			name:     "other service account",
			account:  account,
			validate: validator(map[string]interface{}{"email": "intruder@example.com"}, nil),
			token:    "Bearer tok",
			status:   http.StatusUnauthorized,
		},
		{
			name:     "unverified email",
			account:  account,
			validate: validator(map[string]interface{}{"email": account, "email_verified": false}, nil),
			token:    "Bearer tok",
			status:   http.StatusUnauthorized,
		},
		{
			name:     "validation error",
			account:  account,
			validate: validator(nil, errors.New("expired")),
			token:    "Bearer tok",
			status:   http.StatusUnauthorized,
		},
		{
			name:     "missing token",
			account:  account,
			validate: validator(nil, nil),
			status:   http.StatusUnauthorized,
		},
		{
			name:     "disabled without service account",
			validate: validator(nil, errors.New("must not be called")),
			status:   http.StatusOK,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := newEngine(JobOIDCAuth(audience, tt.account, tt.validate))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.token != "" {
				req.Header.Set("Authorization", tt.token)
			}
			assert.Equal(t, tt.status, serve(engine, req).Code)
		})
	}
}

func TestMetrics_RecordsUnmatchedRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.Use(Metrics())
	engine.GET("/known", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	assert.Equal(t, http.StatusNoContent, serve(engine, httptest.NewRequest(http.MethodGet, "/known", nil)).Code)
	assert.Equal(t, http.StatusNotFound, serve(engine, httptest.NewRequest(http.MethodGet, "/missing", nil)).Code)
}
