package api

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"resumatch/internal/auth"
	"resumatch/internal/database"
)

func newTestAuthService(t *testing.T) *auth.AuthService {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	privatePEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	publicDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	publicPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: publicDER,
	})

	service, err := auth.NewAuthService(privatePEM, publicPEM, 15*time.Minute)
	if err != nil {
		t.Fatalf("NewAuthService: %v", err)
	}
	return service
}

// unreachableRedis returns a client whose commands fail fast. The login rate
// limiter treats counter errors as "no limit", so handlers stay testable
// without a live redis.
func unreachableRedis() redis.UniversalClient {
	return redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 10 * time.Millisecond,
		MaxRetries:  -1,
	})
}

func TestRegister_CreatesUser(t *testing.T) {
	db := newTestDB(t)
	h := NewAuthHandler(db, newTestAuthService(t), unreachableRedis(), discardLogger(), 10)

	c, rec := authedContext(t, http.MethodPost, "/v1/auth/register", gin.H{
		"username": "alice",
		"password": "hunter2hunter2",
	}, 0, false)
	h.Register(c)
	c.Writer.WriteHeaderNow()

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}

	var user database.User
	if err := db.Where("username = ?", "alice").First(&user).Error; err != nil {
		t.Fatalf("load user: %v", err)
	}
	if user.PasswordHash == "hunter2hunter2" {
		t.Error("password stored in the clear")
	}
	if user.IsStaff {
		t.Error("self-registered account must not be staff")
	}
}

func TestRegister_DuplicateUsernameConflicts(t *testing.T) {
	db := newTestDB(t)
	h := NewAuthHandler(db, newTestAuthService(t), unreachableRedis(), discardLogger(), 10)

	for i, want := range []int{http.StatusCreated, http.StatusConflict} {
		c, rec := authedContext(t, http.MethodPost, "/v1/auth/register", gin.H{
			"username": "alice",
			"password": "hunter2hunter2",
		}, 0, false)
		h.Register(c)
		c.Writer.WriteHeaderNow()
		if rec.Code != want {
			t.Fatalf("attempt %d: status = %d, want %d: %s", i+1, rec.Code, want, rec.Body.String())
		}
	}
}

func TestRegister_WeakPasswordRejected(t *testing.T) {
	db := newTestDB(t)
	h := NewAuthHandler(db, newTestAuthService(t), unreachableRedis(), discardLogger(), 10)

	c, rec := authedContext(t, http.MethodPost, "/v1/auth/register", gin.H{
		"username": "alice",
		"password": "short",
	}, 0, false)
	h.Register(c)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", rec.Code, rec.Body.String())
	}
}

func TestLogin_ValidCredentialsReturnToken(t *testing.T) {
	db := newTestDB(t)
	authService := newTestAuthService(t)
	h := NewAuthHandler(db, authService, unreachableRedis(), discardLogger(), 10)

	hash, err := auth.HashPassword("hunter2hunter2")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	user := database.User{Username: "alice", PasswordHash: hash, IsStaff: true}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}

	c, rec := authedContext(t, http.MethodPost, "/v1/auth/login", gin.H{
		"username": "alice",
		"password": "hunter2hunter2",
	}, 0, false)
	h.Login(c)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var resp tokenResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.TokenType != "Bearer" {
		t.Errorf("token_type = %q, want Bearer", resp.TokenType)
	}
	if resp.ExpiresIn != int((15 * time.Minute).Seconds()) {
		t.Errorf("expires_in = %d", resp.ExpiresIn)
	}

	claims, err := authService.ValidateToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("validate issued token: %v", err)
	}
	if claims.UserID != user.ID || !claims.IsStaff {
		t.Errorf("claims = %+v", claims)
	}
}

func TestMe_ReturnsProfile(t *testing.T) {
	db := newTestDB(t)
	h := NewAuthHandler(db, newTestAuthService(t), unreachableRedis(), discardLogger(), 10)

	user := database.User{Username: "alice", PasswordHash: "x", IsStaff: true}
	if err := db.Create(&user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}

	c, rec := authedContext(t, http.MethodGet, "/v1/auth/me", nil, user.ID, false)
	h.Me(c)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		ID       uint   `json:"id"`
		Username string `json:"username"`
		IsStaff  bool   `json:"is_staff"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.ID != user.ID || resp.Username != "alice" || !resp.IsStaff {
		t.Errorf("profile = %+v", resp)
	}
}

func TestMe_DeletedAccountIsUnauthorized(t *testing.T) {
	db := newTestDB(t)
	h := NewAuthHandler(db, newTestAuthService(t), unreachableRedis(), discardLogger(), 10)

	c, rec := authedContext(t, http.MethodGet, "/v1/auth/me", nil, 12345, false)
	h.Me(c)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401: %s", rec.Code, rec.Body.String())
	}
}

func TestLogin_BadCredentialsRejected(t *testing.T) {
	db := newTestDB(t)
	h := NewAuthHandler(db, newTestAuthService(t), unreachableRedis(), discardLogger(), 10)

	hash, err := auth.HashPassword("hunter2hunter2")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	if err := db.Create(&database.User{Username: "alice", PasswordHash: hash}).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}

	cases := map[string]gin.H{
		"wrong password": {"username": "alice", "password": "wrong password"},
		"unknown user":   {"username": "bob", "password": "hunter2hunter2"},
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			c, rec := authedContext(t, http.MethodPost, "/v1/auth/login", body, 0, false)
			h.Login(c)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401: %s", rec.Code, rec.Body.String())
			}
		})
	}
}
