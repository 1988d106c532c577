package api

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"io"
	"log/slog"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"jobhive/internal/auth"
	"jobhive/internal/database"
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
	publicPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: publicDER})

	service, err := auth.NewAuthService(privatePEM, publicPEM, time.Minute, time.Hour)
	if err != nil {
		t.Fatalf("new auth service: %v", err)
	}
	return service
}

func newWsTestServer(t *testing.T, authService *auth.AuthService) string {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := NewWsHandler(unreachableRedis(), authService, logger, nil)
	router := gin.New()
	router.GET("/ws", handler.HandleConnection)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
}

func dialWs(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWsRejectsInvalidToken(t *testing.T) {
	authService := newTestAuthService(t)
	wsURL := newWsTestServer(t, authService)

	conn := dialWs(t, wsURL)
	if err := conn.WriteJSON(gin.H{"type": "auth", "token": "not-a-jwt"}); err != nil {
		t.Fatalf("write auth frame: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("expected policy violation close, got %v", err)
	}
}

func TestWsRejectsRefreshToken(t *testing.T) {
	authService := newTestAuthService(t)
	wsURL := newWsTestServer(t, authService)

	pair, err := authService.GenerateTokenPair(7, database.RoleJobSeeker, false)
	if err != nil {
		t.Fatalf("generate token pair: %v", err)
	}

	conn := dialWs(t, wsURL)
	if err := conn.WriteJSON(gin.H{"type": "auth", "token": pair.RefreshToken}); err != nil {
		t.Fatalf("write auth frame: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("expected policy violation close, got %v", err)
	}
}

func TestWsRejectsPendingPasswordChange(t *testing.T) {
	authService := newTestAuthService(t)
	wsURL := newWsTestServer(t, authService)

	pair, err := authService.GenerateTokenPair(7, database.RoleSuperAdmin, true)
	if err != nil {
		t.Fatalf("generate token pair: %v", err)
	}

	conn := dialWs(t, wsURL)
	if err := conn.WriteJSON(gin.H{"type": "auth", "token": pair.AccessToken}); err != nil {
		t.Fatalf("write auth frame: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("expected policy violation close, got %v", err)
	}
}

func TestWsAcceptsValidAccessToken(t *testing.T) {
	authService := newTestAuthService(t)
	wsURL := newWsTestServer(t, authService)

	pair, err := authService.GenerateTokenPair(7, database.RoleJobSeeker, false)
	if err != nil {
		t.Fatalf("generate token pair: %v", err)
	}

	conn := dialWs(t, wsURL)
	if err := conn.WriteJSON(gin.H{"type": "auth", "token": pair.AccessToken}); err != nil {
		t.Fatalf("write auth frame: %v", err)
	}

	// 鉴权通过后连接保持打开（redis 不可达只影响推送，不触发关闭帧），
	// 读超时即视为握手成功。
	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err = conn.ReadMessage()
	if websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("valid token rejected: %v", err)
	}
	if ne, ok := err.(net.Error); !ok || !ne.Timeout() {
		t.Fatalf("expected read timeout, got %v", err)
	}
}
