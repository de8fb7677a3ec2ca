package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"polyfinance/internal/auth"
	"polyfinance/internal/config"
	"polyfinance/internal/infrastructure/database"
	"polyfinance/internal/model"
	"polyfinance/internal/service"
	"polyfinance/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type testEnv struct {
	db     *gorm.DB
	cfg    *config.Config
	tokens *auth.TokenManager
	router *gin.Engine
}

func newTestEnv(t *testing.T, mutate ...func(*config.Config)) *testEnv {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, database.Migrate(db))

	cfg := &config.Config{
		Kafka: config.KafkaConfig{
			Topic: config.KafkaTopicConfig{LedgerEvent: "ledger_event", P2PTradeResult: "p2p_trade_result"},
		},
		Auth:    config.AuthConfig{JWTSecret: "test-secret", TokenTTLHours: 1, LoginRateLimit: 100, LoginBurst: 100},
		Webhook: config.WebhookConfig{DedupeReference: true},
		Business: config.BusinessConfig{
			BaseDailyRate: "0.1", InvestmentYield: "0.075", TokenPrice: "0.1", CommissionRate: "0.1",
			MaxRetryCount: 3, OrderCacheSeconds: 30,
		},
	}
	for _, m := range mutate {
		m(cfg)
	}
	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, time.Hour)
	return &testEnv{db: db, cfg: cfg, tokens: tokens, router: SetupRouter(db, nil, cfg, tokens)}
}

var uidSeq int64 = 300000

func (e *testEnv) seed(t *testing.T, role string, usdt string) (*model.Account, string) {
	t.Helper()
	uidSeq++
	a := &model.Account{
		UID:          uidSeq,
		Email:        fmt.Sprintf("h%d@example.com", uidSeq),
		PasswordHash: "x",
		Role:         role,
		ReferralCode: fmt.Sprintf("PFT%d", uidSeq),
		UsdtBalance:  decimal.RequireFromString(usdt),
	}
	require.NoError(t, e.db.Create(a).Error)
	token, err := e.tokens.Issue(a.ID, role)
	require.NoError(t, err)
	return a, token
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}, headers ...string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var env envelope
	_ = json.Unmarshal(w.Body.Bytes(), &env)
	return w, env
}

func TestHealthAndMetrics(t *testing.T) {
	e := newTestEnv(t)
	w, _ := e.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = e.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "polyfinance_http_requests_total")
}

func TestUserRoutesRequireToken(t *testing.T) {
	e := newTestEnv(t)

	w, env := e.do(t, http.MethodGet, "/api/v1/user/data", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, response.CodeUnauthorized, env.Code)

	_, env = e.do(t, http.MethodGet, "/api/v1/user/data", "not-a-token", nil)
	assert.Equal(t, response.CodeUnauthorized, env.Code)

	_, token := e.seed(t, model.RoleUser, "0")
	_, env = e.do(t, http.MethodGet, "/api/v1/user/data", token, nil)
	assert.Equal(t, response.CodeSuccess, env.Code)
}

func TestAdminRoutesRequireRole(t *testing.T) {
	e := newTestEnv(t)
	_, userToken := e.seed(t, model.RoleUser, "0")
	_, adminToken := e.seed(t, model.RoleAdmin, "0")

	_, env := e.do(t, http.MethodGet, "/api/v1/admin/accounts", userToken, nil)
	assert.Equal(t, response.CodeForbidden, env.Code)

	_, env = e.do(t, http.MethodGet, "/api/v1/admin/accounts", adminToken, nil)
	assert.Equal(t, response.CodeSuccess, env.Code)
}

func TestTransferUsesTokenIdentity(t *testing.T) {
	e := newTestEnv(t)
	sender, token := e.seed(t, model.RoleUser, "100")
	receiver, _ := e.seed(t, model.RoleUser, "0")

	_, env := e.do(t, http.MethodPost, "/api/v1/user/transfer", token, gin.H{
		"sender_id": receiver.ID,
		"to_uid":    receiver.UID,
		"asset":     "USDT",
		"amount":    "40",
	})
	require.Equal(t, response.CodeSuccess, env.Code, env.Message)

	var got model.Account
	require.NoError(t, e.db.First(&got, sender.ID).Error)
	assert.True(t, got.UsdtBalance.Equal(decimal.NewFromInt(60)))

	_, env = e.do(t, http.MethodPost, "/api/v1/user/transfer", token, gin.H{
		"to_uid": receiver.UID, "asset": "USDT", "amount": 1000,
	})
	assert.Equal(t, response.CodeBalanceNotEnough, env.Code)

	_, env = e.do(t, http.MethodPost, "/api/v1/user/transfer", token, gin.H{
		"to_uid": sender.UID, "asset": "USDT", "amount": 1,
	})
	assert.Equal(t, response.CodeSelfTransfer, env.Code)
}

type webhookReply struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func TestSecurityRoutes(t *testing.T) {
	e := newTestEnv(t)
	_, token := e.seed(t, model.RoleUser, "0")

	_, env := e.do(t, http.MethodPost, "/api/v1/user/security", token, gin.H{"type": "email_alert", "status": true})
	require.Equal(t, response.CodeSuccess, env.Code, env.Message)

	_, env = e.do(t, http.MethodGet, "/api/v1/user/security", token, nil)
	require.Equal(t, response.CodeSuccess, env.Code, env.Message)
	var got service.SecuritySettings
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.True(t, got.EmailAlert)

	_, env = e.do(t, http.MethodPost, "/api/v1/user/security", token, gin.H{"type": "usdt_balance", "status": true})
	assert.Equal(t, response.CodeParamError, env.Code)
}

func TestListOrdersAcceptsAll(t *testing.T) {
	e := newTestEnv(t)
	_, token := e.seed(t, model.RoleUser, "0")

	_, env := e.do(t, http.MethodGet, "/api/v1/p2p/orders?type=all", token, nil)
	assert.Equal(t, response.CodeSuccess, env.Code, env.Message)
	_, env = e.do(t, http.MethodGet, "/api/v1/p2p/orders?type=HOLD", token, nil)
	assert.Equal(t, response.CodeParamError, env.Code)
}

func TestSepayWebhookAlwaysReturns200(t *testing.T) {
	e := newTestEnv(t)
	a, token := e.seed(t, model.RoleUser, "0")
	_, adminToken := e.seed(t, model.RoleAdmin, "0")

	_, env := e.do(t, http.MethodPost, "/api/v1/admin/orders", adminToken, gin.H{"type": "buy", "price": 24000, "stock": 1000})
	require.Equal(t, response.CodeSuccess, env.Code, env.Message)
	var order model.P2POrder
	require.NoError(t, json.Unmarshal(env.Data, &order))

	_, env = e.do(t, http.MethodPost, "/api/v1/p2p/trades", token, gin.H{"order_id": order.ID, "amount": "100", "type": "BUY"})
	require.Equal(t, response.CodeSuccess, env.Code, env.Message)

	cases := []struct {
		name    string
		body    string
		success bool
		message string
	}{
		{"garbage", "{not json", false, "Invalid payload"},
		{"missing", `{"content":""}`, false, model.PaymentOutcomeMissingData},
		{"no uid", `{"content":"hello","transferAmount":2400000}`, false, model.PaymentOutcomeNoUID},
		{"string amount", fmt.Sprintf(`{"content":"NAP %d","transferAmount":"2400000","referenceCode":"FT1"}`, a.UID), true, model.PaymentOutcomeMatched},
		{"replay", fmt.Sprintf(`{"content":"NAP %d","transferAmount":2400000,"referenceCode":"FT1"}`, a.UID), false, model.PaymentOutcomeDuplicate},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w, _ := e.do(t, http.MethodPost, "/api/v1/webhook/sepay", "", tc.body)
			assert.Equal(t, http.StatusOK, w.Code)
			var reply webhookReply
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &reply))
			assert.Equal(t, tc.success, reply.Success)
			assert.Equal(t, tc.message, reply.Message)
		})
	}

	var got model.Account
	require.NoError(t, e.db.First(&got, a.ID).Error)
	assert.True(t, got.UsdtBalance.Equal(decimal.NewFromInt(100)))
}

func TestSepayWebhookAPIKey(t *testing.T) {
	e := newTestEnv(t, func(c *config.Config) { c.Webhook.APIKey = "k1" })
	body := `{"content":"NAP 123456","transferAmount":1}`

	w, _ := e.do(t, http.MethodPost, "/api/v1/webhook/sepay", "", body)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Unauthorized")

	w, _ = e.do(t, http.MethodPost, "/api/v1/webhook/sepay", "", body, "Authorization", "Apikey k1")
	assert.NotContains(t, w.Body.String(), "Unauthorized")

	w, _ = e.do(t, http.MethodPost, "/api/v1/webhook/sepay", "", body, "X-API-Key", "k1")
	assert.NotContains(t, w.Body.String(), "Unauthorized")
}

func TestAuthRateLimited(t *testing.T) {
	e := newTestEnv(t, func(c *config.Config) {
		c.Auth.LoginRateLimit = 0.001
		c.Auth.LoginBurst = 1
	})
	body := gin.H{"email": "x@example.com", "pass": "secret1"}

	_, env := e.do(t, http.MethodPost, "/api/v1/auth/login", "", body)
	assert.Equal(t, response.CodeInvalidCredentials, env.Code)

	_, env = e.do(t, http.MethodPost, "/api/v1/auth/login", "", body)
	assert.Equal(t, response.CodeTooManyReq, env.Code)
}

func TestRegisterThenUseToken(t *testing.T) {
	e := newTestEnv(t)
	_, env := e.do(t, http.MethodPost, "/api/v1/auth/register", "", gin.H{"email": "new@example.com", "pass": "secret1"})
	require.Equal(t, response.CodeSuccess, env.Code, env.Message)

	var resp service.AuthResponse
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	_, env = e.do(t, http.MethodGet, "/api/v1/mining/status", resp.Token, nil)
	assert.Equal(t, response.CodeSuccess, env.Code)

	_, env = e.do(t, http.MethodPost, "/api/v1/auth/register", "", gin.H{"email": "bad", "pass": "secret1"})
	assert.Equal(t, response.CodeParamError, env.Code)
}

func TestWriteErrorMapping(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := map[error]int{
		fmt.Errorf("wrap: %w", service.ErrInsufficientBalance): response.CodeBalanceNotEnough,
		service.ErrAlreadyResolved:                             response.CodeAlreadyResolved,
		fmt.Errorf("%w: bad", service.ErrValidation):           response.CodeParamError,
		service.ErrUnknownRecipient:                            response.CodeUnknownRecipient,
		fmt.Errorf("db down"):                                  response.CodeServerError,
	}
	for err, code := range cases {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
		writeError(c, err)

		assert.Equal(t, http.StatusOK, w.Code)
		var env envelope
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
		assert.Equal(t, code, env.Code, err.Error())
	}
}
