package handler

import (
	"errors"
	"strconv"
	"strings"

	"polyfinance/internal/auth"
	"polyfinance/internal/config"
	"polyfinance/internal/logger"
	"polyfinance/internal/repository"
	"polyfinance/internal/service"
	"polyfinance/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	cfg             *config.Config
	accountService  *service.AccountService
	transferService *service.TransferService
	swapService     *service.SwapService
	miningService   *service.MiningService
	stakingService  *service.StakingService
	p2pService      *service.P2PService
	webhookService  *service.WebhookService
	withdrawService *service.WithdrawService
	outboxRepo      *repository.OutboxRepository
}

func NewHandler(db *gorm.DB, rdb *redis.Client, cfg *config.Config, tokens *auth.TokenManager) *Handler {
	return &Handler{
		cfg:             cfg,
		accountService:  service.NewAccountService(db, cfg, tokens),
		transferService: service.NewTransferService(db, rdb, cfg),
		swapService:     service.NewSwapService(db, rdb, cfg),
		miningService:   service.NewMiningService(db, rdb, cfg),
		stakingService:  service.NewStakingService(db, rdb, cfg),
		p2pService:      service.NewP2PService(db, rdb, cfg),
		webhookService:  service.NewWebhookService(db, rdb, cfg),
		withdrawService: service.NewWithdrawService(db, rdb, cfg),
		outboxRepo:      repository.NewOutboxRepository(db),
	}
}

// errorCodes 业务错误到响应码的映射，按顺序匹配
var errorCodes = []struct {
	err  error
	code int
}{
	{service.ErrValidation, response.CodeParamError},
	{service.ErrUnauthenticated, response.CodeUnauthorized},
	{service.ErrForbidden, response.CodeForbidden},
	{service.ErrInsufficientBalance, response.CodeBalanceNotEnough},
	{service.ErrUnknownRecipient, response.CodeUnknownRecipient},
	{service.ErrSelfTransfer, response.CodeSelfTransfer},
	{service.ErrOrderNotFound, response.CodeOrderNotFound},
	{service.ErrTradeNotFound, response.CodeTradeNotFound},
	{service.ErrAlreadyResolved, response.CodeAlreadyResolved},
	{service.ErrAccountNotFound, response.CodeAccountNotFound},
	{service.ErrEmailTaken, response.CodeEmailTaken},
	{service.ErrInvalidCredentials, response.CodeInvalidCredentials},
	{service.ErrWithdrawNotFound, response.CodeWithdrawNotFound},
	{service.ErrSystemBusy, response.CodeTooManyReq},
}

// writeError 业务错误返回对应的 code；存储故障只返回通用错误，细节进日志
func writeError(c *gin.Context, err error) {
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			response.BusinessError(c, e.code, err.Error())
			return
		}
	}
	logger.Log.Error("请求处理失败",
		zap.String("path", c.Request.URL.Path),
		zap.String("request_id", c.GetString(ctxRequestID)),
		zap.Error(err),
	)
	response.ServerError(c, "服务器内部错误")
}

func bindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return false
	}
	return true
}

func accountID(c *gin.Context) int64 {
	return c.GetInt64(ctxAccountID)
}

func pagination(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	return page, pageSize
}

func listResult(list interface{}, total int64, page, pageSize int) gin.H {
	return gin.H{
		"list":      list,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	}
}

// ============================================================
// 注册登录
// ============================================================

// Register POST /api/v1/auth/register
func (h *Handler) Register(c *gin.Context) {
	var req service.RegisterRequest
	if !bindJSON(c, &req) {
		return
	}
	resp, err := h.accountService.Register(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, resp)
}

// Login POST /api/v1/auth/login
func (h *Handler) Login(c *gin.Context) {
	var req service.LoginRequest
	if !bindJSON(c, &req) {
		return
	}
	resp, err := h.accountService.Login(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, resp)
}

// ============================================================
// 用户
// ============================================================

// GetProfile GET /api/v1/user/data
func (h *Handler) GetProfile(c *gin.Context) {
	profile, err := h.accountService.GetProfile(c.Request.Context(), accountID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, profile)
}

// ListTransactions GET /api/v1/user/transactions?page=1&page_size=20
func (h *Handler) ListTransactions(c *gin.Context) {
	page, pageSize := pagination(c)
	list, total, err := h.accountService.ListTransactions(c.Request.Context(), accountID(c), page, pageSize)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, listResult(list, total, page, pageSize))
}

// CheckUID GET /api/v1/user/check-uid?uid=xxx
func (h *Handler) CheckUID(c *gin.Context) {
	uid, err := strconv.ParseInt(c.Query("uid"), 10, 64)
	if err != nil {
		response.ParamError(c, "uid 参数错误")
		return
	}
	result, err := h.accountService.CheckUID(c.Request.Context(), uid)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, result)
}

// AffiliateStats GET /api/v1/user/affiliate-stats
func (h *Handler) AffiliateStats(c *gin.Context) {
	stats, err := h.accountService.AffiliateStats(c.Request.Context(), accountID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, stats)
}

// SubmitKYC POST /api/v1/user/kyc
func (h *Handler) SubmitKYC(c *gin.Context) {
	var req service.KYCRequest
	if !bindJSON(c, &req) {
		return
	}
	req.AccountID = accountID(c)
	if err := h.accountService.SubmitKYC(c.Request.Context(), &req); err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{"message": "已提交审核"})
}

// GetSecurity GET /api/v1/user/security
func (h *Handler) GetSecurity(c *gin.Context) {
	settings, err := h.accountService.GetSecurity(c.Request.Context(), accountID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, settings)
}

// UpdateSecurity POST /api/v1/user/security
func (h *Handler) UpdateSecurity(c *gin.Context) {
	var req service.SecurityOptionRequest
	if !bindJSON(c, &req) {
		return
	}
	req.AccountID = accountID(c)
	settings, err := h.accountService.UpdateSecurityOption(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, settings)
}

// ChangePassword POST /api/v1/user/change-password
func (h *Handler) ChangePassword(c *gin.Context) {
	var req service.ChangePasswordRequest
	if !bindJSON(c, &req) {
		return
	}
	req.AccountID = accountID(c)
	if err := h.accountService.ChangePassword(c.Request.Context(), &req); err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{"message": "密码已修改"})
}

// Transfer POST /api/v1/user/transfer
//
// 发送方永远取自 token，请求体里的身份字段一律忽略
func (h *Handler) Transfer(c *gin.Context) {
	var req service.TransferRequest
	if !bindJSON(c, &req) {
		return
	}
	req.SenderID = accountID(c)
	resp, err := h.transferService.Transfer(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, resp)
}

// Swap POST /api/v1/user/swap
func (h *Handler) Swap(c *gin.Context) {
	var req service.SwapRequest
	if !bindJSON(c, &req) {
		return
	}
	req.AccountID = accountID(c)
	resp, err := h.swapService.Swap(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, resp)
}

// Withdraw POST /api/v1/user/withdraw
func (h *Handler) Withdraw(c *gin.Context) {
	var req service.WithdrawRequest
	if !bindJSON(c, &req) {
		return
	}
	req.AccountID = accountID(c)
	row, err := h.withdrawService.Request(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, row)
}

// RequestWallet POST /api/v1/user/wallet-request
func (h *Handler) RequestWallet(c *gin.Context) {
	if err := h.accountService.RequestWallet(c.Request.Context(), accountID(c)); err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{"message": "已提交申请"})
}

// Reconcile GET /api/v1/user/reconcile
func (h *Handler) Reconcile(c *gin.Context) {
	h.reconcile(c, accountID(c))
}

func (h *Handler) reconcile(c *gin.Context, id int64) {
	result, err := h.accountService.Reconcile(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, result)
}

// ============================================================
// 挖矿与质押
// ============================================================

// MiningStatus GET /api/v1/mining/status
func (h *Handler) MiningStatus(c *gin.Context) {
	status, err := h.miningService.Status(c.Request.Context(), accountID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, status)
}

// ClaimMining POST /api/v1/mining/claim
func (h *Handler) ClaimMining(c *gin.Context) {
	status, err := h.miningService.Claim(c.Request.Context(), accountID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, status)
}

// Invest POST /api/v1/mining/buy
func (h *Handler) Invest(c *gin.Context) {
	var req service.InvestRequest
	if !bindJSON(c, &req) {
		return
	}
	req.AccountID = accountID(c)
	resp, err := h.miningService.Invest(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, resp)
}

// Stake POST /api/v1/staking/create
func (h *Handler) Stake(c *gin.Context) {
	var req service.StakeRequest
	if !bindJSON(c, &req) {
		return
	}
	req.AccountID = accountID(c)
	resp, err := h.stakingService.Stake(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, resp)
}

// ============================================================
// P2P
// ============================================================

// ListOrders GET /api/v1/p2p/orders?type=BUY
func (h *Handler) ListOrders(c *gin.Context) {
	orders, err := h.p2pService.ListOrders(c.Request.Context(), strings.ToUpper(c.Query("type")))
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, orders)
}

// RequestTrade POST /api/v1/p2p/trades
func (h *Handler) RequestTrade(c *gin.Context) {
	var req service.TradeRequest
	if !bindJSON(c, &req) {
		return
	}
	req.AccountID = accountID(c)
	req.Side = strings.ToUpper(req.Side)
	trade, err := h.p2pService.RequestTrade(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, trade)
}

// ListMyTrades GET /api/v1/p2p/trades
func (h *Handler) ListMyTrades(c *gin.Context) {
	page, pageSize := pagination(c)
	list, total, err := h.p2pService.ListMyTrades(c.Request.Context(), accountID(c), page, pageSize)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, listResult(list, total, page, pageSize))
}

// ============================================================
// 银行回调
// ============================================================

// SepayWebhook POST /api/v1/webhook/sepay
//
// 无论结果如何都返回 HTTP 200，success 表示是否自动入账
// transferAmount 可能是数字也可能是字符串，用 gjson 容错解析
func (h *Handler) SepayWebhook(c *gin.Context) {
	if !h.webhookAuthorized(c) {
		logger.Log.Warn("银行回调 API key 不匹配", zap.String("ip", c.ClientIP()))
		c.JSON(200, gin.H{"success": false, "message": "Unauthorized"})
		return
	}

	body, err := c.GetRawData()
	if err != nil || !gjson.ValidBytes(body) {
		c.JSON(200, gin.H{"success": false, "message": "Invalid payload"})
		return
	}
	payload := gjson.ParseBytes(body)
	logger.Log.Info("收到银行到账通知", zap.ByteString("body", body))

	amount := decimal.Zero
	if raw := payload.Get("transferAmount"); raw.Exists() {
		if v, err := decimal.NewFromString(strings.TrimSpace(raw.String())); err == nil {
			amount = v
		}
	}

	result, err := h.webhookService.MatchExternalPayment(c.Request.Context(), &service.PaymentNotification{
		Provider:       service.ProviderSepay,
		Content:        payload.Get("content").String(),
		TransferAmount: amount,
		ReferenceCode:  payload.Get("referenceCode").String(),
	})
	if err != nil {
		c.JSON(200, gin.H{"success": false, "message": "Internal error"})
		return
	}
	c.JSON(200, gin.H{"success": result.Matched, "message": result.Outcome, "data": result})
}

// webhookAuthorized 未配置 api_key 时不校验
// Sepay 的格式是 "Authorization: Apikey xxx"，也接受 X-API-Key
func (h *Handler) webhookAuthorized(c *gin.Context) bool {
	expected := h.cfg.Webhook.APIKey
	if expected == "" {
		return true
	}
	if c.GetHeader("X-API-Key") == expected {
		return true
	}
	header := c.GetHeader("Authorization")
	return strings.HasPrefix(header, "Apikey ") && strings.TrimPrefix(header, "Apikey ") == expected
}

// ============================================================
// 运营
// ============================================================

// AdminListAccounts GET /api/v1/admin/accounts
func (h *Handler) AdminListAccounts(c *gin.Context) {
	page, pageSize := pagination(c)
	list, total, err := h.accountService.ListAccounts(c.Request.Context(), page, pageSize)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, listResult(list, total, page, pageSize))
}

// AdminReconcile GET /api/v1/admin/accounts/:id/reconcile
func (h *Handler) AdminReconcile(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "id 参数错误")
		return
	}
	h.reconcile(c, id)
}

// AdminCredit POST /api/v1/admin/credit
func (h *Handler) AdminCredit(c *gin.Context) {
	var req service.AdminCreditRequest
	if !bindJSON(c, &req) {
		return
	}
	row, err := h.accountService.AdminCredit(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, row)
}

// AdminCreateOrder POST /api/v1/admin/orders
func (h *Handler) AdminCreateOrder(c *gin.Context) {
	var req service.CreateOrderRequest
	if !bindJSON(c, &req) {
		return
	}
	req.Side = strings.ToUpper(req.Side)
	order, err := h.p2pService.CreateOrder(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, order)
}

// AdminDeleteOrder DELETE /api/v1/admin/orders/:id
func (h *Handler) AdminDeleteOrder(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "id 参数错误")
		return
	}
	if err := h.p2pService.DeleteOrder(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{"message": "挂单已删除"})
}

// AdminListTrades GET /api/v1/admin/trades?status=PENDING
func (h *Handler) AdminListTrades(c *gin.Context) {
	page, pageSize := pagination(c)
	list, total, err := h.p2pService.ListTrades(c.Request.Context(), strings.ToUpper(c.Query("status")), page, pageSize)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, listResult(list, total, page, pageSize))
}

// AdminResolveTrade POST /api/v1/admin/trades/action
func (h *Handler) AdminResolveTrade(c *gin.Context) {
	var req service.ResolveTradeRequest
	if !bindJSON(c, &req) {
		return
	}
	req.Action = strings.ToUpper(req.Action)
	trade, err := h.p2pService.ResolveTrade(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, trade)
}

// AdminListWithdrawals GET /api/v1/admin/withdrawals
func (h *Handler) AdminListWithdrawals(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	list, err := h.withdrawService.ListPending(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, list)
}

// AdminResolveWithdrawal POST /api/v1/admin/withdrawals/action
func (h *Handler) AdminResolveWithdrawal(c *gin.Context) {
	var req service.ResolveWithdrawRequest
	if !bindJSON(c, &req) {
		return
	}
	req.Action = strings.ToUpper(req.Action)
	row, err := h.withdrawService.Resolve(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, row)
}

// AdminListWalletRequests GET /api/v1/admin/wallet-requests
func (h *Handler) AdminListWalletRequests(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	list, err := h.accountService.ListWalletRequests(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, list)
}

// AdminSetWallet POST /api/v1/admin/wallet
func (h *Handler) AdminSetWallet(c *gin.Context) {
	var req service.SetWalletRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.accountService.SetWallet(c.Request.Context(), &req); err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, gin.H{"message": "钱包已分配"})
}

// AdminPaymentEvents GET /api/v1/admin/payment-events
func (h *Handler) AdminPaymentEvents(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	list, err := h.webhookService.ListEvents(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, list)
}

// AdminFailedOutbox GET /api/v1/admin/outbox/failed
func (h *Handler) AdminFailedOutbox(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	list, err := h.outboxRepo.GetFailedMessages(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	response.Success(c, list)
}

// AdminRequeueOutbox POST /api/v1/admin/outbox/:id/requeue
func (h *Handler) AdminRequeueOutbox(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.ParamError(c, "id 参数错误")
		return
	}
	ok, err := h.outboxRepo.Requeue(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	if !ok {
		response.BusinessError(c, response.CodeNotFound, "消息不存在或不是失败状态")
		return
	}
	response.Success(c, gin.H{"message": "已重新入队"})
}
