package service

import (
	"errors"

	"polyfinance/internal/repository"
)

// 业务错误，handler 按 errors.Is 映射为响应码
var (
	ErrInsufficientBalance = repository.ErrBalanceNotEnough
	ErrAccountNotFound     = repository.ErrAccountNotFound
	ErrOrderNotFound       = repository.ErrOrderNotFound
	ErrTradeNotFound       = repository.ErrTradeNotFound
	ErrWithdrawNotFound    = repository.ErrTransactionNotFound

	ErrUnknownRecipient   = errors.New("收款账户不存在")
	ErrSelfTransfer       = errors.New("不能转账给自己")
	ErrAlreadyResolved    = errors.New("该记录已处理")
	ErrUnauthenticated    = errors.New("未登录或登录已过期")
	ErrForbidden          = errors.New("无权限")
	ErrValidation         = errors.New("参数错误")
	ErrEmailTaken         = errors.New("邮箱已注册")
	ErrInvalidCredentials = errors.New("邮箱或密码错误")
	ErrSystemBusy         = errors.New("系统繁忙，请稍后重试")
)

// resolvedErr 状态 CAS 失败统一视为已处理
func resolvedErr(err error) error {
	if errors.Is(err, repository.ErrTradeStatusInvalid) || errors.Is(err, repository.ErrTransactionResolved) {
		return ErrAlreadyResolved
	}
	return err
}
