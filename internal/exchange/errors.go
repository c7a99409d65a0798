package exchange

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	ccxt "github.com/ccxt/ccxt/go/v4"
)

var (
	// ErrUnavailable 表示网络异常或交易所不可达，调用方应使用安全默认值继续。
	ErrUnavailable = errors.New("exchange unavailable")
	// ErrMaintenance 表示交易所处于维护状态。
	ErrMaintenance = errors.New("exchange on maintenance")
	// ErrRejected 表示交易所在应用层拒绝了请求（非零返回码）。
	ErrRejected = errors.New("exchange rejected request")
)

// RejectedError 保留交易所返回的原始信息，供上层原样展示。
type RejectedError struct {
	Message string
}

func (e *RejectedError) Error() string {
	return e.Message
}

// Is 使 errors.Is(err, ErrRejected) 成立。
func (e *RejectedError) Is(target error) bool {
	return target == ErrRejected
}

// Classify 将底层错误归一为 ErrUnavailable / ErrMaintenance / RejectedError。
func Classify(err error) error {
	normalized, _ := classifyError(err)
	return normalized
}

func classifyError(err error) (error, bool) {
	if err == nil {
		return nil, false
	}

	if errors.Is(err, ErrUnavailable) || errors.Is(err, ErrRejected) {
		return err, false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err), false
	}

	var ccxtErr *ccxt.Error
	if errors.As(err, &ccxtErr) {
		switch ccxtErr.Type {
		case ccxt.NetworkErrorErrType,
			ccxt.RequestTimeoutErrType,
			ccxt.ExchangeNotAvailableErrType,
			ccxt.RateLimitExceededErrType,
			ccxt.DDoSProtectionErrType,
			ccxt.BadResponseErrType,
			ccxt.NullResponseErrType:
			return fmt.Errorf("%w: %s", ErrUnavailable, ccxtErr.Message), true
		case ccxt.OnMaintenanceErrType:
			message := strings.TrimSpace(ccxtErr.Message)
			if message == "" {
				message = "exchange under maintenance"
			}
			return fmt.Errorf("%w: %w: %s", ErrUnavailable, ErrMaintenance, message), false
		default:
			message := strings.TrimSpace(ccxtErr.Message)
			if message == "" {
				message = err.Error()
			}
			return &RejectedError{Message: message}, false
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err), true
	}

	return fmt.Errorf("%w: %v", ErrUnavailable, err), false
}
