package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// 电话接通后播放的默认提示音
const defaultCallTwiml = `<Response><Say>This is an automated message from your care companion.</Say></Response>`

// twilioResponse Twilio API 响应（只取需要的字段）
type twilioResponse struct {
	Sid     string `json:"sid"`
	Status  string `json:"status"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// TwilioClient Twilio 短信/电话网关客户端
type TwilioClient struct {
	httpClient *resty.Client
	accountSID string
	fromNumber string
	logger     *zap.Logger
}

// NewTwilioClient 创建 Twilio 客户端
func NewTwilioClient(baseURL, accountSID, authToken, fromNumber string, logger *zap.Logger) *TwilioClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(15 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second).
		SetBasicAuth(accountSID, authToken).
		SetHeader("Accept", "application/json")

	return &TwilioClient{
		httpClient: client,
		accountSID: accountSID,
		fromNumber: fromNumber,
		logger:     logger,
	}
}

// SendText 发送短信
func (c *TwilioClient) SendText(ctx context.Context, toNumber, body string) error {
	var result twilioResponse

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"To":   toNumber,
			"From": c.fromNumber,
			"Body": body,
		}).
		SetResult(&result).
		SetError(&result).
		Post(fmt.Sprintf("/2010-04-01/Accounts/%s/Messages.json", c.accountSID))
	if err != nil {
		return fmt.Errorf("failed to call messages API: %w", err)
	}

	if resp.IsError() {
		return fmt.Errorf("messages API returned %d: %s", resp.StatusCode(), result.Message)
	}

	c.logger.Info("SMS submitted to gateway",
		zap.String("to", toNumber),
		zap.String("sid", result.Sid),
		zap.String("status", result.Status),
	)
	return nil
}

// PlaceCall 发起电话（接通后播放默认提示音）
func (c *TwilioClient) PlaceCall(ctx context.Context, toNumber string) error {
	var result twilioResponse

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"To":    toNumber,
			"From":  c.fromNumber,
			"Twiml": defaultCallTwiml,
		}).
		SetResult(&result).
		SetError(&result).
		Post(fmt.Sprintf("/2010-04-01/Accounts/%s/Calls.json", c.accountSID))
	if err != nil {
		return fmt.Errorf("failed to call calls API: %w", err)
	}

	if resp.IsError() {
		return fmt.Errorf("calls API returned %d: %s", resp.StatusCode(), result.Message)
	}

	c.logger.Info("Call submitted to gateway",
		zap.String("to", toNumber),
		zap.String("sid", result.Sid),
		zap.String("status", result.Status),
	)
	return nil
}
