package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Pusher 带签名头的 JSON 推送，5xx 与网络错误按退避重试
type Pusher struct {
	Client  *http.Client
	APIKey  string
	Secret  string
	Retries int
	Backoff []time.Duration
}

func NewPusher(client *http.Client, apiKey, secret string) *Pusher {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &Pusher{
		Client:  client,
		APIKey:  apiKey,
		Secret:  secret,
		Retries: 3,
		Backoff: []time.Duration{100 * time.Millisecond, 500 * time.Millisecond, 2 * time.Second},
	}
}

// signedPath 与服务端 r.URL.Path 一致：无路径的 URL 按 "/" 签名，查询串不参与
func signedPath(u *url.URL) string {
	if p := u.EscapedPath(); p != "" {
		return p
	}
	return "/"
}

// SendJSON 发送 JSON，返回最终状态码与响应体
func (p *Pusher) SendJSON(ctx context.Context, endpoint string, payload any) (int, []byte, error) {
	if p == nil || p.Client == nil {
		return 0, nil, errors.New("nil pusher")
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return 0, nil, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, err
	}
	ts := time.Now().Unix()
	nonce := uuid.NewString()
	sig := SignHMAC(p.Secret, Canonical(http.MethodPost, signedPath(u), ts, nonce, body))

	var (
		respBody []byte
		code     int
		lastErr  error
	)
	for attempt := 0; attempt <= p.Retries; attempt++ {
		// 每次重试重建请求，body 不可复用
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return 0, nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Api-Key", p.APIKey)
		req.Header.Set("X-Signature", sig)
		req.Header.Set("X-Timestamp", strconv.FormatInt(ts, 10))
		req.Header.Set("X-Nonce", nonce)

		resp, err := p.Client.Do(req)
		if err != nil {
			lastErr = err
		} else {
			code = resp.StatusCode
			respBody, _ = io.ReadAll(resp.Body)
			_ = resp.Body.Close()
			lastErr = nil
			// 非 5xx 不重试
			if code < 500 {
				return code, respBody, nil
			}
		}
		if attempt == p.Retries {
			break
		}
		backoff := p.Backoff[min(attempt, len(p.Backoff)-1)]
		select {
		case <-ctx.Done():
			return 0, nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
	if lastErr != nil {
		return 0, nil, lastErr
	}
	return code, respBody, fmt.Errorf("http %d", code)
}
