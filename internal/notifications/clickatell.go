package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"linkwave/internal/infra/breaker"

	"github.com/sony/gobreaker/v2"
)

const ClickatellBaseURL = "https://platform.clickatell.com"

var ErrSMSRejected = errors.New("sms rejected by provider")

type ClickatellClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	cb      *gobreaker.CircuitBreaker[[]byte]
}

func NewClickatellClient(apiKey, baseURL string) *ClickatellClient {
	if baseURL == "" {
		baseURL = ClickatellBaseURL
	}
	return &ClickatellClient{
		apiKey:  apiKey,
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
		cb:      breaker.New("clickatell"),
	}
}

type clickatellMessage struct {
	Channel string `json:"channel"`
	To      string `json:"to"`
	Content string `json:"content"`
}

type clickatellResponse struct {
	Messages []struct {
		APIMessageID     string  `json:"apiMessageId"`
		Accepted         bool    `json:"accepted"`
		To               string  `json:"to"`
		ErrorDescription *string `json:"errorDescription"`
	} `json:"messages"`
	ErrorDescription *string `json:"errorDescription"`
}

func (c *ClickatellClient) Send(ctx context.Context, to, text string) (string, error) {
	if !ValidSAMobile(to) {
		return "", fmt.Errorf("%w: invalid phone number %q", ErrSMSRejected, to)
	}

	body, err := json.Marshal(map[string]any{
		"messages": []clickatellMessage{{Channel: "sms", To: NormalizeSAMobile(to), Content: text}},
	})
	if err != nil {
		return "", err
	}

	raw, err := c.cb.Execute(func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/message", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", c.apiKey)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			return nil, fmt.Errorf("clickatell: status %d", resp.StatusCode)
		}
		return b, nil
	})
	if err != nil {
		return "", fmt.Errorf("send sms: %w", err)
	}

	var out clickatellResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode clickatell response: %w", err)
	}
	if len(out.Messages) == 0 {
		msg := "no message in response"
		if out.ErrorDescription != nil {
			msg = *out.ErrorDescription
		}
		return "", fmt.Errorf("%w: %s", ErrSMSRejected, msg)
	}
	m := out.Messages[0]
	if !m.Accepted {
		msg := "not accepted"
		if m.ErrorDescription != nil {
			msg = *m.ErrorDescription
		}
		return "", fmt.Errorf("%w: %s", ErrSMSRejected, msg)
	}
	return m.APIMessageID, nil
}
