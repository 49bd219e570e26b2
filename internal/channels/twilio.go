package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/callcatcherops/autonomy/internal/config"
	"github.com/callcatcherops/autonomy/internal/store"
)

// TwilioClient is a minimal client for the Twilio REST API.
type TwilioClient struct {
	accountSID string
	authToken  string
	apiBase    string
	http       *http.Client
}

// NewTwilioClient builds a client from the shared credentials.
func NewTwilioClient(cfg config.TwilioConfig, httpClient *http.Client) *TwilioClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.APIBase), "/")
	if base == "" {
		base = "https://api.twilio.com"
	}
	return &TwilioClient{
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		apiBase:    base,
		http:       httpClient,
	}
}

func (c *TwilioClient) accountPath(resource string) string {
	return fmt.Sprintf("%s/2010-04-01/Accounts/%s/%s", c.apiBase, url.PathEscape(c.accountSID), resource)
}

func (c *TwilioClient) do(ctx context.Context, method, endpoint string, form url.Values) (map[string]any, error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.accountSID, c.authToken)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(raw))
		var apiErr struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Message != "" {
			msg = apiErr.Message
		}
		return nil, &RejectedError{Code: resp.StatusCode, Msg: msg, InvalidRecipient: twilioInvalidTo[apiErr.Code]}
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode twilio response: %w", err)
	}
	return out, nil
}

// twilioInvalidTo are the Twilio error codes that blame the To number:
// invalid number, number not valid for the region, not a mobile number.
var twilioInvalidTo = map[int]bool{
	21211: true,
	21217: true,
	21614: true,
}

func str(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return strings.TrimSpace(v)
}

// TwilioSMS sends text messages.
type TwilioSMS struct {
	client *TwilioClient
	from   string
}

// NewTwilioSMS returns the SMS transport.
func NewTwilioSMS(client *TwilioClient, from string) *TwilioSMS {
	return &TwilioSMS{client: client, from: from}
}

func (s *TwilioSMS) Channel() store.Channel { return store.ChannelSMS }

// Send posts one message. A message Twilio already marks failed or
// undelivered is reported as failed.
func (s *TwilioSMS) Send(ctx context.Context, msg Message) (Receipt, error) {
	form := url.Values{}
	form.Set("To", msg.To)
	form.Set("From", s.from)
	form.Set("Body", msg.Body)
	res, err := s.client.do(ctx, http.MethodPost, s.client.accountPath("Messages.json"), form)
	if err != nil {
		return Receipt{}, err
	}
	status := strings.ToLower(str(res, "status"))
	outcome := store.OutcomeSent
	if status == "failed" || status == "undelivered" {
		outcome = store.OutcomeFailed
	}
	return Receipt{
		ID:      str(res, "sid"),
		Outcome: outcome,
		Detail:  map[string]any{"carrier_status": status},
	}, nil
}

var terminalCallStatus = map[string]bool{
	"completed": true,
	"busy":      true,
	"failed":    true,
	"no-answer": true,
	"canceled":  true,
}

// TwilioVoice places a call and waits for a terminal status.
type TwilioVoice struct {
	client       *TwilioClient
	from         string
	twimlURL     string
	pollInterval time.Duration
}

// NewTwilioVoice returns the voice transport.
func NewTwilioVoice(client *TwilioClient, cfg config.VoiceConfig) *TwilioVoice {
	interval := time.Duration(cfg.PollIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &TwilioVoice{client: client, from: cfg.FromNumber, twimlURL: cfg.TwimlURL, pollInterval: interval}
}

// SetPollInterval overrides the status poll period.
func (v *TwilioVoice) SetPollInterval(d time.Duration) { v.pollInterval = d }

func (v *TwilioVoice) Channel() store.Channel { return store.ChannelVoice }

// Send creates the call and polls it until it ends or ctx expires. The
// receipt outcome is the raw disposition ("status" or
// "status:answered_by"). On ctx expiry the last seen receipt is returned
// with the context error.
func (v *TwilioVoice) Send(ctx context.Context, msg Message) (Receipt, error) {
	form := url.Values{}
	form.Set("To", msg.To)
	form.Set("From", v.from)
	form.Set("Url", v.twimlURL)
	form.Set("MachineDetection", "Enable")
	call, err := v.client.do(ctx, http.MethodPost, v.client.accountPath("Calls.json"), form)
	if err != nil {
		return Receipt{}, err
	}
	sid := str(call, "sid")
	if sid == "" {
		return Receipt{}, fmt.Errorf("twilio call response without sid")
	}

	ticker := time.NewTicker(v.pollInterval)
	defer ticker.Stop()
	for {
		if terminalCallStatus[strings.ToLower(str(call, "status"))] {
			return callReceipt(sid, call), nil
		}
		select {
		case <-ctx.Done():
			return callReceipt(sid, call), ctx.Err()
		case <-ticker.C:
		}
		next, err := v.client.do(ctx, http.MethodGet, v.client.accountPath("Calls/"+url.PathEscape(sid)+".json"), nil)
		if err != nil {
			return callReceipt(sid, call), err
		}
		call = next
	}
}

func callReceipt(sid string, call map[string]any) Receipt {
	status := strings.ToLower(str(call, "status"))
	answeredBy := strings.ToLower(str(call, "answered_by"))
	disposition := status
	if answeredBy != "" {
		disposition = status + ":" + answeredBy
	}
	detail := map[string]any{"call_status": status}
	if answeredBy != "" {
		detail["answered_by"] = answeredBy
	}
	if d := str(call, "duration"); d != "" {
		detail["duration"] = d
	}
	return Receipt{ID: sid, Outcome: disposition, Detail: detail}
}
