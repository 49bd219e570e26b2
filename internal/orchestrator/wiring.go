package orchestrator

import (
	"fmt"
	"net/http"
	"time"

	"github.com/callcatcherops/autonomy/internal/channels"
	"github.com/callcatcherops/autonomy/internal/config"
	"github.com/callcatcherops/autonomy/internal/gateway"
	"github.com/callcatcherops/autonomy/internal/store"
)

// ChannelTimeout is the dispatch bound for a channel policy.
func ChannelTimeout(p config.ChannelPolicy) time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// GatewayOptions builds renderers for every enabled channel that has
// templates, and in live mode the SMTP and Twilio transports. httpClient
// may be nil.
func GatewayOptions(cfg *config.Config, httpClient *http.Client) ([]gateway.Option, error) {
	var opts []gateway.Option
	live := cfg.Run.Mode == config.ModeLive
	chs := cfg.Channels

	if chs.Email.Enabled && len(chs.Email.Templates) > 0 {
		r, err := channels.NewRenderer(chs.Email.Templates, chs.Email.UnsubscribeURL, chs.Email.MailingAddress, true)
		if err != nil {
			return nil, fmt.Errorf("email templates: %w", err)
		}
		opts = append(opts, gateway.WithRenderer(store.ChannelEmail, r))
	}
	if chs.SMS.Enabled && len(chs.SMS.Templates) > 0 {
		r, err := channels.NewRenderer(chs.SMS.Templates, "", "", false)
		if err != nil {
			return nil, fmt.Errorf("sms templates: %w", err)
		}
		opts = append(opts, gateway.WithRenderer(store.ChannelSMS, r))
	}
	if !live {
		return opts, nil
	}

	if chs.Email.Enabled {
		opts = append(opts, gateway.WithTransport(channels.NewSMTPEmail(chs.Email), ChannelTimeout(chs.Email.ChannelPolicy)))
	}
	if chs.SMS.Enabled || chs.Voice.Enabled {
		client := channels.NewTwilioClient(chs.Twilio, httpClient)
		if chs.SMS.Enabled {
			opts = append(opts, gateway.WithTransport(channels.NewTwilioSMS(client, chs.SMS.FromNumber), ChannelTimeout(chs.SMS.ChannelPolicy)))
		}
		if chs.Voice.Enabled {
			opts = append(opts, gateway.WithTransport(channels.NewTwilioVoice(client, chs.Voice), ChannelTimeout(chs.Voice.ChannelPolicy)))
		}
	}
	opts = append(opts, gateway.WithRateLimit(cfg.Run.DispatchRatePerSec))
	return opts, nil
}
