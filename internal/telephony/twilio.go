package telephony

import (
	"context"
	"errors"
	"fmt"

	"github.com/twilio/twilio-go"
	twilioapi "github.com/twilio/twilio-go/rest/api/v2010"
)

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string
}

// TwilioProvider places outbound calls through the Twilio REST API.
type TwilioProvider struct {
	client     *twilio.RestClient
	accountSID string
	from       string
}

func NewTwilioProvider(cfg TwilioConfig) (*TwilioProvider, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, errors.New("telephony: twilio credentials required")
	}
	if cfg.FromNumber == "" {
		return nil, errors.New("telephony: twilio from number required")
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &TwilioProvider{client: client, accountSID: cfg.AccountSID, from: cfg.FromNumber}, nil
}

func (p *TwilioProvider) Name() string { return "twilio" }

// HealthCheck fetches the account resource, the cheapest authenticated call.
func (p *TwilioProvider) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := p.client.Api.FetchAccount(p.accountSID); err != nil {
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	return nil
}

func (p *TwilioProvider) PlaceCall(ctx context.Context, req OutboundCallRequest) (OutboundCallResult, error) {
	if err := ctx.Err(); err != nil {
		return OutboundCallResult{}, err
	}
	if req.To == "" || req.ScriptURL == "" {
		return OutboundCallResult{}, fmt.Errorf("%w: to and script url are required", ErrProviderUnavailable)
	}

	params := &twilioapi.CreateCallParams{}
	params.SetTo(req.To)
	params.SetFrom(p.from)
	params.SetUrl(req.ScriptURL)
	params.SetMethod("POST")
	params.SetRecord(req.Record)
	if req.StatusCallbackURL != "" {
		params.SetStatusCallback(req.StatusCallbackURL)
		params.SetStatusCallbackEvent([]string{"completed"})
		params.SetStatusCallbackMethod("POST")
	}

	call, err := p.client.Api.CreateCall(params)
	if err != nil {
		return OutboundCallResult{}, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	if call.Sid == nil || *call.Sid == "" {
		return OutboundCallResult{}, fmt.Errorf("%w: empty call sid", ErrProviderUnavailable)
	}

	res := OutboundCallResult{CallID: *call.Sid}
	if call.Status != nil {
		res.Status = string(*call.Status)
	}
	return res, nil
}
