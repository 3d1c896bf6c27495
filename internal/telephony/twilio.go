// Package telephony adapts inbound PSTN-gateway webhooks into the Invite
// Command the call engine expects, and places outbound calls through the
// same gateway's REST API. Scoped to the inbound-webhook-to-Command
// translation contract — outbound-call/status-callback HTTP glue built
// around a vault credential store is out of scope.
package telephony

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/twilio/twilio-go"
	twilioapi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/restsend/active-call/internal/event"
	"github.com/restsend/active-call/internal/logx"
)

// Twilio adapts Twilio's voice webhook/REST conventions (grounded on
// internal/telephony/twilio/twilio.go's client construction).
type Twilio struct {
	log    logx.Logger
	client *twilio.RestClient
}

// NewTwilio builds a Twilio adapter from an Account SID/Auth Token pair.
func NewTwilio(log logx.Logger, accountSID, authToken string) *Twilio {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return &Twilio{log: log, client: client}
}

// ParseInboundWebhook turns a Twilio voice webhook POST (application/x-www-
// form-urlencoded: From, To, CallSid) into an Invite Command. The SIP/RTP
// signaling itself still runs over the media gateway Twilio hands the call
// to; this only carries caller/callee identity into the call engine.
func (t *Twilio) ParseInboundWebhook(c *gin.Context) (event.Command, error) {
	from := c.PostForm("From")
	to := c.PostForm("To")
	callSID := c.PostForm("CallSid")
	if from == "" || to == "" {
		return event.Command{}, fmt.Errorf("telephony: twilio webhook missing From/To")
	}
	t.log.Infow("twilio inbound call", "callSid", callSID, "from", from, "to", to)
	return event.Command{
		Tag:    event.CmdInvite,
		Caller: from,
		Callee: to,
	}, nil
}

// PlaceCall originates an outbound call that, once answered, is bridged to
// our media gateway's SIP trunk at trunkURL (a TwiML <Dial><Sip> endpoint or
// equivalent webhook URL serving that response).
func (t *Twilio) PlaceCall(from, to, trunkURL string) (string, error) {
	params := &twilioapi.CreateCallParams{}
	params.SetFrom(from)
	params.SetTo(to)
	params.SetUrl(trunkURL)

	resp, err := t.client.Api.CreateCall(params)
	if err != nil {
		return "", fmt.Errorf("telephony: twilio create call: %w", err)
	}
	if resp.Sid == nil {
		return "", fmt.Errorf("telephony: twilio create call returned no SID")
	}
	return *resp.Sid, nil
}
