package telephony

import (
	"fmt"

	"github.com/gin-gonic/gin"
	vng "github.com/vonage/vonage-go-sdk"

	"github.com/restsend/active-call/internal/event"
	"github.com/restsend/active-call/internal/logx"
)

// Vonage adapts Vonage's Voice API conventions (grounded on
// internal/telephony/vonage/vonage.go's private-key application auth).
type Vonage struct {
	log  logx.Logger
	auth vng.Auth
}

// NewVonage builds a Vonage adapter from an application ID and its private key.
func NewVonage(log logx.Logger, applicationID string, privateKey []byte) (*Vonage, error) {
	auth, err := vng.CreateAuthFromAppPrivateKey(applicationID, privateKey)
	if err != nil {
		return nil, fmt.Errorf("telephony: vonage auth: %w", err)
	}
	return &Vonage{log: log, auth: auth}, nil
}

// ParseInboundWebhook turns a Vonage Voice API "answer" webhook (JSON body:
// from.number, to.number, uuid) into an Invite Command.
func (v *Vonage) ParseInboundWebhook(c *gin.Context) (event.Command, error) {
	var payload struct {
		UUID string `json:"uuid"`
		From struct {
			Number string `json:"number"`
		} `json:"from"`
		To struct {
			Number string `json:"number"`
		} `json:"to"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		return event.Command{}, fmt.Errorf("telephony: vonage webhook: %w", err)
	}
	if payload.From.Number == "" || payload.To.Number == "" {
		return event.Command{}, fmt.Errorf("telephony: vonage webhook missing from/to")
	}
	v.log.Infow("vonage inbound call", "uuid", payload.UUID, "from", payload.From.Number, "to", payload.To.Number)
	return event.Command{
		Tag:    event.CmdInvite,
		Caller: payload.From.Number,
		Callee: payload.To.Number,
	}, nil
}

// PlaceCall originates an outbound call bridged to our media gateway's SIP
// trunk via an NCCO served from nccoURL.
func (v *Vonage) PlaceCall(from, to, nccoURL string) (string, error) {
	client := vng.NewVoiceClient(v.auth)
	result, _, err := client.CreateCall(vng.CreateCallRequest{
		To: []vng.CallTo{vng.CallToPhone{
			Type:   "phone",
			Number: to,
		}},
		From: vng.CallFrom{
			Type:   "phone",
			Number: from,
		},
		AnswerUrl: []string{nccoURL},
	})
	if err != nil {
		return "", fmt.Errorf("telephony: vonage create call: %w", err)
	}
	return result.UUID, nil
}
