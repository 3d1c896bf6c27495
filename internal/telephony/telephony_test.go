package telephony

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/restsend/active-call/internal/event"
	"github.com/restsend/active-call/internal/logx"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func ginContextFor(req *http.Request) *gin.Context {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = req
	return c
}

func TestTwilioParseInboundWebhook(t *testing.T) {
	form := url.Values{
		"From":    {"+15551230000"},
		"To":      {"+15559990000"},
		"CallSid": {"CAxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx"},
	}
	req := httptest.NewRequest(http.MethodPost, "/twilio/voice", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	tw := NewTwilio(logx.NewDevelopment(), "AC_test", "authtoken")
	cmd, err := tw.ParseInboundWebhook(ginContextFor(req))
	require.NoError(t, err)
	require.Equal(t, event.CmdInvite, cmd.Tag)
	require.Equal(t, "+15551230000", cmd.Caller)
	require.Equal(t, "+15559990000", cmd.Callee)
}

func TestTwilioParseInboundWebhookMissingFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/twilio/voice", strings.NewReader(""))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	tw := NewTwilio(logx.NewDevelopment(), "AC_test", "authtoken")
	_, err := tw.ParseInboundWebhook(ginContextFor(req))
	require.Error(t, err, "expected an error when From/To are missing")
}

func TestVonageParseInboundWebhook(t *testing.T) {
	body := `{"uuid":"abc-123","from":{"number":"15551230000"},"to":{"number":"15559990000"}}`
	req := httptest.NewRequest(http.MethodPost, "/vonage/answer", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	// ParseInboundWebhook never touches auth, so a zero-value Vonage (rather
	// than NewVonage, which needs a real application private key) is enough
	// to exercise the webhook parsing path in isolation.
	v := &Vonage{log: logx.NewDevelopment()}
	cmd, err := v.ParseInboundWebhook(ginContextFor(req))
	require.NoError(t, err)
	require.Equal(t, event.CmdInvite, cmd.Tag)
	require.Equal(t, "15551230000", cmd.Caller)
	require.Equal(t, "15559990000", cmd.Callee)
}

func TestVonageParseInboundWebhookMissingFields(t *testing.T) {
	body := `{"uuid":"abc-123"}`
	req := httptest.NewRequest(http.MethodPost, "/vonage/answer", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	v := &Vonage{log: logx.NewDevelopment()}
	_, err := v.ParseInboundWebhook(ginContextFor(req))
	require.Error(t, err, "expected an error when from/to numbers are missing")
}
