package sipsrv

import (
	"context"
	"fmt"
	"sync"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"

	"github.com/restsend/active-call/internal/logx"
)

// PendingInvite is one inbound INVITE parked until the `GET /call/sip`
// WebSocket control channel attaches to it ("attach to pending SIP
// invite"). The transaction/dialog state machine itself stays sipgo's
// responsibility; UAS only holds what's needed to answer or
// reject once a control channel claims the call.
type PendingInvite struct {
	CallID   string
	Caller   string
	Callee   string
	OfferSDP string

	req *sip.Request
	tx  sip.ServerTransaction
}

// UAS is a minimal SIP user agent server: it accepts INVITE/ACK/BYE over UDP,
// parks each INVITE in a lookup table, and responds only once something
// calls Accept/Reject — a single external attach point rather than a full
// B2BUA dialplan.
type UAS struct {
	log logx.Logger

	ua  *sipgo.UserAgent
	srv *sipgo.Server

	mu      sync.Mutex
	pending map[string]*PendingInvite
	waiters chan *PendingInvite

	onBye func(callID string)
}

// NewUAS builds the user agent and server but does not start listening.
func NewUAS(log logx.Logger) (*UAS, error) {
	ua, err := sipgo.NewUA()
	if err != nil {
		return nil, fmt.Errorf("sipsrv: new user agent: %w", err)
	}
	srv, err := sipgo.NewServer(ua)
	if err != nil {
		ua.Close()
		return nil, fmt.Errorf("sipsrv: new server: %w", err)
	}
	u := &UAS{
		log:     log,
		ua:      ua,
		srv:     srv,
		pending: make(map[string]*PendingInvite),
		waiters: make(chan *PendingInvite, 64),
	}
	srv.OnRequest(sip.INVITE, u.handleInvite)
	srv.OnRequest(sip.ACK, u.handleAck)
	srv.OnRequest(sip.BYE, u.handleBye)
	srv.OnRequest(sip.CANCEL, u.handleCancel)
	return u, nil
}

// ListenAndServe binds transport (typically "udp") at addr and runs until
// ctx is canceled.
func (u *UAS) ListenAndServe(ctx context.Context, transport, addr string) error {
	return u.srv.ListenAndServe(ctx, transport, addr)
}

// Close tears down the user agent, releasing its transport listeners.
func (u *UAS) Close() error { return u.ua.Close() }

// OnBye registers a callback invoked when a BYE terminates a call this UAS
// already attached (used to cancel the matching ActiveCall).
func (u *UAS) OnBye(fn func(callID string)) { u.onBye = fn }

// Next blocks until a pending invite is available or ctx is canceled; this
// is what the `GET /call/sip` handler calls to attach the next waiting call.
func (u *UAS) Next(ctx context.Context) (*PendingInvite, error) {
	select {
	case p := <-u.waiters:
		return p, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Accept answers a parked invite with 200 OK carrying answerSDP.
func (u *UAS) Accept(callID, answerSDP string) error {
	u.mu.Lock()
	p, ok := u.pending[callID]
	u.mu.Unlock()
	if !ok {
		return fmt.Errorf("sipsrv: no pending invite for call %s", callID)
	}
	resp := sip.NewResponseFromRequest(p.req, sip.StatusOK, "OK", []byte(answerSDP))
	resp.AppendHeader(sip.NewHeader("Content-Type", "application/sdp"))
	return p.tx.Respond(resp)
}

// Reject answers a parked invite with the given SIP status code and removes
// it from the pending table.
func (u *UAS) Reject(callID string, code int, reason string) error {
	u.mu.Lock()
	p, ok := u.pending[callID]
	delete(u.pending, callID)
	u.mu.Unlock()
	if !ok {
		return fmt.Errorf("sipsrv: no pending invite for call %s", callID)
	}
	resp := sip.NewResponseFromRequest(p.req, sip.StatusCode(code), reason, nil)
	return p.tx.Respond(resp)
}

func (u *UAS) handleInvite(req *sip.Request, tx sip.ServerTransaction) {
	callID := req.CallID().Value()
	from := req.From()
	to := req.To()

	p := &PendingInvite{
		CallID:   callID,
		OfferSDP: string(req.Body()),
		req:      req,
		tx:       tx,
	}
	if from != nil {
		p.Caller = from.Address.User
	}
	if to != nil {
		p.Callee = to.Address.User
	}

	trying := sip.NewResponseFromRequest(req, sip.StatusTrying, "Trying", nil)
	if err := tx.Respond(trying); err != nil {
		u.log.Warnw("failed to send 100 Trying", "call", callID, "error", err)
		return
	}

	u.mu.Lock()
	u.pending[callID] = p
	u.mu.Unlock()

	select {
	case u.waiters <- p:
	default:
		u.log.Warnw("sip invite queue full, rejecting", "call", callID)
		u.Reject(callID, int(sip.StatusServiceUnavailable), "Service Unavailable")
	}
}

func (u *UAS) handleAck(req *sip.Request, tx sip.ServerTransaction) {
	// ACK has no response of its own; the dialog is now confirmed. Nothing
	// further to do until BYE, since media already started at Accept.
}

func (u *UAS) handleBye(req *sip.Request, tx sip.ServerTransaction) {
	callID := req.CallID().Value()
	u.mu.Lock()
	delete(u.pending, callID)
	u.mu.Unlock()

	resp := sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil)
	tx.Respond(resp)

	if u.onBye != nil {
		u.onBye(callID)
	}
}

func (u *UAS) handleCancel(req *sip.Request, tx sip.ServerTransaction) {
	callID := req.CallID().Value()
	u.mu.Lock()
	delete(u.pending, callID)
	u.mu.Unlock()

	resp := sip.NewResponseFromRequest(req, sip.StatusOK, "OK", nil)
	tx.Respond(resp)
}
