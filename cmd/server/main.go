// Command server runs the voice agent process: it loads configuration,
// starts the CDR pipeline and RTP port allocator, and serves the three
// external entry points a deployment drives calls through — a
// WebSocket control channel for WebSocket calls, the same control channel
// offering a WebRTC peer connection instead of inline audio, and a SIP
// attach point that hands a parked INVITE to whichever client calls it
// next. Routes are registered in the usual gin style, plain HTTP/WebSocket
// handlers rather than gRPC streaming.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/restsend/active-call/internal/appstate"
	"github.com/restsend/active-call/internal/call"
	"github.com/restsend/active-call/internal/config"
	"github.com/restsend/active-call/internal/event"
	"github.com/restsend/active-call/internal/logx"
	"github.com/restsend/active-call/internal/sipsrv"
	"github.com/restsend/active-call/internal/wsio"
)

// registry tracks live calls by session id so the SIP UAS's BYE callback
// and the HTTP handlers share one lookup instead of each keeping their own.
type registry struct {
	mu    sync.Mutex
	calls map[string]*call.ActiveCall
}

func newRegistry() *registry { return &registry{calls: make(map[string]*call.ActiveCall)} }

func (r *registry) put(id string, c *call.ActiveCall) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[id] = c
}

func (r *registry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.calls, id)
}

func (r *registry) get(id string) (*call.ActiveCall, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[id]
	return c, ok
}

func main() {
	configPath := flag.String("config", "", "path to a YAML/JSON/TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logx.NewDevelopment().Errorw("config load failed", "error", err)
		os.Exit(1)
	}

	log := logx.New(cfg.LogFile, cfg.Debug)

	app, err := appstate.New(cfg, log)
	if err != nil {
		log.Errorw("appstate init failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		app.Serve(ctx)
	}()

	uas, err := sipsrv.NewUAS(log)
	if err != nil {
		log.Errorw("sip uas init failed", "error", err)
		os.Exit(1)
	}
	reg := newRegistry()
	uas.OnBye(func(callID string) {
		if c, ok := reg.get(callID); ok {
			c.Cancel()
		}
	})

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := uas.ListenAndServe(ctx, "udp", cfg.SIPBindAddr); err != nil && ctx.Err() == nil {
			log.Errorw("sip uas stopped", "error", err)
		}
	}()

	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/call", callHandler(ctx, app, reg, call.TypeWebSocket))
	router.GET("/call/webrtc", callHandler(ctx, app, reg, call.TypeWebRTC))
	router.GET("/call/sip", sipAttachHandler(ctx, app, reg, uas))

	srv := &http.Server{Addr: cfg.BindAddr, Handler: router}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorw("http server stopped", "error", err)
		}
	}()

	log.Infow("voice agent server started", "bindAddr", cfg.BindAddr, "sipBindAddr", cfg.SIPBindAddr)

	<-ctx.Done()
	log.Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
	uas.Close()
	app.Stop(shutdownCtx)

	wg.Wait()
}

// sessionParams holds the query-string knobs every call endpoint accepts
// (id?, dump_events?, ping_interval?, server_side_track?).
type sessionParams struct {
	id              string
	dumpEvents      bool
	pingInterval    time.Duration
	serverSideTrack string
}

func parseSessionParams(c *gin.Context, cfg *config.Config) sessionParams {
	id := c.Query("id")
	if id == "" {
		id = uuid.NewString()
	}
	dump := cfg.DumpEvents
	if v := c.Query("dump_events"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			dump = b
		}
	}
	ping := cfg.PingInterval
	if v := c.Query("ping_interval"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			ping = time.Duration(secs) * time.Second
		}
	}
	return sessionParams{
		id:              id,
		dumpEvents:      dump,
		pingInterval:    ping,
		serverSideTrack: c.Query("server_side_track"),
	}
}

// callHandler serves both `GET /call` and `GET /call/webrtc`: both are a
// WebSocket control channel, differing only in the Call's callType (and
// therefore whether inbound/outbound audio travels as inline binary WS
// frames or over a separately negotiated RTP/SRTP leg).
func callHandler(parent context.Context, app *appstate.AppState, reg *registry, callType call.Type) gin.HandlerFunc {
	return func(c *gin.Context) {
		params := parseSessionParams(c, app.Config)

		conn, err := wsio.Upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			app.Log.Warnw("websocket upgrade failed", "error", err)
			return
		}

		var audioTx chan []byte
		var audioRx <-chan []byte
		if callType == call.TypeWebSocket {
			ch := make(chan []byte, 64)
			audioTx, audioRx = ch, ch
		}

		dump, err := app.OpenDumpSink(params.id, time.Now())
		if err != nil {
			app.Log.Warnw("dump sink open failed, continuing without it", "call", params.id, "error", err)
		}

		ac := app.NewCall(parent, params.id, callType, "", "", app.NewDialogue(), dump, audioRx)
		if callType != call.TypeWebSocket {
			ac.SetServerTrackID(params.serverSideTrack)
		}

		reg.put(params.id, ac)
		defer reg.remove(params.id)

		handler := wsio.NewHandler(conn, app.Log, ac, audioTx, params.pingInterval)
		handler.Run(parent)
	}
}

// sipAttachHandler serves `GET /call/sip`: it blocks for the next parked SIP
// INVITE, attaches a WebSocket control channel to it exactly like the other
// two endpoints, and answers the INVITE with the local SDP the engine
// publishes when it handles the Invite command.
func sipAttachHandler(parent context.Context, app *appstate.AppState, reg *registry, uas *sipsrv.UAS) gin.HandlerFunc {
	return func(c *gin.Context) {
		invite, err := uas.Next(c.Request.Context())
		if err != nil {
			c.Status(http.StatusServiceUnavailable)
			return
		}

		params := parseSessionParams(c, app.Config)
		if c.Query("id") == "" {
			params.id = invite.CallID
		}

		conn, err := wsio.Upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			app.Log.Warnw("websocket upgrade failed", "error", err)
			uas.Reject(invite.CallID, 500, "Internal Server Error")
			return
		}

		dump, err := app.OpenDumpSink(params.id, time.Now())
		if err != nil {
			app.Log.Warnw("dump sink open failed, continuing without it", "call", params.id, "error", err)
		}

		ac := app.NewCall(parent, params.id, call.TypeSIP, invite.Caller, invite.Callee, app.NewDialogue(), dump, nil)
		ac.SetServerTrackID(params.serverSideTrack)
		reg.put(invite.CallID, ac)
		defer reg.remove(invite.CallID)

		// Hand the offer to the engine as an Invite command; handling it
		// builds the SIP track and publishes an EvAnswer carrying the local
		// SDP, which is what actually resolves the still-pending SIP
		// transaction.
		go watchForSIPAnswer(ac, uas, invite.CallID)

		ac.EnqueueCommand(event.Command{
			Tag:    event.CmdInvite,
			Option: &event.CallOption{OfferSDP: invite.OfferSDP},
		})

		handler := wsio.NewHandler(conn, app.Log, ac, nil, params.pingInterval)
		handler.Run(parent)
	}
}

// watchForSIPAnswer resolves the SIP INVITE transaction once the attached
// call negotiates local media, independent of whatever the control channel
// itself forwards to the client.
func watchForSIPAnswer(ac *call.ActiveCall, uas *sipsrv.UAS, callID string) {
	events, unsubscribe := ac.Subscribe()
	defer unsubscribe()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Tag == event.EvAnswer {
				uas.Accept(callID, ev.SDP)
				return
			}
			if ev.Tag == event.EvHangup {
				return
			}
		case <-ac.Done():
			return
		}
	}
}
