// Package app wires the CSCF core's collaborators (HSS client,
// registration cache, AS chain table, ACR factory, chain manager) into
// a running SIP proxy on top of github.com/emiago/sipgo.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"

	"github.com/sebas/cscf/internal/cscf/acr"
	"github.com/sebas/cscf/internal/cscf/api"
	"github.com/sebas/cscf/internal/cscf/aschain"
	"github.com/sebas/cscf/internal/cscf/chain"
	"github.com/sebas/cscf/internal/cscf/config"
	"github.com/sebas/cscf/internal/cscf/hss"
	"github.com/sebas/cscf/internal/cscf/ifc"
	"github.com/sebas/cscf/internal/cscf/location"
	"github.com/sebas/cscf/internal/cscf/message"
)

const asResponseTimeout = 8 * time.Second

// CSCF is the running proxy: a SIP user agent bound to a chain
// manager that fetches IFCs, walks the AS chain, and reports ACRs.
type CSCF struct {
	cfg *config.Config

	ua     *sipgo.UserAgent
	srv    *sipgo.Server
	client *sipgo.Client

	hssClient hss.Client
	locCache  *location.Cache
	table     *aschain.Table
	acrFact   acr.Factory
	manager   *chain.Manager
	apiServer *api.Server
}

// New builds a CSCF from cfg; the caller must call Close when done.
func New(cfg *config.Config) (*CSCF, error) {
	ua, err := sipgo.NewUA()
	if err != nil {
		return nil, fmt.Errorf("app: create user agent: %w", err)
	}
	srv, err := sipgo.NewServer(ua)
	if err != nil {
		ua.Close()
		return nil, fmt.Errorf("app: create server: %w", err)
	}
	client, err := sipgo.NewClient(ua)
	if err != nil {
		ua.Close()
		return nil, fmt.Errorf("app: create client: %w", err)
	}

	hssClient := hss.NewHTTPClient(cfg.HSSBaseURL)
	locCache := location.NewCache(hssClient, location.CacheConfig{
		CleanupInterval: time.Duration(cfg.RegCacheCleanupInterval) * time.Second,
		EntryTTL:        time.Duration(cfg.RegCacheEntryTTL) * time.Second,
	})

	var sink acr.Sink
	if cfg.RfSinkURL != "" {
		sink = acr.NewHTTPSink(cfg.RfSinkURL)
	}
	acrFact := acr.NewFactory(nodeRoleFromString(cfg.NodeRole), sink)

	table := aschain.NewTable()
	manager := chain.NewManager(locCache, table, acrFact, cfg.ODITokenHost)

	apiServer := api.NewServer("0.0.0.0:8080", table, locCache)

	c := &CSCF{
		cfg:       cfg,
		ua:        ua,
		srv:       srv,
		client:    client,
		hssClient: hssClient,
		locCache:  locCache,
		table:     table,
		acrFact:   acrFact,
		manager:   manager,
		apiServer: apiServer,
	}

	srv.OnRequest(sip.INVITE, c.handleInitialOrReturning)
	srv.OnRequest(sip.MESSAGE, c.handleInitialOrReturning)

	slog.Info("[APP] CSCF core ready", "role", cfg.NodeRole, "hss", cfg.HSSBaseURL)
	return c, nil
}

// Start binds the SIP listener and the operational HTTP API.
func (c *CSCF) Start(ctx context.Context) error {
	if err := c.apiServer.Start(); err != nil {
		return fmt.Errorf("app: start API server: %w", err)
	}

	listenAddr := fmt.Sprintf("%s:%d", c.cfg.BindAddr, c.cfg.Port)
	slog.Info("[APP] starting SIP server", "addr", listenAddr)
	return c.srv.ListenAndServe(ctx, "udp", listenAddr)
}

// Close releases every collaborator that owns a background goroutine.
func (c *CSCF) Close() error {
	c.locCache.Close()
	c.apiServer.Stop()
	return c.ua.Close()
}

// handleInitialOrReturning dispatches an incoming request either to a
// fresh AS-chain walk (no ODI Route header, or one this node does not
// recognize) or to the pending chain a returning AS request's ODI
// token identifies.
func (c *CSCF) handleInitialOrReturning(req *sip.Request, tx sip.ServerTransaction) {
	msg := message.FromRequest(req)

	if routes := msg.Headers("Route"); len(routes) > 0 {
		if token, ok := chain.ExtractODIToken(routes[0]); ok {
			if link, found := c.manager.Resume(token); found {
				c.walk(req, tx, msg, link)
				return
			}
			slog.Warn("[APP] unknown ODI token on returning request", "call_id", msg.CallID())
		}
	}

	sessionCase := c.sessionCaseFor(req)
	link, err := c.manager.Begin(context.Background(), msg, sessionCase, msg.CallID())
	if err != nil {
		slog.Warn("[APP] failed to begin AS chain", "error", err, "call_id", msg.CallID())
		c.respond(req, tx, sip.StatusNotFound, "Not Found")
		return
	}
	c.walk(req, tx, msg, link)
}

// sessionCaseFor picks Originating when this node's advertised address
// is not the request's destination realm, Terminating otherwise — a
// single-node stand-in for the orig/term split a full IMS deployment
// spreads across separate S-CSCF invocations.
func (c *CSCF) sessionCaseFor(req *sip.Request) ifc.SessionCase {
	if req.Recipient.Host == c.cfg.AdvertiseAddr {
		return ifc.Terminating
	}
	return ifc.Originating
}

// walk advances link until the chain completes, aborts, or names the
// next Application Server, forwarding the request accordingly.
func (c *CSCF) walk(req *sip.Request, tx sip.ServerTransaction, msg message.Message, link aschain.AsChainLink) {
	disposition, link, route := c.manager.Advance(link, msg)

	switch disposition {
	case aschain.Complete:
		c.forward(req, tx, req.Recipient.String(), "", "", link)
		link.Release()

	case aschain.Stop:
		c.respond(req, tx, sip.StatusServerInternalError, "AS Chain Aborted")
		link.Release()

	case aschain.Skip:
		token, _ := chain.ExtractODIToken(route)
		asURI := link.ServerURI()
		c.manager.Forwarded(token, link)
		c.forward(req, tx, asURI, route, token, link)

	default:
		c.respond(req, tx, sip.StatusServerInternalError, "Unexpected disposition")
		link.Release()
	}
}

// forward proxies req toward target (a SIP URI string; the original
// Request-URI when target is empty), prepending routeHeader (the ODI
// Route, if any) and relaying the eventual final response back to tx.
// token identifies the pending AS-chain step the Manager is tracking
// for this hop, or "" when the chain has already completed (no
// default-handling decision applies on timeout). link is the chain
// step this hop belongs to: every response read here is reported to
// it (OnResponse, and RxResponse/TxResponse against its ACR) so that
// as_info and the eventual Rf record reflect what the AS actually
// returned, not just whether the step was walked.
func (c *CSCF) forward(req *sip.Request, tx sip.ServerTransaction, target, routeHeader, token string, link aschain.AsChainLink) {
	out := req.Clone().(*sip.Request)

	if target != "" {
		var recipient sip.Uri
		if err := sip.ParseUri(target, &recipient); err != nil {
			slog.Error("[APP] invalid Application Server URI", "uri", target, "error", err)
			c.respond(req, tx, sip.StatusServerInternalError, "Invalid AS URI")
			return
		}
		out.Recipient = recipient
	}
	if routeHeader != "" {
		out.AppendHeader(sip.NewHeader("Route", routeHeader))
	}

	link.TxRequest(message.FromRequest(out), time.Now())

	ctx, cancel := context.WithTimeout(context.Background(), asResponseTimeout)
	defer cancel()

	clientTx, err := c.client.TransactionRequest(ctx, out)
	if err != nil {
		slog.Error("[APP] failed to forward request", "error", err, "target", target)
		c.respond(req, tx, sip.StatusServerInternalError, "Forwarding Failed")
		return
	}

	for {
		select {
		case resp := <-clientTx.Responses():
			if resp == nil {
				slog.Debug("[APP] AS transaction ended without a response", "target", target)
				if token != "" {
					c.handleASTimeout(req, tx, token)
				}
				return
			}

			link.OnResponse(int(resp.StatusCode))
			respMsg := message.FromResponse(resp)
			link.RxResponse(respMsg, time.Now())

			if resp.StatusCode < 200 {
				// Provisional: the AS is alive but the dialog isn't
				// settled yet, keep waiting for the final response.
				continue
			}

			link.TxResponse(respMsg, time.Now())
			tx.Respond(resp)
			return

		case <-ctx.Done():
			slog.Debug("[APP] AS did not respond in time", "target", target)
			if token != "" {
				c.handleASTimeout(req, tx, token)
			}
			return
		}
	}
}

// handleASTimeout consults the timed-out step's DefaultHandling:
// Terminate aborts the chain with an error response; Continue resumes
// the walk at the next rule using the original request.
func (c *CSCF) handleASTimeout(req *sip.Request, tx sip.ServerTransaction, token string) {
	link, dh, tracked := c.manager.Timeout(token)
	if !tracked {
		return
	}

	if dh == ifc.Terminate {
		c.respond(req, tx, sip.StatusServerInternalError, "Application Server Timeout")
		link.Release()
		return
	}

	c.walk(req, tx, message.FromRequest(req), link.Advance())
}

func (c *CSCF) respond(req *sip.Request, tx sip.ServerTransaction, status sip.StatusCode, reason string) {
	resp := sip.NewResponseFromRequest(req, status, reason, nil)
	if err := tx.Respond(resp); err != nil {
		slog.Error("[APP] failed to send response", "error", err)
	}
}

func nodeRoleFromString(s string) acr.NodeRole {
	switch s {
	case "pcscf":
		return acr.ProxyCSCF
	case "icscf":
		return acr.InterrogatingCSCF
	default:
		return acr.ServingCSCF
	}
}
