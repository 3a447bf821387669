// Package router is the pod-to-node router (spec §4.D): a chained request
// handler combining middleware ("onion model": before on the way in, after
// in reverse on the way out) with intercept handlers (first whose CanHandle
// succeeds serves the request and terminates the chain). Grounded on the
// teacher's reverse-proxy handling (ais/proxy.go's reverseRequest/rproxy,
// generalized here from a single fixed-target httputil.ReverseProxy per
// remote node into the spec's pod-routing / edge-direct / WebSocket-tunnel
// three-way decision) and on spec §9's tagged-variant design note.
package router

import (
	"fmt"
	"net/http"

	"github.com/xpod/core/cmn"
	"github.com/xpod/core/metrics"
)

// Middleware runs Before on the way in and After (in reverse registration
// order) on the way out. Either field may be nil.
type Middleware struct {
	Before func(r *http.Request) error
	After  func(r *http.Request, err error) error
}

// Intercept is the tagged variant's other arm: the first registered
// Intercept whose CanHandle returns true serves the request and ends the
// chain.
type Intercept interface {
	CanHandle(r *http.Request) bool
	Handle(w http.ResponseWriter, r *http.Request) error
}

// Chain assembles the onion: every middleware's Before, then the first
// matching Intercept's Handle, then every middleware's After in reverse
// (spec §4.D, §9 "Router handler chain").
type Chain struct {
	middlewares []Middleware
	intercepts  []Intercept
	notFound    http.Handler
}

func NewChain() *Chain { return &Chain{} }

func (c *Chain) Use(m Middleware) *Chain {
	c.middlewares = append(c.middlewares, m)
	return c
}

func (c *Chain) Intercept(h Intercept) *Chain {
	c.intercepts = append(c.intercepts, h)
	return c
}

// NotFound overrides the handler invoked when no intercept's CanHandle
// matches (default: 404 via cmn.WriteErr).
func (c *Chain) NotFound(h http.Handler) *Chain {
	c.notFound = h
	return c
}

func (c *Chain) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := cmn.Component("router")

	for _, m := range c.middlewares {
		if m.Before == nil {
			continue
		}
		if err := m.Before(r); err != nil {
			log.Warn().Err(err).Str("path", r.URL.Path).Msg("middleware before-phase failed")
			cmn.WriteErr(w, err)
			c.runAfters(r, err)
			return
		}
	}

	var handlerErr error
	handled := false
	var interceptName string
	for _, ih := range c.intercepts {
		if !ih.CanHandle(r) {
			continue
		}
		interceptName = fmt.Sprintf("%T", ih)
		handlerErr = ih.Handle(w, r)
		handled = true
		break
	}

	if !handled {
		metrics.RouterRequestsTotal.WithLabelValues("none", "unmatched").Inc()
		if c.notFound != nil {
			c.notFound.ServeHTTP(w, r)
		} else {
			cmn.WriteErr(w, cmn.NewError(cmn.KindNotFound, "no router handler matched "+r.URL.Path))
		}
	} else if handlerErr != nil {
		metrics.RouterRequestsTotal.WithLabelValues(interceptName, "error").Inc()
		log.Warn().Err(handlerErr).Str("path", r.URL.Path).Msg("intercept handler failed")
	} else {
		metrics.RouterRequestsTotal.WithLabelValues(interceptName, "ok").Inc()
	}

	c.runAfters(r, handlerErr)
}

// runAfters unwinds middleware After in reverse registration order; an
// after-phase error overrides the absence of a prior error, per spec §4.D.
func (c *Chain) runAfters(r *http.Request, err error) {
	for i := len(c.middlewares) - 1; i >= 0; i-- {
		m := c.middlewares[i]
		if m.After == nil {
			continue
		}
		if aerr := m.After(r, err); aerr != nil {
			err = aerr
		}
	}
}
