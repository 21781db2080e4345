package browser

import (
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// essentialTypes are never blocked by type: without them the page does not
// render the way a visitor sees it.
var essentialTypes = map[string]bool{
	"document":   true,
	"script":     true,
	"xhr":        true,
	"fetch":      true,
	"stylesheet": true,
}

type blockRules struct {
	types    map[string]bool
	patterns []string
}

func newBlockRules(types, patterns []string) blockRules {
	r := blockRules{types: make(map[string]bool, len(types))}
	for _, t := range types {
		r.types[normalizeType(t)] = true
	}
	for _, p := range patterns {
		if p != "" {
			r.patterns = append(r.patterns, p)
		}
	}
	return r
}

// normalizeType maps config names ("images", "fonts") and CDP resource
// types ("Image", "Font") onto one lowercase singular form.
func normalizeType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	switch t {
	case "images":
		return "image"
	case "fonts":
		return "font"
	case "stylesheets":
		return "stylesheet"
	}
	return t
}

func (r blockRules) shouldBlock(url, resType string) bool {
	for _, p := range r.patterns {
		if strings.Contains(url, p) {
			return true
		}
	}
	t := normalizeType(resType)
	if essentialTypes[t] {
		return false
	}
	return r.types[t]
}

// applyBlocking intercepts every request of page and aborts the ones the
// rules reject. The returned router must be stopped when the tab closes.
func applyBlocking(page *rod.Page, rules blockRules) *rod.HijackRouter {
	router := page.HijackRequests()

	router.MustAdd("*", func(ctx *rod.Hijack) {
		if rules.shouldBlock(ctx.Request.URL().String(), string(ctx.Request.Type())) {
			ctx.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		ctx.ContinueRequest(&proto.FetchContinueRequest{})
	})

	go router.Run()

	return router
}
