// CLAUDE:SUMMARY Fails requests for heavy resource types (images, fonts, media, stylesheets) on chat tabs.
package browser

import (
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// blockResources hijacks page requests and fails those whose resource
// type is listed. The returned router must be stopped with the page.
func blockResources(page *rod.Page, types []string) *rod.HijackRouter {
	blocked := blockSet(types)
	router := page.HijackRequests()
	router.MustAdd("*", func(h *rod.Hijack) {
		if blocked[resourceKey(h.Request.Type())] {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	go router.Run()
	return router
}

func blockSet(types []string) map[string]bool {
	set := make(map[string]bool, len(types))
	for _, t := range types {
		set[strings.ToLower(strings.TrimSpace(t))] = true
	}
	return set
}

// resourceKey maps a CDP resource type to its config name.
func resourceKey(t proto.NetworkResourceType) string {
	switch lower := strings.ToLower(string(t)); lower {
	case "image":
		return "images"
	case "font":
		return "fonts"
	case "stylesheet":
		return "stylesheets"
	default:
		return lower
	}
}
