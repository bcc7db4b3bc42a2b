package fetcher

import (
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/hazyhaar/chatscribe/turnwatch/internal/dom"
)

// minText is the visible text below which a page is considered a shell.
const minText = 200

// Mount points left empty by client-rendered apps.
var shellMounts = cascadia.MustCompile("#root, #app, #__next, #__nuxt")

// Sufficient reports whether doc carries enough server-rendered text to be
// scanned without a browser: at least minText runes of visible body text,
// and no empty app mount point.
func Sufficient(doc *html.Node) bool {
	body := dom.Body(doc)
	if body == nil {
		return false
	}
	for _, mount := range cascadia.QueryAll(doc, shellMounts) {
		if mount.FirstChild == nil {
			return false
		}
	}
	if noscriptNag(doc) {
		return false
	}
	return len([]rune(dom.VisibleText(body))) >= minText
}

var noscript = cascadia.MustCompile("noscript")

// noscriptNag reports a <noscript> asking for JavaScript.
func noscriptNag(doc *html.Node) bool {
	for _, n := range cascadia.QueryAll(doc, noscript) {
		var b strings.Builder
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.TextNode {
				b.WriteString(c.Data)
			}
		}
		if strings.Contains(strings.ToLower(b.String()), "enable javascript") {
			return true
		}
	}
	return false
}
