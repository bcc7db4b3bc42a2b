package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// NavigateTimeout bounds the initial navigation of a tab.
const NavigateTimeout = 30 * time.Second

// Tab is one chat page open in the managed Chrome.
type Tab struct {
	Page    *rod.Page
	URL     string
	PageID  string
	Stealth StealthLevel

	router *rod.HijackRouter
}

// OpenTab creates a tab, applies stealth and resource blocking, and
// navigates to url. It does not wait for load: the observer follows
// document.readyState itself.
func OpenTab(ctx context.Context, mgr *Manager, url, pageID string, level StealthLevel) (*Tab, error) {
	b := mgr.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}

	var (
		page *rod.Page
		err  error
	)
	if level >= LevelHeadless {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{})
	}
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	t := &Tab{Page: page, URL: url, PageID: pageID, Stealth: level}
	if len(mgr.cfg.ResourceBlocking) > 0 {
		t.router = blockResources(page, mgr.cfg.ResourceBlocking)
	}

	navCtx, cancel := context.WithTimeout(ctx, NavigateTimeout)
	defer cancel()
	if err := page.Context(navCtx).Navigate(url); err != nil {
		t.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", url, err)
	}
	return t, nil
}

// Close stops request interception and closes the tab.
func (t *Tab) Close() error {
	if t.router != nil {
		t.router.Stop()
		t.router = nil
	}
	if t.Page != nil {
		return t.Page.Close()
	}
	return nil
}
