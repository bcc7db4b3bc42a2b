package browser

import (
	"testing"
	"time"

	"github.com/go-rod/rod/lib/proto"
)

func TestParseStealthLevel(t *testing.T) {
	cases := []struct {
		in      string
		want    StealthLevel
		wantErr bool
	}{
		{"", LevelHeadless, false},
		{"0", LevelHTTP, false},
		{"http", LevelHTTP, false},
		{"Headless", LevelHeadless, false},
		{"2", LevelHeadful, false},
		{" headful ", LevelHeadful, false},
		{"turbo", LevelHeadless, true},
	}
	for _, tc := range cases {
		got, err := ParseStealthLevel(tc.in, LevelHeadless)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParseStealthLevel(%q): err=%v, wantErr=%v", tc.in, err, tc.wantErr)
		}
		if got != tc.want {
			t.Errorf("ParseStealthLevel(%q): got %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestResourceKey(t *testing.T) {
	blocked := blockSet([]string{"Images", "fonts", " media"})
	cases := []struct {
		typ  proto.NetworkResourceType
		want bool
	}{
		{proto.NetworkResourceTypeImage, true},
		{proto.NetworkResourceTypeFont, true},
		{proto.NetworkResourceTypeMedia, true},
		{proto.NetworkResourceTypeStylesheet, false},
		{proto.NetworkResourceTypeDocument, false},
		{proto.NetworkResourceTypeXHR, false},
	}
	for _, tc := range cases {
		if got := blocked[resourceKey(tc.typ)]; got != tc.want {
			t.Errorf("blocked[%s]: got %v, want %v", tc.typ, got, tc.want)
		}
	}
}

func TestConfigDefaults(t *testing.T) {
	m := NewManager(Config{})
	if m.cfg.MemoryLimit != 1<<30 {
		t.Errorf("MemoryLimit: got %d", m.cfg.MemoryLimit)
	}
	if m.cfg.RecycleInterval != 4*time.Hour {
		t.Errorf("RecycleInterval: got %v", m.cfg.RecycleInterval)
	}
	if m.cfg.Stealth != LevelHeadless {
		t.Errorf("Stealth: got %s", m.cfg.Stealth)
	}
	if m.cfg.XvfbDisplay != ":99" || m.cfg.Logger == nil {
		t.Errorf("XvfbDisplay/Logger defaults not applied")
	}
	if m.Browser() != nil {
		t.Error("Browser before Start should be nil")
	}
}

func TestClosedManager(t *testing.T) {
	m := NewManager(Config{})
	m.Close()
	if _, err := m.Start(t.Context()); err != ErrClosed {
		t.Errorf("Start after Close: got %v, want ErrClosed", err)
	}
}

func TestDisplaySocket(t *testing.T) {
	cases := []struct {
		in, want string
		wantErr  bool
	}{
		{":99", "/tmp/.X11-unix/X99", false},
		{":0.0", "/tmp/.X11-unix/X0", false},
		{"99", "", true},
		{":", "", true},
		{"host:1", "", true},
	}
	for _, tc := range cases {
		got, err := displaySocket(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("displaySocket(%q): err=%v, wantErr=%v", tc.in, err, tc.wantErr)
		}
		if got != tc.want {
			t.Errorf("displaySocket(%q): got %q, want %q", tc.in, got, tc.want)
		}
	}
}
