// ABOUTME: Browser automation tool backed by a lazily launched headless Chrome
// ABOUTME: One tool of the fixed custom toolset exposed to agent sessions

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"
)

const browserActionTimeout = 30 * time.Second

const browserPromptDoc = `## Browser Tool

You have access to a ` + "`browser`" + ` tool for web automation:
- **navigate**: Navigate to a URL
- **snapshot**: Get the current page text content
- **screenshot**: Capture a page image (returns the file path)
- **click**: Click the element matching a CSS selector
- **type**: Type text into the element matching a selector
- **fill**: Clear and fill an input field
- **scroll**: Scroll the page (up/down)
- **extract**: Get text from the element matching a selector
- **wait**: Wait for an element to appear
- **back/forward**: Navigate browser history
- **close**: Close the browser

Pass {"action": "...", "url": "...", "selector": "...", "text": "..."} as arguments.`

// browserArgs are the model-provided arguments of one browser call.
type browserArgs struct {
	Action    string `json:"action"`
	URL       string `json:"url,omitempty"`
	Selector  string `json:"selector,omitempty"`
	Text      string `json:"text,omitempty"`
	Direction string `json:"direction,omitempty"`
}

// BrowserTool drives a headless browser. The browser process is launched on
// first use and shared across calls until the close action or Shutdown.
type BrowserTool struct {
	logger *slog.Logger

	mu      sync.Mutex
	browser *rod.Browser
	page    *rod.Page
}

// NewBrowserTool creates the browser tool. Nothing is launched until the
// first action.
func NewBrowserTool(logger *slog.Logger) *BrowserTool {
	if logger == nil {
		logger = slog.Default()
	}
	return &BrowserTool{logger: logger.With("component", "browser-tool")}
}

// Name implements runtime.Tool.
func (t *BrowserTool) Name() string { return "browser" }

// PromptDoc implements runtime.Tool.
func (t *BrowserTool) PromptDoc() string { return browserPromptDoc }

// Execute implements runtime.Tool.
func (t *BrowserTool) Execute(ctx context.Context, raw json.RawMessage) (string, error) {
	var args browserArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", fmt.Errorf("parsing browser arguments: %w", err)
	}
	if args.Action == "" {
		return "", errors.New("browser action is required")
	}

	ctx, cancel := context.WithTimeout(ctx, browserActionTimeout)
	defer cancel()

	t.mu.Lock()
	defer t.mu.Unlock()

	if args.Action == "close" {
		return "browser closed", t.closeLocked()
	}

	page, err := t.pageLocked(ctx)
	if err != nil {
		return "", err
	}
	return t.runAction(page, args)
}

func (t *BrowserTool) runAction(page *rod.Page, args browserArgs) (string, error) {
	switch args.Action {
	case "navigate":
		if args.URL == "" {
			return "", errors.New("navigate requires a url")
		}
		if err := page.Navigate(args.URL); err != nil {
			return "", fmt.Errorf("navigating to %s: %w", args.URL, err)
		}
		if err := page.WaitLoad(); err != nil {
			return "", fmt.Errorf("waiting for page load: %w", err)
		}
		return "navigated to " + args.URL, nil

	case "snapshot":
		text, err := page.Eval(`() => document.body ? document.body.innerText : ""`)
		if err != nil {
			return "", fmt.Errorf("reading page text: %w", err)
		}
		return text.Value.Str(), nil

	case "screenshot":
		data, err := page.Screenshot(false, nil)
		if err != nil {
			return "", fmt.Errorf("capturing screenshot: %w", err)
		}
		path := filepath.Join(os.TempDir(), "openbot-shot-"+uuid.New().String()+".png")
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return "", fmt.Errorf("saving screenshot: %w", err)
		}
		return path, nil

	case "click":
		el, err := t.element(page, args.Selector)
		if err != nil {
			return "", err
		}
		if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
			return "", fmt.Errorf("clicking %s: %w", args.Selector, err)
		}
		return "clicked " + args.Selector, nil

	case "type":
		el, err := t.element(page, args.Selector)
		if err != nil {
			return "", err
		}
		if err := el.Input(args.Text); err != nil {
			return "", fmt.Errorf("typing into %s: %w", args.Selector, err)
		}
		return "typed into " + args.Selector, nil

	case "fill":
		el, err := t.element(page, args.Selector)
		if err != nil {
			return "", err
		}
		if err := el.SelectAllText(); err == nil {
			_ = el.Input("")
		}
		if err := el.Input(args.Text); err != nil {
			return "", fmt.Errorf("filling %s: %w", args.Selector, err)
		}
		return "filled " + args.Selector, nil

	case "extract":
		el, err := t.element(page, args.Selector)
		if err != nil {
			return "", err
		}
		text, err := el.Text()
		if err != nil {
			return "", fmt.Errorf("extracting text from %s: %w", args.Selector, err)
		}
		return text, nil

	case "scroll":
		delta := 600
		if strings.EqualFold(args.Direction, "up") {
			delta = -600
		}
		if _, err := page.Eval(`(dy) => window.scrollBy(0, dy)`, delta); err != nil {
			return "", fmt.Errorf("scrolling: %w", err)
		}
		return "scrolled " + args.Direction, nil

	case "wait":
		if _, err := t.element(page, args.Selector); err != nil {
			return "", err
		}
		return args.Selector + " appeared", nil

	case "back":
		if err := page.NavigateBack(); err != nil {
			return "", fmt.Errorf("navigating back: %w", err)
		}
		return "went back", nil

	case "forward":
		if err := page.NavigateForward(); err != nil {
			return "", fmt.Errorf("navigating forward: %w", err)
		}
		return "went forward", nil

	default:
		return "", fmt.Errorf("unknown browser action %q", args.Action)
	}
}

func (t *BrowserTool) element(page *rod.Page, selector string) (*rod.Element, error) {
	if selector == "" {
		return nil, errors.New("a selector is required")
	}
	el, err := page.Element(selector)
	if err != nil {
		return nil, fmt.Errorf("finding %s: %w", selector, err)
	}
	return el, nil
}

func (t *BrowserTool) pageLocked(ctx context.Context) (*rod.Page, error) {
	if t.page != nil {
		return t.page.Context(ctx), nil
	}

	controlURL, err := launcher.New().Headless(true).Launch()
	if err != nil {
		return nil, fmt.Errorf("launching browser: %w", err)
	}
	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connecting to browser: %w", err)
	}
	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = browser.Close()
		return nil, fmt.Errorf("opening page: %w", err)
	}

	t.logger.Info("browser launched")
	t.browser = browser
	t.page = page
	return page.Context(ctx), nil
}

func (t *BrowserTool) closeLocked() error {
	if t.browser == nil {
		return nil
	}
	err := t.browser.Close()
	t.browser = nil
	t.page = nil
	return err
}

// Shutdown closes the browser if one was launched.
func (t *BrowserTool) Shutdown() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.closeLocked(); err != nil {
		t.logger.Warn("closing browser failed", "error", err)
	}
}
