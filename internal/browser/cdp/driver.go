package cdp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/webpilot-org/webpilot/internal/browser"
	"github.com/webpilot-org/webpilot/internal/logger"
)

const navigateTimeout = 30 * time.Second

// Driver drives one page over the DevTools protocol.
type Driver struct {
	conn     *Conn
	viewport browser.Viewport
}

var _ browser.Driver = (*Driver)(nil)

// Connect discovers the browser's page target, attaches to it, and
// applies the viewport.
func Connect(ctx context.Context, devtoolsURL string, vp browser.Viewport) (*Driver, error) {
	wsURL, err := DiscoverPageTarget(ctx, devtoolsURL)
	if err != nil {
		return nil, err
	}
	conn, err := Dial(ctx, wsURL)
	if err != nil {
		return nil, err
	}

	d := &Driver{conn: conn, viewport: vp}
	if err := conn.Call(ctx, "Page.enable", nil, nil); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := conn.Call(ctx, "Emulation.setDeviceMetricsOverride", map[string]any{
		"width":             vp.Width,
		"height":            vp.Height,
		"deviceScaleFactor": 1,
		"mobile":            false,
	}, nil); err != nil {
		_ = conn.Close()
		return nil, err
	}
	logger.Info(ctx, "Browser session attached", "devtools", devtoolsURL, "viewport", fmt.Sprintf("%dx%d", vp.Width, vp.Height))
	return d, nil
}

// Navigate loads the URL and waits for the page load event.
func (d *Driver) Navigate(ctx context.Context, url string) error {
	ctx, cancel := context.WithTimeout(ctx, navigateTimeout)
	defer cancel()

	loadCtx, loadCancel := context.WithCancel(ctx)
	defer loadCancel()
	loaded := make(chan error, 1)
	go func() {
		_, err := d.conn.WaitEvent(loadCtx, "Page.loadEventFired")
		loaded <- err
	}()

	var res struct {
		ErrorText string `json:"errorText"`
	}
	if err := d.conn.Call(ctx, "Page.navigate", map[string]any{"url": url}, &res); err != nil {
		return err
	}
	if res.ErrorText != "" {
		return fmt.Errorf("cdp: navigate %s: %s", url, res.ErrorText)
	}
	if err := <-loaded; err != nil {
		return fmt.Errorf("cdp: waiting for load of %s: %w", url, err)
	}
	return nil
}

func (d *Driver) Click(ctx context.Context, x, y float64) error {
	for _, typ := range []string{"mousePressed", "mouseReleased"} {
		err := d.conn.Call(ctx, "Input.dispatchMouseEvent", map[string]any{
			"type":       typ,
			"x":          x,
			"y":          y,
			"button":     "left",
			"clickCount": 1,
		}, nil)
		if err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) TypeText(ctx context.Context, text string) error {
	return d.conn.Call(ctx, "Input.insertText", map[string]any{"text": text}, nil)
}

// keyCodes maps key names to Windows virtual key codes, which DevTools
// requires for keyDown events to reach page handlers.
var keyCodes = map[string]int{
	"Enter":     13,
	"Tab":       9,
	"Backspace": 8,
	"Delete":    46,
	"Escape":    27,
	"ArrowDown": 40,
	"ArrowUp":   38,
}

func (d *Driver) PressKey(ctx context.Context, key string) error {
	code, ok := keyCodes[key]
	if !ok {
		return fmt.Errorf("cdp: unsupported key %q", key)
	}
	for _, typ := range []string{"rawKeyDown", "keyUp"} {
		params := map[string]any{
			"type":                  typ,
			"key":                   key,
			"windowsVirtualKeyCode": code,
			"nativeVirtualKeyCode":  code,
		}
		if key == "Enter" && typ == "rawKeyDown" {
			params["text"] = "\r"
		}
		if err := d.conn.Call(ctx, "Input.dispatchKeyEvent", params, nil); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) Scroll(ctx context.Context, dx, dy int) error {
	return d.conn.Call(ctx, "Input.dispatchMouseEvent", map[string]any{
		"type":   "mouseWheel",
		"x":      float64(d.viewport.Width) / 2,
		"y":      float64(d.viewport.Height) / 2,
		"deltaX": dx,
		"deltaY": dy,
	}, nil)
}

func (d *Driver) URL(ctx context.Context) (string, error) {
	return d.Evaluate(ctx, "window.location.href")
}

// Evaluate runs the expression and returns its value as a string.
func (d *Driver) Evaluate(ctx context.Context, expression string) (string, error) {
	var res struct {
		Result struct {
			Value json.RawMessage `json:"value"`
		} `json:"result"`
		ExceptionDetails *struct {
			Text string `json:"text"`
		} `json:"exceptionDetails"`
	}
	err := d.conn.Call(ctx, "Runtime.evaluate", map[string]any{
		"expression":    expression,
		"returnByValue": true,
	}, &res)
	if err != nil {
		return "", err
	}
	if res.ExceptionDetails != nil {
		return "", fmt.Errorf("cdp: evaluate: %s", res.ExceptionDetails.Text)
	}

	var s string
	if json.Unmarshal(res.Result.Value, &s) == nil {
		return s, nil
	}
	return string(res.Result.Value), nil
}

func (d *Driver) Screenshot(ctx context.Context) ([]byte, error) {
	var res struct {
		Data string `json:"data"`
	}
	err := d.conn.Call(ctx, "Page.captureScreenshot", map[string]any{"format": "png"}, &res)
	if err != nil {
		return nil, err
	}
	png, err := base64.StdEncoding.DecodeString(res.Data)
	if err != nil {
		return nil, fmt.Errorf("cdp: decode screenshot: %w", err)
	}
	return png, nil
}

func (d *Driver) Viewport() browser.Viewport { return d.viewport }

// Cleanup detaches from the page. The browser itself keeps running.
func (d *Driver) Cleanup(ctx context.Context) error {
	logger.Debug(ctx, "Detaching browser session")
	return d.conn.Close()
}
