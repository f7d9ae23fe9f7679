package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/webpilot-org/webpilot/internal/browser"
	"github.com/webpilot-org/webpilot/internal/perception"
	"github.com/webpilot-org/webpilot/internal/tools"
)

// clearFocusedField empties the focused input before new text is typed.
const clearFocusedField = `(() => {
	const el = document.activeElement;
	if (el && ('value' in el)) { el.value = ''; }
	return '';
})()`

// applyAction executes a browser invocation. Mutating invocations hold
// the session lock for their entire compound interaction.
func (e *Executor) applyAction(ctx context.Context, obs *perception.Observation, inv tools.Invocation) error {
	switch inv := inv.(type) {
	case tools.Click:
		el, ok := obs.Find(inv.ElementID)
		if !ok {
			return fmt.Errorf("element %d not found on current page", inv.ElementID)
		}
		x, y := el.PixelCenter(e.session.Driver().Viewport())
		return e.session.Act(ctx, func(drv browser.Driver) error {
			return drv.Click(ctx, x, y)
		})

	case tools.Type:
		el, ok := obs.Find(inv.ElementID)
		if !ok {
			return fmt.Errorf("element %d not found on current page", inv.ElementID)
		}
		x, y := el.PixelCenter(e.session.Driver().Viewport())
		return e.session.Act(ctx, func(drv browser.Driver) error {
			if err := drv.Click(ctx, x, y); err != nil {
				return err
			}
			if _, err := drv.Evaluate(ctx, clearFocusedField); err != nil {
				return err
			}
			return drv.TypeText(ctx, inv.Text)
		})

	case tools.PressEnter:
		return e.session.Act(ctx, func(drv browser.Driver) error {
			return drv.PressKey(ctx, "Enter")
		})

	case tools.Navigate:
		return e.session.Act(ctx, func(drv browser.Driver) error {
			return drv.Navigate(ctx, inv.URL)
		})

	case tools.Scroll:
		dx, dy := scrollDeltas(inv.Direction, inv.Amount)
		return e.session.Act(ctx, func(drv browser.Driver) error {
			return drv.Scroll(ctx, dx, dy)
		})

	case tools.ScrollToResult:
		el, ok := obs.Find(inv.ElementID)
		if !ok {
			return fmt.Errorf("element %d not found on current page", inv.ElementID)
		}
		vp := e.session.Driver().Viewport()
		_, cy := el.Center()
		// Bring the element's center to the middle of the viewport.
		dy := int((cy - 0.5) * float64(vp.Height))
		return e.session.Act(ctx, func(drv browser.Driver) error {
			return drv.Scroll(ctx, 0, dy)
		})

	case tools.Wait:
		// Waiting holds no lock; other workers may act meanwhile.
		select {
		case <-time.After(time.Duration(inv.Seconds * float64(time.Second))):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}

	default:
		return fmt.Errorf("invocation %s is not a browser action", inv.Name())
	}
}

func scrollDeltas(direction string, amount int) (dx, dy int) {
	switch direction {
	case "up":
		return 0, -amount
	case "down":
		return 0, amount
	case "left":
		return -amount, 0
	default:
		return amount, 0
	}
}
