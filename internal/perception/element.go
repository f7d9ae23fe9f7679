// Package perception turns raw screenshots into structured observations
// of the page through an external screen-parser service.
package perception

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/webpilot-org/webpilot/internal/browser"
)

// VisualElementIDBase is the first id assigned to elements discovered by
// visual analysis. Parser-detected elements stay below this value so the
// two namespaces never collide.
const VisualElementIDBase = 9000

// Element is one detected page element. Coordinates are normalized to
// the [0,1] range relative to the viewport.
type Element struct {
	ID          int        `json:"id"`
	Type        string     `json:"type"`
	BBox        [4]float64 `json:"bbox"`
	Content     string     `json:"content"`
	Interactive bool       `json:"interactive"`
	DOM         *DOMDetail `json:"dom,omitempty"`
}

// DOMDetail carries DOM-level attributes fetched on demand.
type DOMDetail struct {
	Tag        string            `json:"tag"`
	Attributes map[string]string `json:"attributes"`
	Text       string            `json:"text"`
}

// Center returns the normalized center point of the element.
func (e Element) Center() (x, y float64) {
	return (e.BBox[0] + e.BBox[2]) / 2, (e.BBox[1] + e.BBox[3]) / 2
}

// PixelCenter translates the element center into viewport pixels.
func (e Element) PixelCenter(vp browser.Viewport) (x, y float64) {
	cx, cy := e.Center()
	return cx * float64(vp.Width), cy * float64(vp.Height)
}

// Observation is one parsed snapshot of the page.
type Observation struct {
	URL            string
	ScreenshotHash string
	Elements       []Element
	CapturedAt     time.Time
}

// Find returns the element with the given id.
func (o *Observation) Find(id int) (Element, bool) {
	for _, e := range o.Elements {
		if e.ID == id {
			return e, true
		}
	}
	return Element{}, false
}

// Fingerprint summarizes the observation for progress tracking. Two
// observations of an unchanged page produce the same fingerprint.
func (o *Observation) Fingerprint() string {
	h := sha256.New()
	fmt.Fprintln(h, o.URL)
	for _, e := range o.Elements {
		fmt.Fprintf(h, "%d:%s:%s\n", e.ID, e.Type, e.Content)
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// hashScreenshot keys cache entries by screenshot content.
func hashScreenshot(png []byte) string {
	sum := sha256.Sum256(png)
	return hex.EncodeToString(sum[:])
}
