// Package setofmark implements the DOM-annotation ("set-of-mark") overlay of
// spec §4.3: classify interactive regions by viewport position, assign a
// sequential-id bijection, and render numbered bounding boxes atop a
// screenshot. Grounded on original_source/src/agents/web_agent/set_of_mark.rs,
// reimplemented with Go's image/image-draw stack in place of Rust's
// imageproc/rusttype (neither of which has a Go equivalent in the pack; the
// pack's golang.org/x/image dependency supplies font rendering instead).
package setofmark

// DOMRect is an axis-aligned bounding box in viewport coordinates.
type DOMRect struct {
	Left, Top, Right, Bottom float64
}

func (r DOMRect) width() float64  { return r.Right - r.Left }
func (r DOMRect) height() float64 { return r.Bottom - r.Top }

func (r DOMRect) center() (float64, float64) {
	return (r.Left + r.Right) / 2, (r.Top + r.Bottom) / 2
}

// InteractiveRegion is one DOM element discovered by page-script
// introspection, keyed by a stable string element id (spec §3).
type InteractiveRegion struct {
	TagName       string
	Role          string
	AriaName      string
	VScrollable   bool
	Rects         []DOMRect
}

// PageState is the annotated-page snapshot of spec §3/§4.3.
type PageState struct {
	SomScreenshot    []byte
	VisibleRects     []string
	RectsAbove       []string
	RectsBelow       []string
	ElementIDMapping map[string]string // sequential id -> original DOM id
}

const topNoLabelZone = 20.0

func isSkippedTag(tag string) bool {
	return tag == "option" || tag == "input-type-file"
}
