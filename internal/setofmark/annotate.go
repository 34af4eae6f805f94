package setofmark

import "sort"

// Classify buckets every region in rois by viewport position, per spec §4.3:
//   - zero-area rects are skipped;
//   - option / input-type-file tags are included in the visible set without
//     ever being drawn, bypassing the rect loop entirely;
//   - otherwise each rect is bucketed by its center: above (mid_y < 0),
//     below (mid_y >= screenHeight), or visible, requiring
//     0 <= mid_x < screenWidth.
//
// Iteration order over the map is made deterministic (sorted by original
// id) so that sequential-id assignment is reproducible across runs.
func classify(rois map[string]InteractiveRegion, screenWidth, screenHeight float64) (visible, above, below []string) {
	seenVisible := map[string]bool{}
	seenAbove := map[string]bool{}
	seenBelow := map[string]bool{}

	ids := make([]string, 0, len(rois))
	for id := range rois {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		roi := rois[id]
		if isSkippedTag(roi.TagName) {
			if !seenVisible[id] {
				visible = append(visible, id)
				seenVisible[id] = true
			}
			continue
		}

		for _, rect := range roi.Rects {
			if rect.width()*rect.height() == 0 || rect.width() == 0 || rect.height() == 0 {
				continue
			}
			midX, midY := rect.center()
			if midX < 0 || midX >= screenWidth {
				continue
			}
			switch {
			case midY < 0:
				if !seenAbove[id] {
					above = append(above, id)
					seenAbove[id] = true
				}
			case midY >= screenHeight:
				if !seenBelow[id] {
					below = append(below, id)
					seenBelow[id] = true
				}
			default:
				if !seenVisible[id] {
					visible = append(visible, id)
					seenVisible[id] = true
				}
			}
		}
	}
	return visible, above, below
}

// assignSequentialIDs builds the element id bijection in the order
// visible -> above -> below, per spec §4.3.
func assignSequentialIDs(visible, above, below []string) (mapping map[string]string, origToNew map[string]string, newVisible, newAbove, newBelow []string) {
	mapping = map[string]string{}
	origToNew = map[string]string{}
	next := 1

	assign := func(ids []string) []string {
		out := make([]string, 0, len(ids))
		for _, id := range ids {
			newID := itoa(next)
			mapping[newID] = id
			origToNew[id] = newID
			out = append(out, newID)
			next++
		}
		return out
	}

	newVisible = assign(visible)
	newAbove = assign(above)
	newBelow = assign(below)
	return mapping, origToNew, newVisible, newAbove, newBelow
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Annotate implements add_set_of_mark from spec §4.3: classify rois, assign
// sequential ids (or pass through original ids when useSequentialIDs is
// false), render the overlay, and composite it atop screenshot.
func Annotate(screenshot []byte, rois map[string]InteractiveRegion, useSequentialIDs bool) (PageState, error) {
	width, height, err := decodedDimensions(screenshot)
	if err != nil {
		return PageState{}, err
	}

	visible, above, below := classify(rois, float64(width), float64(height))

	var mapping, origToNew map[string]string
	var newVisible, newAbove, newBelow []string
	if useSequentialIDs {
		mapping, origToNew, newVisible, newAbove, newBelow = assignSequentialIDs(visible, above, below)
	} else {
		mapping = map[string]string{}
		origToNew = map[string]string{}
		for _, id := range append(append(append([]string{}, visible...), above...), below...) {
			mapping[id] = id
			origToNew[id] = id
		}
		newVisible, newAbove, newBelow = visible, above, below
	}

	composited, err := render(screenshot, rois, origToNew)
	if err != nil {
		return PageState{}, err
	}

	return PageState{
		SomScreenshot:    composited,
		VisibleRects:     newVisible,
		RectsAbove:       newAbove,
		RectsBelow:       newBelow,
		ElementIDMapping: mapping,
	}, nil
}
