package layout

// Size is a width/height pair in pixels. Values are fractional; callers
// round when they rasterize.
type Size struct {
	Width  float64
	Height float64
}

// Fit scales a srcW×srcH image into the box described by the max and min
// constraints while keeping the source aspect ratio.
//
// Corrections are applied in a fixed order: cap height, cap width, raise
// height, raise width, then cap height and width again. The second max pass
// wins when a minimum pushes the other axis over its maximum, so the result
// always respects maxW and maxH but may fall short of a minimum. Every step
// derives the other axis from the original ratio.
func Fit(srcW, srcH, maxH, maxW, minH, minW float64) Size {
	if srcW <= 0 || srcH <= 0 {
		return Size{}
	}

	ratio := srcW / srcH
	s := Size{Width: srcW, Height: srcH}

	capHeight := func() {
		if s.Height > maxH {
			s.Height = maxH
			s.Width = maxH * ratio
		}
	}
	capWidth := func() {
		if s.Width > maxW {
			s.Width = maxW
			s.Height = maxW / ratio
		}
	}

	capHeight()
	capWidth()

	if s.Height < minH {
		s.Height = minH
		s.Width = minH * ratio
	}
	if s.Width < minW {
		s.Width = minW
		s.Height = minW / ratio
	}

	capHeight()
	capWidth()

	return s
}
