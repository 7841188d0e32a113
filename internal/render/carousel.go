package render

import "fmt"

// Carousel is the position within an item's images. Moving past either end
// wraps around; a carousel of zero or one image never moves.
type Carousel struct {
	Index int
	Count int
}

func NewCarousel(count int) Carousel {
	return Carousel{Count: count}
}

func (c Carousel) Next() Carousel {
	return c.GoTo(c.Index + 1)
}

func (c Carousel) Prev() Carousel {
	return c.GoTo(c.Index - 1)
}

// GoTo moves to index i, taken modulo Count.
func (c Carousel) GoTo(i int) Carousel {
	if c.Count <= 1 {
		return Carousel{Count: c.Count}
	}
	c.Index = ((i % c.Count) + c.Count) % c.Count
	return c
}

// Multiple reports whether there is more than one image to move between.
func (c Carousel) Multiple() bool {
	return c.Count > 1
}

// Position is the "2 of 3 images" counter, empty for a single image.
func (c Carousel) Position() string {
	if !c.Multiple() {
		return ""
	}
	return fmt.Sprintf("%d of %d images", c.Index+1, c.Count)
}
