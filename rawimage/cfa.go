package rawimage

import (
	"fmt"
	"image"
	"strings"
)

// CFAColor is the colour of one photosite, using the DNG CFAPattern values.
type CFAColor uint8

const (
	CFARed CFAColor = iota
	CFAGreen
	CFABlue
	CFACyan
	CFAMagenta
	CFAYellow
	CFAWhite
)

var cfaColors = map[CFAColor]string{
	CFARed:     "R",
	CFAGreen:   "G",
	CFABlue:    "B",
	CFACyan:    "C",
	CFAMagenta: "M",
	CFAYellow:  "Y",
	CFAWhite:   "W",
}

func (c CFAColor) String() string {
	if s, ok := cfaColors[c]; ok {
		return s
	}
	return fmt.Sprintf("?(%d)", uint8(c))
}

// ColorFilterArray is the repeating colour pattern laid over the sensor.
type ColorFilterArray struct {
	size    image.Point
	pattern []CFAColor
}

// NewColorFilterArray builds a pattern of size.X columns and size.Y rows, colors being row-major.
func NewColorFilterArray(size image.Point, colors []CFAColor) (ColorFilterArray, error) {
	if size.X <= 0 || size.Y <= 0 || size.X > 8 || size.Y > 8 {
		return ColorFilterArray{}, GeometryError(fmt.Sprintf("CFA pattern size %dx%d", size.X, size.Y))
	}
	if len(colors) != size.X*size.Y {
		return ColorFilterArray{}, GeometryError(fmt.Sprintf("CFA pattern has %d colors, %d expected", len(colors), size.X*size.Y))
	}
	return ColorFilterArray{
		size:    size,
		pattern: append([]CFAColor(nil), colors...),
	}, nil
}

// Size returns the dimension of the repeating pattern.
func (c ColorFilterArray) Size() image.Point {
	return c.size
}

// ColorAt returns the colour of the photosite at (x, y).
func (c ColorFilterArray) ColorAt(x, y int) CFAColor {
	if len(c.pattern) == 0 {
		return CFAGreen
	}
	x %= c.size.X
	y %= c.size.Y
	if x < 0 {
		x += c.size.X
	}
	if y < 0 {
		y += c.size.Y
	}
	return c.pattern[y*c.size.X+x]
}

// ShiftLeft moves the pattern n columns to the left, as when the image origin moves right.
func (c *ColorFilterArray) ShiftLeft(n int) {
	if len(c.pattern) == 0 {
		return
	}
	shifted := make([]CFAColor, len(c.pattern))
	for y := 0; y < c.size.Y; y++ {
		for x := 0; x < c.size.X; x++ {
			shifted[y*c.size.X+x] = c.ColorAt(x+n, y)
		}
	}
	c.pattern = shifted
}

// ShiftDown moves the pattern n rows up, as when the image origin moves down.
func (c *ColorFilterArray) ShiftDown(n int) {
	if len(c.pattern) == 0 {
		return
	}
	shifted := make([]CFAColor, len(c.pattern))
	for y := 0; y < c.size.Y; y++ {
		for x := 0; x < c.size.X; x++ {
			shifted[y*c.size.X+x] = c.ColorAt(x, y+n)
		}
	}
	c.pattern = shifted
}

func (c ColorFilterArray) String() string {
	var b strings.Builder
	for _, color := range c.pattern {
		b.WriteString(color.String())
	}
	return b.String()
}
