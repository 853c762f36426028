package depthview

import "image/color"

// Palette colours users by id. The last entry is reserved for background pixels.
type Palette []color.RGBA

// DefaultPalette returns red, blue, cyan, green, magenta, pink, yellow and a white background.
func DefaultPalette() Palette {
	return Palette{
		{R: 255, G: 0, B: 0, A: 255},
		{R: 0, G: 0, B: 255, A: 255},
		{R: 0, G: 255, B: 255, A: 255},
		{R: 0, G: 255, B: 0, A: 255},
		{R: 255, G: 0, B: 255, A: 255},
		{R: 255, G: 175, B: 175, A: 255},
		{R: 255, G: 255, B: 0, A: 255},
		{R: 255, G: 255, B: 255, A: 255},
	}
}

// Pixel returns the colour of pixels labelled with user. User 0 is background.
func (p Palette) Pixel(user uint16) color.RGBA {
	if user == 0 || len(p) < 2 {
		return p[len(p)-1]
	}
	return p[int(user)%(len(p)-1)]
}

// Overlay returns the colour of a user's skeleton and label: the inverse
// of its palette entry.
func (p Palette) Overlay(user int) color.RGBA {
	c := p[user%len(p)]
	return color.RGBA{R: 255 - c.R, G: 255 - c.G, B: 255 - c.B, A: 255}
}
