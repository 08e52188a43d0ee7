package cpu

import (
	"image"
	"image/color"
	"image/png"
	"os"

	"golang.org/x/image/draw"
)

// Default display colours, taken from the Pico-8 palette's white and
// dark blue.
var (
	DefaultForeground = color.RGBA{R: 0xFF, G: 0xF1, B: 0xE8, A: 0xFF}
	DefaultBackground = color.RGBA{R: 0x1D, G: 0x2B, B: 0x53, A: 0xFF}
)

// Framebuffer returns a copy of the 64x32 display, one 0/1 byte per pixel,
// row-major.
func (c *CPU) Framebuffer() [FramebufferSize]byte {
	return c.display
}

// Pixel reports whether the pixel at (x, y) is lit. Out-of-range
// coordinates are unlit.
func (c *CPU) Pixel(x, y int) bool {
	if x < 0 || x >= ScreenWidth || y < 0 || y >= ScreenHeight {
		return false
	}
	return c.display[y*ScreenWidth+x] != 0
}

// FramebufferRGBA expands the display into a 64x32 RGBA8888 byte slice
// (length 64*32*4) using fg for lit pixels and bg for the rest.
func (c *CPU) FramebufferRGBA(fg, bg color.RGBA) []byte {
	pixels := make([]byte, FramebufferSize*4)
	for i, p := range c.display {
		col := bg
		if p != 0 {
			col = fg
		}
		pixels[i*4+0] = col.R
		pixels[i*4+1] = col.G
		pixels[i*4+2] = col.B
		pixels[i*4+3] = col.A
	}
	return pixels
}

// FramebufferImage returns the display as an *image.RGBA in the default
// colours.
func (c *CPU) FramebufferImage() *image.RGBA {
	return &image.RGBA{
		Pix:    c.FramebufferRGBA(DefaultForeground, DefaultBackground),
		Stride: ScreenWidth * 4,
		Rect:   image.Rect(0, 0, ScreenWidth, ScreenHeight),
	}
}

// ScaledImage returns the display enlarged by an integer factor with
// nearest-neighbour sampling so pixels stay sharp.
func (c *CPU) ScaledImage(scale int) *image.RGBA {
	src := c.FramebufferImage()
	if scale <= 1 {
		return src
	}
	dst := image.NewRGBA(image.Rect(0, 0, ScreenWidth*scale, ScreenHeight*scale))
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}

// SaveScreenshot encodes the display, scaled by scale, as a PNG and writes
// it to filename.
func (c *CPU) SaveScreenshot(filename string, scale int) error {
	img := c.ScaledImage(scale)
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}
