package icon

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"sort"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// DefaultTint is used when no colour can be extracted
const DefaultTint = "#000000"

// Quality describes how suitable a decoded image is as an app icon
type Quality struct {
	Score           int
	Width, Height   int
	IsSquare        bool
	HasTransparency bool
}

// ScoreImage decodes data and rates it. Square opaque images of high
// resolution score best; transparent corners usually mean a pre-masked icon.
func ScoreImage(data []byte) (Quality, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Quality{}, fmt.Errorf("failed to decode image: %w", err)
	}

	b := img.Bounds()
	q := Quality{Width: b.Dx(), Height: b.Dy()}
	q.IsSquare = q.Width == q.Height
	q.HasTransparency = hasTransparentCorner(img)

	if q.IsSquare {
		q.Score += 40
	} else {
		q.Score -= 40
	}
	if q.HasTransparency {
		q.Score -= 20
	}

	switch side := min(q.Width, q.Height); {
	case side >= 1024:
		q.Score += 30
	case side >= 512:
		q.Score += 20
	case side >= 180:
		q.Score += 10
	case side < 64:
		q.Score -= 30
	}
	return q, nil
}

func hasTransparentCorner(img image.Image) bool {
	b := img.Bounds()
	corners := []image.Point{
		b.Min,
		{X: b.Max.X - 1, Y: b.Min.Y},
		{X: b.Min.X, Y: b.Max.Y - 1},
		{X: b.Max.X - 1, Y: b.Max.Y - 1},
	}
	for _, p := range corners {
		if _, _, _, a := img.At(p.X, p.Y).RGBA(); a < 0xffff {
			return true
		}
	}
	return false
}

// DominantColor returns the most frequent colour of data as #RRGGBB,
// ignoring transparent, near-white and near-black pixels.
func DominantColor(data []byte) (string, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to decode image: %w", err)
	}

	dst := image.NewNRGBA(image.Rect(0, 0, 100, 100))
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	counts := make(map[color.NRGBA]int)
	for y := 0; y < 100; y++ {
		for x := 0; x < 100; x++ {
			c := dst.NRGBAAt(x, y)
			if c.A < 10 {
				continue
			}
			if c.R > 240 && c.G > 240 && c.B > 240 {
				continue
			}
			if c.R < 15 && c.G < 15 && c.B < 15 {
				continue
			}
			counts[color.NRGBA{R: c.R, G: c.G, B: c.B, A: 255}]++
		}
	}
	if len(counts) == 0 {
		return "", fmt.Errorf("no dominant colour")
	}

	colors := make([]color.NRGBA, 0, len(counts))
	for c := range counts {
		colors = append(colors, c)
	}
	sort.Slice(colors, func(i, j int) bool {
		a, b := colors[i], colors[j]
		if counts[a] != counts[b] {
			return counts[a] > counts[b]
		}
		if a.R != b.R {
			return a.R < b.R
		}
		if a.G != b.G {
			return a.G < b.G
		}
		return a.B < b.B
	})

	best := colors[0]
	return fmt.Sprintf("#%02X%02X%02X", best.R, best.G, best.B), nil
}
