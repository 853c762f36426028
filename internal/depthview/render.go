package depthview

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/ayusman/skeletrain/internal/sensor"
	"github.com/ayusman/skeletrain/internal/skeleton"
)

// Options holds configuration options for the Renderer.
type Options struct {
	DrawBackground bool // colour pixels that belong to no user
	DrawPixels     bool // draw the depth image; otherwise start from black
	DrawSkeleton   bool
	DrawFigure     bool // draw the normalized bone figure of the first tracked user
	PrintID        bool
	PrintState     bool // append the calibration state to the id label

	Palette       Palette
	LineThickness int
	FigureOrigin  image.Point
	JPEGQuality   int
}

// DefaultOptions returns options with every overlay enabled.
func DefaultOptions() Options {
	return Options{
		DrawBackground: true,
		DrawPixels:     true,
		DrawSkeleton:   true,
		DrawFigure:     true,
		PrintID:        true,
		PrintState:     true,
		Palette:        DefaultPalette(),
		LineThickness:  2,
		FigureOrigin:   image.Pt(150, 100),
		JPEGQuality:    80,
	}
}

// UserOverlay is what gets drawn on top of one user's pixels.
type UserOverlay struct {
	ID int
	// Label is the full status text, e.g. "1 - Tracking".
	Label string
	// Joints are in projective coordinates. Nil unless the user is tracked.
	Joints skeleton.Joints
	// Bones is the extracted feature set, used for the bone figure.
	Bones skeleton.BoneVectorSet
}

// Renderer turns frames into annotated BGR images.
type Renderer struct {
	opts Options
}

// NewRenderer creates a Renderer. A nil palette takes the default.
func NewRenderer(opts Options) *Renderer {
	if len(opts.Palette) == 0 {
		opts.Palette = DefaultPalette()
	}
	if opts.LineThickness <= 0 {
		opts.LineThickness = 1
	}
	if opts.JPEGQuality <= 0 {
		opts.JPEGQuality = 80
	}
	return &Renderer{opts: opts}
}

// Colorize returns the frame as a BGR Mat. The caller must Close it.
func (r *Renderer) Colorize(f *sensor.Frame) (gocv.Mat, error) {
	if f.Width <= 0 || f.Height <= 0 {
		return gocv.NewMat(), fmt.Errorf("invalid frame size %dx%d", f.Width, f.Height)
	}

	seg, err := segment(f)
	if err != nil {
		return gocv.NewMat(), err
	}
	defer seg.Close()

	return r.colorize(f, seg)
}

func (r *Renderer) colorize(f *sensor.Frame, seg *segmentation) (gocv.Mat, error) {
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), f.Height, f.Width, gocv.MatTypeCV8UC3)
	if !r.opts.DrawPixels || len(f.Depth) != f.Width*f.Height {
		return img, nil
	}

	depth, err := depthMat(f.Height, f.Width, f.Depth)
	if err != nil {
		img.Close()
		return gocv.NewMat(), err
	}
	defer depth.Close()

	hist, err := histogramOf(depth)
	if err != nil {
		img.Close()
		return gocv.NewMat(), err
	}

	gray, err := gocv.NewMatFromBytes(f.Height, f.Width, gocv.MatTypeCV8UC1, hist.Brightness(f.Depth))
	if err != nil {
		img.Close()
		return gocv.NewMat(), fmt.Errorf("create brightness mat: %w", err)
	}
	defer gray.Close()

	shade := gocv.NewMat()
	defer shade.Close()
	if err := gocv.CvtColor(gray, &shade, gocv.ColorGrayToBGR); err != nil {
		img.Close()
		return gocv.NewMat(), fmt.Errorf("convert brightness: %w", err)
	}

	layer := gocv.NewMat()
	defer layer.Close()
	for _, id := range seg.ids {
		if id == 0 && !r.opts.DrawBackground {
			continue
		}

		c := r.opts.Palette.Pixel(id)
		tint := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(float64(c.B), float64(c.G), float64(c.R), 0), f.Height, f.Width, gocv.MatTypeCV8UC3)
		err := gocv.MultiplyWithParams(shade, tint, &layer, 1.0/255, -1)
		tint.Close()
		if err == nil {
			err = layer.CopyToWithMask(&img, seg.masks[id])
		}
		if err != nil {
			img.Close()
			return gocv.NewMat(), fmt.Errorf("colour user %d: %w", id, err)
		}
	}
	return img, nil
}

// Render draws the frame and overlays into a new Mat. The caller must Close it.
func (r *Renderer) Render(f *sensor.Frame, users []UserOverlay) (gocv.Mat, error) {
	if f.Width <= 0 || f.Height <= 0 {
		return gocv.NewMat(), fmt.Errorf("invalid frame size %dx%d", f.Width, f.Height)
	}

	seg, err := segment(f)
	if err != nil {
		return gocv.NewMat(), err
	}
	defer seg.Close()

	img, err := r.colorize(f, seg)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("create image: %w", err)
	}

	centres := seg.centres()
	figureDrawn := false

	for _, u := range users {
		c := r.opts.Palette.Overlay(u.ID)

		if r.opts.DrawSkeleton && u.Joints != nil {
			r.drawSkeleton(&img, u.Joints, c)
		}

		if r.opts.DrawFigure && !figureDrawn && len(u.Bones) > 0 {
			r.drawFigure(&img, u.Bones, c)
			figureDrawn = true
		}

		if r.opts.PrintID {
			pt, ok := centres[u.ID]
			if !ok {
				continue
			}
			text := fmt.Sprintf("%d", u.ID)
			if r.opts.PrintState && u.Label != "" {
				text = u.Label
			}
			gocv.PutText(&img, text, pt, gocv.FontHersheySimplex, 0.5, c, 1)
		}
	}

	return img, nil
}

// EncodeJPEG renders a frame and encodes it as JPEG.
func (r *Renderer) EncodeJPEG(f *sensor.Frame, users []UserOverlay) ([]byte, error) {
	img, err := r.Render(f, users)
	defer img.Close()
	if err != nil {
		return nil, err
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, img, []int{gocv.IMWriteJpegQuality, r.opts.JPEGQuality})
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	data := buf.GetBytes()
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (r *Renderer) drawSkeleton(img *gocv.Mat, joints skeleton.Joints, c color.RGBA) {
	for _, b := range skeleton.DefaultBones() {
		from, to := joints[b.From], joints[b.To]
		if !from.Available() || !to.Available() {
			continue
		}
		gocv.Line(img, toPixel(from.Position), toPixel(to.Position), c, r.opts.LineThickness)
	}
}

func (r *Renderer) drawFigure(img *gocv.Mat, set skeleton.BoneVectorSet, c color.RGBA) {
	for _, s := range FigureSegments(set, r.opts.FigureOrigin) {
		gocv.Line(img, s.From, s.To, c, r.opts.LineThickness)
	}
}

func toPixel(p skeleton.Point3D) image.Point {
	return image.Pt(int(p.X), int(p.Y))
}

// Segment is one line of the bone figure.
type Segment struct {
	Bone string
	From image.Point
	To   image.Point
}

// FigureSegments lays the bone vectors out head to toe, starting with the
// neck joint at origin. Each bone is drawn from wherever its first joint was
// placed; a joint reached by two bones keeps its first placement. Image rows
// grow downwards, so the Y component is negated.
func FigureSegments(set skeleton.BoneVectorSet, origin image.Point) []Segment {
	placed := map[skeleton.JointID]image.Point{skeleton.Neck: origin}
	segments := make([]Segment, 0, len(set))

	for _, bv := range set {
		d := image.Pt(int(bv.Vector.X()), -int(bv.Vector.Y()))

		from, fromOK := placed[bv.Bone.From]
		to, toOK := placed[bv.Bone.To]
		switch {
		case fromOK:
			to = from.Add(d)
			if !toOK {
				placed[bv.Bone.To] = to
			}
		case toOK:
			from = to.Sub(d)
			placed[bv.Bone.From] = from
		default:
			continue
		}

		segments = append(segments, Segment{Bone: bv.Name, From: from, To: to})
	}
	return segments
}

// segmentation holds one 8-bit mask per label present in a frame. Label 0
// is background; a frame without a label map is all background.
type segmentation struct {
	ids   []uint16
	masks map[uint16]gocv.Mat
}

func segment(f *sensor.Frame) (*segmentation, error) {
	var labels gocv.Mat
	var err error
	if len(f.Labels) == f.Width*f.Height {
		labels, err = depthMat(f.Height, f.Width, f.Labels)
		if err != nil {
			return nil, fmt.Errorf("label map: %w", err)
		}
	} else {
		labels = gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), f.Height, f.Width, gocv.MatTypeCV16UC1)
	}
	defer labels.Close()

	_, top, _, _ := gocv.MinMaxLoc(labels)

	seg := &segmentation{masks: make(map[uint16]gocv.Mat)}
	for id := 0; id <= int(top); id++ {
		v := gocv.NewScalar(float64(id), 0, 0, 0)
		mask := gocv.NewMat()
		if err := gocv.InRangeWithScalar(labels, v, v, &mask); err != nil {
			mask.Close()
			seg.Close()
			return nil, fmt.Errorf("mask user %d: %w", id, err)
		}
		if gocv.CountNonZero(mask) == 0 {
			mask.Close()
			continue
		}
		seg.ids = append(seg.ids, uint16(id))
		seg.masks[uint16(id)] = mask
	}
	return seg, nil
}

// centres returns the centroid of each user mask, skipping background.
func (s *segmentation) centres() map[int]image.Point {
	centres := make(map[int]image.Point, len(s.ids))
	for _, id := range s.ids {
		if id == 0 {
			continue
		}
		m := gocv.Moments(s.masks[id], true)
		if m["m00"] == 0 {
			continue
		}
		centres[int(id)] = image.Pt(int(m["m10"]/m["m00"]), int(m["m01"]/m["m00"]))
	}
	return centres
}

func (s *segmentation) Close() {
	for _, m := range s.masks {
		m.Close()
	}
}

// UserCentres returns the pixel centroid of each user's segmentation mask.
func UserCentres(f *sensor.Frame) (map[int]image.Point, error) {
	if f.Width <= 0 || f.Height <= 0 || len(f.Labels) != f.Width*f.Height {
		return map[int]image.Point{}, nil
	}

	seg, err := segment(f)
	if err != nil {
		return nil, err
	}
	defer seg.Close()

	return seg.centres(), nil
}
