package heightfield

import (
	"image"
	"image/color"
	"image/png"
	"io"
	"math"

	"github.com/hschendel/stl"
	"golang.org/x/image/draw"
	"gonum.org/v1/gonum/spatial/r3"

	simerrors "vrprinter-go/pkg/errors"
)

// Image renders the field as 16-bit gray, normalized so the highest cell
// is white. Row 0 of the image is the far (max Y) edge of the bed.
func (f *Field) Image() *image.Gray16 {
	img := image.NewGray16(image.Rect(0, 0, f.nx, f.ny))
	top := f.Max()
	if !(top > 0) {
		return img
	}
	for j := 0; j < f.ny; j++ {
		row := f.ny - 1 - j
		for i := 0; i < f.nx; i++ {
			v := f.cells[j*f.nx+i] / top
			if v < 0 {
				v = 0
			}
			img.SetGray16(i, row, color.Gray16{Y: uint16(math.Round(float64(v) * 0xffff))})
		}
	}
	return img
}

// WritePNG encodes the field as a PNG. A scale other than 1 resamples
// the grid, which keeps dumps of fine grids to a viewable size.
func (f *Field) WritePNG(w io.Writer, scale float64) error {
	var img image.Image = f.Image()
	if scale > 0 && scale != 1 {
		src := img.Bounds()
		dw := max(1, int(math.Round(float64(src.Dx())*scale)))
		dh := max(1, int(math.Round(float64(src.Dy())*scale)))
		dst := image.NewGray16(image.Rect(0, 0, dw, dh))
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, src, draw.Src, nil)
		img = dst
	}
	if err := png.Encode(w, img); err != nil {
		return simerrors.ExportError("png", err)
	}
	return nil
}

// Solid builds a triangulated surface of the field, sampling every
// stride cells. Coordinates are in millimeters in the print frame.
func (f *Field) Solid(stride int) *stl.Solid {
	stride = max(1, stride)
	var xs, ys []int
	for i := 0; i < f.nx; i += stride {
		xs = append(xs, i)
	}
	if xs[len(xs)-1] != f.nx-1 {
		xs = append(xs, f.nx-1)
	}
	for j := 0; j < f.ny; j += stride {
		ys = append(ys, j)
	}
	if ys[len(ys)-1] != f.ny-1 {
		ys = append(ys, f.ny-1)
	}

	vertex := func(i, j int) stl.Vec3 {
		return stl.Vec3{
			float32(f.box.MinX + float64(i)*f.step),
			float32(f.box.MinY + float64(j)*f.step),
			f.cells[j*f.nx+i],
		}
	}

	solid := &stl.Solid{Name: "heightfield"}
	for b := 0; b+1 < len(ys); b++ {
		for a := 0; a+1 < len(xs); a++ {
			p00 := vertex(xs[a], ys[b])
			p10 := vertex(xs[a+1], ys[b])
			p01 := vertex(xs[a], ys[b+1])
			p11 := vertex(xs[a+1], ys[b+1])
			solid.Triangles = append(solid.Triangles,
				triangle(p00, p10, p11),
				triangle(p00, p11, p01))
		}
	}
	return solid
}

// WriteSTL writes the surface from Solid as binary STL.
func (f *Field) WriteSTL(w io.Writer, stride int) error {
	if err := f.Solid(stride).WriteAll(w); err != nil {
		return simerrors.ExportError("stl", err)
	}
	return nil
}

func triangle(a, b, c stl.Vec3) stl.Triangle {
	return stl.Triangle{
		Normal:   normal(a, b, c),
		Vertices: [3]stl.Vec3{a, b, c},
	}
}

// normal returns the unit normal of the counter-clockwise triangle abc.
func normal(a, b, c stl.Vec3) stl.Vec3 {
	n := r3.Cross(r3.Sub(vec(b), vec(a)), r3.Sub(vec(c), vec(a)))
	if r3.Norm(n) == 0 {
		return stl.Vec3{0, 0, 1}
	}
	n = r3.Unit(n)
	return stl.Vec3{float32(n.X), float32(n.Y), float32(n.Z)}
}

func vec(v stl.Vec3) r3.Vec {
	return r3.Vec{X: float64(v[0]), Y: float64(v[1]), Z: float64(v[2])}
}
