package math

import "github.com/go-gl/mathgl/mgl32"

/** @brief Linear RGBA color. */
type Color = mgl32.Vec4

/** @brief Builds a Color from its four components. */
func NewColor(r, g, b, a float32) Color {
	return Color{r, g, b, a}
}

/** @brief An integer rectangle, used for scissors and render areas. */
type Rect struct {
	X      int32
	Y      int32
	Width  uint32
	Height uint32
}

/** @brief Describes the viewport transform and depth range. */
type Viewport struct {
	X        float32
	Y        float32
	Width    float32
	Height   float32
	MinDepth float32
	MaxDepth float32
}

/** @brief A 3d extent in texels or thread groups. */
type Extent3D struct {
	Width  uint32
	Height uint32
	Depth  uint32
}
