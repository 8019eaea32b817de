package color

import (
	"fmt"
	"math"

	"github.com/colorforge/go-colord/colorderr"
)

// Vec3 is a 3-vector of doubles.
type Vec3 struct {
	V0, V1, V2 float64
}

// String implements fmt.Stringer in the debug format used by the drivers.
func (v Vec3) String() string {
	return fmt.Sprintf("(%f,%f,%f)", v.V0, v.V1, v.V2)
}

// VecAdd returns a + b.
func VecAdd(a, b Vec3) Vec3 {
	return Vec3{a.V0 + b.V0, a.V1 + b.V1, a.V2 + b.V2}
}

// VecSubtract returns a - b.
func VecSubtract(a, b Vec3) Vec3 {
	return Vec3{a.V0 - b.V0, a.V1 - b.V1, a.V2 - b.V2}
}

// VecScale returns v scaled by s.
func VecScale(v Vec3, s float64) Vec3 {
	return Vec3{v.V0 * s, v.V1 * s, v.V2 * s}
}

// Mat3x3 is a 3x3 matrix of doubles in row-major order.
type Mat3x3 struct {
	M00, M01, M02 float64
	M10, M11, M12 float64
	M20, M21, M22 float64
}

// MatrixIdentity is the 3x3 identity.
var MatrixIdentity = Mat3x3{M00: 1, M11: 1, M22: 1}

// String implements fmt.Stringer in the debug format used by the drivers.
func (m Mat3x3) String() string {
	return fmt.Sprintf("(%f,%f,%f|%f,%f,%f|%f,%f,%f)",
		m.M00, m.M01, m.M02,
		m.M10, m.M11, m.M12,
		m.M20, m.M21, m.M22)
}

// Values returns the matrix entries in row-major order.
func (m Mat3x3) Values() [9]float64 {
	return [9]float64{
		m.M00, m.M01, m.M02,
		m.M10, m.M11, m.M12,
		m.M20, m.M21, m.M22,
	}
}

// MatrixFromValues builds a matrix from row-major entries.
func MatrixFromValues(v [9]float64) Mat3x3 {
	return Mat3x3{
		M00: v[0], M01: v[1], M02: v[2],
		M10: v[3], M11: v[4], M12: v[5],
		M20: v[6], M21: v[7], M22: v[8],
	}
}

// MatrixDeterminant returns |m|.
func MatrixDeterminant(m Mat3x3) float64 {
	return m.M00*(m.M11*m.M22-m.M12*m.M21) -
		m.M01*(m.M10*m.M22-m.M12*m.M20) +
		m.M02*(m.M10*m.M21-m.M11*m.M20)
}

// MatrixIsIdentity reports whether m is the identity within 1e-9.
func MatrixIsIdentity(m Mat3x3) bool {
	id := MatrixIdentity.Values()
	for i, v := range m.Values() {
		if math.Abs(v-id[i]) > 1e-9 {
			return false
		}
	}
	return true
}

// MatrixVectorMultiply returns m · v.
func MatrixVectorMultiply(m Mat3x3, v Vec3) Vec3 {
	return Vec3{
		V0: m.M00*v.V0 + m.M01*v.V1 + m.M02*v.V2,
		V1: m.M10*v.V0 + m.M11*v.V1 + m.M12*v.V2,
		V2: m.M20*v.V0 + m.M21*v.V1 + m.M22*v.V2,
	}
}

// MatrixMultiply returns a · b.
func MatrixMultiply(a, b Mat3x3) Mat3x3 {
	return Mat3x3{
		M00: a.M00*b.M00 + a.M01*b.M10 + a.M02*b.M20,
		M01: a.M00*b.M01 + a.M01*b.M11 + a.M02*b.M21,
		M02: a.M00*b.M02 + a.M01*b.M12 + a.M02*b.M22,
		M10: a.M10*b.M00 + a.M11*b.M10 + a.M12*b.M20,
		M11: a.M10*b.M01 + a.M11*b.M11 + a.M12*b.M21,
		M12: a.M10*b.M02 + a.M11*b.M12 + a.M12*b.M22,
		M20: a.M20*b.M00 + a.M21*b.M10 + a.M22*b.M20,
		M21: a.M20*b.M01 + a.M21*b.M11 + a.M22*b.M21,
		M22: a.M20*b.M02 + a.M21*b.M12 + a.M22*b.M22,
	}
}

// MatrixScalarMultiply returns m scaled by s.
func MatrixScalarMultiply(m Mat3x3, s float64) Mat3x3 {
	v := m.Values()
	for i := range v {
		v[i] *= s
	}
	return MatrixFromValues(v)
}

// MatrixInverse returns m⁻¹, or a Singular error when |det| < 1e-6.
func MatrixInverse(m Mat3x3) (Mat3x3, error) {
	det := MatrixDeterminant(m)
	if math.Abs(det) < 1e-6 {
		return Mat3x3{}, colorderr.New(colorderr.Singular,
			"matrix is not invertible, determinant %e", det)
	}
	inv := Mat3x3{
		M00: m.M11*m.M22 - m.M12*m.M21,
		M01: m.M02*m.M21 - m.M01*m.M22,
		M02: m.M01*m.M12 - m.M02*m.M11,
		M10: m.M12*m.M20 - m.M10*m.M22,
		M11: m.M00*m.M22 - m.M02*m.M20,
		M12: m.M02*m.M10 - m.M00*m.M12,
		M20: m.M10*m.M21 - m.M11*m.M20,
		M21: m.M01*m.M20 - m.M00*m.M21,
		M22: m.M00*m.M11 - m.M01*m.M10,
	}
	return MatrixScalarMultiply(inv, 1.0/det), nil
}

// XYZToVec converts an XYZ value into a vector for matrix math.
func XYZToVec(c XYZ) Vec3 {
	return Vec3{c.X, c.Y, c.Z}
}

// VecToXYZ converts a vector back into an XYZ value.
func VecToXYZ(v Vec3) XYZ {
	return XYZ{X: v.V0, Y: v.V1, Z: v.V2}
}

// RGBToVec converts an RGB value into a vector for matrix math.
func RGBToVec(c RGB) Vec3 {
	return Vec3{c.R, c.G, c.B}
}
