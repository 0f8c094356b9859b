package ballistics

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Point is one sample of an observed trajectory.
type Point struct {
	X          float64
	Y          float64
	T          float64 // seconds
	Confidence float64
}

// QuadraticFit holds fitted coefficients for y = a*x² + b*x + c and the
// derived quality and shape metrics. It is recomputed per validation call
// and never mutated.
type QuadraticFit struct {
	A float64 // Quadratic coefficient (curvature)
	B float64 // Linear coefficient
	C float64 // Intercept

	RSquared    float64 // Coefficient of determination
	ResidualRMS float64 // RMS residual in pixels
	PointCount  int

	VertexX       float64 // Parabola apex
	VertexY       float64
	OpensDownward bool // a < 0; in image coordinates an upward arc
}

// CurveFitter fits a parabola to a trajectory window. The default regresses
// y against x, matching the historic behaviour; a time-parameterized fitter
// can be substituted for near-vertical motion where the x-fit degenerates.
type CurveFitter interface {
	// Fit returns the quadratic fit, or ok=false when the point set is
	// degenerate (too few points, collinear, or near-vertical).
	Fit(points []Point) (QuadraticFit, bool)
}

// XQuadraticFitter regresses y on x via least squares.
type XQuadraticFitter struct{}

// Fit solves the Vandermonde system with a QR factorization. Ill-conditioned
// systems (collinear or near-vertical point sets) report no fit instead of
// propagating a numerical error.
func (XQuadraticFitter) Fit(points []Point) (QuadraticFit, bool) {
	n := len(points)
	if n < 3 {
		return QuadraticFit{}, false
	}

	// A near-zero x spread means the parabola in x is meaningless.
	minX, maxX := points[0].X, points[0].X
	for _, p := range points[1:] {
		minX = math.Min(minX, p.X)
		maxX = math.Max(maxX, p.X)
	}
	if maxX-minX < 1e-6 {
		return QuadraticFit{}, false
	}

	a := mat.NewDense(n, 3, nil)
	b := mat.NewVecDense(n, nil)
	for i, p := range points {
		a.Set(i, 0, p.X*p.X)
		a.Set(i, 1, p.X)
		a.Set(i, 2, 1)
		b.SetVec(i, p.Y)
	}

	var qr mat.QR
	qr.Factorize(a)
	var coef mat.VecDense
	if err := qr.SolveVecTo(&coef, false, b); err != nil {
		return QuadraticFit{}, false
	}

	ca, cb, cc := coef.AtVec(0), coef.AtVec(1), coef.AtVec(2)
	if !isFinite(ca) || !isFinite(cb) || !isFinite(cc) {
		return QuadraticFit{}, false
	}

	// Fit quality from residuals against the y mean.
	var yMean float64
	for _, p := range points {
		yMean += p.Y
	}
	yMean /= float64(n)

	var ssRes, ssTot float64
	for _, p := range points {
		pred := ca*p.X*p.X + cb*p.X + cc
		ssRes += (p.Y - pred) * (p.Y - pred)
		ssTot += (p.Y - yMean) * (p.Y - yMean)
	}
	rSquared := 0.0
	if ssTot > 0 {
		rSquared = 1 - ssRes/ssTot
	}
	residualRMS := math.Sqrt(ssRes / float64(n))

	var vertexX float64
	if ca != 0 {
		vertexX = -cb / (2 * ca)
	}
	vertexY := ca*vertexX*vertexX + cb*vertexX + cc

	return QuadraticFit{
		A:             ca,
		B:             cb,
		C:             cc,
		RSquared:      rSquared,
		ResidualRMS:   residualRMS,
		PointCount:    n,
		VertexX:       vertexX,
		VertexY:       vertexY,
		OpensDownward: ca < 0,
	}, true
}

// TimeQuadraticFitter regresses y on elapsed time instead of x. It handles
// near-vertical motion (a rising serve) where the x-parameterized fit is
// ill-conditioned, at the cost of losing the spatial parabola geometry.
type TimeQuadraticFitter struct{}

// Fit regresses y = a*t² + b*t + c over the window's elapsed time.
func (TimeQuadraticFitter) Fit(points []Point) (QuadraticFit, bool) {
	if len(points) < 3 {
		return QuadraticFit{}, false
	}
	t0 := points[0].T
	shifted := make([]Point, len(points))
	for i, p := range points {
		shifted[i] = Point{X: p.T - t0, Y: p.Y, T: p.T, Confidence: p.Confidence}
	}
	return XQuadraticFitter{}.Fit(shifted)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
