package genmix

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Spherical parameterizes each component with a single scalar variance, so
// every covariance is isotropic.
type Spherical struct{}

// SphericalParams holds the covariance parameters of a Spherical mixture.
type SphericalParams struct {
	// Variances has one isotropic variance per component.
	Variances []float64
}

func (*SphericalParams) covarianceParams() {}

func (Spherical) initCov(x *mat.Dense, labels []int, k int) (CovarianceParams, error) {
	_, d := x.Dims()
	vars := make([]float64, k)
	sigma := mat.NewSymDense(d, nil)
	for c := 0; c < k; c++ {
		xc := clusterRows(x, labels, c)
		stat.CovarianceMatrix(sigma, xc, nil)
		var tr float64
		for i := 0; i < d; i++ {
			tr += sigma.At(i, i)
		}
		vars[c] = tr / float64(d)
	}
	return &SphericalParams{Variances: vars}, nil
}

func (Spherical) materialize(p *MixtureParams, dim int) ([]*mat.SymDense, error) {
	vars := p.Cov.(*SphericalParams).Variances
	sigmas := make([]*mat.SymDense, len(vars))
	for j, v := range vars {
		sigmas[j] = mat.NewSymDense(dim, nil)
		addDiag(sigmas[j], v)
	}
	return sigmas, nil
}

func (Spherical) latent(x *mat.Dense, p *MixtureParams) ([]latentStats, error) {
	return nil, nil
}

func (Spherical) maximize(x *mat.Dense, st *suffStats, p *MixtureParams, prior float64) (*MixtureParams, error) {
	n, d := x.Dims()
	k := len(p.Weights)

	weights := newWeights(st.resp)
	means := mat.NewDense(k, d, nil)
	vars := make([]float64, k)
	err := forEachComponent(k, func(j int) error {
		r := make([]float64, n)
		mat.Col(r, j, st.resp)
		rSum := floats.Sum(r)

		mu := means.RawRowView(j)
		weightedMean(mu, x, r)

		dev := subRows(x, mu)
		var ss float64
		for i := 0; i < n; i++ {
			row := dev.RawRowView(i)
			ss += r[i] * floats.Dot(row, row)
		}
		vars[j] = ss / (float64(d) * rSum)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &MixtureParams{Weights: weights, Means: means, Cov: &SphericalParams{Variances: vars}}, nil
}

func (Spherical) check(p *MixtureParams, k, dim int) error {
	sp, ok := p.Cov.(*SphericalParams)
	if !ok {
		return fmt.Errorf("genmix: initial parameters hold %T, want *SphericalParams", p.Cov)
	}
	if len(sp.Variances) != k {
		return fmt.Errorf("genmix: initial parameters hold %d variances, want %d", len(sp.Variances), k)
	}
	return nil
}
