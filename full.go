package genmix

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Full parameterizes each component with an unconstrained symmetric
// positive-definite covariance matrix.
type Full struct{}

// FullParams holds the covariance parameters of a Full mixture.
type FullParams struct {
	// Sigmas has one covariance matrix per component.
	Sigmas []*mat.SymDense
}

func (*FullParams) covarianceParams() {}

func (Full) initCov(x *mat.Dense, labels []int, k int) (CovarianceParams, error) {
	_, d := x.Dims()
	sigmas := make([]*mat.SymDense, k)
	for c := 0; c < k; c++ {
		xc := clusterRows(x, labels, c)
		sigmas[c] = mat.NewSymDense(d, nil)
		stat.CovarianceMatrix(sigmas[c], xc, nil)
	}
	return &FullParams{Sigmas: sigmas}, nil
}

func (Full) materialize(p *MixtureParams, dim int) ([]*mat.SymDense, error) {
	return p.Cov.(*FullParams).Sigmas, nil
}

func (Full) latent(x *mat.Dense, p *MixtureParams) ([]latentStats, error) {
	return nil, nil
}

func (Full) maximize(x *mat.Dense, st *suffStats, p *MixtureParams, prior float64) (*MixtureParams, error) {
	n, d := x.Dims()
	k := len(p.Weights)

	weights := newWeights(st.resp)
	means := mat.NewDense(k, d, nil)
	sigmas := make([]*mat.SymDense, k)
	err := forEachComponent(k, func(j int) error {
		r := make([]float64, n)
		mat.Col(r, j, st.resp)
		rSum := floats.Sum(r)

		mu := means.RawRowView(j)
		weightedMean(mu, x, r)

		// Sigma = E_r[x xᵀ]/R − mu muᵀ
		xw := scaleRows(x, r)
		var s mat.Dense
		s.Mul(x.T(), xw)
		s.Scale(1/rSum, &s)
		sigma := symFromDense(&s)
		for a := 0; a < d; a++ {
			for b := a; b < d; b++ {
				sigma.SetSym(a, b, sigma.At(a, b)-mu[a]*mu[b])
			}
		}
		sigmas[j] = sigma
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &MixtureParams{Weights: weights, Means: means, Cov: &FullParams{Sigmas: sigmas}}, nil
}

func (Full) check(p *MixtureParams, k, dim int) error {
	fp, ok := p.Cov.(*FullParams)
	if !ok {
		return fmt.Errorf("genmix: initial parameters hold %T, want *FullParams", p.Cov)
	}
	if len(fp.Sigmas) != k {
		return fmt.Errorf("genmix: initial parameters hold %d covariances, want %d", len(fp.Sigmas), k)
	}
	for j, s := range fp.Sigmas {
		if s.SymmetricDim() != dim {
			return fmt.Errorf("genmix: covariance %d has dimension %d, want %d", j, s.SymmetricDim(), dim)
		}
	}
	return nil
}
