package genmix

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Diagonal parameterizes each component with a diagonal covariance matrix.
type Diagonal struct{}

// DiagonalParams holds the covariance parameters of a Diagonal mixture.
type DiagonalParams struct {
	// Variances has one row of per-dimension variances per component.
	Variances *mat.Dense
}

func (*DiagonalParams) covarianceParams() {}

func (Diagonal) initCov(x *mat.Dense, labels []int, k int) (CovarianceParams, error) {
	_, d := x.Dims()
	vars := mat.NewDense(k, d, nil)
	sigma := mat.NewSymDense(d, nil)
	for c := 0; c < k; c++ {
		xc := clusterRows(x, labels, c)
		stat.CovarianceMatrix(sigma, xc, nil)
		row := vars.RawRowView(c)
		for i := 0; i < d; i++ {
			row[i] = sigma.At(i, i)
		}
	}
	return &DiagonalParams{Variances: vars}, nil
}

func (Diagonal) materialize(p *MixtureParams, dim int) ([]*mat.SymDense, error) {
	vars := p.Cov.(*DiagonalParams).Variances
	k, _ := vars.Dims()
	sigmas := make([]*mat.SymDense, k)
	for j := 0; j < k; j++ {
		sigmas[j] = mat.NewSymDense(dim, nil)
		row := vars.RawRowView(j)
		for i := 0; i < dim; i++ {
			sigmas[j].SetSym(i, i, row[i])
		}
	}
	return sigmas, nil
}

func (Diagonal) latent(x *mat.Dense, p *MixtureParams) ([]latentStats, error) {
	return nil, nil
}

func (Diagonal) maximize(x *mat.Dense, st *suffStats, p *MixtureParams, prior float64) (*MixtureParams, error) {
	n, d := x.Dims()
	k := len(p.Weights)

	weights := newWeights(st.resp)
	means := mat.NewDense(k, d, nil)
	vars := mat.NewDense(k, d, nil)
	err := forEachComponent(k, func(j int) error {
		r := make([]float64, n)
		mat.Col(r, j, st.resp)
		rSum := floats.Sum(r)

		mu := means.RawRowView(j)
		weightedMean(mu, x, r)

		// Diagonal of E_r[x xᵀ]/R − mu muᵀ.
		v := vars.RawRowView(j)
		for i := 0; i < n; i++ {
			row := x.RawRowView(i)
			for a, xv := range row {
				v[a] += r[i] * xv * xv
			}
		}
		for a := range v {
			v[a] = v[a]/rSum - mu[a]*mu[a]
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &MixtureParams{Weights: weights, Means: means, Cov: &DiagonalParams{Variances: vars}}, nil
}

func (Diagonal) check(p *MixtureParams, k, dim int) error {
	dp, ok := p.Cov.(*DiagonalParams)
	if !ok {
		return fmt.Errorf("genmix: initial parameters hold %T, want *DiagonalParams", p.Cov)
	}
	r, c := dp.Variances.Dims()
	if r != k || c != dim {
		return fmt.Errorf("genmix: initial variance matrix is %d×%d, want %d×%d", r, c, k, dim)
	}
	return nil
}
