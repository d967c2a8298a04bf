package genmix

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distmv"
)

// Covariance selects how the per-component covariance matrices are
// parameterized. The implementations provided by this package are Full,
// Spherical, Diagonal, PPCA and FactorAnalysis; the interface is not
// implementable outside the package.
type Covariance interface {
	// initCov estimates the variant's covariance parameters from a hard
	// partition of the rows of x into k clusters.
	initCov(x *mat.Dense, labels []int, k int) (CovarianceParams, error)
	// materialize expands the variant's parameters into full covariance
	// matrices for density evaluation.
	materialize(p *MixtureParams, dim int) ([]*mat.SymDense, error)
	// latent computes the conditional latent moments needed by the M-step.
	// Variants without latent structure return nil.
	latent(x *mat.Dense, p *MixtureParams) ([]latentStats, error)
	// maximize re-estimates all mixture parameters from the sufficient
	// statistics, as a pure function of its inputs.
	maximize(x *mat.Dense, st *suffStats, p *MixtureParams, prior float64) (*MixtureParams, error)
	// check validates that p carries this variant's parameter record with
	// shapes consistent with k components of dimension dim.
	check(p *MixtureParams, k, dim int) error
}

// CovarianceParams is the variant-specific portion of a mixture parameter
// set. The concrete types are FullParams, SphericalParams, DiagonalParams,
// PPCAParams and FactorParams.
type CovarianceParams interface {
	covarianceParams()
}

// MixtureParams holds one complete parameter set for a mixture model. The
// M-step produces a fresh MixtureParams each iteration; values are never
// mutated in place after construction, so a caller-supplied initial set
// survives the fit unchanged.
type MixtureParams struct {
	// Weights are the mixture proportions, one per component, summing to 1.
	Weights []float64
	// Means has one row per component.
	Means *mat.Dense
	// Cov holds the variant-specific covariance parameters.
	Cov CovarianceParams
}

// latentStats holds the conditional latent moments for one component. The
// second moment of the latent variable factors as E[z zᵀ|x] = zCov + z zᵀ,
// with zCov constant across examples for a fixed parameter set.
type latentStats struct {
	z    *mat.Dense    // n×L, E[z|x] one row per example
	zCov *mat.SymDense // L×L
}

// suffStats is the output of one E-step.
type suffStats struct {
	resp   *mat.Dense // n×k responsibilities
	latent []latentStats
}

// respAndLogLik computes responsibilities and per-example log-likelihoods
// under the given parameters and materialized covariances. The component
// log-densities are evaluated through distmv.Normal, so every variant shares
// the same Cholesky-based evaluation, and the responsibilities are
// normalized in log space. Components are processed concurrently, each
// writing only its own column.
func respAndLogLik(x mat.Matrix, p *MixtureParams, sigmas []*mat.SymDense) (*mat.Dense, []float64, error) {
	n, d := x.Dims()
	k := len(p.Weights)

	logp := mat.NewDense(n, k, nil)
	errs := make([]error, k)
	var wg sync.WaitGroup
	for j := 0; j < k; j++ {
		wg.Add(1)
		go func(j int) {
			defer wg.Done()
			normal, ok := distmv.NewNormal(p.Means.RawRowView(j), sigmas[j], nil)
			if !ok {
				errs[j] = &SingularError{Component: j, Iteration: -1}
				return
			}
			row := make([]float64, d)
			for i := 0; i < n; i++ {
				mat.Row(row, i, x)
				logp.Set(i, j, normal.LogProb(row))
			}
		}(j)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return nil, nil, err
		}
	}

	logw := make([]float64, k)
	for j, w := range p.Weights {
		logw[j] = math.Log(w)
	}

	resp := mat.NewDense(n, k, nil)
	sampleLL := make([]float64, n)
	for i := 0; i < n; i++ {
		r := resp.RawRowView(i)
		for j := 0; j < k; j++ {
			r[j] = logw[j] + logp.At(i, j)
		}
		lse := floats.LogSumExp(r)
		sampleLL[i] = lse
		for j := range r {
			r[j] = math.Exp(r[j] - lse)
		}
	}
	return resp, sampleLL, nil
}

// newWeights is the shared weight update: the mean responsibility mass per
// component.
func newWeights(resp *mat.Dense) []float64 {
	n, k := resp.Dims()
	w := make([]float64, k)
	col := make([]float64, n)
	for j := 0; j < k; j++ {
		mat.Col(col, j, resp)
		w[j] = floats.Sum(col) / float64(n)
	}
	return w
}

// weightedMean fills mu with the responsibility-weighted column means of x.
func weightedMean(mu []float64, x mat.Matrix, r []float64) {
	n, _ := x.Dims()
	col := make([]float64, n)
	for j := range mu {
		mat.Col(col, j, x)
		mu[j] = stat.Mean(col, r)
	}
}

// scaleRows returns a copy of x with row i scaled by r[i].
func scaleRows(x mat.Matrix, r []float64) *mat.Dense {
	n, d := x.Dims()
	out := mat.NewDense(n, d, nil)
	row := make([]float64, d)
	for i := 0; i < n; i++ {
		mat.Row(row, i, x)
		dst := out.RawRowView(i)
		for j, v := range row {
			dst[j] = r[i] * v
		}
	}
	return out
}

// subRows returns x with mu subtracted from every row.
func subRows(x mat.Matrix, mu []float64) *mat.Dense {
	n, d := x.Dims()
	out := mat.NewDense(n, d, nil)
	row := make([]float64, d)
	for i := 0; i < n; i++ {
		mat.Row(row, i, x)
		dst := out.RawRowView(i)
		for j, v := range row {
			dst[j] = v - mu[j]
		}
	}
	return out
}

// clusterRows gathers the rows of x whose label equals c.
func clusterRows(x *mat.Dense, labels []int, c int) *mat.Dense {
	_, d := x.Dims()
	var count int
	for _, l := range labels {
		if l == c {
			count++
		}
	}
	out := mat.NewDense(count, d, nil)
	var i int
	for r, l := range labels {
		if l == c {
			out.SetRow(i, x.RawRowView(r))
			i++
		}
	}
	return out
}

// symFromDense symmetrizes a into a SymDense.
func symFromDense(a mat.Matrix) *mat.SymDense {
	n, _ := a.Dims()
	s := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			s.SetSym(i, j, 0.5*(a.At(i, j)+a.At(j, i)))
		}
	}
	return s
}

// invertSym inverts a symmetric positive-definite matrix via its Cholesky
// factorization. comp identifies the mixture component for error reporting.
func invertSym(a *mat.SymDense, comp int) (*mat.SymDense, error) {
	var chol mat.Cholesky
	if ok := chol.Factorize(a); !ok {
		return nil, &SingularError{Component: comp, Iteration: -1}
	}
	inv := mat.NewSymDense(a.SymmetricDim(), nil)
	if err := chol.InverseTo(inv); err != nil {
		return nil, &SingularError{Component: comp, Iteration: -1}
	}
	return inv, nil
}

// forEachComponent runs f once per component concurrently. Each invocation
// writes only to its own pre-sized output slots, so no locking is needed.
func forEachComponent(k int, f func(j int) error) error {
	errs := make([]error, k)
	var wg sync.WaitGroup
	for j := 0; j < k; j++ {
		wg.Add(1)
		go func(j int) {
			defer wg.Done()
			errs[j] = f(j)
		}(j)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// addDiag adds v to every diagonal element of s.
func addDiag(s *mat.SymDense, v float64) {
	n := s.SymmetricDim()
	for i := 0; i < n; i++ {
		s.SetSym(i, i, s.At(i, i)+v)
	}
}
