package genmix

import (
	"fmt"
	"log"

	"golang.org/x/exp/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distmv"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/charlienash/genmix/kmeans"
)

const (
	defaultTol     = 1e-3
	defaultMaxIter = 1000
)

// Model fits a Gaussian mixture to data with the EM algorithm. The zero
// value is not usable; Components must be set. The remaining fields have
// usable defaults.
type Model struct {
	// Components is the number of mixture components. Must be positive.
	Components int
	// Covariance selects the covariance parameterization. If nil, Full is
	// used.
	Covariance Covariance
	// Tol is the stopping tolerance on the change in total log-likelihood
	// between iterations. If zero, 1e-3 is used.
	Tol float64
	// MaxIter caps the number of EM iterations. If zero, 1000 is used.
	MaxIter int
	// ComponentPrior, when positive, applies shrinkage regularization to
	// the loading-matrix updates of the low-rank variants by adding a
	// diagonal ridge to the normal-equations matrix before inversion.
	ComponentPrior float64
	// Src is the source of randomness for initialization and sampling. If
	// nil, the default in exp/rand is used.
	Src rand.Source
	// Logger receives per-iteration diagnostics and the non-convergence
	// warning. If nil, the fit is silent.
	Logger *log.Logger
	// InitialParams, if non-nil, is used in place of partition seeding.
	// The set must match the configured number of components and the
	// selected covariance parameterization.
	InitialParams *MixtureParams

	cov       Covariance
	fitted    bool
	dim       int
	params    *MixtureParams
	trainLL   float64
	converged bool
	iters     int
	history   []float64
}

// Fit fits the mixture to the rows of x. On success the model is fitted and
// may be used for scoring and sampling; on error the model is left unfitted.
func (m *Model) Fit(x mat.Matrix) error {
	n, d := x.Dims()
	k := m.Components
	if k <= 0 {
		return fmt.Errorf("genmix: number of components must be positive, got %d", k)
	}
	if n < k {
		return fmt.Errorf("genmix: %d examples is fewer than %d components", n, k)
	}
	cov := m.Covariance
	if cov == nil {
		cov = Full{}
	}
	switch cv := cov.(type) {
	case PPCA:
		if cv.LatentDim <= 0 || cv.LatentDim >= d {
			return fmt.Errorf("genmix: latent dimension %d must be positive and smaller than the data dimension %d", cv.LatentDim, d)
		}
	case FactorAnalysis:
		if cv.LatentDim <= 0 || cv.LatentDim >= d {
			return fmt.Errorf("genmix: latent dimension %d must be positive and smaller than the data dimension %d", cv.LatentDim, d)
		}
	}
	xd := mat.DenseCopyOf(x)
	params := m.InitialParams
	if params == nil {
		var err error
		params, err = m.initParams(xd, k, cov)
		if err != nil {
			return err
		}
	} else {
		if len(params.Weights) != k {
			return fmt.Errorf("genmix: initial parameters hold %d weights, want %d", len(params.Weights), k)
		}
		mr, mc := params.Means.Dims()
		if mr != k || mc != d {
			return fmt.Errorf("genmix: initial mean matrix is %d×%d, want %d×%d", mr, mc, k, d)
		}
		if err := cov.check(params, k, d); err != nil {
			return err
		}
	}

	params, err := m.em(xd, params, cov)
	if err != nil {
		return err
	}
	m.cov = cov
	m.params = params
	m.dim = d
	m.fitted = true
	return nil
}

// initParams seeds the mixture from a hard partition of the data: cluster
// means become component means, cluster population fractions become
// weights, and the covariance strategy estimates its parameters from each
// cluster's members.
func (m *Model) initParams(x *mat.Dense, k int, cov Covariance) (*MixtureParams, error) {
	n, d := x.Dims()
	var rnd *rand.Rand
	if m.Src != nil {
		rnd = rand.New(m.Src)
	}
	labels, err := kmeans.Partition(x, k, rnd)
	if err != nil {
		return nil, fmt.Errorf("genmix: partition seeding: %w", err)
	}

	weights := make([]float64, k)
	means := mat.NewDense(k, d, nil)
	counts := make([]float64, k)
	for i, l := range labels {
		counts[l]++
		floats.Add(means.RawRowView(l), x.RawRowView(i))
	}
	for j := 0; j < k; j++ {
		if counts[j] == 0 {
			return nil, fmt.Errorf("genmix: partition seeding left component %d without members", j)
		}
		weights[j] = counts[j] / float64(n)
		floats.Scale(1/counts[j], means.RawRowView(j))
	}

	covp, err := cov.initCov(x, labels, k)
	if err != nil {
		return nil, err
	}
	return &MixtureParams{Weights: weights, Means: means, Cov: covp}, nil
}

// Sample draws n samples from the fitted mixture, one per row of the
// returned matrix.
func (m *Model) Sample(n int) (*mat.Dense, error) {
	if !m.fitted {
		return nil, ErrNotFitted
	}
	if n <= 0 {
		return nil, fmt.Errorf("genmix: sample size must be positive, got %d", n)
	}
	sigmas, err := m.cov.materialize(m.params, m.dim)
	if err != nil {
		return nil, err
	}
	k := len(m.params.Weights)
	normals := make([]*distmv.Normal, k)
	for j := 0; j < k; j++ {
		normal, ok := distmv.NewNormal(m.params.Means.RawRowView(j), sigmas[j], m.Src)
		if !ok {
			return nil, &SingularError{Component: j, Iteration: -1}
		}
		normals[j] = normal
	}
	cat := distuv.NewCategorical(m.params.Weights, m.Src)

	out := mat.NewDense(n, m.dim, nil)
	for i := 0; i < n; i++ {
		normals[int(cat.Rand())].Rand(out.RawRowView(i))
	}
	return out, nil
}

// ScoreSamples returns the log-likelihood of each row of x under the fitted
// mixture.
func (m *Model) ScoreSamples(x mat.Matrix) ([]float64, error) {
	if !m.fitted {
		return nil, ErrNotFitted
	}
	_, d := x.Dims()
	if d != m.dim {
		return nil, &DimensionError{Want: m.dim, Got: d}
	}
	sigmas, err := m.cov.materialize(m.params, m.dim)
	if err != nil {
		return nil, err
	}
	_, ll, err := respAndLogLik(x, m.params, sigmas)
	if err != nil {
		return nil, err
	}
	return ll, nil
}

// Score returns the mean log-likelihood of the rows of x under the fitted
// mixture.
func (m *Model) Score(x mat.Matrix) (float64, error) {
	ll, err := m.ScoreSamples(x)
	if err != nil {
		return 0, err
	}
	return stat.Mean(ll, nil), nil
}

// IsFitted reports whether Fit has completed successfully.
func (m *Model) IsFitted() bool { return m.fitted }

// Params returns the fitted mixture parameters, or nil if the model is not
// fitted. The returned set is the model's own; callers that mutate it do so
// at their peril.
func (m *Model) Params() *MixtureParams { return m.params }

// LogLikelihood returns the total training log-likelihood at the final
// iteration.
func (m *Model) LogLikelihood() float64 { return m.trainLL }

// Converged reports whether the last fit met the tolerance before the
// iteration budget ran out.
func (m *Model) Converged() bool { return m.converged }

// Iterations returns the number of EM iterations the last fit performed.
func (m *Model) Iterations() int { return m.iters }

// Dim returns the feature dimension recorded at fit time, or zero if the
// model is not fitted.
func (m *Model) Dim() int { return m.dim }
