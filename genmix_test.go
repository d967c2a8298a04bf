package genmix

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
)

// twoBlobs samples n points split between Gaussians at the given means with
// identity covariance.
func twoBlobs(t *testing.T, n int, mu1, mu2 []float64, seed uint64) *mat.Dense {
	t.Helper()
	d := len(mu1)
	src := rand.NewSource(seed)
	eye := mat.NewSymDense(d, nil)
	for i := 0; i < d; i++ {
		eye.SetSym(i, i, 1)
	}
	n1, ok := distmv.NewNormal(mu1, eye, src)
	require.True(t, ok)
	n2, ok := distmv.NewNormal(mu2, eye, src)
	require.True(t, ok)
	x := mat.NewDense(n, d, nil)
	for i := 0; i < n; i++ {
		if i%2 == 0 {
			n1.Rand(x.RawRowView(i))
		} else {
			n2.Rand(x.RawRowView(i))
		}
	}
	return x
}

func requirePD(t *testing.T, sigmas []*mat.SymDense) {
	t.Helper()
	var chol mat.Cholesky
	for j, s := range sigmas {
		require.True(t, chol.Factorize(s), "covariance %d is not positive definite", j)
	}
}

func TestFullTwoComponentRecovery(t *testing.T) {
	x := twoBlobs(t, 200, []float64{0, 0}, []float64{10, 10}, 1)
	model := &Model{
		Components: 2,
		Covariance: Full{},
		Tol:        1e-3,
		Src:        rand.NewSource(2),
	}
	require.NoError(t, model.Fit(x))
	require.True(t, model.Converged())
	require.Less(t, model.Iterations(), 100)

	p := model.Params()
	require.InDelta(t, 1, floats.Sum(p.Weights), 1e-12)

	// Means must match the generating means up to label permutation.
	m0 := p.Means.RawRowView(0)
	m1 := p.Means.RawRowView(1)
	if m0[0] > m1[0] {
		m0, m1 = m1, m0
	}
	require.InDelta(t, 0, m0[0], 0.5)
	require.InDelta(t, 0, m0[1], 0.5)
	require.InDelta(t, 10, m1[0], 0.5)
	require.InDelta(t, 10, m1[1], 0.5)

	sigmas, err := model.cov.materialize(p, model.Dim())
	require.NoError(t, err)
	requirePD(t, sigmas)

	// Samples from the fit should form two separated clusters with roughly
	// the fitted proportions.
	samples, err := model.Sample(1000)
	require.NoError(t, err)
	var near0 int
	for i := 0; i < 1000; i++ {
		row := samples.RawRowView(i)
		d0 := math.Hypot(row[0]-m0[0], row[1]-m0[1])
		d1 := math.Hypot(row[0]-m1[0], row[1]-m1[1])
		require.Less(t, math.Min(d0, d1), 5.0)
		if d0 < d1 {
			near0++
		}
	}
	require.InDelta(t, 500, near0, 100)
}

func TestVariantsMonotoneLikelihood(t *testing.T) {
	x := twoBlobs(t, 120, []float64{0, 0, 0}, []float64{6, 6, 6}, 3)
	variants := map[string]Covariance{
		"full":      Full{},
		"spherical": Spherical{},
		"diagonal":  Diagonal{},
		"ppca":      PPCA{LatentDim: 1},
		"mfa":       FactorAnalysis{LatentDim: 1},
	}
	for name, cov := range variants {
		cov := cov
		t.Run(name, func(t *testing.T) {
			model := &Model{
				Components: 2,
				Covariance: cov,
				Tol:        1e-6,
				MaxIter:    300,
				Src:        rand.NewSource(4),
			}
			require.NoError(t, model.Fit(x))
			require.True(t, model.IsFitted())
			for i := 1; i < len(model.history); i++ {
				require.GreaterOrEqual(t, model.history[i], model.history[i-1]-1e-6,
					"log-likelihood decreased at iteration %d", i)
			}

			p := model.Params()
			require.InDelta(t, 1, floats.Sum(p.Weights), 1e-12)
			sigmas, err := model.cov.materialize(p, model.Dim())
			require.NoError(t, err)
			requirePD(t, sigmas)
		})
	}
}

func TestSingleComponentRecovery(t *testing.T) {
	src := rand.NewSource(5)
	mu := []float64{1, -2}
	sigma := mat.NewSymDense(2, []float64{2, 0.5, 0.5, 1})
	normal, ok := distmv.NewNormal(mu, sigma, src)
	require.True(t, ok)
	n := 4000
	x := mat.NewDense(n, 2, nil)
	for i := 0; i < n; i++ {
		normal.Rand(x.RawRowView(i))
	}

	model := &Model{Components: 1, Src: rand.NewSource(6)}
	require.NoError(t, model.Fit(x))

	p := model.Params()
	require.Equal(t, 1.0, p.Weights[0])
	require.InDelta(t, mu[0], p.Means.At(0, 0), 0.1)
	require.InDelta(t, mu[1], p.Means.At(0, 1), 0.1)
	fitted := p.Cov.(*FullParams).Sigmas[0]
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			require.InDelta(t, sigma.At(i, j), fitted.At(i, j), 0.2)
		}
	}

	// With a single component every responsibility is exactly one.
	sigmas, err := model.cov.materialize(p, 2)
	require.NoError(t, err)
	resp, _, err := respAndLogLik(x, p, sigmas)
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		require.Equal(t, 1.0, resp.At(i, 0))
	}
}

func TestScoreIsMeanOfScoreSamples(t *testing.T) {
	x := twoBlobs(t, 100, []float64{0, 0}, []float64{8, 8}, 7)
	model := &Model{Components: 2, Src: rand.NewSource(8)}
	require.NoError(t, model.Fit(x))

	ll, err := model.ScoreSamples(x)
	require.NoError(t, err)
	score, err := model.Score(x)
	require.NoError(t, err)
	require.Equal(t, floats.Sum(ll)/float64(len(ll)), score)
}

func TestOnModelScoreHigher(t *testing.T) {
	x := twoBlobs(t, 150, []float64{0, 0}, []float64{6, 6}, 9)
	model := &Model{Components: 2, Src: rand.NewSource(10)}
	require.NoError(t, model.Fit(x))

	far := twoBlobs(t, 150, []float64{50, 50}, []float64{60, 60}, 11)
	onModel, err := model.Score(x)
	require.NoError(t, err)
	offModel, err := model.Score(far)
	require.NoError(t, err)
	require.Greater(t, onModel, offModel)
}

func TestUnfittedErrors(t *testing.T) {
	model := &Model{Components: 2}
	x := mat.NewDense(3, 2, nil)

	_, err := model.Sample(5)
	require.ErrorIs(t, err, ErrNotFitted)
	_, err = model.Score(x)
	require.ErrorIs(t, err, ErrNotFitted)
	_, err = model.ScoreSamples(x)
	require.ErrorIs(t, err, ErrNotFitted)
}

func TestDimensionMismatch(t *testing.T) {
	x := twoBlobs(t, 60, []float64{0, 0}, []float64{5, 5}, 12)
	model := &Model{Components: 2, Src: rand.NewSource(13)}
	require.NoError(t, model.Fit(x))

	bad := mat.NewDense(4, 3, nil)
	_, err := model.ScoreSamples(bad)
	var de *DimensionError
	require.ErrorAs(t, err, &de)
	require.Equal(t, 2, de.Want)
	require.Equal(t, 3, de.Got)
}

func TestSingularCovariance(t *testing.T) {
	// Identical points give a zero covariance, which must surface as a
	// singular-covariance failure naming the component.
	x := mat.NewDense(10, 2, nil)
	for i := 0; i < 10; i++ {
		x.SetRow(i, []float64{1, 2})
	}
	model := &Model{Components: 1, Src: rand.NewSource(14)}
	err := model.Fit(x)
	var se *SingularError
	require.ErrorAs(t, err, &se)
	require.Equal(t, 0, se.Component)
	require.False(t, model.IsFitted())
}

func TestEmptySeedCluster(t *testing.T) {
	// Identical points collapse the partition onto a single cluster, so a
	// two-component seeding cannot populate both and must fail cleanly.
	x := mat.NewDense(10, 2, nil)
	for i := 0; i < 10; i++ {
		x.SetRow(i, []float64{1, 2})
	}
	model := &Model{Components: 2, Src: rand.NewSource(14)}
	err := model.Fit(x)
	require.Error(t, err)
	require.Contains(t, err.Error(), "without members")
	require.False(t, model.IsFitted())
}

func TestSampleSizeMustBePositive(t *testing.T) {
	x := twoBlobs(t, 50, []float64{0, 0}, []float64{8, 8}, 21)
	model := &Model{Components: 2, Src: rand.NewSource(22)}
	require.NoError(t, model.Fit(x))

	_, err := model.Sample(0)
	require.Error(t, err)
	_, err = model.Sample(-3)
	require.Error(t, err)
}

func TestFailedRefitKeepsFit(t *testing.T) {
	x := twoBlobs(t, 100, []float64{0, 0}, []float64{8, 8}, 23)
	model := &Model{Components: 2, Src: rand.NewSource(24)}
	require.NoError(t, model.Fit(x))

	params := model.Params()
	trainLL := model.LogLikelihood()
	history := append([]float64(nil), model.history...)
	require.NotEmpty(t, history)

	// A refit whose first iteration hits a singular covariance must leave
	// the earlier fit and its diagnostics intact.
	bad := &MixtureParams{
		Weights: []float64{0.5, 0.5},
		Means:   mat.NewDense(2, 2, []float64{0, 0, 8, 8}),
		Cov:     &FullParams{Sigmas: []*mat.SymDense{mat.NewSymDense(2, nil), mat.NewSymDense(2, nil)}},
	}
	model.InitialParams = bad
	err := model.Fit(x)
	var se *SingularError
	require.ErrorAs(t, err, &se)

	require.True(t, model.IsFitted())
	require.Same(t, params, model.Params())
	require.Equal(t, trainLL, model.LogLikelihood())
	require.Equal(t, history, model.history)
}

func TestConfigErrors(t *testing.T) {
	x := mat.NewDense(5, 2, nil)

	require.Error(t, (&Model{Components: 0}).Fit(x))
	require.Error(t, (&Model{Components: 6}).Fit(x))
	require.Error(t, (&Model{Components: 2, Covariance: PPCA{LatentDim: 2}}).Fit(x))
	require.Error(t, (&Model{Components: 2, Covariance: FactorAnalysis{LatentDim: 0}}).Fit(x))
}

func TestInitialParamsBypassesSeeding(t *testing.T) {
	x := twoBlobs(t, 100, []float64{0, 0}, []float64{10, 10}, 15)
	init := &MixtureParams{
		Weights: []float64{0.5, 0.5},
		Means:   mat.NewDense(2, 2, []float64{1, 1, 9, 9}),
		Cov:     &SphericalParams{Variances: []float64{2, 2}},
	}
	model := &Model{
		Components:    2,
		Covariance:    Spherical{},
		Tol:           1e-6,
		InitialParams: init,
	}
	require.NoError(t, model.Fit(x))
	require.True(t, model.Converged())

	// The supplied set is not mutated by the fit.
	require.Equal(t, []float64{0.5, 0.5}, init.Weights)
	require.Equal(t, []float64{2.0, 2.0}, init.Cov.(*SphericalParams).Variances)

	// A parameter record from a different variant is rejected.
	model = &Model{Components: 2, Covariance: Diagonal{}, InitialParams: init}
	require.Error(t, model.Fit(x))
}

func TestPPCAMaterialize(t *testing.T) {
	w := mat.NewDense(3, 1, []float64{1, 2, 3})
	p := &MixtureParams{
		Weights: []float64{1},
		Means:   mat.NewDense(1, 3, nil),
		Cov:     &PPCAParams{Loadings: []*mat.Dense{w}, NoiseVariances: []float64{0.5}},
	}
	sigmas, err := PPCA{LatentDim: 1}.materialize(p, 3)
	require.NoError(t, err)
	sigma := sigmas[0]
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			want := w.At(i, 0) * w.At(j, 0)
			if i == j {
				want += 0.5
			}
			require.InDelta(t, want, sigma.At(i, j), 1e-12)
		}
	}

	// In the noiseless limit the covariance reduces to the rank-L term:
	// every 2×2 minor of the rank-one matrix vanishes.
	p.Cov.(*PPCAParams).NoiseVariances[0] = 0
	sigmas, err = PPCA{LatentDim: 1}.materialize(p, 3)
	require.NoError(t, err)
	sigma = sigmas[0]
	for i := 0; i < 2; i++ {
		minor := sigma.At(i, i)*sigma.At(i+1, i+1) - sigma.At(i, i+1)*sigma.At(i+1, i)
		require.InDelta(t, 0, minor, 1e-12)
	}
}

func TestLowRankVariantsRecoverStructure(t *testing.T) {
	// Data concentrated along one direction plus small noise; the fitted
	// low-rank covariances should put most variance on the leading axis.
	src := rand.NewSource(16)
	rnd := rand.New(src)
	n := 300
	x := mat.NewDense(n, 3, nil)
	for i := 0; i < n; i++ {
		z := rnd.NormFloat64() * 3
		row := x.RawRowView(i)
		row[0] = z + 0.1*rnd.NormFloat64()
		row[1] = 2*z + 0.1*rnd.NormFloat64()
		row[2] = -z + 0.1*rnd.NormFloat64()
	}

	for _, cov := range []Covariance{PPCA{LatentDim: 1}, FactorAnalysis{LatentDim: 1}} {
		model := &Model{
			Components: 1,
			Covariance: cov,
			Tol:        1e-6,
			MaxIter:    500,
			Src:        rand.NewSource(17),
		}
		require.NoError(t, model.Fit(x))

		sigmas, err := model.cov.materialize(model.Params(), 3)
		require.NoError(t, err)
		requirePD(t, sigmas)
		// Var(x1) ≈ 4·Var(x0) and Cov(x0,x2) ≈ −Var(x0) under the
		// generating process.
		s := sigmas[0]
		require.InDelta(t, 4*s.At(0, 0), s.At(1, 1), 0.5*s.At(1, 1))
		require.Less(t, s.At(0, 2), 0.0)
	}
}
