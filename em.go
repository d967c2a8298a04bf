package genmix

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// em runs the E-step / M-step loop until the change in total log-likelihood
// drops below the tolerance or the iteration budget is exhausted. When the
// tolerance is met the loop stops before applying that iteration's M-step,
// so the returned parameters are the ones from the previous completed
// M-step. Exhausting the budget keeps the last computed parameters and is
// reported as a warning through the logger, not an error.
func (m *Model) em(x *mat.Dense, params *MixtureParams, cov Covariance) (*MixtureParams, error) {
	_, d := x.Dims()
	tol := m.Tol
	if tol == 0 {
		tol = defaultTol
	}
	maxIter := m.MaxIter
	if maxIter == 0 {
		maxIter = defaultMaxIter
	}

	prev := math.Inf(-1)
	var ll float64
	var history []float64
	converged := false
	iters := maxIter
	for iter := 0; iter < maxIter; iter++ {
		sigmas, err := cov.materialize(params, d)
		if err != nil {
			return nil, atIteration(err, iter)
		}
		resp, sampleLL, err := respAndLogLik(x, params, sigmas)
		if err != nil {
			return nil, atIteration(err, iter)
		}
		ll = floats.Sum(sampleLL)
		history = append(history, ll)
		if m.Logger != nil {
			m.Logger.Printf("iter %d   nll: %.3f   change: %.3f", iter, -ll, -(ll - prev))
		}
		if math.Abs(ll-prev) < tol {
			converged = true
			iters = iter + 1
			break
		}
		prev = ll

		lat, err := cov.latent(x, params)
		if err != nil {
			return nil, atIteration(err, iter)
		}
		params, err = cov.maximize(x, &suffStats{resp: resp, latent: lat}, params, m.ComponentPrior)
		if err != nil {
			return nil, atIteration(err, iter)
		}
	}
	if !converged && m.Logger != nil {
		m.Logger.Printf("did not converge within tolerance %g after %d iterations", tol, maxIter)
	}
	m.history = history
	m.trainLL = ll
	m.converged = converged
	m.iters = iters
	return params, nil
}

// atIteration stamps the failing EM iteration onto singular errors raised
// by the strategy implementations.
func atIteration(err error, iter int) error {
	var se *SingularError
	if errors.As(err, &se) {
		se.Iteration = iter
	}
	return err
}
