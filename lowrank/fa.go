package lowrank

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

const (
	faMaxIter = 100
	faTol     = 1e-6

	// Noise variances are floored to keep Ψ⁻¹ finite.
	psiFloor = 1e-12
)

// FactorAnalysis fits a single-component factor analyzer to the rows of x:
// covariance W Wᵀ + Ψ with Ψ diagonal. It runs a short EM refinement
// started from the PCA solution and returns the D×latentDim loading matrix
// and the per-dimension noise variances.
func FactorAnalysis(x mat.Matrix, latentDim int) (*mat.Dense, []float64, error) {
	n, d := x.Dims()
	if latentDim <= 0 || latentDim >= d {
		return nil, nil, fmt.Errorf("lowrank: latent dimension %d must be positive and smaller than the data dimension %d", latentDim, d)
	}
	if n <= latentDim {
		return nil, nil, fmt.Errorf("lowrank: %d rows is too few for latent dimension %d", n, latentDim)
	}

	dev := centered(x)

	// Start from the PCA subspace, scaled by the explained standard
	// deviations, with Ψ picking up the remaining per-dimension variance.
	var svd mat.SVD
	if ok := svd.Factorize(dev, mat.SVDThin); !ok {
		return nil, nil, fmt.Errorf("lowrank: SVD failed")
	}
	sv := svd.Values(nil)
	var v mat.Dense
	svd.VTo(&v)
	w := mat.NewDense(d, latentDim, nil)
	for t := 0; t < latentDim; t++ {
		scale := sv[t] / math.Sqrt(float64(n-1))
		for i := 0; i < d; i++ {
			w.Set(i, t, scale*v.At(i, t))
		}
	}
	psi := make([]float64, d)
	col := make([]float64, n)
	for j := 0; j < d; j++ {
		mat.Col(col, j, dev)
		var ss float64
		for _, cv := range col {
			ss += cv * cv
		}
		variance := ss / float64(n-1)
		var rec float64
		for t := 0; t < latentDim; t++ {
			rec += w.At(j, t) * w.At(j, t)
		}
		psi[j] = math.Max(variance-rec, psiFloor)
	}

	for iter := 0; iter < faMaxIter; iter++ {
		// E-step: G = (I + Wᵀ Ψ⁻¹ W)⁻¹, Z = dev Ψ⁻¹ W G.
		pw := mat.NewDense(d, latentDim, nil)
		for i := 0; i < d; i++ {
			for t := 0; t < latentDim; t++ {
				pw.Set(i, t, w.At(i, t)/psi[i])
			}
		}
		var wpw mat.Dense
		wpw.Mul(w.T(), pw)
		gInv := mat.NewSymDense(latentDim, nil)
		for s := 0; s < latentDim; s++ {
			for t := s; t < latentDim; t++ {
				gInv.SetSym(s, t, 0.5*(wpw.At(s, t)+wpw.At(t, s)))
			}
			gInv.SetSym(s, s, gInv.At(s, s)+1)
		}
		var chol mat.Cholesky
		if ok := chol.Factorize(gInv); !ok {
			return nil, nil, fmt.Errorf("lowrank: singular latent precision at iteration %d", iter)
		}
		g := mat.NewSymDense(latentDim, nil)
		if err := chol.InverseTo(g); err != nil {
			return nil, nil, fmt.Errorf("lowrank: inverting latent precision: %w", err)
		}
		var pwg, z mat.Dense
		pwg.Mul(pw, g)
		z.Mul(dev, &pwg)

		// M-step: W = (devᵀZ)(nG + ZᵀZ)⁻¹, Ψ from the residual diagonal.
		var ztz mat.Dense
		ztz.Mul(z.T(), &z)
		ezz := mat.NewSymDense(latentDim, nil)
		for s := 0; s < latentDim; s++ {
			for t := s; t < latentDim; t++ {
				ezz.SetSym(s, t, 0.5*(ztz.At(s, t)+ztz.At(t, s))+float64(n)*g.At(s, t))
			}
		}
		if ok := chol.Factorize(ezz); !ok {
			return nil, nil, fmt.Errorf("lowrank: singular latent moment matrix at iteration %d", iter)
		}
		ezzInv := mat.NewSymDense(latentDim, nil)
		if err := chol.InverseTo(ezzInv); err != nil {
			return nil, nil, fmt.Errorf("lowrank: inverting latent moments: %w", err)
		}
		var dz mat.Dense
		dz.Mul(dev.T(), &z)
		wNew := mat.NewDense(d, latentDim, nil)
		wNew.Mul(&dz, ezzInv)

		var cross mat.Dense
		cross.Mul(z.T(), dev)
		var maxDelta float64
		for j := 0; j < d; j++ {
			mat.Col(col, j, dev)
			var ss float64
			for _, cv := range col {
				ss += cv * cv
			}
			var rec float64
			for t := 0; t < latentDim; t++ {
				rec += wNew.At(j, t) * cross.At(t, j)
			}
			next := math.Max((ss-rec)/float64(n), psiFloor)
			if delta := math.Abs(next - psi[j]); delta > maxDelta {
				maxDelta = delta
			}
			psi[j] = next
		}
		w = wNew
		if maxDelta < faTol {
			break
		}
	}
	return w, psi, nil
}
