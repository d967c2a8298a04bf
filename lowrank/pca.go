// Package lowrank provides single-component low-rank covariance fits. They
// supply the per-cluster loading matrices and noise estimates that seed the
// low-rank mixture variants.
package lowrank

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// PCA fits a probabilistic principal components decomposition to the rows
// of x. It returns the D×latentDim loading matrix whose columns are the
// leading right singular vectors of the centered data, and the isotropic
// noise variance estimated as the average of the discarded covariance
// eigenvalues.
func PCA(x mat.Matrix, latentDim int) (*mat.Dense, float64, error) {
	n, d := x.Dims()
	if latentDim <= 0 || latentDim >= d {
		return nil, 0, fmt.Errorf("lowrank: latent dimension %d must be positive and smaller than the data dimension %d", latentDim, d)
	}
	if n <= latentDim {
		return nil, 0, fmt.Errorf("lowrank: %d rows is too few for latent dimension %d", n, latentDim)
	}

	dev := centered(x)
	var svd mat.SVD
	if ok := svd.Factorize(dev, mat.SVDThin); !ok {
		return nil, 0, fmt.Errorf("lowrank: SVD failed")
	}
	sv := svd.Values(nil)
	var v mat.Dense
	svd.VTo(&v)

	w := mat.NewDense(d, latentDim, nil)
	for t := 0; t < latentDim; t++ {
		for i := 0; i < d; i++ {
			w.Set(i, t, v.At(i, t))
		}
	}

	// Eigenvalues of the sample covariance not captured by the kept
	// components; singular values beyond min(n, d) are implicitly zero.
	var resid float64
	for _, s := range sv[latentDim:] {
		resid += s * s / float64(n-1)
	}
	noise := resid / float64(d-latentDim)
	return w, noise, nil
}

// centered returns x with its column means subtracted.
func centered(x mat.Matrix) *mat.Dense {
	n, d := x.Dims()
	mean := make([]float64, d)
	row := make([]float64, d)
	for i := 0; i < n; i++ {
		mat.Row(row, i, x)
		for j, v := range row {
			mean[j] += v
		}
	}
	for j := range mean {
		mean[j] /= float64(n)
	}
	dev := mat.NewDense(n, d, nil)
	for i := 0; i < n; i++ {
		mat.Row(row, i, x)
		dst := dev.RawRowView(i)
		for j, v := range row {
			dst[j] = v - mean[j]
		}
	}
	return dev
}
