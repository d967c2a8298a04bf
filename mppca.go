package genmix

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/charlienash/genmix/lowrank"
)

// PPCA parameterizes each component as a mixture of probabilistic principal
// component analyzers: covariance W Wᵀ + σ² I with a D×LatentDim loading
// matrix W and isotropic noise.
type PPCA struct {
	// LatentDim is the dimensionality of the latent space. It must be
	// positive and smaller than the data dimension.
	LatentDim int
}

// PPCAParams holds the covariance parameters of a PPCA mixture.
type PPCAParams struct {
	// Loadings has one D×L loading matrix per component.
	Loadings []*mat.Dense
	// NoiseVariances has one isotropic noise variance per component.
	NoiseVariances []float64
}

func (*PPCAParams) covarianceParams() {}

func (c PPCA) initCov(x *mat.Dense, labels []int, k int) (CovarianceParams, error) {
	loadings := make([]*mat.Dense, k)
	noise := make([]float64, k)
	for j := 0; j < k; j++ {
		xc := clusterRows(x, labels, j)
		w, sigmaSq, err := lowrank.PCA(xc, c.LatentDim)
		if err != nil {
			return nil, fmt.Errorf("genmix: seeding component %d: %w", j, err)
		}
		loadings[j] = w
		noise[j] = sigmaSq
	}
	return &PPCAParams{Loadings: loadings, NoiseVariances: noise}, nil
}

func (c PPCA) materialize(p *MixtureParams, dim int) ([]*mat.SymDense, error) {
	pp := p.Cov.(*PPCAParams)
	sigmas := make([]*mat.SymDense, len(pp.Loadings))
	for j, w := range pp.Loadings {
		var wwt mat.Dense
		wwt.Mul(w, w.T())
		sigma := symFromDense(&wwt)
		addDiag(sigma, pp.NoiseVariances[j])
		sigmas[j] = sigma
	}
	return sigmas, nil
}

// latent computes E[z|x] and the constant part of E[z zᵀ|x] for each
// component using the L×L matrix M = Wᵀ W + σ² I, so no D×D inversion is
// ever formed.
func (c PPCA) latent(x *mat.Dense, p *MixtureParams) ([]latentStats, error) {
	pp := p.Cov.(*PPCAParams)
	k := len(pp.Loadings)
	l := c.LatentDim

	out := make([]latentStats, k)
	err := forEachComponent(k, func(j int) error {
		w := pp.Loadings[j]
		sigmaSq := pp.NoiseVariances[j]

		var wtw mat.Dense
		wtw.Mul(w.T(), w)
		m := symFromDense(&wtw)
		addDiag(m, sigmaSq)
		mInv, err := invertSym(m, j)
		if err != nil {
			return err
		}

		// z = (x − mu) W M⁻¹
		dev := subRows(x, p.Means.RawRowView(j))
		var wm, z mat.Dense
		wm.Mul(w, mInv)
		z.Mul(dev, &wm)

		zCov := mat.NewSymDense(l, nil)
		for a := 0; a < l; a++ {
			for b := a; b < l; b++ {
				zCov.SetSym(a, b, sigmaSq*mInv.At(a, b))
			}
		}
		out[j] = latentStats{z: &z, zCov: zCov}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c PPCA) maximize(x *mat.Dense, st *suffStats, p *MixtureParams, prior float64) (*MixtureParams, error) {
	n, d := x.Dims()
	k := len(p.Weights)
	l := c.LatentDim
	old := p.Cov.(*PPCAParams)

	weights := newWeights(st.resp)
	means := mat.NewDense(k, d, nil)
	loadings := make([]*mat.Dense, k)
	noise := make([]float64, k)
	err := forEachComponent(k, func(j int) error {
		r := make([]float64, n)
		mat.Col(r, j, st.resp)
		rSum := floats.Sum(r)
		z := st.latent[j].z
		zCov := st.latent[j].zCov
		wOld := old.Loadings[j]

		// Reconstruction-corrected mean: weighted average of x − W E[z].
		var rec mat.Dense
		rec.Mul(z, wOld.T())
		resid := mat.NewDense(n, d, nil)
		resid.Sub(x, &rec)
		mu := means.RawRowView(j)
		weightedMean(mu, resid, r)

		dev := subRows(x, mu)
		devw := scaleRows(dev, r)

		// W = [Σ r (x−mu) zᵀ] [Σ r E[z zᵀ]]⁻¹, with the component-prior
		// ridge prior·σ² added to the normal-equations matrix when set.
		var w1 mat.Dense
		w1.Mul(devw.T(), z)
		zw := scaleRows(z, r)
		var zz mat.Dense
		zz.Mul(zw.T(), z)
		ezz := symFromDense(&zz)
		for s := 0; s < l; s++ {
			for t := s; t < l; t++ {
				ezz.SetSym(s, t, ezz.At(s, t)+rSum*zCov.At(s, t))
			}
		}
		if prior > 0 {
			addDiag(ezz, prior*old.NoiseVariances[j])
		}
		ezzInv, err := invertSym(ezz, j)
		if err != nil {
			return err
		}
		w := mat.NewDense(d, l, nil)
		w.Mul(&w1, ezzInv)
		loadings[j] = w

		// σ² from the weighted residual sum of squares minus the
		// reconstruction cross term plus the latent second-moment term.
		var wtw mat.Dense
		wtw.Mul(w.T(), w)
		var dw, zm mat.Dense
		dw.Mul(dev, w)
		zm.Mul(z, &wtw)
		var s1, s2, s3 float64
		for i := 0; i < n; i++ {
			di := dev.RawRowView(i)
			s1 += r[i] * floats.Dot(di, di)
			s2 += r[i] * floats.Dot(dw.RawRowView(i), z.RawRowView(i))
			s3 += r[i] * floats.Dot(zm.RawRowView(i), z.RawRowView(i))
		}
		var tr float64
		for s := 0; s < l; s++ {
			for t := 0; t < l; t++ {
				tr += zCov.At(s, t) * wtw.At(t, s)
			}
		}
		noise[j] = (s1 - 2*s2 + s3 + rSum*tr) / (float64(d) * rSum)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &MixtureParams{Weights: weights, Means: means, Cov: &PPCAParams{Loadings: loadings, NoiseVariances: noise}}, nil
}

func (c PPCA) check(p *MixtureParams, k, dim int) error {
	pp, ok := p.Cov.(*PPCAParams)
	if !ok {
		return fmt.Errorf("genmix: initial parameters hold %T, want *PPCAParams", p.Cov)
	}
	if len(pp.Loadings) != k || len(pp.NoiseVariances) != k {
		return fmt.Errorf("genmix: initial parameters hold %d loadings and %d noise variances, want %d", len(pp.Loadings), len(pp.NoiseVariances), k)
	}
	for j, w := range pp.Loadings {
		r, l := w.Dims()
		if r != dim || l != c.LatentDim {
			return fmt.Errorf("genmix: loading matrix %d is %d×%d, want %d×%d", j, r, l, dim, c.LatentDim)
		}
	}
	return nil
}
