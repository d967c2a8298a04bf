package genmix

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/charlienash/genmix/lowrank"
)

// FactorAnalysis parameterizes each component as a factor analyzer:
// covariance W Wᵀ + Ψ with a D×LatentDim loading matrix W and diagonal
// noise Ψ.
type FactorAnalysis struct {
	// LatentDim is the dimensionality of the latent space. It must be
	// positive and smaller than the data dimension.
	LatentDim int
}

// FactorParams holds the covariance parameters of a FactorAnalysis mixture.
type FactorParams struct {
	// Loadings has one D×L loading matrix per component.
	Loadings []*mat.Dense
	// NoiseVariances has one row of per-dimension noise variances per
	// component.
	NoiseVariances *mat.Dense
}

func (*FactorParams) covarianceParams() {}

func (c FactorAnalysis) initCov(x *mat.Dense, labels []int, k int) (CovarianceParams, error) {
	_, d := x.Dims()
	loadings := make([]*mat.Dense, k)
	noise := mat.NewDense(k, d, nil)
	for j := 0; j < k; j++ {
		xc := clusterRows(x, labels, j)
		w, psi, err := lowrank.FactorAnalysis(xc, c.LatentDim)
		if err != nil {
			return nil, fmt.Errorf("genmix: seeding component %d: %w", j, err)
		}
		loadings[j] = w
		noise.SetRow(j, psi)
	}
	return &FactorParams{Loadings: loadings, NoiseVariances: noise}, nil
}

func (c FactorAnalysis) materialize(p *MixtureParams, dim int) ([]*mat.SymDense, error) {
	fp := p.Cov.(*FactorParams)
	sigmas := make([]*mat.SymDense, len(fp.Loadings))
	for j, w := range fp.Loadings {
		var wwt mat.Dense
		wwt.Mul(w, w.T())
		sigma := symFromDense(&wwt)
		psi := fp.NoiseVariances.RawRowView(j)
		for i, v := range psi {
			sigma.SetSym(i, i, sigma.At(i, i)+v)
		}
		sigmas[j] = sigma
	}
	return sigmas, nil
}

// latent computes E[z|x] and the constant part of E[z zᵀ|x] for each
// component. The Woodbury identity reduces the required inversion to the
// L×L matrix G⁻¹ = I + Wᵀ Ψ⁻¹ W; G equals I − Wᵀ(WWᵀ+Ψ)⁻¹W and
// E[z|x] = G Wᵀ Ψ⁻¹ (x − mu).
func (c FactorAnalysis) latent(x *mat.Dense, p *MixtureParams) ([]latentStats, error) {
	fp := p.Cov.(*FactorParams)
	k := len(fp.Loadings)
	_, d := x.Dims()
	l := c.LatentDim

	out := make([]latentStats, k)
	err := forEachComponent(k, func(j int) error {
		w := fp.Loadings[j]
		psi := fp.NoiseVariances.RawRowView(j)

		// pw = Ψ⁻¹ W
		pw := mat.NewDense(d, l, nil)
		for i := 0; i < d; i++ {
			row := pw.RawRowView(i)
			for t := 0; t < l; t++ {
				row[t] = w.At(i, t) / psi[i]
			}
		}
		var wpw mat.Dense
		wpw.Mul(w.T(), pw)
		gInv := symFromDense(&wpw)
		addDiag(gInv, 1)
		g, err := invertSym(gInv, j)
		if err != nil {
			return err
		}

		dev := subRows(x, p.Means.RawRowView(j))
		var pwg, z mat.Dense
		pwg.Mul(pw, g)
		z.Mul(dev, &pwg)

		out[j] = latentStats{z: &z, zCov: g}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c FactorAnalysis) maximize(x *mat.Dense, st *suffStats, p *MixtureParams, prior float64) (*MixtureParams, error) {
	n, d := x.Dims()
	k := len(p.Weights)
	l := c.LatentDim
	old := p.Cov.(*FactorParams)

	weights := newWeights(st.resp)
	means := mat.NewDense(k, d, nil)
	loadings := make([]*mat.Dense, k)
	noise := mat.NewDense(k, d, nil)
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
		zw := scaleRows(z, r)

		// W = [Σ r (x−mu) zᵀ] [Σ r E[z zᵀ]]⁻¹, ridged by the component
		// prior when set.
		var w1 mat.Dense
		w1.Mul(devw.T(), z)
		var zz mat.Dense
		zz.Mul(zw.T(), z)
		ezz := symFromDense(&zz)
		for s := 0; s < l; s++ {
			for t := s; t < l; t++ {
				ezz.SetSym(s, t, ezz.At(s, t)+rSum*zCov.At(s, t))
			}
		}
		if prior > 0 {
			addDiag(ezz, prior)
		}
		ezzInv, err := invertSym(ezz, j)
		if err != nil {
			return err
		}
		w := mat.NewDense(d, l, nil)
		w.Mul(&w1, ezzInv)
		loadings[j] = w

		// Ψ = diag(Σ r dev devᵀ − W Σ r z devᵀ) / R
		var cross mat.Dense
		cross.Mul(zw.T(), dev) // L×d
		psi := noise.RawRowView(j)
		for i := 0; i < n; i++ {
			di := dev.RawRowView(i)
			for a, v := range di {
				psi[a] += r[i] * v * v
			}
		}
		for a := 0; a < d; a++ {
			var s2 float64
			for t := 0; t < l; t++ {
				s2 += w.At(a, t) * cross.At(t, a)
			}
			psi[a] = (psi[a] - s2) / rSum
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &MixtureParams{Weights: weights, Means: means, Cov: &FactorParams{Loadings: loadings, NoiseVariances: noise}}, nil
}

func (c FactorAnalysis) check(p *MixtureParams, k, dim int) error {
	fp, ok := p.Cov.(*FactorParams)
	if !ok {
		return fmt.Errorf("genmix: initial parameters hold %T, want *FactorParams", p.Cov)
	}
	if len(fp.Loadings) != k {
		return fmt.Errorf("genmix: initial parameters hold %d loadings, want %d", len(fp.Loadings), k)
	}
	r, cc := fp.NoiseVariances.Dims()
	if r != k || cc != dim {
		return fmt.Errorf("genmix: initial noise matrix is %d×%d, want %d×%d", r, cc, k, dim)
	}
	for j, w := range fp.Loadings {
		wr, wl := w.Dims()
		if wr != dim || wl != c.LatentDim {
			return fmt.Errorf("genmix: loading matrix %d is %d×%d, want %d×%d", j, wr, wl, dim, c.LatentDim)
		}
	}
	return nil
}
