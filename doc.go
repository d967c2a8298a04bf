// Package genmix fits generative Gaussian mixture models to continuous
// vector data using the expectation-maximization (EM) algorithm.
//
// Documentation notation: the fitted density is
//
//	p(x) = \sum_{k=1}^K w_k N(x; mu_k, Sigma_k)
//
// where the w_k are the mixture weights and N is the multivariate normal
// density. The members of the family share the EM skeleton and differ only
// in how the per-component covariance Sigma_k is parameterized:
//
//	Full            unconstrained symmetric positive-definite matrix
//	Spherical       scalar variance times the identity
//	Diagonal        diagonal matrix
//	PPCA            W Wᵀ + σ² I  (mixture of probabilistic PCA)
//	FactorAnalysis  W Wᵀ + Ψ, Ψ diagonal  (mixture of factor analyzers)
//
// The low-rank variants (PPCA and FactorAnalysis) model each component with
// a D×L loading matrix W mapping an L-dimensional latent space to the data
// space, plus a noise term. Their E-steps additionally compute the
// conditional moments of the latent variable, and their M-steps update the
// loading matrices in closed form.
//
// Fitting is seeded by partitioning the data with the kmeans subpackage and,
// for the low-rank variants, fitting a single-component decomposition to
// each cluster with the lowrank subpackage. A pre-built parameter set may be
// supplied instead to bypass seeding.
package genmix
