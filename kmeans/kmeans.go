// Package kmeans implements Lloyd-style k-means clustering with k-means++
// seeding. It is used to partition data into the hard clusters that seed
// mixture model fits.
package kmeans

import (
	"fmt"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

const maxIter = 100

// Partition clusters the rows of x into k groups and returns the cluster
// label of each row. rnd supplies the randomness for seeding; if nil, a
// generator seeded from the global source is used.
func Partition(x mat.Matrix, k int, rnd *rand.Rand) ([]int, error) {
	n, d := x.Dims()
	if k <= 0 {
		return nil, fmt.Errorf("kmeans: number of clusters must be positive, got %d", k)
	}
	if k > n {
		return nil, fmt.Errorf("kmeans: %d clusters requested for %d rows", k, n)
	}
	if rnd == nil {
		rnd = rand.New(rand.NewSource(rand.Uint64()))
	}

	centers := seed(x, k, rnd)
	labels := make([]int, n)
	row := make([]float64, d)
	for iter := 0; iter < maxIter; iter++ {
		changed := false
		for i := 0; i < n; i++ {
			mat.Row(row, i, x)
			best := nearest(centers, row)
			if best != labels[i] {
				labels[i] = best
				changed = true
			}
		}
		if !changed && iter > 0 {
			break
		}
		updateCenters(x, labels, centers, rnd)
	}
	return labels, nil
}

// seed picks k initial centers with the k-means++ rule: the first uniformly
// at random, each subsequent one with probability proportional to its
// squared distance from the nearest center chosen so far.
func seed(x mat.Matrix, k int, rnd *rand.Rand) *mat.Dense {
	n, d := x.Dims()
	centers := mat.NewDense(k, d, nil)
	row := make([]float64, d)

	mat.Row(row, rnd.Intn(n), x)
	centers.SetRow(0, row)

	minDist := make([]float64, n)
	for c := 1; c < k; c++ {
		var total float64
		for i := 0; i < n; i++ {
			mat.Row(row, i, x)
			dist := sqDist(row, centers.RawRowView(c-1))
			if c == 1 || dist < minDist[i] {
				minDist[i] = dist
			}
			total += minDist[i]
		}
		if total == 0 {
			// All remaining points coincide with a chosen center.
			mat.Row(row, rnd.Intn(n), x)
			centers.SetRow(c, row)
			continue
		}
		target := rnd.Float64() * total
		var cum float64
		pick := n - 1
		for i := 0; i < n; i++ {
			cum += minDist[i]
			if cum >= target {
				pick = i
				break
			}
		}
		mat.Row(row, pick, x)
		centers.SetRow(c, row)
	}
	return centers
}

// updateCenters recomputes each center as the mean of its members. An empty
// cluster is reseeded from the point farthest from its assigned center.
func updateCenters(x mat.Matrix, labels []int, centers *mat.Dense, rnd *rand.Rand) {
	n, d := x.Dims()
	k, _ := centers.Dims()
	counts := make([]int, k)
	sums := mat.NewDense(k, d, nil)
	row := make([]float64, d)
	for i := 0; i < n; i++ {
		mat.Row(row, i, x)
		c := labels[i]
		counts[c]++
		dst := sums.RawRowView(c)
		for j, v := range row {
			dst[j] += v
		}
	}
	for c := 0; c < k; c++ {
		if counts[c] == 0 {
			centers.SetRow(c, farthest(x, labels, centers, row))
			continue
		}
		dst := centers.RawRowView(c)
		src := sums.RawRowView(c)
		for j := range dst {
			dst[j] = src[j] / float64(counts[c])
		}
	}
}

// farthest returns the row of x farthest from its assigned center.
func farthest(x mat.Matrix, labels []int, centers *mat.Dense, scratch []float64) []float64 {
	n, d := x.Dims()
	best := make([]float64, d)
	var bestDist float64 = -1
	for i := 0; i < n; i++ {
		mat.Row(scratch, i, x)
		dist := sqDist(scratch, centers.RawRowView(labels[i]))
		if dist > bestDist {
			bestDist = dist
			copy(best, scratch)
		}
	}
	return best
}

func nearest(centers *mat.Dense, p []float64) int {
	k, _ := centers.Dims()
	best := 0
	bestDist := sqDist(p, centers.RawRowView(0))
	for c := 1; c < k; c++ {
		if dist := sqDist(p, centers.RawRowView(c)); dist < bestDist {
			bestDist = dist
			best = c
		}
	}
	return best
}

func sqDist(a, b []float64) float64 {
	var s float64
	for i, v := range a {
		diff := v - b[i]
		s += diff * diff
	}
	return s
}
