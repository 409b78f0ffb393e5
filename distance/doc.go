// Package distance provides the space types used by vector fields, the raw
// distance functions behind them, and the monotonic transforms that turn a raw
// engine distance into a similarity score.
//
// # Conventions
//
// Every raw distance in this package is "lower is closer":
//
//   - SpaceL2: squared Euclidean distance
//   - SpaceL1: Manhattan distance
//   - SpaceLinf: Chebyshev (max-abs) distance
//   - SpaceCosine: 1 - cosine similarity
//   - SpaceInnerProduct: negated dot product
//   - SpaceHamming: number of differing bits
//
// Scores are always "higher is closer". For every space except inner product
// the score is 1/(1+raw). Inner product maps negative raw values (positive dot
// products) to 1-raw so the score stays monotonic across the sign change.
//
// # Usage
//
//	raw := distance.SpaceL2.Distance(a, b)
//	score := distance.SpaceL2.Score(raw)
package distance
