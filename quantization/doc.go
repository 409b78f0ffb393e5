// Package quantization resolves per-segment quantization state and applies it
// to query vectors.
//
// Stored float vectors of a quantized field are reduced to 1, 2 or 4 bits per
// dimension by comparing each (optionally rotated) value against trained
// per-dimension thresholds. To compare a query against those codes it is
// either quantized the same way and scored with Hamming distance:
//
//	sc, err := quantization.Resolve(ctx, store, leaf.ID(), "vec", fi.Dimension, space)
//	code := quantization.Quantize(query, sc)
//
// or, for one-bit state trained with asymmetric distance computation (ADC),
// kept at full precision and transformed so that it can be scored directly
// against the stored bits:
//
//	q := quantization.Transform(query, sc)
//	d := quantization.ADCDistance(q, code, sc)
//
// Both operations are pure functions of (vector, state): the input is never
// modified and repeated calls yield bit-identical output.
//
// Training state is out of scope; states are produced elsewhere and served
// through a StateStore (see package statestore).
package quantization
