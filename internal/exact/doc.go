// Package exact scores candidate documents of a leaf by brute force.
//
// An Iterator variant is chosen from the field's data type and quantization
// state: float, byte (widened to float), binary (Hamming), quantized Hamming
// and quantized ADC. Each variant exists in a flat form and a nested form;
// the nested form yields the best-scoring child per parent document.
//
// Top-k selection uses a min-heap seeded with tagged sentinels so that a
// partially filled heap never leaks placeholder hits, whatever the scores.
package exact
