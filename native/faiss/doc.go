// Package faiss adapts serialized FAISS indexes to the native engine
// contract through cgo. It is compiled only with the "faiss" build tag.
//
// FAISS inner-product indexes return similarities; the adapter converts them
// into raw distances (lower is closer) using the request's space type:
// -ip for inner product and 1-ip for cosine. Binary search is unsupported. Method parameters are
// forwarded on filtered searches.
package faiss
