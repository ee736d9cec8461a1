// Package textutil provides text processing helpers shared by the extraction,
// retrieval, and inference packages.
//
// The primary use cases are:
//   - Tokenizing prose into lowercase terms with stopwords removed
//   - Building term-frequency vectors, optionally TF-IDF weighted, and comparing
//     them with cosine similarity
//   - Locating a JSON payload inside model output that wraps it in code fences
//     or conversational prose
//   - Sanitizing filenames for safe filesystem use
package textutil
