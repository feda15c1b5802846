// Package embedder produces per-token (multi-vector) embeddings for code
// blocks and search queries.
//
// Three layers are involved:
//
//   - Model is the inference engine. It takes a padded batch of token ids
//     and an attention mask and returns one matrix per sequence. HashModel
//     runs offline and deterministically; HTTPModel calls a remote server.
//   - ModelEmbedder combines a tokenizer.Pipeline with a Model and strips
//     padding rows, implementing Embedder.
//   - Pipeline sits in front of any Embedder. It splits work into batches
//     of at most ModelConfig.BatchSize, bounds every call with a timeout,
//     retries transient failures and trims each matrix to the document's
//     unpadded token count. A batch either succeeds completely or fails.
//
// # Basic Usage
//
//	p, err := embedder.New(ctx, embedder.Config{Backend: embedder.BackendHash},
//	    models.Default(), fetcher)
//	if err != nil {
//	    return err
//	}
//	defer p.Close()
//
//	matrices, err := p.EmbedBlocks(ctx, texts)   // one matrix per text
//	query, err := p.EmbedQuery(ctx, "parse config file")
//
// # Backends
//
// The hash backend needs no artifacts and uses tokenizer.HashVocabulary.
// The http backend tokenizes with the model's tokenizer.json, fetched
// through models.Fetcher, and posts token ids to Config.InferenceURL:
//
//	POST {url}
//	{"model": "lightonai/LateOn-Code-edge", "input_ids": [[...]], "attention_mask": [[...]]}
//
//	200 OK
//	{"embeddings": [[[...], ...]]}
//
// Requests are rate limited with golang.org/x/time/rate. 5xx and 429
// responses are retried by the Pipeline; other client errors are not.
//
// # Query Cache
//
// Query embeddings are cached in an LRU (hashicorp/golang-lru/v2) keyed by
// model version and query text. Cached matrices are copied on the way in
// and out so callers cannot mutate them.
package embedder
