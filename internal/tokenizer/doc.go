// Package tokenizer turns block and query text into token ids.
//
// One Vocabulary is loaded per model and wrapped by two Encoders: the
// document encoder truncates at the model's document length and is used
// while indexing, the query encoder truncates at the query length and is
// used only at search time. Truncation keeps the leading tokens and the
// closing special token. Batches are padded to their longest member and
// carry an attention mask so padding can be stripped after inference.
package tokenizer
