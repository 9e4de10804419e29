/*
Package codec is the persistence core's boundary to the CRDT library.

The Codec interface exposes the four primitives the engines need: NewDoc,
Apply, Encode and Merge. Merge is associative and commutative, which is what
lets the batching writer coalesce queued updates and the compaction engine
fold a whole update log into one snapshot without caring about arrival order.

AnnotationCodec is the built-in implementation: documents are sets of keyed
last-writer-wins registers with a deterministic binary encoding. Swapping in
a different CRDT binding means implementing Codec and leaving the rest of
the core untouched.
*/
package codec
