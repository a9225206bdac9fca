/*
Package mpt implements a versioned, content-addressed Merkle Patricia Trie over a pluggable node store.

## Shape

The trie is a radix-16 tree over key nibbles with two stored node kinds:

- leaf: holds the key nibbles not consumed by its ancestors (the suffix) and the value
- branch: skips a compressed run of nibbles (the prefix), then fans out on one nibble into up to 16 children. Under schemes with branch values (classic) a key may also end exactly at a branch

Every stored branch has at least two entries, counting its value. Deletes collapse a branch left with a single child into that child, merging prefixes, so the trie for a given set of keys is unique and so is its root digest.

## Versions

Writes go into a working root, either one at a time with Put/Delete followed by CommitWorking, or as a batch passed to Commit. A commit writes every new node, the refcount increments of the nodes they reference, the version's root entry and the latest pointer in one atomic store batch. Committed versions are immutable and can be read concurrently with GetAt, Proof and the scanning helpers.

The digest of a node depends on the commitment scheme (see package commit) and nothing else, so identical subtrees are stored once and shared between versions. Old versions are reclaimed by the mpt/gc package.

## Proofs

Proof records the lookup path of a key as a proof.Traversal; ProofWire renders it in one of the wire formats of package proof, which verifies them without access to the store.
*/
package mpt
