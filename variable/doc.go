// Package variable is the variable store: keyed, partitioned, typed
// persistence of block outputs on top of a storage backend.
//
// A variable is addressed by (pipeline, block, name, partition). Its type is
// inferred on write and selects the codec:
//
//   - *DataFrame: columnar msgpack data plus a capped sample
//   - maps and structs (dictionary), slices (list_complex), scalars (json):
//     a JSON document plus a truncated JSON sample
//   - *Object: the raw bytes plus a text preview; reads return the preview
//   - *Iterable: one child variable per item, addressed as name/<i>
//
// Every variable carries a type.json side-car recording its type and
// cardinality, so Count can answer without loading data.
package variable
