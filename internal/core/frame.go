package core

// Chunk is an opaque media payload received from a stream connection.
type Chunk []byte
