// Package isorun runs a test command inside a private directory tree
// described by a manifest.
//
// A manifest names the command, a mapping of relative paths to
// content-addressed blobs or symlinks, the working directory, and an
// optional read-only bit. Run fetches the missing blobs from a backing
// store (HTTP or a local directory) through a prioritized worker pool,
// keeps them in a bounded local LRU cache, hardlinks them into a
// throwaway tree, executes the command there, and tears the tree down
// on every exit path.
package isorun
