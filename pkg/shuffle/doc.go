// Package shuffle defines the value types shared by every layer of the
// transfer engine: block identities, map outputs awaiting upload, cached
// remote locations, the Spark index file codec and the error taxonomy.
//
// It has no dependencies on storage or transport so that stores, caches and
// metrics sinks can all speak about blocks without importing each other.
package shuffle
