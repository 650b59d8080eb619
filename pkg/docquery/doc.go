// Package docquery embeds the hybrid retrieval engine in other Go
// programs.
//
// The docquery CLI drives the same machinery from the command line;
// this package wires it behind a single [Client] for programmatic use:
// a SQLite-backed chunk store, a BM25 lexical index, an HNSW vector
// index, and the multi-phase filter pipeline over the fused candidates.
//
// # Usage
//
//	client, err := docquery.Open(ctx, "/path/to/corpus", docquery.Options{})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	if _, err := client.Index(ctx); err != nil {
//	    return err
//	}
//
//	resp, err := client.Search(ctx, "rotate authentication tokens", nil)
//	if err != nil {
//	    return err
//	}
//	for _, r := range resp.Results {
//	    fmt.Println(r.ID, r.Score)
//	}
//
// # Thread Safety
//
// A Client is safe for concurrent use. Index holds an exclusive lock
// for the duration of a rebuild, so searches issued meanwhile block
// until the new index is in place.
package docquery
