// Package pagination provides lazy cursor traversal and parallel id lookups.
//
// Paginator walks a collection page by page through a caller supplied
// FetchFunc. The platform uses three cursor styles, all mapped onto Cursor:
// next_cursor/previous_cursor on v1 collections, max_id/since_id on v1
// timelines, and meta.next_token/previous_token on v2 lists.
//
// Example usage:
//
//	p := pagination.NewLazy(fetchFollowers)
//	for id, err := range p.All(ctx) {
//		if err != nil {
//			return err
//		}
//		fmt.Println(id)
//	}
//
// BatchFetcher covers lookup endpoints that accept up to 100 ids per
// request:
//   - Splits ids into chunks (default 100)
//   - Spawns a worker pool (default 4 workers)
//   - Returns items in chunk order
//   - Returns partial data together with an error when chunks fail
package pagination
