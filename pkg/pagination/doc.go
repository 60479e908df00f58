// Package pagination implements the cursor convention of list operations.
//
// Servers slice a stable list with Page, which hands out opaque cursors:
//
//	tools, next, err := pagination.Page(all, params.Cursor, pagination.DefaultLimit)
//	if err != nil {
//	    return nil, err
//	}
//	return &protocol.ListToolsResult{Tools: tools, PaginatedResult: protocol.PaginatedResult{NextCursor: next}}, nil
//
// Clients follow the cursors with FetchAll, which stops at the first page
// without a next cursor, drops items it has already seen and fails on a
// cursor that repeats:
//
//	all, err := pagination.FetchAll(ctx, func(ctx context.Context, cursor string) ([]protocol.Tool, string, error) {
//	    res, err := c.ListTools(ctx, cursor)
//	    if err != nil {
//	        return nil, "", err
//	    }
//	    return res.Tools, res.NextCursor, nil
//	}, func(t protocol.Tool) string { return t.Name })
package pagination
