package handlers

const maxPageLimit = 200

// ListArgs are the optional arguments of list channels. A zero Limit
// returns every record without pagination metadata.
type ListArgs struct {
	Q      string `json:"q,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// PageMeta accompanies a paginated list.
type PageMeta struct {
	TotalCount int  `json:"totalCount"`
	Limit      int  `json:"limit"`
	Offset     int  `json:"offset"`
	HasMore    bool `json:"hasMore"`
}

// paginate slices items per args. Negative values are clamped to 0 and the
// limit is capped at maxPageLimit; an offset past the end yields an empty
// page.
func paginate[T any](items []T, args ListArgs) ([]T, *PageMeta) {
	if args.Limit <= 0 {
		return items, nil
	}
	limit := min(args.Limit, maxPageLimit)
	offset := max(args.Offset, 0)

	total := len(items)
	start := min(offset, total)
	end := min(start+limit, total)
	return items[start:end], &PageMeta{
		TotalCount: total,
		Limit:      limit,
		Offset:     offset,
		HasMore:    end < total,
	}
}
