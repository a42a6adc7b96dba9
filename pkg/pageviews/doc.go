// Package pageviews models Wikimedia page-view statistics requests and results.
//
// It covers everything that does not touch the network:
//
//   - Request construction and validation (Build, Options)
//   - Upstream path derivation (Request.Path)
//   - Response decoding (ParseResponse) into PageStatistics
//   - Merging several pages into one row set (Merge)
//   - Conversion to a generic table of named columns (Table)
//
// # Basic Usage
//
//	req, err := pageviews.Build(
//		"https://en.wikipedia.org/wiki/AC%2FDC",
//		time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
//		time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC),
//		pageviews.DefaultOptions(),
//	)
//	if err != nil {
//		var vErr *pageviews.ValidationError
//		if errors.As(err, &vErr) {
//			// bad input, nothing was sent
//		}
//	}
//	fmt.Println(req.Path())
//	// /en.wikipedia/all-access/user/AC%2FDC/daily/20250101/20250131
//
// # Missing Buckets
//
// The upstream API omits buckets without data. PageStatistics keeps them
// omitted; use PageStatistics.ZeroFilled for a dense series.
package pageviews
