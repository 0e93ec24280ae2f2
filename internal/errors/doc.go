// Package errors provides structured, actionable error messages for the
// cable CLI.
//
// Startup failures (bad configuration, unreadable or conflicting routes,
// listen errors) are reported as a *CableError carrying a code, a category,
// a detail paragraph and a hint:
//
//	err := errors.New("E122").
//	    WithFile("routes.yaml").
//	    WithSuggestion("Remove one of the entries")
//
//	fmt.Print(err.Format())
//	// Output:
//	// ERROR E122: Duplicate subscription
//	//
//	//   routes.yaml
//	//
//	//   Hint: Remove one of the entries
//
// FromError maps errors from pkg/eventmap and pkg/server onto their codes.
package errors
