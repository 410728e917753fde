// Package strategy turns estimator output into pit-stop recommendations.
//
// window.go finds the pit window from degradation, pit loss and tyre age.
// threats.go and pitloss.go assess undercut and overcut chances against the
// neighbouring cars and the cost of a stop.
//
// decision.go holds Evaluate, a pure function from a DriverContext and a
// RaceContext to a Recommendation. Its rules are ordered and the first match
// wins. context.go derives both contexts from a published RaceState.
//
// explain.go renders recommendations as short human-readable text.
package strategy
