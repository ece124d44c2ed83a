// Package admission validates TaskConfig and JobConfiguration submissions
// before they reach storage, and injects each job's default constraints.
package admission
