// Package report models and renders the end-of-run build report.
package report
