// Package breach models detected SLA breaches on claims and the store that
// tracks how far each breach has been escalated.
package breach
