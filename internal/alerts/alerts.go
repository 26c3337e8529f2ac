// Package alerts delivers trade and risk notifications to operators.
package alerts

import "time"

type Severity string

const (
	Info     Severity = "info"
	Warning  Severity = "warning"
	Critical Severity = "critical"
)

type Field struct {
	Title string
	Value string
}

// Alert is one notification. Key groups alerts for dedupe and per-key rate
// limits; it is usually the symbol.
type Alert struct {
	Key      string
	Title    string
	Severity Severity
	Fields   []Field
	At       time.Time
}

// Nop drops everything.
type Nop struct{}

func (Nop) Send(Alert) {}
