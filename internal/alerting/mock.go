package alerting

import "context"

// MockAlerter records alerts for tests.
type MockAlerter struct {
	Alerts []MockAlert
}

// MockAlert is one recorded alert.
type MockAlert struct {
	Severity Severity
	Message  string
	Fields   []any
}

// NewMockAlerter creates a recording alerter.
func NewMockAlerter() *MockAlerter {
	return &MockAlerter{}
}

// Name returns the alerter identifier.
func (m *MockAlerter) Name() string { return "mock" }

// Alert records the alert.
func (m *MockAlerter) Alert(ctx context.Context, severity Severity, message string, fields ...any) error {
	m.Alerts = append(m.Alerts, MockAlert{Severity: severity, Message: message, Fields: fields})
	return nil
}
