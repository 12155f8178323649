package alerting

import (
	"context"
	"errors"
)

// MultiAlerter fans an alert out to several alerters, collecting errors.
type MultiAlerter struct {
	alerters []Alerter
}

// NewMultiAlerter creates a fan-out alerter.
func NewMultiAlerter(alerters ...Alerter) *MultiAlerter {
	return &MultiAlerter{alerters: alerters}
}

// Name returns the alerter identifier.
func (m *MultiAlerter) Name() string { return "multi" }

// Alert delivers to every child; one failure does not stop the others.
func (m *MultiAlerter) Alert(ctx context.Context, severity Severity, message string, fields ...any) error {
	var errs []error
	for _, a := range m.alerters {
		if err := a.Alert(ctx, severity, message, fields...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
