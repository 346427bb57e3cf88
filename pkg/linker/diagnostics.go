package linker

import (
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Diagnostics collects fatal link errors. Every error is logged when it is
// raised; the link aborts at the next phase boundary through Err.
type Diagnostics struct {
	logger   *zap.Logger
	err      error
	warnings int
}

func NewDiagnostics(logger *zap.Logger) *Diagnostics {
	return &Diagnostics{logger: logger.Named("diag")}
}

func (d *Diagnostics) Error(err error) {
	d.logger.Error(err.Error())
	d.err = multierr.Append(d.err, err)
}

func (d *Diagnostics) Warn(msg string, fields ...zap.Field) {
	d.warnings++
	d.logger.Warn(msg, fields...)
}

func (d *Diagnostics) Err() error {
	return d.err
}

func (d *Diagnostics) Errors() []error {
	return multierr.Errors(d.err)
}

func (d *Diagnostics) NumWarnings() int {
	return d.warnings
}
