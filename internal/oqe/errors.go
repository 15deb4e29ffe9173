package oqe

import (
	"errors"
	"fmt"
)

var (
	// ErrNoValidPolPair is returned by PSpec when none of the requested
	// polarisation pairs exists in both datasets.
	ErrNoValidPolPair = errors.New("oqe: none of the specified polarization pairs match the datasets")

	// ErrUnsupportedNorm is returned for normalisations that are not implemented.
	ErrUnsupportedNorm = errors.New("oqe: unsupported normalization")

	// ErrNoDatasets is returned by operations that need at least one dataset.
	ErrNoDatasets = errors.New("oqe: no datasets have been added")
)

// ConfigError marks a fatal configuration problem. No computation is
// attempted once one is returned.
type ConfigError struct {
	msg string
}

func NewConfigError(format string, args ...any) *ConfigError {
	return &ConfigError{fmt.Sprintf(format, args...)}
}

func (e *ConfigError) Error() string {
	return e.msg
}

// IsConfigError reports whether err carries a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// WarningKind classifies recovered numerical and data anomalies.
type WarningKind string

const (
	WarnPinvFallback     WarningKind = "pinv_fallback"
	WarnIdentityG        WarningKind = "identity_g"
	WarnIdentityH        WarningKind = "identity_h"
	WarnNonPositiveEigen WarningKind = "non_positive_eigenvalue"
	WarnRedundancy       WarningKind = "redundancy_tolerance"
	WarnLSTMisaligned    WarningKind = "lst_misaligned"
	WarnFreqMisaligned   WarningKind = "freq_misaligned"
	WarnPolSkipped       WarningKind = "pol_skipped"
	WarnNoBeam           WarningKind = "no_beam"
	WarnTaperWeighting   WarningKind = "taper_with_weighting"
	WarnExtensionClipped WarningKind = "extension_clipped"
	WarnFewChannels      WarningKind = "few_unflagged_channels"
	WarnNoBeamResponse   WarningKind = "no_beam_response"
	WarnUnitsSkipped     WarningKind = "units_skipped"
)

// Warning is a non-fatal anomaly recorded during estimation.
type Warning struct {
	Kind    WarningKind
	Message string
}

func (w Warning) String() string {
	return string(w.Kind) + ": " + w.Message
}
