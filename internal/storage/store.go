// Package storage persists visibility datasets and estimated power spectra
// in a SQLite database.
package storage

import (
	"context"
	"errors"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roman-kulish/radio-pspec/internal/uvdata"
	"github.com/roman-kulish/radio-pspec/internal/uvpspec"
)

var (
	// ErrNoData indicates either that nothing is stored under the requested
	// name, or that all rows have been read from a spectrum reader.
	ErrNoData = errors.New("no data available")

	// ErrExists is returned when writing over an existing entry without
	// overwrite.
	ErrExists = errors.New("entry already exists")

	// ErrCorrupt is returned when a stored blob does not match its shape.
	ErrCorrupt = errors.New("corrupt stored array")
)

// DatasetInfo summarises a stored dataset.
type DatasetInfo struct {
	ID        int64
	Label     string
	CreatedAt time.Time
	Nfreqs    int
	Ntimes    int
}

// SpectrumInfo summarises a stored power spectrum.
type SpectrumInfo struct {
	ID        int64
	Group     string
	Name      string
	CreatedAt time.Time
	Nspws     int
	Npols     int
	Nblpairts int
	HasCov    bool
}

// Store provides an interface for persisting visibility datasets and power
// spectra. Power spectra are stored as named entries inside groups, mirroring
// a container file holding several spectra. All write operations are atomic.
type Store interface {
	// SaveDataset stores a visibility dataset under its label.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeouts
	//   - d: Dataset to store; must pass Validate
	//   - overwrite: Replace an existing dataset with the same label
	//
	// Returns:
	//   - id: Unique identifier of the stored dataset
	//   - error: ErrExists if the label is taken and overwrite is false
	SaveDataset(ctx context.Context, d *uvdata.Dataset, overwrite bool) (id int64, err error)

	// Dataset loads a visibility dataset by label.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeouts
	//   - label: Dataset label
	//
	// Returns:
	//   - d: The dataset with all waterfalls
	//   - error: ErrNoData if no dataset has this label
	Dataset(ctx context.Context, label string) (d *uvdata.Dataset, err error)

	// Datasets lists stored datasets ordered by creation time.
	Datasets(ctx context.Context) ([]*DatasetInfo, error)

	// SetPSpec stores a power spectrum in a group.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeouts
	//   - group: Group name
	//   - name: Spectrum name, unique within the group
	//   - uvp: Power spectrum; must pass Check
	//   - overwrite: Replace an existing spectrum with the same name
	//
	// Returns:
	//   - error: ErrExists if the name is taken and overwrite is false
	SetPSpec(ctx context.Context, group, name string, uvp *uvpspec.UVPSpec, overwrite bool) error

	// PSpec loads a power spectrum.
	//
	// Returns:
	//   - uvp: The fully reassembled spectrum
	//   - error: ErrNoData if no such spectrum exists
	PSpec(ctx context.Context, group, name string) (*uvpspec.UVPSpec, error)

	// Spectra lists the spectra stored in a group ordered by name.
	Spectra(ctx context.Context, group string) ([]*SpectrumInfo, error)

	// GroupPSpecs lists the names of the spectra stored in a group ordered
	// by name.
	GroupPSpecs(ctx context.Context, group string) ([]string, error)

	// Groups lists all group names.
	Groups(ctx context.Context) ([]string, error)

	// Close releases all database connections and resources.
	// After Close is called, the store instance cannot be reused.
	// It is safe to call Close multiple times.
	//
	// Returns:
	//   - error: If closing fails or some resources cannot be released
	Close() error
}
