package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/roman-kulish/radio-pspec/internal/uvpspec"
)

// SpectrumRow is one blpair-time of one spectral window.
type SpectrumRow struct {
	Spw     int
	Blpt    int
	Blpair  int64
	TimeAvg float64
	LSTAvg  float64

	// Data is indexed [dly][polpair].
	Data [][]complex128
	// Wgts is indexed [freq][2][polpair].
	Wgts [][2][]float64
	// Integrations and Nsamples are indexed [polpair].
	Integrations []float64
	Nsamples     []float64
	// Cov is indexed [dly][dly][polpair], nil unless stored.
	Cov [][][]complex128
}

// SpectrumReader provides an iterator-based interface for reading the rows of
// a stored power spectrum with optional filtering.
type SpectrumReader interface {
	// Spectrum returns the metadata of the spectrum this reader is accessing.
	// Its per spw arrays are not populated.
	Spectrum() *uvpspec.UVPSpec

	// Next advances the iterator and returns true if there is another row
	// to read, false when the iteration is complete or if an error occurred.
	Next(context.Context) bool

	// Current returns the current row in the iteration.
	// If called after Next() returns false, the behavior is undefined.
	Current() *SpectrumRow

	// Error returns any error that occurred during iteration.
	// If Next() returns false, Error() should be checked to distinguish between
	// end of data and an error condition.
	Error() error

	// Close releases any resources associated with the reader.
	// After Close is called, the reader should not be used.
	Close() error
}

// ReaderOption configures a SpectrumReader with specific filtering criteria.
type ReaderOption func(*SqliteSpectrumReader)

// WithSpw restricts the reader to one spectral window.
func WithSpw(spw int) ReaderOption {
	return func(r *SqliteSpectrumReader) {
		r.spw = &spw
	}
}

// WithBlpair restricts the reader to one baseline pair.
func WithBlpair(blpair int64) ReaderOption {
	return func(r *SqliteSpectrumReader) {
		r.blpair = &blpair
	}
}

// WithLSTRange restricts the reader to rows whose average LST in radians
// lies in [minLST, maxLST]. A range with minLST > maxLST wraps through zero.
func WithLSTRange(minLST, maxLST float64) ReaderOption {
	return func(r *SqliteSpectrumReader) {
		r.minLST = &minLST
		r.maxLST = &maxLST
	}
}

// newSqliteSpectrumReader creates a new SpectrumReader instance for reading
// power spectrum rows from a database, applying optional filters.
func newSqliteSpectrumReader(ctx context.Context, db *sql.DB, group, name string, opts ...ReaderOption) (*SqliteSpectrumReader, error) {
	sr := &SqliteSpectrumReader{
		db:    db,
		group: group,
		name:  name,
	}
	for _, opt := range opts {
		opt(sr)
	}
	if err := sr.init(ctx); err != nil {
		return nil, fmt.Errorf("initializing reader: %w", err)
	}
	return sr, nil
}

// SqliteSpectrumReader implements SpectrumReader for SQLite database backend.
type SqliteSpectrumReader struct {
	db *sql.DB

	group, name string
	info        SpectrumInfo
	spectrum    *uvpspec.UVPSpec

	spw    *int     // Optional spectral window filter
	blpair *int64   // Optional baseline pair filter
	minLST *float64 // Optional start of LST range filter
	maxLST *float64 // Optional end of LST range filter

	current *SpectrumRow
	rows    *sql.Rows
	err     error
}

var _ SpectrumReader = (*SqliteSpectrumReader)(nil)

func (sr *SqliteSpectrumReader) init(ctx context.Context) error {
	if sr.db == nil {
		return errors.New("database connection required")
	}
	if sr.group == "" || sr.name == "" {
		return errors.New("group and name required")
	}

	steps := []struct {
		msg string
		fn  func(context.Context) error
	}{
		{msg: "loading power spectrum", fn: sr.loadSpectrum},
		{msg: "initializing filters", fn: sr.initFilters},
		{msg: "initializing query", fn: sr.initQuery},
	}
	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			return fmt.Errorf("%s: %w", s.msg, err)
		}
	}
	return nil
}

func (sr *SqliteSpectrumReader) loadSpectrum(ctx context.Context) (err error) {
	stmt, err := sr.db.PrepareContext(ctx, selectPSpecSQL)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	var meta string
	i := &sr.info
	err = stmt.QueryRowContext(ctx, sr.group, sr.name).Scan(&i.ID, &i.Group, &i.Name, &i.CreatedAt,
		&i.Nspws, &i.Npols, &i.Nblpairts, &i.HasCov, &meta)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("power spectrum %s/%s: %w", sr.group, sr.name, ErrNoData)
	}
	if err != nil {
		return fmt.Errorf("querying power spectrum: %w", err)
	}

	var uvp uvpspec.UVPSpec
	if err = json.Unmarshal([]byte(meta), &uvp); err != nil {
		return fmt.Errorf("unmarshaling metadata: %w", err)
	}
	if uvp.Nspws() != i.Nspws || uvp.Npols() != i.Npols || uvp.Nblpairts() != i.Nblpairts {
		return fmt.Errorf("%w: metadata does not match stored axis lengths", ErrCorrupt)
	}

	sr.spectrum = &uvp
	return nil
}

func (sr *SqliteSpectrumReader) initFilters(context.Context) error {
	if sr.spw != nil && (*sr.spw < 0 || *sr.spw >= sr.info.Nspws) {
		return fmt.Errorf("spw %d out of range [0, %d)", *sr.spw, sr.info.Nspws)
	}
	if sr.blpair != nil && len(sr.spectrum.BlpairIndices(*sr.blpair)) == 0 {
		return fmt.Errorf("blpair %d: %w", *sr.blpair, ErrNoData)
	}
	return nil
}

func (sr *SqliteSpectrumReader) initQuery(ctx context.Context) (err error) {
	var sb strings.Builder
	sb.WriteString(selectPSpecRowsSQL)
	args := []any{sr.info.ID}

	if sr.spw != nil {
		sb.WriteString(" AND spw = ?")
		args = append(args, *sr.spw)
	}
	if sr.blpair != nil {
		sb.WriteString(" AND blpair = ?")
		args = append(args, *sr.blpair)
	}
	if sr.minLST != nil && sr.maxLST != nil {
		if *sr.minLST <= *sr.maxLST {
			sb.WriteString(" AND lst_avg BETWEEN ? AND ?")
		} else {
			sb.WriteString(" AND (lst_avg >= ? OR lst_avg <= ?)")
		}
		args = append(args, *sr.minLST, *sr.maxLST)
	}
	sb.WriteString(" ORDER BY spw, blpt")

	stmt, err := sr.db.PrepareContext(ctx, sb.String())
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	if sr.rows, err = stmt.QueryContext(ctx, args...); err != nil {
		return err
	}
	return nil
}

func (sr *SqliteSpectrumReader) scanRow() (*SpectrumRow, error) {
	var (
		row                                   SpectrumRow
		data, wgts, integrations, nsamp, cov []byte
	)
	err := sr.rows.Scan(&row.Spw, &row.Blpt, &row.Blpair, &row.TimeAvg, &row.LSTAvg,
		&data, &wgts, &integrations, &nsamp, &cov)
	if err != nil {
		return nil, fmt.Errorf("scanning row: %w", err)
	}
	if row.Spw < 0 || row.Spw >= sr.info.Nspws {
		return nil, fmt.Errorf("%w: spw %d", ErrCorrupt, row.Spw)
	}

	spw := sr.spectrum.Spws[row.Spw]
	ndlys, nfreqs, npols := len(spw.Delays), len(spw.Freqs), sr.info.Npols

	if row.Data, err = decodeComplex2D(data, ndlys, npols); err != nil {
		return nil, fmt.Errorf("decoding data: %w", err)
	}
	if row.Wgts, err = decodeWgts(wgts, nfreqs, npols); err != nil {
		return nil, fmt.Errorf("decoding weights: %w", err)
	}
	if row.Integrations, err = decodeFloats(integrations, npols); err != nil {
		return nil, fmt.Errorf("decoding integrations: %w", err)
	}
	if row.Nsamples, err = decodeFloats(nsamp, npols); err != nil {
		return nil, fmt.Errorf("decoding nsamples: %w", err)
	}
	if sr.info.HasCov {
		if row.Cov, err = decodeCov(cov, ndlys, npols); err != nil {
			return nil, fmt.Errorf("decoding covariance: %w", err)
		}
	}
	return &row, nil
}

func (sr *SqliteSpectrumReader) Spectrum() *uvpspec.UVPSpec {
	return sr.spectrum
}

// Info returns the stored summary of the spectrum.
func (sr *SqliteSpectrumReader) Info() SpectrumInfo {
	return sr.info
}

func (sr *SqliteSpectrumReader) Next(ctx context.Context) bool {
	if sr.err != nil || sr.rows == nil {
		return false
	}

	select {
	case <-ctx.Done():
		sr.err = ctx.Err()
		return false
	default:
	}

	if !sr.rows.Next() {
		sr.current = nil
		sr.err = ErrNoData
		return false
	}

	sr.current, sr.err = sr.scanRow()
	return sr.err == nil
}

func (sr *SqliteSpectrumReader) Current() *SpectrumRow {
	return sr.current
}

func (sr *SqliteSpectrumReader) Error() error {
	if sr.err != nil && !errors.Is(sr.err, ErrNoData) {
		return sr.err
	}
	if sr.rows != nil {
		return sr.rows.Err()
	}
	return nil
}

func (sr *SqliteSpectrumReader) Close() error {
	if sr.rows != nil {
		err := sr.rows.Close()
		sr.current = nil
		sr.rows = nil
		return err
	}
	return nil
}
