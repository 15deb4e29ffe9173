package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/roman-kulish/radio-pspec/internal/uvdata"
	"github.com/roman-kulish/radio-pspec/internal/uvpspec"
)

// maxBatchRows bounds the rows of one multi-row INSERT so the statement
// stays under SQLite's host parameter limit.
const maxBatchRows = 64

// SqliteStore handles database operations
type SqliteStore struct {
	dbPath string

	writeDB     *sql.DB
	writeDBOnce sync.Once
	writeDBErr  error

	readDB     *sql.DB
	readDBOnce sync.Once
	readDBErr  error

	closeOnce sync.Once
	closeErr  error
}

var _ Store = (*SqliteStore)(nil)

// NewSqliteStore creates a new database connection and initializes the schema
// using the Sqlite database
func NewSqliteStore(dbPath string) *SqliteStore {
	return &SqliteStore{dbPath: dbPath}
}

func runSQLCommand(db *sql.DB, sql string) error {
	_, err := db.Exec(sql)
	return err
}

func (s *SqliteStore) getWriteDB() (*sql.DB, error) {
	s.writeDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "_journal_mode=WAL&_synchronous=NORMAL"))
		if err != nil {
			s.writeDBErr = fmt.Errorf("opening write connection: %w", err)
			return
		}

		if err = runSQLCommand(db, initSchemaSQL); err != nil {
			_ = db.Close()
			s.writeDBErr = fmt.Errorf("initializing schema: %w", err)
			return
		}

		s.writeDB = db
	})

	return s.writeDB, s.writeDBErr
}

func (s *SqliteStore) getReadDB() (*sql.DB, error) {
	s.readDBOnce.Do(func() {
		// The read-only connection cannot create the file or the schema.
		if _, err := s.getWriteDB(); err != nil {
			s.readDBErr = err
			return
		}

		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "mode=ro"))
		if err != nil {
			s.readDBErr = fmt.Errorf("opening read connection: %w", err)
			return
		}
		s.readDB = db
	})

	return s.readDB, s.readDBErr
}

// batchInsert inserts n rows with multi-row INSERT statements built from
// prefix and placeholder. args returns the values of row i.
func batchInsert(ctx context.Context, tx *sql.Tx, prefix, placeholder string, n int, args func(i int) []any) error {
	for start := 0; start < n; start += maxBatchRows {
		end := min(start+maxBatchRows, n)

		var sb strings.Builder
		sb.WriteString(prefix)

		var values []any
		for i := start; i < end; i++ {
			if i > start {
				sb.WriteString(", ")
			}
			sb.WriteString(placeholder)
			values = append(values, args(i)...)
		}

		if _, err := tx.ExecContext(ctx, sb.String(), values...); err != nil {
			return err
		}
	}
	return nil
}

// deleteExisting looks up an entry id with lookupSQL and, if found, removes
// it with the delete statements. It returns ErrExists when the entry exists
// and overwrite is false.
func deleteExisting(ctx context.Context, tx *sql.Tx, overwrite bool, lookupSQL string, lookupArgs []any, deleteSQL ...string) error {
	var id int64
	err := tx.QueryRowContext(ctx, lookupSQL, lookupArgs...).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil
	case err != nil:
		return fmt.Errorf("looking up existing entry: %w", err)
	case !overwrite:
		return ErrExists
	}

	for _, q := range deleteSQL {
		if _, err = tx.ExecContext(ctx, q, id); err != nil {
			return fmt.Errorf("deleting existing entry: %w", err)
		}
	}
	return nil
}

func (s *SqliteStore) SaveDataset(ctx context.Context, d *uvdata.Dataset, overwrite bool) (id int64, err error) {
	if err = d.Validate(); err != nil {
		return
	}

	meta, err := json.Marshal(d)
	if err != nil {
		err = fmt.Errorf("marshaling dataset metadata: %w", err)
		return
	}

	db, err := s.getWriteDB()
	if err != nil {
		err = fmt.Errorf("getting write connection: %w", err)
		return
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		err = fmt.Errorf("beginning transaction: %w", err)
		return
	}
	defer rollbackWithError(tx, &err)

	if err = deleteExisting(ctx, tx, overwrite, selectDatasetIDSQL, []any{d.Label}, deleteWaterfallsSQL, deleteDatasetSQL); err != nil {
		if errors.Is(err, ErrExists) {
			err = fmt.Errorf("dataset %q: %w", d.Label, err)
		}
		return
	}

	result, err := tx.ExecContext(ctx, insertDatasetSQL, d.Label, d.Nfreqs(), d.Ntimes(), string(meta))
	if err != nil {
		err = fmt.Errorf("inserting dataset: %w", err)
		return
	}
	if id, err = result.LastInsertId(); err != nil {
		err = fmt.Errorf("getting dataset ID: %w", err)
		return
	}

	keys := make([]uvdata.BlPol, 0, len(d.Waterfalls))
	for k := range d.Waterfalls {
		keys = append(keys, k)
	}

	err = batchInsert(ctx, tx, insertWaterfallSQL, waterfallPlaceholder, len(keys), func(i int) []any {
		k := keys[i]
		w := d.Waterfalls[k]
		return []any{
			id,
			k.Ant1,
			k.Ant2,
			int(k.Pol),
			encodeComplex2D(w.Data),
			encodeBools2D(w.Flags),
			encodeFloats2D(w.Nsamples),
		}
	})
	if err != nil {
		err = fmt.Errorf("batch inserting waterfalls: %w", err)
		return
	}

	if err = tx.Commit(); err != nil {
		err = fmt.Errorf("committing transaction: %w", err)
	}
	return
}

func (s *SqliteStore) Dataset(ctx context.Context, label string) (d *uvdata.Dataset, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	var (
		id   int64
		meta string
	)
	err = db.QueryRowContext(ctx, selectDatasetSQL, label).Scan(&id, &meta)
	if errors.Is(err, sql.ErrNoRows) {
		err = fmt.Errorf("dataset %q: %w", label, ErrNoData)
		return
	}
	if err != nil {
		err = fmt.Errorf("scanning dataset: %w", err)
		return
	}

	var ds uvdata.Dataset
	if err = json.Unmarshal([]byte(meta), &ds); err != nil {
		err = fmt.Errorf("unmarshaling dataset metadata: %w", err)
		return
	}
	ds.Waterfalls = make(map[uvdata.BlPol]*uvdata.Waterfall)

	rows, err := db.QueryContext(ctx, selectWaterfallsSQL, id)
	if err != nil {
		err = fmt.Errorf("querying waterfalls: %w", err)
		return
	}
	defer closeWithError(rows, &err)

	nt, nf := ds.Ntimes(), ds.Nfreqs()
	for rows.Next() {
		var (
			k                     uvdata.BlPol
			pol                   int
			data, flags, nsamples []byte
		)
		if err = rows.Scan(&k.Ant1, &k.Ant2, &pol, &data, &flags, &nsamples); err != nil {
			err = fmt.Errorf("scanning waterfall: %w", err)
			return
		}
		k.Pol = uvdata.Pol(pol)

		var w uvdata.Waterfall
		if w.Data, err = decodeComplex2D(data, nt, nf); err != nil {
			err = fmt.Errorf("decoding waterfall %s %s data: %w", k.Antpair, k.Pol, err)
			return
		}
		if w.Flags, err = decodeBools2D(flags, nt, nf); err != nil {
			err = fmt.Errorf("decoding waterfall %s %s flags: %w", k.Antpair, k.Pol, err)
			return
		}
		if w.Nsamples, err = decodeFloats2D(nsamples, nt, nf); err != nil {
			err = fmt.Errorf("decoding waterfall %s %s nsamples: %w", k.Antpair, k.Pol, err)
			return
		}
		ds.Waterfalls[k] = &w
	}
	if err = rows.Err(); err != nil {
		err = fmt.Errorf("iterating waterfalls: %w", err)
		return
	}

	return &ds, nil
}

func (s *SqliteStore) Datasets(ctx context.Context) (infos []*DatasetInfo, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	rows, err := db.QueryContext(ctx, selectDatasetsSQL)
	if err != nil {
		err = fmt.Errorf("querying datasets: %w", err)
		return
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var info DatasetInfo
		if err = rows.Scan(&info.ID, &info.Label, &info.CreatedAt, &info.Nfreqs, &info.Ntimes); err != nil {
			err = fmt.Errorf("scanning dataset: %w", err)
			return
		}
		infos = append(infos, &info)
	}
	err = rows.Err()
	return
}

func (s *SqliteStore) SetPSpec(ctx context.Context, group, name string, uvp *uvpspec.UVPSpec, overwrite bool) (err error) {
	if group == "" || name == "" {
		return errors.New("group and name are required")
	}
	if err = uvp.Check(); err != nil {
		return err
	}

	meta, err := json.Marshal(uvp)
	if err != nil {
		return fmt.Errorf("marshaling power spectrum metadata: %w", err)
	}

	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollbackWithError(tx, &err)

	if err = deleteExisting(ctx, tx, overwrite, selectPSpecIDSQL, []any{group, name}, deletePSpecRowsSQL, deletePSpecSQL); err != nil {
		if errors.Is(err, ErrExists) {
			err = fmt.Errorf("power spectrum %s/%s: %w", group, name, err)
		}
		return err
	}

	result, err := tx.ExecContext(ctx, insertPSpecSQL, group, name, uvp.Nspws(), uvp.Npols(), uvp.Nblpairts(), uvp.HasCov(), string(meta))
	if err != nil {
		return fmt.Errorf("inserting power spectrum: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("getting power spectrum ID: %w", err)
	}

	nblpt := uvp.Nblpairts()
	for spw := range uvp.Spws {
		err = batchInsert(ctx, tx, insertPSpecRowSQL, pspecRowPlaceholder, nblpt, func(i int) []any {
			var cov []byte
			if uvp.HasCov() {
				cov = encodeCov(uvp.Cov[spw][i])
			}
			return []any{
				id,
				spw,
				i,
				uvp.Blpairs[i],
				uvp.TimeAvg[i],
				uvp.LSTAvg[i],
				encodeComplex2D(uvp.Data[spw][i]),
				encodeWgts(uvp.Wgts[spw][i]),
				appendFloats(nil, uvp.Integrations[spw][i]),
				appendFloats(nil, uvp.Nsamples[spw][i]),
				cov,
			}
		})
		if err != nil {
			return fmt.Errorf("batch inserting spw %d rows: %w", spw, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// PSpec reassembles a stored power spectrum by reading all of its rows.
func (s *SqliteStore) PSpec(ctx context.Context, group, name string) (uvp *uvpspec.UVPSpec, err error) {
	r, err := s.ReadSpectrum(ctx, group, name)
	if err != nil {
		return nil, err
	}
	defer closeWithError(r, &err)

	out := r.Spectrum()
	nspw, nblpt := out.Nspws(), out.Nblpairts()

	out.Data = make([][][][]complex128, nspw)
	out.Wgts = make([][][][2][]float64, nspw)
	out.Integrations = make([][][]float64, nspw)
	out.Nsamples = make([][][]float64, nspw)
	if r.info.HasCov {
		out.Cov = make([][][][][]complex128, nspw)
	}
	for spw := 0; spw < nspw; spw++ {
		out.Data[spw] = make([][][]complex128, nblpt)
		out.Wgts[spw] = make([][][2][]float64, nblpt)
		out.Integrations[spw] = make([][]float64, nblpt)
		out.Nsamples[spw] = make([][]float64, nblpt)
		if out.Cov != nil {
			out.Cov[spw] = make([][][][]complex128, nblpt)
		}
	}

	for r.Next(ctx) {
		row := r.Current()
		out.Data[row.Spw][row.Blpt] = row.Data
		out.Wgts[row.Spw][row.Blpt] = row.Wgts
		out.Integrations[row.Spw][row.Blpt] = row.Integrations
		out.Nsamples[row.Spw][row.Blpt] = row.Nsamples
		if out.Cov != nil {
			out.Cov[row.Spw][row.Blpt] = row.Cov
		}
	}
	if err = r.Error(); err != nil {
		return nil, err
	}

	if err = out.Check(); err != nil {
		return nil, fmt.Errorf("power spectrum %s/%s: %w", group, name, err)
	}
	return out, nil
}

// ReadSpectrum creates a reader that iterates over the blpair-time rows of a
// stored power spectrum, ordered by spectral window and blpair-time index.
//
// Parameters:
//   - ctx: Context for cancellation and timeouts
//   - group: Group name
//   - name: Spectrum name
//   - opts: Optional filters (WithSpw, WithBlpair, WithLSTRange)
//
// The returned reader must be closed after use to release database resources.
// Each reader instance should only be used from a single goroutine.
//
// Returns ErrNoData if the spectrum does not exist.
func (s *SqliteStore) ReadSpectrum(ctx context.Context, group, name string, opts ...ReaderOption) (*SqliteSpectrumReader, error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}
	return newSqliteSpectrumReader(ctx, db, group, name, opts...)
}

func (s *SqliteStore) GroupPSpecs(ctx context.Context, group string) ([]string, error) {
	infos, err := s.Spectra(ctx, group)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name
	}
	return names, nil
}

func (s *SqliteStore) Spectra(ctx context.Context, group string) (infos []*SpectrumInfo, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	rows, err := db.QueryContext(ctx, selectPSpecsSQL, group)
	if err != nil {
		err = fmt.Errorf("querying power spectra: %w", err)
		return
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var info SpectrumInfo
		if err = rows.Scan(&info.ID, &info.Group, &info.Name, &info.CreatedAt,
			&info.Nspws, &info.Npols, &info.Nblpairts, &info.HasCov); err != nil {
			err = fmt.Errorf("scanning power spectrum: %w", err)
			return
		}
		infos = append(infos, &info)
	}
	err = rows.Err()
	return
}

func (s *SqliteStore) Groups(ctx context.Context) (groups []string, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	rows, err := db.QueryContext(ctx, selectGroupsSQL)
	if err != nil {
		err = fmt.Errorf("querying groups: %w", err)
		return
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var g string
		if err = rows.Scan(&g); err != nil {
			err = fmt.Errorf("scanning group: %w", err)
			return
		}
		groups = append(groups, g)
	}
	err = rows.Err()
	return
}

func (s *SqliteStore) Close() error {
	s.closeOnce.Do(func() {
		var writeErr, readErr error

		if s.readDB != nil {
			readErr = s.readDB.Close()
			s.readDB = nil
		}

		if s.writeDB != nil {
			_ = runSQLCommand(s.writeDB, initIndexesSQL)

			writeErr = s.writeDB.Close()
			s.writeDB = nil
		}

		s.closeErr = errors.Join(writeErr, readErr)
	})

	return s.closeErr
}
