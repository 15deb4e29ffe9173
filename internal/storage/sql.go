package storage

import (
	_ "embed"
)

//go:embed schema.sql
var initSchemaSQL string

const (
	initIndexesSQL = `
CREATE INDEX IF NOT EXISTS idx_pspecs_grp ON pspecs (grp);
CREATE INDEX IF NOT EXISTS idx_pspec_rows_blpair ON pspec_rows (pspec_id, spw, blpair);
CREATE INDEX IF NOT EXISTS idx_pspec_rows_lst ON pspec_rows (pspec_id, spw, lst_avg);`

	insertDatasetSQL = `
INSERT INTO datasets (
                      label,
                      nfreqs,
                      ntimes,
                      meta)
VALUES (?, ?, ?, ?)`

	insertWaterfallSQL = `
INSERT INTO waterfalls (
                        dataset_id,
                        ant1,
                        ant2,
                        pol,
                        data,
                        flags,
                        nsamples)
VALUES `

	waterfallPlaceholder = "(?, ?, ?, ?, ?, ?, ?)"

	selectDatasetIDSQL = `
SELECT id FROM datasets WHERE label = ?`

	deleteDatasetSQL = `
DELETE FROM datasets WHERE id = ?`

	deleteWaterfallsSQL = `
DELETE FROM waterfalls WHERE dataset_id = ?`

	selectDatasetSQL = `
SELECT
    id,
    meta
FROM datasets
WHERE
    label = ?`

	selectWaterfallsSQL = `
SELECT
    ant1,
    ant2,
    pol,
    data,
    flags,
    nsamples
FROM waterfalls
WHERE
    dataset_id = ?`

	selectDatasetsSQL = `
SELECT
    id,
    label,
    created_at,
    nfreqs,
    ntimes
FROM datasets
ORDER BY
    created_at, id`

	insertPSpecSQL = `
INSERT INTO pspecs (
                    grp,
                    name,
                    nspws,
                    npols,
                    nblpairts,
                    has_cov,
                    meta)
VALUES (?, ?, ?, ?, ?, ?, ?)`

	selectPSpecIDSQL = `
SELECT id FROM pspecs WHERE grp = ? AND name = ?`

	deletePSpecSQL = `
DELETE FROM pspecs WHERE id = ?`

	deletePSpecRowsSQL = `
DELETE FROM pspec_rows WHERE pspec_id = ?`

	insertPSpecRowSQL = `
INSERT INTO pspec_rows (
                        pspec_id,
                        spw,
                        blpt,
                        blpair,
                        time_avg,
                        lst_avg,
                        data,
                        wgts,
                        integrations,
                        nsamples,
                        cov)
VALUES `

	pspecRowPlaceholder = "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"

	selectPSpecSQL = `
SELECT
    id,
    grp,
    name,
    created_at,
    nspws,
    npols,
    nblpairts,
    has_cov,
    meta
FROM pspecs
WHERE
    grp = ? AND name = ?`

	selectPSpecsSQL = `
SELECT
    id,
    grp,
    name,
    created_at,
    nspws,
    npols,
    nblpairts,
    has_cov
FROM pspecs
WHERE
    grp = ?
ORDER BY
    name`

	selectGroupsSQL = `
SELECT DISTINCT grp FROM pspecs ORDER BY grp`

	selectPSpecRowsSQL = `
SELECT
    spw,
    blpt,
    blpair,
    time_avg,
    lst_avg,
    data,
    wgts,
    integrations,
    nsamples,
    cov
FROM pspec_rows
WHERE
    pspec_id = ?`
)
