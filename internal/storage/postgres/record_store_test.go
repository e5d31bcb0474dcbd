package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/virtual-tryon/internal/tryon"
)

var recordColumns = []string{
	"id", "session_id", "person_image", "clothing_image", "result_image",
	"processing_time", "garment_source", "garment_url", "blob_uris", "created_at",
}

func TestSaveInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRecordStoreWithPool(mock, "")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	rec := tryon.TryOnRecord{
		ID:             "rec-1",
		SessionID:      "sess-1",
		PersonImage:    "cGVyc29u",
		ClothingImage:  "Z2FybWVudA==",
		ResultImage:    "cmVzdWx0",
		ProcessingTime: "3.4s",
		GarmentSource:  tryon.GarmentSourceURL,
		GarmentURL:     "https://shop.example/img/product.jpg",
		BlobURIs:       []string{"gs://b/tryon/sess-1/a.png"},
		CreatedAt:      now,
	}

	mock.ExpectExec("INSERT INTO tryon_results").
		WithArgs(
			rec.ID,
			rec.SessionID,
			rec.PersonImage,
			rec.ClothingImage,
			rec.ResultImage,
			rec.ProcessingTime,
			"url",
			rec.GarmentURL,
			[]byte(`["gs://b/tryon/sess-1/a.png"]`),
			rec.CreatedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Save(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveWrapsExecError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRecordStoreWithPool(mock, "results")
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO results").WillReturnError(errors.New("duplicate key"))
	err = store.Save(context.Background(), tryon.TryOnRecord{ID: "r", SessionID: "s"})
	require.ErrorContains(t, err, "duplicate key")
	require.NoError(t, mock.ExpectationsWereMet())

	require.Error(t, store.Save(context.Background(), tryon.TryOnRecord{ID: "r"}))
}

func TestFindBySessionScansRows(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRecordStoreWithPool(mock, "")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	rows := pgxmock.NewRows(recordColumns).
		AddRow("r1", "sess-1", "p", "c", "res1", "2.0s", "upload", "", []byte(`[]`), now).
		AddRow("r2", "sess-1", "p", "c", "res2", "", "url", "https://x/a.jpg", []byte(`["memory://a"]`), now.Add(time.Minute))
	mock.ExpectQuery("SELECT (.+) FROM tryon_results").
		WithArgs("sess-1", 100).
		WillReturnRows(rows)

	records, err := store.FindBySession(context.Background(), "sess-1", 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "r1", records[0].ID)
	require.Equal(t, tryon.GarmentSourceUpload, records[0].GarmentSource)
	require.Empty(t, records[0].BlobURIs)
	require.Equal(t, "", records[1].ProcessingTime)
	require.Equal(t, []string{"memory://a"}, records[1].BlobURIs)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindBySessionEmpty(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRecordStoreWithPool(mock, "")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT (.+) FROM tryon_results").
		WithArgs("missing", 10).
		WillReturnRows(pgxmock.NewRows(recordColumns))

	records, err := store.FindBySession(context.Background(), "missing", 10)
	require.NoError(t, err)
	require.Empty(t, records)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchemaAndPing(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRecordStoreWithPool(mock, "")
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS tryon_results").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectPing()

	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, store.Ping(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewRecordStoreValidation(t *testing.T) {
	t.Parallel()

	_, err := NewRecordStore(context.Background(), RecordStoreConfig{})
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewRecordStoreWithPool(mock, "bad-name;drop")
	require.Error(t, err)
	_, err = NewRecordStoreWithPool(nil, "")
	require.Error(t, err)
}
