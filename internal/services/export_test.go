package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"testing"

	"github.com/justsurfingit/jobsync/internal/database/dbtest"
	"github.com/justsurfingit/jobsync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExporter_WriteCSV(t *testing.T) {
	db := dbtest.Open(t)
	ctx := context.Background()
	store := NewApplicationStore(db, 25)

	_, err := store.InsertBatch(ctx, []*models.ApplicationRecord{
		{
			ID: "r1", UserID: "u1", SourceMessageID: "m1", CompanyName: "Acme, Inc.",
			JobTitle: "Sr. SWE", NormalizedJobTitle: "Senior Software Engineer",
			ApplicationStatus: models.StatusRejection, ReceivedAt: testBase,
			Subject: `Re: "Backend" role`, EmailFrom: "jobs@acme.com",
		},
		{ID: "r2", UserID: "u1", SourceMessageID: "m2", ApplicationStatus: models.StatusUnknown, ReceivedAt: testBase},
		{ID: "r3", UserID: "u2", SourceMessageID: "m3", ApplicationStatus: models.StatusRejection, ReceivedAt: testBase},
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, NewExporter(store, 2).WriteCSV(ctx, "u1", &buf))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, exportHeader, rows[0])
	assert.Equal(t, []string{
		"r1", "Acme, Inc.", "Sr. SWE", "Senior Software Engineer", "Rejection",
		"2026-09-01T09:00:00Z", `Re: "Backend" role`, "jobs@acme.com",
	}, rows[1])
}

func TestExporter_RateLimitIsPerUser(t *testing.T) {
	e := NewExporter(nil, 2)

	assert.NoError(t, e.Allow("u1"))
	assert.NoError(t, e.Allow("u1"))
	assert.ErrorIs(t, e.Allow("u1"), ErrRateLimited)
	assert.NoError(t, e.Allow("u2"))
}
