package ingest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseCSVMatchesSynonymsAndDedupes(t *testing.T) {
	input := `E-Mail, Given_Name , Surname,Company,Plan
Jane@Example.com,Jane,Doe,Acme,pro
jane@example.com,Jane,Doe,Acme,pro
not-an-email,Bob,Smith,Acme,free
bob@example.com,Bob,Smith,Acme,free
`
	recipients, summary, err := ParseCSV(strings.NewReader(input))
	require.NoError(t, err)
	require.Equal(t, 4, summary.TotalRows)
	require.Equal(t, 2, summary.Accepted)
	require.Equal(t, 1, summary.Duplicates)
	require.Equal(t, []string{"not-an-email"}, summary.InvalidEmails)

	require.Len(t, recipients, 2)
	require.Equal(t, "jane@example.com", recipients[0].Email)
	require.Equal(t, "Jane", recipients[0].FirstName)
	require.Equal(t, "Doe", recipients[0].LastName)
	require.Equal(t, "pro", recipients[0].Vars["plan"])
	require.Equal(t, "Acme", recipients[0].Vars["company"])
}

func TestParseCSVUnmappedColumnsFlowIntoVars(t *testing.T) {
	input := `email,favoriteColor
a@b.com,blue
`
	recipients, _, err := ParseCSV(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, recipients, 1)
	require.Equal(t, "blue", recipients[0].Vars["favoritecolor"])
}

func TestParseCSVEmptyEmailRejected(t *testing.T) {
	input := `email,firstname
,Jane
`
	recipients, summary, err := ParseCSV(strings.NewReader(input))
	require.NoError(t, err)
	require.Empty(t, recipients)
	require.Equal(t, 1, summary.TotalRows)
	require.Equal(t, 0, summary.Accepted)
	require.Len(t, summary.InvalidEmails, 1)
}
