package migrations

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNamesAreOrdered(t *testing.T) {
	names, err := Names()
	require.NoError(t, err)
	require.NotEmpty(t, names)
	require.Equal(t, "0001_init.sql", names[0])
}

func TestInitDeclaresRetryConstraints(t *testing.T) {
	body, err := files.ReadFile("0001_init.sql")
	require.NoError(t, err)
	schema := string(body)
	for _, name := range []string{
		"transactions_reference_number_key",
		"accounts_account_number_key",
		"loans_loan_number_key",
		"customers_national_id_key",
	} {
		require.True(t, strings.Contains(schema, "CONSTRAINT "+name+" UNIQUE"), name)
	}
	require.Contains(t, schema, "BEFORE UPDATE OR DELETE ON transactions")
}
