package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFindDuplicateScansOnlyFinishedRecords(t *testing.T) {
	// A started or failed record keeps the vector of its previous run, so
	// the scan must be limited to done records with a vector present.
	assert.Contains(t, findDuplicateSQL, "r.status = 'done'")
	assert.Contains(t, findDuplicateSQL, "r.embedding_vec IS NOT NULL")
	assert.Contains(t, findDuplicateSQL, "r.subject_id <> ?")
	assert.Contains(t, findDuplicateSQL, "ORDER BY r.created_at, r.subject_id")
}
