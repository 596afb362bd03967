package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flooringops/opsdesk/jobs"
)

func TestTaskFor(t *testing.T) {
	for name, want := range map[string]string{
		"overdue":                    jobs.TaskInvoicesMarkOverdue,
		jobs.TaskInvoicesMarkOverdue: jobs.TaskInvoicesMarkOverdue,
		"follow-up":                  jobs.TaskQuotesFollowUp,
		jobs.TaskQuotesFollowUp:      jobs.TaskQuotesFollowUp,
	} {
		task, err := TaskFor(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, task.Type())
	}

	_, err := TaskFor("gl-integrity")
	require.Error(t, err)
}

func TestNilCLI(t *testing.T) {
	var c *JobsCLI
	_, err := c.InspectQueue()
	require.Error(t, err)
}
