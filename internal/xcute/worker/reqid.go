package worker

import "github.com/google/uuid"

// randomSuffix produces the per-task correlation suffix appended to a
// request id. google/uuid is used here (not for the job id itself, which
// has its own sortable format; see internal/xcute/xctypes.NewID).
func randomSuffix() string {
	id := uuid.New()
	return id.String()[:8]
}
