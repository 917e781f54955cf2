package export

import (
	"time"

	"github.com/iksnae/review-sweep/internal"
)

var testTime = time.Date(2025, 7, 16, 9, 15, 0, 0, time.UTC)

func testRecord(id string) *internal.Record {
	return &internal.Record{
		RunID:      "run-1",
		PlatformID: "journal-a",
		ExternalID: id,
		Category:   "under_review",
		Fields: map[string]string{
			"title":          "Fast | Reconciliation",
			"reviewer_email": "",
		},
		Unresolved: []string{"reviewer_email"},
		Timeline: internal.Timeline{
			{Timestamp: testTime, ActorFrom: "editor@journal.org", ActorTo: "refereex@uni.edu", Type: "invitation_sent", Source: internal.SourcePlatform, RawExcerpt: "Invitation to review"},
			{Timestamp: testTime.Add(96 * time.Hour), ActorFrom: "refereex@uni.edu", ActorTo: "editor@journal.org", Type: "general_correspondence", Source: internal.SourceExternal, ExternalOnly: true},
		},
		Completeness: internal.CompletenessFlags(0).WithPass(0) | internal.FlagExternalFeed,
		PassCount:    2,
		PassErrors:   map[int]string{1: "pass 1 (reviewers) failed"},
		ExtractedAt:  testTime.Add(time.Hour),
	}
}
