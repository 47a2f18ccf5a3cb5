package app

import (
	"time"

	"github.com/artpar/mergedash/domain/page"
)

// Page ids. The set is closed: the asset build reads this table to decide
// which page bundles to emit, so ids are never assembled at runtime.
const (
	PageDashboard     page.ID = "pages/dashboard"
	PageMergeRequests page.ID = "pages/merge_requests"
	PageMergeRequest  page.ID = "pages/merge_request"
	PageReviews       page.ID = "pages/reviews"
	PageProjects      page.ID = "pages/projects"
	PageSettings      page.ID = "pages/settings"
)

// Pages is the dashboard's route table.
var Pages = []PageEntry{
	{ID: PageDashboard, Path: "/dashboard", Title: "Dashboard"},
	{ID: PageMergeRequests, Path: "/merge-requests", Title: "Merge Requests"},
	{ID: PageMergeRequest, Path: "/merge-requests/detail", Title: "Merge Request"},
	{ID: PageReviews, Path: "/reviews", Title: "Review Queue"},
	{ID: PageProjects, Path: "/projects", Title: "Projects"},
	// Settings is small; give up sooner on it.
	{ID: PageSettings, Path: "/settings", Title: "Settings", Policy: page.Policy{Timeout: 10 * time.Second}},
}
