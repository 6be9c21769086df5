package api

import (
	"time"

	"github.com/zulandar/jobscout/internal/models"
)

type searchResultView struct {
	Title         string `json:"title"`
	Org           string `json:"company"`
	Score         int    `json:"score"`
	Reason        string `json:"reason"`
	Locator       string `json:"url"`
	LocationClass string `json:"location"`
}

type searchRunView struct {
	ID          uint               `json:"id"`
	Trigger     string             `json:"trigger"`
	Status      string             `json:"status"`
	ResultCount int                `json:"result_count"`
	Error       string             `json:"error,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`
	Results     []searchResultView `json:"results,omitempty"`
}

func viewSearchRun(r *models.SearchRun) searchRunView {
	v := searchRunView{
		ID:          r.ID,
		Trigger:     r.Trigger,
		Status:      r.Status,
		ResultCount: r.ResultCount,
		Error:       r.Error,
		CreatedAt:   r.CreatedAt,
		CompletedAt: r.CompletedAt,
	}
	for _, res := range r.Results {
		v.Results = append(v.Results, searchResultView{
			Title:         res.Title,
			Org:           res.Org,
			Score:         res.Score,
			Reason:        res.Reason,
			Locator:       res.Locator,
			LocationClass: res.LocationClass,
		})
	}
	return v
}
