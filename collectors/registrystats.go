package collectors

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"pkgsignal.dev/analyzer/common"
	"pkgsignal.dev/analyzer/errkind"
	"pkgsignal.dev/analyzer/httpclient"
	"pkgsignal.dev/analyzer/model"
)

// RegistryStatsCollector pulls download counts and dependents from the
// registry's stats endpoint and dependents view, and stars from the
// registry document's own users map. A "no stats for this package"
// response is not an error — it maps to all-zero download/dependents
// counts, stars still populated from the already-fetched raw doc.
type RegistryStatsCollector struct{}

func (c *RegistryStatsCollector) Name() string { return model.CollectedRegistryStats }

type downloadsResponse struct {
	Downloads []struct {
		Day     string `json:"day"`
		Count   int64  `json:"downloads"`
	} `json:"downloads"`
	Error string `json:"error"`
}

func (c *RegistryStatsCollector) Run(ctx context.Context, in Input) (interface{}, error) {
	stars := int64(len(in.RawDoc.Users))

	if in.RegistryStatsURL == "" {
		return &model.RegistryStats{StarsCount: stars}, nil
	}

	url := fmt.Sprintf("%s/point/last-365-days/%s", in.RegistryStatsURL, in.Name)
	req := httpclient.NewRequest("GET", url)
	resp, err := httpclient.Execute(ctx, req)
	if err != nil {
		return nil, errkind.Wrap(errkind.CollectorFatal, err)
	}
	if resp.StatusCode == 404 {
		return &model.RegistryStats{StarsCount: stars}, nil
	}
	if !resp.IsSuccess() {
		return nil, errkind.New(errkind.CollectorFatal, fmt.Sprintf("registry stats: status %d", resp.StatusCode))
	}

	var parsed downloadsResponse
	if err := json.Unmarshal(resp.Body, &parsed); err != nil {
		return nil, errkind.New(errkind.CollectorTolerated, "registry stats: malformed response")
	}
	if parsed.Error != "" {
		return &model.RegistryStats{StarsCount: stars}, nil
	}

	now := time.Now()
	windows := map[int]model.ReleaseBucket{}
	for _, days := range []int{1, 7, 30, 90, 180, 365} {
		windows[days] = common.TrailingWindow(now, days)
	}
	for _, point := range parsed.Downloads {
		day, err := time.Parse("2006-01-02", point.Day)
		if err != nil {
			continue
		}
		for days, w := range windows {
			common.SumInWindow(&w, day, point.Count)
			windows[days] = w
		}
	}

	out := &model.RegistryStats{}
	for _, days := range []int{1, 7, 30, 90, 180, 365} {
		out.Downloads = append(out.Downloads, windows[days])
	}

	out.DependentsCount = fetchDependentsCount(ctx, in)
	out.StarsCount = stars
	return out, nil
}

func fetchDependentsCount(ctx context.Context, in Input) int64 {
	if in.RegistryStatsURL == "" {
		return 0
	}
	url := fmt.Sprintf("%s/_design/app/_view/dependedUpon?key=%q&limit=0", in.RegistryStatsURL, in.Name)
	req := httpclient.NewRequest("GET", url)
	resp, err := httpclient.Execute(ctx, req)
	if err != nil || !resp.IsSuccess() {
		return 0
	}
	var view struct {
		Total int64 `json:"total_rows"`
	}
	if json.Unmarshal(resp.Body, &view) != nil {
		return 0
	}
	return view.Total
}
