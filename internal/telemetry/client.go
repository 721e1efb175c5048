package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// Client is a thin mapper over the metric proxy's HTTP endpoints. It does
// no retries and no caching; every call is a single synchronous GET.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New builds a Client against the given proxy base URL, e.g.
// "http://localhost:1337".
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("building request for %s: %w", path, err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling metric proxy %s: %w", path, err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding metric proxy response from %s: %w", path, err)
	}
	return nil
}

// PendingJobs fetches /queue/list and keeps only STATE=PENDING entries,
// keyed by job id.
func (c *Client) PendingJobs(ctx context.Context) (map[string]PendingJob, error) {
	var raw struct {
		Jobs map[string]json.RawMessage `json:"jobs"`
	}
	if err := c.get(ctx, "/queue/list", &raw); err != nil {
		return nil, err
	}

	jobs := make(map[string]PendingJob, len(raw.Jobs))
	for id, body := range raw.Jobs {
		var job struct {
			State   string `json:"STATE"`
			Nodes   json.Number `json:"NODES"`
			Comment string `json:"COMMENT"`
		}
		if err := json.Unmarshal(body, &job); err != nil {
			return nil, fmt.Errorf("decoding queue entry %s: %w", id, err)
		}
		if job.State != "PENDING" {
			continue
		}
		nodes, err := strconv.Atoi(job.Nodes.String())
		if err != nil {
			return nil, fmt.Errorf("parsing NODES for queue entry %s: %w", id, err)
		}
		jobs[id] = PendingJob{
			JobID:   id,
			State:   job.State,
			Nodes:   nodes,
			Comment: job.Comment,
		}
	}
	return jobs, nil
}

// RunningJobs fetches /job/list and keeps only size>0 entries, keyed by
// job id.
func (c *Client) RunningJobs(ctx context.Context) (map[string]RunningJob, error) {
	var raw []RunningJob
	if err := c.get(ctx, "/job/list", &raw); err != nil {
		return nil, err
	}

	jobs := make(map[string]RunningJob, len(raw))
	for _, job := range raw {
		if job.Size <= 0 {
			continue
		}
		jobs[job.JobID] = job
	}
	return jobs, nil
}

// Profiles fetches the full profile catalog, in proxy iteration order.
func (c *Client) Profiles(ctx context.Context) ([]Profile, error) {
	var profiles []Profile
	if err := c.get(ctx, "/profiles", &profiles); err != nil {
		return nil, err
	}
	return profiles, nil
}

// ModelFor fetches the modeled series for metric over [start, end) stepped
// by step, returning nil (absent) if the proxy reports success:false.
func (c *Client) ModelFor(ctx context.Context, jobID, metric string, start, end, step float64) ([]Sample, error) {
	path := fmt.Sprintf("/model/plot?jobid=%s&metric=%s&start=%s&end=%s&step=%s",
		url.QueryEscape(jobID), url.QueryEscape(metric),
		formatNumber(start), formatNumber(end), formatNumber(step))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", path, err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling metric proxy %s: %w", path, err)
	}
	defer resp.Body.Close()

	var body json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding metric proxy response from %s: %w", path, err)
	}

	var failure struct {
		Success *bool `json:"success"`
	}
	if err := json.Unmarshal(body, &failure); err == nil && failure.Success != nil && !*failure.Success {
		return nil, nil
	}

	var pairs [][2]json.RawMessage
	if err := json.Unmarshal(body, &pairs); err != nil {
		return nil, fmt.Errorf("decoding modeled series from %s: %w", path, err)
	}

	samples := make([]Sample, 0, len(pairs))
	for i, pair := range pairs {
		var t float64
		if err := json.Unmarshal(pair[0], &t); err != nil {
			return nil, fmt.Errorf("decoding sample %d timestamp from %s: %w", i, path, err)
		}
		var v string
		if err := json.Unmarshal(pair[1], &v); err != nil {
			var n json.Number
			if err2 := json.Unmarshal(pair[1], &n); err2 != nil {
				return nil, fmt.Errorf("decoding sample %d value from %s: %w", i, path, err)
			}
			v = n.String()
		}
		samples = append(samples, Sample{T: t, V: v})
	}

	log.Debug().Str("jobid", jobID).Str("metric", metric).Int("samples", len(samples)).Msg("fetched modeled series")
	return samples, nil
}

// ModelAt fetches the single scalar value of metric at size, via a
// one-step window [size, size+1) step 1. Absent propagates as nil.
func (c *Client) ModelAt(ctx context.Context, jobID, metric string, size float64) (*float64, error) {
	samples, err := c.ModelFor(ctx, jobID, metric, size, size+1, 1)
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, nil
	}
	v, err := strconv.ParseFloat(samples[0].V, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing scalar value for %s/%s: %w", jobID, metric, err)
	}
	return &v, nil
}

func formatNumber(f float64) string {
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
