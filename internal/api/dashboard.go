package api

import (
	"context"
	"net/url"

	"github.com/tidepay/realtime/internal/model"
)

// GetDashboardSnapshot fetches the combined {metrics, transactions, errors}
// payload consumed by the polling fallback.
func (c *Client) GetDashboardSnapshot(ctx context.Context) (*model.DashboardSnapshot, error) {
	var snap model.DashboardSnapshot
	if err := c.get(ctx, "/dashboard", nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// SubnetSample is the health sample returned for a single subnet.
type SubnetSample struct {
	Overall         float64  `json:"overall"`
	Uptime          float64  `json:"uptime"`
	Performance     float64  `json:"performance"`
	Reliability     float64  `json:"reliability"`
	ResponseTimeMs  float64  `json:"response_time_ms"`
	Throughput      float64  `json:"throughput"`
	ErrorRate       float64  `json:"error_rate"`
	ConsensusHealth float64  `json:"consensus_health"`
	NodeHealth      float64  `json:"node_health"`
	Recommendations []string `json:"recommendations,omitempty"`
}

// GetSubnetHealth fetches the latest health sample for a subnet.
func (c *Client) GetSubnetHealth(ctx context.Context, subnetID string) (*SubnetSample, error) {
	query := url.Values{}
	query.Set("subnet_id", subnetID)

	var sample SubnetSample
	if err := c.get(ctx, "/subnets/health", query, &sample); err != nil {
		return nil, err
	}
	return &sample, nil
}
